package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"peerdesk-server/internal/model"
)

// Store holds all persistent core state: session records, trust grants and the
// device registry. Every state transition happens under one lock, so the
// conditional updates (expiry, controller attach) have exactly one winner.
type Store struct {
	mu sync.RWMutex

	sessionsByID     map[string]model.Session
	sessionIDByToken map[string]string
	sessionIDByRoom  map[string]string

	grantsByID          map[string]model.TrustGrant
	grantIDByOwnerEmail map[string]string // ownerID + "|" + email -> grantID

	devicesByID           map[string]model.Device
	deviceIDByFingerprint map[string]string
}

func New() *Store {
	return &Store{
		sessionsByID:          make(map[string]model.Session),
		sessionIDByToken:      make(map[string]string),
		sessionIDByRoom:       make(map[string]string),
		grantsByID:            make(map[string]model.TrustGrant),
		grantIDByOwnerEmail:   make(map[string]string),
		devicesByID:           make(map[string]model.Device),
		deviceIDByFingerprint: make(map[string]string),
	}
}

func (s *Store) UpsertDevice(userID, fingerprint, name, userAgent string, now time.Time) (model.Device, bool, error) {
	if userID == "" || fingerprint == "" {
		return model.Device{}, false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.deviceIDByFingerprint[fingerprint]; ok {
		d := s.devicesByID[id]
		if d.UserID != userID {
			return model.Device{}, false, ErrConflict
		}
		if name != "" {
			d.Name = name
		}
		if userAgent != "" {
			d.UserAgent = userAgent
		}
		d.Online = true
		d.LastActiveAt = now
		s.devicesByID[id] = d
		return d, false, nil
	}

	d := model.Device{
		ID:           uuid.NewString(),
		UserID:       userID,
		Fingerprint:  fingerprint,
		Name:         name,
		UserAgent:    userAgent,
		Online:       true,
		LastActiveAt: now,
		CreatedAt:    now,
	}
	s.devicesByID[d.ID] = d
	s.deviceIDByFingerprint[fingerprint] = d.ID
	return d, true, nil
}

func (s *Store) TouchDevice(deviceID, userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devicesByID[deviceID]
	if !ok || d.UserID != userID {
		return false
	}
	d.Online = true
	d.LastActiveAt = now
	s.devicesByID[deviceID] = d
	return true
}

func (s *Store) SetDeviceOffline(deviceID, userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devicesByID[deviceID]
	if !ok || d.UserID != userID {
		return false
	}
	d.Online = false
	d.LastActiveAt = now
	s.devicesByID[deviceID] = d
	return true
}

func (s *Store) GetDevice(deviceID string) (model.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devicesByID[deviceID]
	return d, ok
}

func (s *Store) ListDevices(userID string) []model.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Device, 0)
	for _, d := range s.devicesByID {
		if d.UserID == userID {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastActiveAt.After(result[j].LastActiveAt) })
	return result
}

// ownedDeviceLocked resolves a device and checks ownership. Callers hold s.mu.
func (s *Store) ownedDeviceLocked(deviceID, userID string) (model.Device, error) {
	d, ok := s.devicesByID[deviceID]
	if !ok || d.UserID != userID {
		return model.Device{}, ErrNotFound
	}
	return d, nil
}
