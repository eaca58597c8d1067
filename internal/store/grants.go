package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"peerdesk-server/internal/model"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ownerEmailKey(ownerID, email string) string {
	return ownerID + "|" + email
}

// AddGrant records a standing authorization for one (owner, controller email)
// pair. A record for the pair already existing, active or revoked, is a
// conflict: re-granting means reactivating, not inserting a duplicate.
func (s *Store) AddGrant(ownerID, ownerDeviceID, controllerEmail string, perms model.PermissionSet, autoApprove bool, now time.Time) (model.TrustGrant, error) {
	email := normalizeEmail(controllerEmail)
	if email == "" {
		return model.TrustGrant{}, ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedDeviceLocked(ownerDeviceID, ownerID); err != nil {
		return model.TrustGrant{}, err
	}

	key := ownerEmailKey(ownerID, email)
	if _, ok := s.grantIDByOwnerEmail[key]; ok {
		return model.TrustGrant{}, ErrConflict
	}

	grant := model.TrustGrant{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		OwnerDeviceID:   ownerDeviceID,
		ControllerEmail: email,
		Permissions:     perms,
		AutoApprove:     autoApprove,
		IsActive:        true,
		CreatedAt:       now,
	}
	s.grantsByID[grant.ID] = grant
	s.grantIDByOwnerEmail[key] = grant.ID
	return grant, nil
}

func (s *Store) ListGrants(ownerID string) []model.TrustGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.TrustGrant, 0)
	for _, g := range s.grantsByID {
		if g.OwnerID == ownerID && g.IsActive {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// RevokeGrant flips the grant inactive. The record stays for auditability and
// the call is idempotent.
func (s *Store) RevokeGrant(grantID, ownerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grantsByID[grantID]
	if !ok || g.OwnerID != ownerID {
		return ErrNotFound
	}
	if !g.IsActive {
		return nil
	}
	g.IsActive = false
	s.grantsByID[grantID] = g
	return nil
}

func (s *Store) GetGrant(grantID string) (model.TrustGrant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grantsByID[grantID]
	return g, ok
}

// AvailableDevice is one entry a controller can connect to: the grant joined
// with the owner device it targets.
type AvailableDevice struct {
	Grant  model.TrustGrant
	Device model.Device
}

// AvailableDevices returns every active grant addressed to the controller (by
// case-folded email, or by the identity bound on first use), filtered to owner
// devices that are currently online.
func (s *Store) AvailableDevices(controllerID, controllerEmail string) []AvailableDevice {
	email := normalizeEmail(controllerEmail)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]AvailableDevice, 0)
	for _, g := range s.grantsByID {
		if !g.IsActive {
			continue
		}
		if g.ControllerEmail != email && (g.ControllerID == "" || g.ControllerID != controllerID) {
			continue
		}
		device, ok := s.devicesByID[g.OwnerDeviceID]
		if !ok || !device.Online {
			continue
		}
		result = append(result, AvailableDevice{Grant: g, Device: device})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Grant.CreatedAt.After(result[j].Grant.CreatedAt) })
	return result
}

// activeGrantForLocked finds the active grant authorizing the controller on
// the owner device. Callers hold s.mu.
func (s *Store) activeGrantForLocked(ownerDeviceID, controllerID, controllerEmail string) (model.TrustGrant, bool) {
	email := normalizeEmail(controllerEmail)
	for _, g := range s.grantsByID {
		if !g.IsActive || g.OwnerDeviceID != ownerDeviceID {
			continue
		}
		if g.ControllerEmail == email || (g.ControllerID != "" && g.ControllerID == controllerID) {
			return g, true
		}
	}
	return model.TrustGrant{}, false
}
