package store

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"peerdesk-server/internal/model"
)

func sortSessionsNewestFirst(sessions []model.Session) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
}

func newSessionToken(kind model.SessionKind) string {
	prefix := "inst_"
	if kind == model.SessionPermanent {
		prefix = "perm_"
	}
	return prefix + uuid.NewString()
}

func newRoomID() string {
	return "room_" + uuid.NewString()
}

// CreateInstantSession allocates a pending, time-bounded session owned by the
// caller's device. The returned token doubles as the shareable credential.
func (s *Store) CreateInstantSession(ownerID, ownerDeviceID string, perms model.PermissionSet, ttl time.Duration, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedDeviceLocked(ownerDeviceID, ownerID); err != nil {
		return model.Session{}, err
	}

	expiresAt := now.Add(ttl)
	sess := model.Session{
		ID:            uuid.NewString(),
		Token:         newSessionToken(model.SessionInstant),
		Kind:          model.SessionInstant,
		OwnerID:       ownerID,
		OwnerDeviceID: ownerDeviceID,
		Permissions:   perms,
		Status:        model.StatusPending,
		RoomID:        newRoomID(),
		CreatedAt:     now,
		ExpiresAt:     &expiresAt,
	}
	s.insertSessionLocked(sess)
	return sess, nil
}

// CreatePermanentSession is gated by the trust ledger: the controller must hold
// an active grant for the owner device, and the owner device must be online.
// The grant's permission template is copied onto the session. With autoApprove
// the session starts active, otherwise it waits pending for owner approval.
func (s *Store) CreatePermanentSession(controllerID, controllerEmail, ownerDeviceID, controllerDeviceID string, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ownerDevice, ok := s.devicesByID[ownerDeviceID]
	if !ok {
		return model.Session{}, ErrNotFound
	}

	grant, ok := s.activeGrantForLocked(ownerDeviceID, controllerID, controllerEmail)
	if !ok {
		return model.Session{}, ErrUnauthorized
	}

	if !ownerDevice.Online {
		return model.Session{}, ErrInvalidState
	}

	if _, err := s.ownedDeviceLocked(controllerDeviceID, controllerID); err != nil {
		return model.Session{}, err
	}

	sess := model.Session{
		ID:                 uuid.NewString(),
		Token:              newSessionToken(model.SessionPermanent),
		Kind:               model.SessionPermanent,
		OwnerID:            grant.OwnerID,
		OwnerDeviceID:      ownerDeviceID,
		ControllerID:       controllerID,
		ControllerDeviceID: controllerDeviceID,
		Permissions:        grant.Permissions,
		Status:             model.StatusPending,
		RoomID:             newRoomID(),
		CreatedAt:          now,
	}
	if grant.AutoApprove {
		sess.Status = model.StatusActive
		startedAt := now
		sess.StartedAt = &startedAt
	}
	s.insertSessionLocked(sess)

	grant.LastUsedAt = &now
	if grant.ControllerID == "" {
		grant.ControllerID = controllerID
	}
	s.grantsByID[grant.ID] = grant

	return sess, nil
}

// JoinSession attaches the controller to a pending session. The attach is a
// conditional transition: a second concurrent join loses with ErrConflict, it
// never overwrites the first controller.
func (s *Store) JoinSession(token, controllerID, controllerDeviceID string, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sessionIDByToken[token]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	sess := s.sessionsByID[id]

	if !s.ensureValidLocked(&sess, now) {
		return model.Session{}, ErrInvalidState
	}
	if sess.ControllerDeviceID != "" {
		return model.Session{}, ErrConflict
	}
	if sess.Status != model.StatusPending {
		return model.Session{}, ErrInvalidState
	}

	if _, err := s.ownedDeviceLocked(controllerDeviceID, controllerID); err != nil {
		return model.Session{}, err
	}

	sess.ControllerID = controllerID
	sess.ControllerDeviceID = controllerDeviceID
	sess.Status = model.StatusActive
	startedAt := now
	sess.StartedAt = &startedAt
	s.sessionsByID[id] = sess
	return sess, nil
}

// ApprovePermanentSession moves an owner-approved pending permanent session to
// active. Approving an already-active session is a no-op success.
func (s *Store) ApprovePermanentSession(sessionID, ownerID string, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	if sess.OwnerID != ownerID {
		return model.Session{}, ErrUnauthorized
	}
	if sess.Kind != model.SessionPermanent || sess.Status.Terminal() {
		return model.Session{}, ErrInvalidState
	}
	if sess.Status == model.StatusActive {
		return sess, nil
	}

	sess.Status = model.StatusActive
	startedAt := now
	sess.StartedAt = &startedAt
	s.sessionsByID[sessionID] = sess
	return sess, nil
}

// EndSession is allowed for the owner or the attached controller and is
// idempotent: ending an already-terminal session succeeds without mutation.
// The relay's session-ended broadcast is a separate, unsynchronized event; a
// room can be torn down briefly before this transition lands.
func (s *Store) EndSession(sessionID, requesterID string, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	if sess.OwnerID != requesterID && (sess.ControllerID == "" || sess.ControllerID != requesterID) {
		return model.Session{}, ErrUnauthorized
	}
	if sess.Status.Terminal() {
		return sess, nil
	}

	sess.Status = model.StatusEnded
	endedAt := now
	sess.EndedAt = &endedAt
	s.sessionsByID[sessionID] = sess
	return sess, nil
}

// EnsureValid reports whether the session is still joinable/usable. A lapsed
// expiry is transitioned to expired here; expiredNow is true only for the one
// caller that performed that transition.
func (s *Store) EnsureValid(sessionID string, now time.Time) (valid bool, expiredNow bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessionsByID[sessionID]
	if !ok {
		return false, false, ErrNotFound
	}

	wasTerminal := sess.Status.Terminal()
	valid = s.ensureValidLocked(&sess, now)
	return valid, !valid && !wasTerminal, nil
}

// ensureValidLocked applies lazy expiry to sess (and the stored record) and
// reports validity. Callers hold s.mu for writing.
func (s *Store) ensureValidLocked(sess *model.Session, now time.Time) bool {
	if sess.Status.Terminal() {
		return false
	}
	if sess.ExpiresAt != nil && now.After(*sess.ExpiresAt) {
		sess.Status = model.StatusExpired
		s.sessionsByID[sess.ID] = *sess
		return false
	}
	return true
}

func (s *Store) GetSession(sessionID string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessionsByID[sessionID]
	return sess, ok
}

func (s *Store) GetSessionByToken(token string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.sessionIDByToken[token]
	if !ok {
		return model.Session{}, false
	}
	return s.sessionsByID[id], true
}

// ResolveRoom looks a session up by its id or its room id and checks validity.
// The relay calls this on every join attempt.
func (s *Store) ResolveRoom(sessionIDOrRoom string, now time.Time) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := sessionIDOrRoom
	if roomOwner, ok := s.sessionIDByRoom[sessionIDOrRoom]; ok {
		id = roomOwner
	}
	sess, ok := s.sessionsByID[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	if !s.ensureValidLocked(&sess, now) {
		return model.Session{}, ErrInvalidState
	}
	return sess, nil
}

// ListActiveSessions returns sessions where the identity is owner or attached
// controller and the status is active, newest first. Lazy expiry applies.
func (s *Store) ListActiveSessions(userID string, now time.Time) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]model.Session, 0)
	for id := range s.sessionsByID {
		sess := s.sessionsByID[id]
		if sess.OwnerID != userID && sess.ControllerID != userID {
			continue
		}
		if !s.ensureValidLocked(&sess, now) {
			continue
		}
		if sess.Status == model.StatusActive {
			result = append(result, sess)
		}
	}
	sortSessionsNewestFirst(result)
	return result
}

// ExpireOverdue transitions every overdue non-terminal session to expired and
// returns how many it moved. The reaper calls this on its sweep interval.
func (s *Store) ExpireOverdue(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for id := range s.sessionsByID {
		sess := s.sessionsByID[id]
		if sess.Status.Terminal() || sess.ExpiresAt == nil {
			continue
		}
		if now.After(*sess.ExpiresAt) {
			sess.Status = model.StatusExpired
			s.sessionsByID[id] = sess
			expired++
		}
	}
	return expired
}

// PurgeTerminal physically deletes terminal sessions whose end (or lapsed
// expiry) is older than the grace window, and returns how many it removed.
// The window keeps records readable briefly for audit correlation.
func (s *Store) PurgeTerminal(grace time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-grace)
	removed := 0
	for id := range s.sessionsByID {
		sess := s.sessionsByID[id]
		var terminalAt time.Time
		switch {
		case sess.Status == model.StatusEnded && sess.EndedAt != nil:
			terminalAt = *sess.EndedAt
		case sess.Status == model.StatusExpired && sess.ExpiresAt != nil:
			terminalAt = *sess.ExpiresAt
		default:
			continue
		}
		if terminalAt.Before(cutoff) {
			delete(s.sessionsByID, id)
			delete(s.sessionIDByToken, sess.Token)
			delete(s.sessionIDByRoom, sess.RoomID)
			removed++
		}
	}
	return removed
}

func (s *Store) insertSessionLocked(sess model.Session) {
	s.sessionsByID[sess.ID] = sess
	s.sessionIDByToken[sess.Token] = sess.ID
	s.sessionIDByRoom[sess.RoomID] = sess.ID
}
