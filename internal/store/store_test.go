package store

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"peerdesk-server/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestStore returns a store with one owner device and one controller
// device already registered.
func newTestStore(t *testing.T) (s *Store, ownerDev, ctrlDev model.Device) {
	t.Helper()
	s = New()
	var err error
	ownerDev, _, err = s.UpsertDevice("owner-1", "fp-owner", "Laptop", "ua", t0)
	if err != nil {
		t.Fatalf("UpsertDevice owner: %v", err)
	}
	ctrlDev, _, err = s.UpsertDevice("ctrl-1", "fp-ctrl", "Phone", "ua", t0)
	if err != nil {
		t.Fatalf("UpsertDevice controller: %v", err)
	}
	return s, ownerDev, ctrlDev
}

func TestCreateInstantSession(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)

	sess, err := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)
	if err != nil {
		t.Fatalf("CreateInstantSession: %v", err)
	}
	if !strings.HasPrefix(sess.Token, "inst_") {
		t.Fatalf("expected inst_ token, got %q", sess.Token)
	}
	if !strings.HasPrefix(sess.RoomID, "room_") {
		t.Fatalf("expected room_ id, got %q", sess.RoomID)
	}
	if sess.RoomID == sess.ID || sess.RoomID == sess.Token {
		t.Fatalf("room id must be independent of session identity")
	}
	if sess.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", sess.Status)
	}
	if sess.ExpiresAt == nil || !sess.ExpiresAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("unexpected expiresAt: %v", sess.ExpiresAt)
	}
}

func TestCreateInstantSession_DeviceOwnership(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)

	if _, err := s.CreateInstantSession("someone-else", ownerDev.ID, model.DefaultPermissions(), time.Minute, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateInstantSession("owner-1", "no-such-device", model.DefaultPermissions(), time.Minute, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinSession(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)

	joined, err := s.JoinSession(sess.Token, "ctrl-1", ctrlDev.ID, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	if joined.Status != model.StatusActive {
		t.Fatalf("expected active, got %s", joined.Status)
	}
	if joined.ControllerID != "ctrl-1" || joined.ControllerDeviceID != ctrlDev.ID {
		t.Fatalf("controller not recorded: %+v", joined)
	}
	if joined.StartedAt == nil {
		t.Fatalf("startedAt not set")
	}
}

func TestJoinSession_UnknownToken(t *testing.T) {
	s, _, ctrlDev := newTestStore(t)
	if _, err := s.JoinSession("inst_nope", "ctrl-1", ctrlDev.ID, t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoinSession_SecondControllerConflicts(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	other, _, err := s.UpsertDevice("ctrl-2", "fp-other", "Tablet", "ua", t0)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)

	if _, err := s.JoinSession(sess.Token, "ctrl-1", ctrlDev.ID, t0); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := s.JoinSession(sess.Token, "ctrl-2", other.ID, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stored, _ := s.GetSession(sess.ID)
	if stored.ControllerID != "ctrl-1" {
		t.Fatalf("first controller overwritten: %s", stored.ControllerID)
	}
}

func TestJoinSession_ConcurrentSingleWinner(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)

	const n = 32
	devices := make([]model.Device, n)
	for i := 0; i < n; i++ {
		d, _, err := s.UpsertDevice("c", "fp-c-"+string(rune('a'+i)), "d", "ua", t0)
		if err != nil {
			t.Fatalf("UpsertDevice: %v", err)
		}
		devices[i] = d
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.JoinSession(sess.Token, "c", devices[i].ID, t0.Add(time.Second)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}

func TestJoinSession_Expired(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), time.Second, t0)

	if _, err := s.JoinSession(sess.Token, "ctrl-1", ctrlDev.ID, t0.Add(2*time.Second)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	stored, _ := s.GetSession(sess.ID)
	if stored.Status != model.StatusExpired {
		t.Fatalf("expected expired after failed join, got %s", stored.Status)
	}
}

func TestJoinSession_TerminalNoMutation(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)
	if _, err := s.EndSession(sess.ID, "owner-1", t0); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if _, err := s.JoinSession(sess.Token, "ctrl-1", ctrlDev.ID, t0.Add(time.Second)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	stored, _ := s.GetSession(sess.ID)
	if stored.Status != model.StatusEnded || stored.ControllerID != "" {
		t.Fatalf("terminal session mutated: %+v", stored)
	}
}

func TestEnsureValid_ExpiresExactlyOnce(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), time.Second, t0)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			valid, expiredNow, err := s.EnsureValid(sess.ID, t0.Add(time.Minute))
			if err != nil {
				t.Errorf("EnsureValid: %v", err)
				return
			}
			if valid {
				t.Errorf("expected invalid")
				return
			}
			if expiredNow {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Fatalf("expected exactly one expiry transition, got %d", transitions)
	}
	stored, _ := s.GetSession(sess.ID)
	if stored.Status != model.StatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}
}

func TestEndSession_Authorization(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)
	if _, err := s.JoinSession(sess.Token, "ctrl-1", ctrlDev.ID, t0); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}

	if _, err := s.EndSession(sess.ID, "stranger", t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	ended, err := s.EndSession(sess.ID, "ctrl-1", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("EndSession by controller: %v", err)
	}
	if ended.Status != model.StatusEnded || ended.EndedAt == nil {
		t.Fatalf("unexpected end state: %+v", ended)
	}

	// idempotent on terminal
	again, err := s.EndSession(sess.ID, "owner-1", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("second EndSession: %v", err)
	}
	if !again.EndedAt.Equal(*ended.EndedAt) {
		t.Fatalf("terminal end mutated endedAt")
	}
}

func TestListActiveSessions(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	a, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)
	if _, err := s.JoinSession(a.Token, "ctrl-1", ctrlDev.ID, t0); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	// pending one should not be listed
	if _, err := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0); err != nil {
		t.Fatalf("CreateInstantSession: %v", err)
	}

	owner := s.ListActiveSessions("owner-1", t0.Add(time.Minute))
	if len(owner) != 1 || owner[0].ID != a.ID {
		t.Fatalf("owner list: %+v", owner)
	}
	ctrl := s.ListActiveSessions("ctrl-1", t0.Add(time.Minute))
	if len(ctrl) != 1 || ctrl[0].ID != a.ID {
		t.Fatalf("controller list: %+v", ctrl)
	}
	if got := s.ListActiveSessions("stranger", t0.Add(time.Minute)); len(got) != 0 {
		t.Fatalf("stranger list: %+v", got)
	}
}

func TestAddGrant_DuplicateConflicts(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)

	g, err := s.AddGrant("owner-1", ownerDev.ID, "X@Y.com", model.DefaultPermissions(), false, t0)
	if err != nil {
		t.Fatalf("AddGrant: %v", err)
	}
	if g.ControllerEmail != "x@y.com" {
		t.Fatalf("email not normalized: %q", g.ControllerEmail)
	}

	if _, err := s.AddGrant("owner-1", ownerDev.ID, "x@y.com ", model.DefaultPermissions(), false, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// revoked records still block re-granting
	if err := s.RevokeGrant(g.ID, "owner-1", t0); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	if _, err := s.AddGrant("owner-1", ownerDev.ID, "x@y.com", model.DefaultPermissions(), false, t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after revoke, got %v", err)
	}
}

func TestAddGrant_EmptyEmailRejected(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)

	if _, err := s.AddGrant("owner-1", ownerDev.ID, "   ", model.DefaultPermissions(), false, t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for blank email, got %v", err)
	}
}

func TestRevokeGrant_Idempotent(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	g, _ := s.AddGrant("owner-1", ownerDev.ID, "x@y.com", model.DefaultPermissions(), false, t0)

	if err := s.RevokeGrant(g.ID, "owner-1", t0); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := s.RevokeGrant(g.ID, "owner-1", t0); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	stored, _ := s.GetGrant(g.ID)
	if stored.IsActive {
		t.Fatalf("expected inactive")
	}

	if err := s.RevokeGrant(g.ID, "not-owner", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign revoke, got %v", err)
	}
}

func TestCreatePermanentSession(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)

	// no grant yet
	if _, err := s.CreatePermanentSession("ctrl-1", "ctrl@y.com", ownerDev.ID, ctrlDev.ID, t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	perms := model.PermissionSet{ViewOnly: true}
	g, err := s.AddGrant("owner-1", ownerDev.ID, "CTRL@y.com", perms, true, t0)
	if err != nil {
		t.Fatalf("AddGrant: %v", err)
	}

	sess, err := s.CreatePermanentSession("ctrl-1", "ctrl@y.com", ownerDev.ID, ctrlDev.ID, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreatePermanentSession: %v", err)
	}
	if sess.Status != model.StatusActive || sess.StartedAt == nil {
		t.Fatalf("autoApprove should start active: %+v", sess)
	}
	if sess.Permissions != perms {
		t.Fatalf("permissions not copied from grant: %+v", sess.Permissions)
	}
	if !strings.HasPrefix(sess.Token, "perm_") {
		t.Fatalf("expected perm_ token, got %q", sess.Token)
	}
	if sess.ExpiresAt != nil {
		t.Fatalf("permanent sessions must not expire")
	}

	stored, _ := s.GetGrant(g.ID)
	if stored.LastUsedAt == nil || !stored.LastUsedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("grant not marked used: %+v", stored)
	}
	if stored.ControllerID != "ctrl-1" {
		t.Fatalf("controller id not bound on use: %q", stored.ControllerID)
	}
}

func TestCreatePermanentSession_OwnerDeviceOffline(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	if _, err := s.AddGrant("owner-1", ownerDev.ID, "ctrl@y.com", model.DefaultPermissions(), true, t0); err != nil {
		t.Fatalf("AddGrant: %v", err)
	}
	s.SetDeviceOffline(ownerDev.ID, "owner-1", t0)

	if _, err := s.CreatePermanentSession("ctrl-1", "ctrl@y.com", ownerDev.ID, ctrlDev.ID, t0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCreatePermanentSession_RevokedGrant(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	g, _ := s.AddGrant("owner-1", ownerDev.ID, "ctrl@y.com", model.DefaultPermissions(), true, t0)
	if err := s.RevokeGrant(g.ID, "owner-1", t0); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}

	if _, err := s.CreatePermanentSession("ctrl-1", "ctrl@y.com", ownerDev.ID, ctrlDev.ID, t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestApprovePermanentSession(t *testing.T) {
	s, ownerDev, ctrlDev := newTestStore(t)
	if _, err := s.AddGrant("owner-1", ownerDev.ID, "ctrl@y.com", model.DefaultPermissions(), false, t0); err != nil {
		t.Fatalf("AddGrant: %v", err)
	}

	sess, err := s.CreatePermanentSession("ctrl-1", "ctrl@y.com", ownerDev.ID, ctrlDev.ID, t0)
	if err != nil {
		t.Fatalf("CreatePermanentSession: %v", err)
	}
	if sess.Status != model.StatusPending {
		t.Fatalf("expected pending without autoApprove, got %s", sess.Status)
	}

	if _, err := s.ApprovePermanentSession(sess.ID, "ctrl-1", t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner, got %v", err)
	}

	approved, err := s.ApprovePermanentSession(sess.ID, "owner-1", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApprovePermanentSession: %v", err)
	}
	if approved.Status != model.StatusActive || approved.StartedAt == nil {
		t.Fatalf("unexpected state after approval: %+v", approved)
	}

	// approving again is a no-op success
	if _, err := s.ApprovePermanentSession(sess.ID, "owner-1", t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("second approval: %v", err)
	}
}

func TestAvailableDevices(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	offlineDev, _, err := s.UpsertDevice("owner-1", "fp-off", "Desktop", "ua", t0)
	if err != nil {
		t.Fatalf("UpsertDevice: %v", err)
	}
	if _, err := s.AddGrant("owner-1", ownerDev.ID, "CTRL@y.com", model.DefaultPermissions(), false, t0); err != nil {
		t.Fatalf("AddGrant: %v", err)
	}
	s.SetDeviceOffline(offlineDev.ID, "owner-1", t0)

	entries := s.AvailableDevices("ctrl-1", "ctrl@Y.COM")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Device.ID != ownerDev.ID {
		t.Fatalf("unexpected device: %+v", entries[0].Device)
	}

	if got := s.AvailableDevices("ctrl-1", "other@y.com"); len(got) != 0 {
		t.Fatalf("expected no entries for unaddressed controller, got %d", len(got))
	}
}

func TestResolveRoom(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	sess, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), 10*time.Minute, t0)

	byID, err := s.ResolveRoom(sess.ID, t0)
	if err != nil || byID.RoomID != sess.RoomID {
		t.Fatalf("resolve by id: %v %+v", err, byID)
	}
	byRoom, err := s.ResolveRoom(sess.RoomID, t0)
	if err != nil || byRoom.ID != sess.ID {
		t.Fatalf("resolve by room: %v %+v", err, byRoom)
	}
	if _, err := s.ResolveRoom("nope", t0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ResolveRoom(sess.ID, t0.Add(time.Hour)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for expired, got %v", err)
	}
}

func TestExpireOverdueAndPurge(t *testing.T) {
	s, ownerDev, _ := newTestStore(t)
	short, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), time.Second, t0)
	long, _ := s.CreateInstantSession("owner-1", ownerDev.ID, model.DefaultPermissions(), time.Hour, t0)

	if n := s.ExpireOverdue(t0.Add(2 * time.Second)); n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	stored, _ := s.GetSession(short.ID)
	if stored.Status != model.StatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}

	// within the grace window the record stays readable
	if n := s.PurgeTerminal(5*time.Minute, t0.Add(2*time.Second)); n != 0 {
		t.Fatalf("purged inside grace window: %d", n)
	}
	if n := s.PurgeTerminal(5*time.Minute, t0.Add(10*time.Minute)); n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, ok := s.GetSession(short.ID); ok {
		t.Fatalf("purged session still readable")
	}
	if _, ok := s.GetSessionByToken(short.Token); ok {
		t.Fatalf("purged token still resolvable")
	}
	if _, ok := s.GetSession(long.ID); !ok {
		t.Fatalf("live session purged")
	}
}

func TestDeviceOwnershipConflict(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, _, err := s.UpsertDevice("someone-else", "fp-owner", "x", "ua", t0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
