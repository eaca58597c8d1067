package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventSessionCreated  = "session_created"
	EventSessionJoined   = "session_joined"
	EventSessionApproved = "session_approved"
	EventSessionEnded    = "session_ended"
	EventTrustAdded      = "trust_added"
	EventTrustRevoked    = "trust_revoked"
)

type Event struct {
	ID        string
	SessionID string
	UserID    string
	DeviceID  string
	Type      string
	Data      map[string]any
	At        time.Time
}

// Recorder is the audit boundary. Recording is best-effort: implementations
// must never propagate a failure back into the operation being audited.
type Recorder interface {
	Record(ev Event)
}

// Logger records events to a structured log sink and keeps a bounded in-memory
// window for correlation. Entries age out via Prune, driven by the reaper.
type Logger struct {
	sink zerolog.Logger

	mu      sync.Mutex
	entries []Event
}

func NewLogger(sink zerolog.Logger) *Logger {
	return &Logger{sink: sink}
}

func (l *Logger) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	l.sink.Info().
		Str("event", ev.Type).
		Str("sessionId", ev.SessionID).
		Str("userId", ev.UserID).
		Str("deviceId", ev.DeviceID).
		Fields(ev.Data).
		Time("at", ev.At).
		Msg("audit")

	l.mu.Lock()
	l.entries = append(l.entries, ev)
	l.mu.Unlock()
}

// Recent returns up to limit entries, newest first.
func (l *Logger) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]Event, len(l.entries))
	copy(result, l.entries)
	sort.Slice(result, func(i, j int) bool { return result[i].At.After(result[j].At) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// Prune drops entries older than the cutoff and reports how many went.
func (l *Logger) Prune(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.entries[:0]
	for _, ev := range l.entries {
		if !ev.At.Before(before) {
			kept = append(kept, ev)
		}
	}
	dropped := len(l.entries) - len(kept)
	l.entries = kept
	return dropped
}

// Discard is a Recorder that drops everything. Handy in tests.
type Discard struct{}

func (Discard) Record(Event) {}
