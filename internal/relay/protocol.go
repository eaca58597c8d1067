// Package relay defines the wire protocol spoken over the signaling
// websocket: a closed set of tagged JSON messages, validated at the boundary.
// Negotiation and advisory payloads stay opaque; only control events have a
// checked structure, because the relay enforces session permissions on them.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"peerdesk-server/internal/model"
)

const (
	// client -> server
	TypeJoinRoom        = "join-room"
	TypeOffer           = "offer"
	TypeAnswer          = "answer"
	TypeICECandidate    = "ice-candidate"
	TypeControlEvent    = "control-event"
	TypeQualityChange   = "quality-change"
	TypeConnectionStats = "connection-stats"
	TypeEndSession      = "end-session"
	TypePing            = "ping"

	// server -> client
	TypeJoined       = "joined"
	TypeUserJoined   = "user-joined"
	TypeSessionEnded = "session-ended"
	TypePeerLeft     = "peer-left"
	TypeError        = "error"
	TypePong         = "pong"
)

const (
	RoleOwner      = "owner"
	RoleController = "controller"
)

// ClientMessage is the inbound union. Exactly the payload field matching Type
// is consulted; Validate rejects anything outside the closed set.
type ClientMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Role      string          `json:"role,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Event     *ControlEvent   `json:"event,omitempty"`
	Quality   json.RawMessage `json:"quality,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

func (m *ClientMessage) Validate() error {
	switch m.Type {
	case TypeJoinRoom:
		if m.SessionID == "" {
			return errors.New("join-room requires sessionId")
		}
		if m.Role != RoleOwner && m.Role != RoleController {
			return fmt.Errorf("unknown role %q", m.Role)
		}
	case TypeOffer:
		if len(m.Offer) == 0 {
			return errors.New("offer requires a payload")
		}
	case TypeAnswer:
		if len(m.Answer) == 0 {
			return errors.New("answer requires a payload")
		}
	case TypeICECandidate:
		if len(m.Candidate) == 0 {
			return errors.New("ice-candidate requires a payload")
		}
	case TypeControlEvent:
		if m.Event == nil {
			return errors.New("control-event requires an event")
		}
		return m.Event.Validate()
	case TypeQualityChange:
		if len(m.Quality) == 0 {
			return errors.New("quality-change requires a payload")
		}
	case TypeConnectionStats:
		if len(m.Stats) == 0 {
			return errors.New("connection-stats requires a payload")
		}
	case TypeEndSession, TypePing:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// ServerMessage is the outbound union. Zero-valued fields are omitted, so each
// message carries only its own payload.
type ServerMessage struct {
	Type      string          `json:"type"`
	From      string          `json:"from,omitempty"`
	ConnID    string          `json:"connId,omitempty"`
	Role      string          `json:"role,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Event     *ControlEvent   `json:"event,omitempty"`
	Quality   json.RawMessage `json:"quality,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

func Encode(m ServerMessage) []byte {
	data, _ := json.Marshal(m)
	return data
}

func ErrorMessage(message string) []byte {
	return Encode(ServerMessage{Type: TypeError, Message: message})
}

// Forward builds the relayed copy of an inbound message, stamped with the
// sender's connection id. Payloads pass through untouched.
func Forward(m ClientMessage, fromConnID string) []byte {
	out := ServerMessage{Type: m.Type, From: fromConnID}
	switch m.Type {
	case TypeOffer:
		out.Offer = m.Offer
	case TypeAnswer:
		out.Answer = m.Answer
	case TypeICECandidate:
		out.Candidate = m.Candidate
	case TypeControlEvent:
		out.Event = m.Event
	case TypeQualityChange:
		out.Quality = m.Quality
	case TypeConnectionStats:
		out.Stats = m.Stats
	case TypeEndSession:
		out.Type = TypeSessionEnded
	}
	return Encode(out)
}

// ControlEvent is a structured input descriptor. Pointer coordinates are
// normalized to [0,1]; the receiving endpoint scales them to its screen.
type ControlEvent struct {
	Type     string   `json:"type"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Button   string   `json:"button,omitempty"`
	DeltaX   float64  `json:"deltaX,omitempty"`
	DeltaY   float64  `json:"deltaY,omitempty"`
	Key      string   `json:"key,omitempty"`
	Code     string   `json:"code,omitempty"`
	KeyCode  int      `json:"keyCode,omitempty"`
	CtrlKey  bool     `json:"ctrlKey,omitempty"`
	AltKey   bool     `json:"altKey,omitempty"`
	ShiftKey bool     `json:"shiftKey,omitempty"`
	MetaKey  bool     `json:"metaKey,omitempty"`
}

var mouseEventTypes = map[string]bool{
	"mousemove":  true,
	"mouseclick": true,
	"mousedown":  true,
	"mouseup":    true,
	"wheel":      true,
}

var keyboardEventTypes = map[string]bool{
	"keydown": true,
	"keyup":   true,
}

func (e *ControlEvent) IsMouse() bool    { return mouseEventTypes[e.Type] }
func (e *ControlEvent) IsKeyboard() bool { return keyboardEventTypes[e.Type] }

func (e *ControlEvent) Validate() error {
	if !e.IsMouse() && !e.IsKeyboard() {
		return fmt.Errorf("unknown control event type %q", e.Type)
	}
	if e.X != nil && (*e.X < 0 || *e.X > 1) {
		return errors.New("x out of range")
	}
	if e.Y != nil && (*e.Y < 0 || *e.Y > 1) {
		return errors.New("y out of range")
	}
	switch e.Button {
	case "", "left", "right", "middle":
	default:
		return fmt.Errorf("unknown button %q", e.Button)
	}
	return nil
}

// Permitted checks a validated control event against the session's permission
// set. The relay drops events that fail this, it never forwards them.
func (e *ControlEvent) Permitted(perms model.PermissionSet) error {
	if perms.ViewOnly {
		return errors.New("session is view-only")
	}
	if e.IsMouse() && !perms.MouseControl {
		return errors.New("mouse control is disabled")
	}
	if e.IsKeyboard() && !perms.KeyboardControl {
		return errors.New("keyboard control is disabled")
	}
	return nil
}
