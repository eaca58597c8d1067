package model

import "time"

type SessionKind string

const (
	SessionInstant   SessionKind = "instant"
	SessionPermanent SessionKind = "permanent"
)

type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
	StatusExpired SessionStatus = "expired"
)

// Terminal reports whether the status is one of the two end states.
func (s SessionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusExpired
}

// PermissionSet is fixed at session creation and immutable afterwards.
// For permanent sessions it is copied from the consumed trust grant.
type PermissionSet struct {
	ViewOnly        bool `json:"viewOnly"`
	MouseControl    bool `json:"mouseControl"`
	KeyboardControl bool `json:"keyboardControl"`
}

// DefaultPermissions matches the product defaults: full control, not view-only.
func DefaultPermissions() PermissionSet {
	return PermissionSet{MouseControl: true, KeyboardControl: true}
}

type Session struct {
	ID                 string
	Token              string
	Kind               SessionKind
	OwnerID            string
	OwnerDeviceID      string
	ControllerID       string
	ControllerDeviceID string
	Permissions        PermissionSet
	Status             SessionStatus
	RoomID             string
	CreatedAt          time.Time
	ExpiresAt          *time.Time // nil for permanent sessions
	StartedAt          *time.Time
	EndedAt            *time.Time
}

// TrustGrant is a standing authorization: a named controller email may open
// permanent sessions against one owner device. Revocation flips IsActive,
// the record itself is kept.
type TrustGrant struct {
	ID              string
	OwnerID         string
	OwnerDeviceID   string
	ControllerEmail string
	ControllerID    string // bound on first use; empty until then
	Permissions     PermissionSet
	AutoApprove     bool
	IsActive        bool
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

type Device struct {
	ID           string
	UserID       string
	Fingerprint  string
	Name         string
	UserAgent    string
	Online       bool
	LastActiveAt time.Time
	CreatedAt    time.Time
}
