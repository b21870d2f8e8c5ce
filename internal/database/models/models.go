package models

import "time"

// Durable call session statuses. These are coarser than the local call
// state tracked in internal/call: the row only records the milestones
// that matter for recovery and history.
const (
	SessionInitiated = "initiated"
	SessionRinging   = "ringing"
	SessionAccepted  = "accepted"
	SessionActive    = "active"
	SessionRejected  = "rejected"
	SessionCompleted = "completed"
)

// ValidSessionStatus reports whether s is one of the durable statuses.
func ValidSessionStatus(s string) bool {
	switch s {
	case SessionInitiated, SessionRinging, SessionAccepted,
		SessionActive, SessionRejected, SessionCompleted:
		return true
	}
	return false
}

// OpenSessionStatus reports whether s is a non-terminal status, i.e. the
// session could still be answered or is in progress.
func OpenSessionStatus(s string) bool {
	switch s {
	case SessionInitiated, SessionRinging, SessionAccepted, SessionActive:
		return true
	}
	return false
}

// CallSession is the durable, shared record of a call's lifecycle. One row
// exists per call, created by the session validator and mutated in place
// through its terminal states. Rows are never deleted by this subsystem.
type CallSession struct {
	ID         string
	CallType   string // "audio" | "video"
	CallerID   string
	ReceiverID string
	Status     string
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Duration   *int64 // seconds, set once on completion
}

// Profile holds the display fields of a portal user that call signaling
// needs: the name and avatar shown on the incoming-call surface.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   string
	UpdatedAt   time.Time
}

// PushToken represents a device registration for wake-up push
// notifications. A user may have several devices; tokens are keyed by
// (user_id, device_id) and refreshed on app start.
type PushToken struct {
	ID        int64
	UserID    string
	Token     string
	Platform  string // "fcm" | "apns"
	DeviceID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}
