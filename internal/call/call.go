// Package call implements one-to-one call signaling for the portal:
// establishing, negotiating, and tearing down audio/video calls between
// two users over a per-user signaling bus, backed by a durable session
// record. It governs who may talk to whom and when; the media path
// itself is out of its hands.
package call

import "time"

// Type is the media type of a call.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

// ValidType reports whether t is a known call type.
func ValidType(t Type) bool {
	return t == TypeAudio || t == TypeVideo
}

// Category distinguishes negotiated one-to-one calls from group meetings.
type Category string

const (
	CategoryPrivate Category = "private"
	CategoryMeeting Category = "meeting"
)

// Status is the local lifecycle state of the single in-process call.
// It is finer-grained than the durable session status: the row never
// records "incoming", each participant derives that locally.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusCalling  Status = "calling"
	StatusRinging  Status = "ringing"
	StatusIncoming Status = "incoming"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
)

// ActiveCall is the ephemeral, process-local projection of the call
// currently relevant to this participant. At most one exists per process;
// it is never persisted and never shared across processes — each side
// derives its own from bus events and the durable record.
type ActiveCall struct {
	// ID mirrors the durable session id once known. Empty for meetings,
	// which have no session row.
	ID             string
	Type           Type
	Category       Category
	ConversationID string // meetings only
	PeerID         string
	PeerName       string
	PeerAvatar     string
	IsInitiator    bool
	Status         Status
	StartTime      time.Time // local clock, set on entering active
}

// Trigger names an edge of the call state machine.
type Trigger string

const (
	// Local triggers.
	TriggerInitiate     Trigger = "initiate"
	TriggerStartMeeting Trigger = "start_meeting"
	TriggerAccept       Trigger = "accept"
	TriggerReject       Trigger = "reject"
	TriggerEnd          Trigger = "end"

	// Remote triggers, arriving as bus events.
	TriggerOffer    Trigger = "offer"
	TriggerAccepted Trigger = "accepted"
	TriggerRejected Trigger = "rejected"
	TriggerBusy     Trigger = "busy"
	TriggerCancel   Trigger = "cancel"
)

// Next returns the state reached by applying trg in state cur, and whether
// the edge exists. A trigger with no outgoing edge from cur is a no-op:
// Next returns cur and false, and callers must leave state untouched.
// StatusIdle stands for "no active call".
func Next(cur Status, trg Trigger) (Status, bool) {
	switch cur {
	case StatusIdle:
		switch trg {
		case TriggerInitiate:
			return StatusCalling, true
		case TriggerOffer:
			return StatusIncoming, true
		case TriggerStartMeeting:
			return StatusActive, true
		}
	case StatusCalling:
		switch trg {
		case TriggerAccepted:
			return StatusActive, true
		case TriggerRejected, TriggerBusy, TriggerCancel:
			return StatusIdle, true
		}
	case StatusIncoming:
		switch trg {
		case TriggerAccept:
			return StatusActive, true
		case TriggerReject, TriggerCancel:
			return StatusIdle, true
		}
	case StatusActive:
		if trg == TriggerEnd {
			return StatusIdle, true
		}
	}
	return cur, false
}

// ShouldReplyBusy reports whether an inbound offer in state cur must be
// answered with a busy signal instead of creating an incoming call. This
// is the sole guard against double-booking a user into two concurrent
// calls; it holds only at the receiving process, so it is advisory, not a
// store-level consistency guarantee.
func ShouldReplyBusy(cur Status) bool {
	return cur != StatusIdle
}
