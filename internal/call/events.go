package call

// Signaling event names carried on a user's bus topic.
const (
	EventOffer    = "call:offer"
	EventAccepted = "call:accepted"
	EventRejected = "call:rejected"
	EventEnded    = "call:ended"
	EventBusy     = "call:busy"
	EventCancel   = "call:cancel"
)

// OfferPayload proposes a call to the receiver.
type OfferPayload struct {
	CallID       string `json:"callId"`
	CallerID     string `json:"callerId"`
	CallerName   string `json:"callerName"`
	CallerAvatar string `json:"callerAvatar"`
	CallType     string `json:"type"`
}

// AcceptedPayload tells the caller the receiver picked up.
type AcceptedPayload struct {
	AcceptorID string `json:"acceptorId"`
	CallID     string `json:"callId"`
}

// RejectedPayload tells the caller the receiver declined. CallID may be
// absent in messages from older clients; handlers treat that as matching.
type RejectedPayload struct {
	RejectorID string `json:"rejectorId"`
	CallID     string `json:"callId,omitempty"`
}

// EndedPayload tells the peer the call was hung up.
type EndedPayload struct {
	CallID string `json:"callId"`
}

// BusyPayload tells the caller the receiver is already on another call.
type BusyPayload struct {
	BusyUserID string `json:"busyUserId"`
	CallID     string `json:"callId,omitempty"`
}

// CancelPayload tells the receiver the caller gave up before an answer.
type CancelPayload struct {
	CallID string `json:"callId,omitempty"`
}
