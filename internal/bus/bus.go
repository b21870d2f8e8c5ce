// Package bus provides the per-user signaling topics that carry call
// events between participants. Delivery is at-most-once and best-effort:
// no ordering is guaranteed across topics, and a dropped message is
// recovered through the durable session record, not the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Message is one signaling event delivered on a user's topic.
type Message struct {
	Event   string
	Payload json.RawMessage
}

// Bus is the publish/subscribe surface call signaling rides on. Subscribe
// returns a receive channel and an explicit unsubscribe function; after
// unsubscribe the channel is closed and no further messages arrive.
type Bus interface {
	Publish(ctx context.Context, userID, event string, payload any) error
	Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error)
}

// Topic returns the signaling topic name for a user.
func Topic(userID string) string {
	return "calls:" + userID
}

// envelope is the wire format carried on a topic.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// encodeEnvelope marshals an event and its payload into wire bytes.
func encodeEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s payload: %w", event, err)
	}
	data, err := json.Marshal(envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshalling %s envelope: %w", event, err)
	}
	return data, nil
}

// decodeEnvelope unmarshals wire bytes back into a Message.
func decodeEnvelope(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("unmarshalling envelope: %w", err)
	}
	if env.Event == "" {
		return Message{}, fmt.Errorf("envelope missing event name")
	}
	return Message{Event: env.Event, Payload: env.Payload}, nil
}
