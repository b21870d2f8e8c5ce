package bus

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing messages, matching the bus's
// at-most-once contract.
const subscriberBuffer = 64

// Memory is an in-process Bus for single-node deployments and tests.
// Messages published to a topic are delivered to every current subscriber
// of that topic in publish order; slow subscribers are dropped on, never
// blocked on.
type Memory struct {
	mu     sync.Mutex
	topics map[string]map[int]chan Message
	nextID int
	logger *slog.Logger
}

// NewMemory creates an empty in-process bus.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		topics: make(map[string]map[int]chan Message),
		logger: logger.With("subsystem", "bus"),
	}
}

// Publish delivers the event to every subscriber of the user's topic.
func (m *Memory) Publish(ctx context.Context, userID, event string, payload any) error {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}
	msg, err := decodeEnvelope(data)
	if err != nil {
		return err
	}

	// Deliver under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send. Sends are non-blocking, so holding the lock is cheap.
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.topics[Topic(userID)] {
		select {
		case ch <- msg:
		default:
			m.logger.Warn("dropping message for slow subscriber",
				"topic", Topic(userID), "event", event)
		}
	}
	return nil
}

// Subscribe registers a new subscriber on the user's topic.
func (m *Memory) Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberBuffer)
	topic := Topic(userID)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[int]chan Message)
	}
	m.topics[topic][id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.topics[topic], id)
			if len(m.topics[topic]) == 0 {
				delete(m.topics, topic)
			}
			close(ch)
			m.mu.Unlock()
		})
	}
	return ch, cancel, nil
}
