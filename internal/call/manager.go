package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/bus"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// SessionStore is the durable call-session surface the manager writes to.
// It is the fallback path for recovery when the transient bus loses a
// message, so writes happen before the corresponding publish.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.CallSession, error)
	MarkAccepted(ctx context.Context, id string, startedAt time.Time) error
	MarkRejected(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, endedAt time.Time, durationSec int64) error
}

// Validator atomically validates and creates a new session row, so two
// initiations cannot race into duplicate sessions.
type Validator interface {
	CreateSession(ctx context.Context, callerID, receiverID string, callType Type) (*models.CallSession, error)
}

// Notifier wakes the callee's devices when an offer goes out, carrying a
// deep link back into the call. Delivery is best-effort and never blocks
// or fails the initiation.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, sess *models.CallSession, callerName string)
}

// NoticeKind classifies user-facing call outcomes the UI should surface.
type NoticeKind string

const (
	NoticeRejected NoticeKind = "rejected"
	NoticeEnded    NoticeKind = "ended"
	NoticePeerBusy NoticeKind = "peer_busy"
)

// Notice is a user-facing signaling outcome.
type Notice struct {
	Kind   NoticeKind
	CallID string
}

// ErrNotStarted is returned by operations invoked before Start.
var ErrNotStarted = errors.New("call manager not started")

// Config assembles a Manager's identity and collaborators. Store, Bus and
// Validator are required; Notifier, Logger and Now are optional.
type Config struct {
	SelfID     string
	SelfName   string
	SelfAvatar string

	Store     SessionStore
	Bus       bus.Bus
	Validator Validator
	Notifier  Notifier

	Logger *slog.Logger
	Now    func() time.Time
}

// Manager owns the single local ActiveCall and funnels every mutation
// through the public operations and the inbound dispatch loop. Callers
// never touch the call value directly; they observe it through Current
// and OnChange.
type Manager struct {
	selfID     string
	selfName   string
	selfAvatar string

	store     SessionStore
	bus       bus.Bus
	validator Validator
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	active  *ActiveCall
	started bool

	changeFns []func(ActiveCall, bool)
	noticeFns []func(Notice)

	// pendingChanges queues snapshots for the notify loop; delivery order
	// is the order the transitions happened under m.mu.
	pendingChanges []change
	changeWake     chan struct{}
	notifyDone     chan struct{}

	unsubscribe func()
	loopDone    chan struct{}
}

// change is one queued state snapshot awaiting OnChange delivery.
type change struct {
	call ActiveCall
	ok   bool
}

// NewManager creates a Manager for the given identity. Start must be
// called before any operation.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SelfID == "" {
		return nil, errors.New("call manager: self id is required")
	}
	if cfg.Store == nil || cfg.Bus == nil || cfg.Validator == nil {
		return nil, errors.New("call manager: store, bus and validator are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		selfID:     cfg.SelfID,
		selfName:   cfg.SelfName,
		selfAvatar: cfg.SelfAvatar,
		store:      cfg.Store,
		bus:        cfg.Bus,
		validator:  cfg.Validator,
		notifier:   cfg.Notifier,
		logger:     logger.With("subsystem", "call", "user_id", cfg.SelfID),
		now:        now,
	}, nil
}

// Start subscribes to this user's signaling topic and begins dispatching
// inbound events. When Start returns without error the subscription is
// live: offers published afterwards will be seen.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	msgs, cancel, err := m.bus.Subscribe(ctx, m.selfID)
	if err != nil {
		return fmt.Errorf("subscribing to signaling topic: %w", err)
	}
	m.unsubscribe = cancel
	m.loopDone = make(chan struct{})
	m.started = true

	m.pendingChanges = nil
	m.changeWake = make(chan struct{}, 1)
	m.notifyDone = make(chan struct{})
	go m.notifyLoop(m.changeWake, m.notifyDone)

	go func() {
		defer close(m.loopDone)
		for msg := range msgs {
			m.dispatch(msg)
		}
	}()

	m.logger.Debug("signaling subscription active")
	return nil
}

// Close releases the bus subscription and stops the dispatch loop. It is
// the only cancellation primitive: in-flight operations are not aborted,
// their results simply go unobserved.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.unsubscribe
	done := m.loopDone
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	wake := m.changeWake
	m.changeWake = nil
	notifyDone := m.notifyDone
	m.mu.Unlock()

	close(wake)
	<-notifyDone
}

// Current returns a snapshot of the active call, if any.
func (m *Manager) Current() (ActiveCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ActiveCall{}, false
	}
	return *m.active, true
}

// OnChange registers a callback fired whenever the active call is created,
// transitioned, or cleared. The bool is false when no call remains.
func (m *Manager) OnChange(fn func(ActiveCall, bool)) {
	m.mu.Lock()
	m.changeFns = append(m.changeFns, fn)
	m.mu.Unlock()
}

// OnNotice registers a callback for user-facing outcomes (rejected, ended,
// peer busy).
func (m *Manager) OnNotice(fn func(Notice)) {
	m.mu.Lock()
	m.noticeFns = append(m.noticeFns, fn)
	m.mu.Unlock()
}

// InitiateCall proposes a call to peerID. The session row is created first
// through the validator; only then is local state set to calling and the
// offer published. Publishing is fire-and-forget: no acknowledgment is
// awaited, and a lost offer is recovered through the durable record.
//
// If a call is already in progress the request is dropped silently.
func (m *Manager) InitiateCall(ctx context.Context, peerID, peerName, peerAvatar string, typ Type) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.active != nil {
		m.logger.Debug("initiate dropped, call already in progress", "peer_id", peerID)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	sess, err := m.validator.CreateSession(ctx, m.selfID, peerID, typ)
	if err != nil {
		return fmt.Errorf("creating call session: %w", err)
	}

	m.mu.Lock()
	if m.active != nil {
		// Someone called us while we were validating; the session row is
		// left for the stale sweep, the local request is dropped.
		m.logger.Debug("initiate dropped after validation, call arrived meanwhile", "call_id", sess.ID)
		m.mu.Unlock()
		return nil
	}
	m.setActiveLocked(&ActiveCall{
		ID:          sess.ID,
		Type:        typ,
		Category:    CategoryPrivate,
		PeerID:      peerID,
		PeerName:    peerName,
		PeerAvatar:  peerAvatar,
		IsInitiator: true,
		Status:      StatusCalling,
	})
	m.mu.Unlock()

	m.publish(ctx, peerID, EventOffer, OfferPayload{
		CallID:       sess.ID,
		CallerID:     m.selfID,
		CallerName:   m.selfName,
		CallerAvatar: m.selfAvatar,
		CallType:     string(typ),
	})

	if m.notifier != nil {
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			m.notifier.NotifyIncomingCall(nctx, sess, m.selfName)
		}()
	}

	m.logger.Info("call initiated", "call_id", sess.ID, "peer_id", peerID, "type", typ)
	return nil
}

// AcceptCall answers the incoming call: the durable record is marked
// accepted with the answer time, local state becomes active, and the
// caller is told. A store write failure is logged but does not block the
// answer.
func (m *Manager) AcceptCall(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	if m.active == nil || m.active.Status != StatusIncoming {
		m.logger.Debug("accept ignored, no incoming call")
		m.mu.Unlock()
		return nil
	}
	ac := *m.active
	m.mu.Unlock()

	if ac.ID != "" {
		if err := m.store.MarkAccepted(ctx, ac.ID, now); err != nil {
			m.logger.Warn("recording call acceptance failed", "call_id", ac.ID, "error", err)
		}
	}

	m.mu.Lock()
	if m.active == nil || m.active.ID != ac.ID || m.active.Status != StatusIncoming {
		// The caller cancelled while we were writing; nothing to answer.
		m.mu.Unlock()
		return nil
	}
	m.active.Status = StatusActive
	m.active.StartTime = now
	m.fireChangeLocked()
	m.mu.Unlock()

	m.publish(ctx, ac.PeerID, EventAccepted, AcceptedPayload{
		AcceptorID: m.selfID,
		CallID:     ac.ID,
	})

	m.logger.Info("call accepted", "call_id", ac.ID, "peer_id", ac.PeerID)
	return nil
}

// RejectCall declines the incoming call and clears local state.
func (m *Manager) RejectCall(ctx context.Context) error {
	m.mu.Lock()
	if m.active == nil || m.active.Status != StatusIncoming {
		m.logger.Debug("reject ignored, no incoming call")
		m.mu.Unlock()
		return nil
	}
	ac := *m.active
	m.clearActiveLocked()
	m.mu.Unlock()

	if ac.ID != "" {
		if err := m.store.MarkRejected(ctx, ac.ID); err != nil {
			m.logger.Warn("recording call rejection failed", "call_id", ac.ID, "error", err)
		}
	}

	m.publish(ctx, ac.PeerID, EventRejected, RejectedPayload{
		RejectorID: m.selfID,
		CallID:     ac.ID,
	})

	m.logger.Info("call rejected", "call_id", ac.ID, "peer_id", ac.PeerID)
	return nil
}

// EndCall hangs up. Normally called from the active state, it is also
// tolerated from any other state as a force-clear of local call state
// (ending a still-ringing outbound call doubles as a cancel). Local state
// is cleared even when the store write fails: a stuck call surface is
// worse than an imperfect record.
func (m *Manager) EndCall(ctx context.Context) error {
	now := m.now()

	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return nil
	}
	ac := *m.active
	m.clearActiveLocked()
	m.mu.Unlock()

	if ac.ID != "" {
		if err := m.store.MarkCompleted(ctx, ac.ID, now, durationSeconds(ac.StartTime, now)); err != nil {
			m.logger.Warn("recording call completion failed", "call_id", ac.ID, "error", err)
		}
	}

	if ac.PeerID != "" {
		event := EventEnded
		var payload any = EndedPayload{CallID: ac.ID}
		if ac.Status == StatusCalling {
			// The peer never answered; tell them to stop ringing.
			event = EventCancel
			payload = CancelPayload{CallID: ac.ID}
		}
		m.publish(ctx, ac.PeerID, event, payload)
	}

	m.logger.Info("call ended", "call_id", ac.ID, "duration_sec", durationSeconds(ac.StartTime, now))
	return nil
}

// StartMeeting creates a local meeting call directly: no session row, no
// remote signaling, no negotiation. It is the deliberately degraded mode
// for multi-party rooms.
func (m *Manager) StartMeeting(conversationID, meetingName string, typ Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return ErrNotStarted
	}
	if m.active != nil {
		m.logger.Debug("meeting dropped, call already in progress", "conversation_id", conversationID)
		return nil
	}
	m.setActiveLocked(&ActiveCall{
		Type:           typ,
		Category:       CategoryMeeting,
		ConversationID: conversationID,
		PeerName:       meetingName,
		IsInitiator:    true,
		Status:         StatusActive,
		StartTime:      m.now(),
	})
	m.logger.Info("meeting started", "conversation_id", conversationID, "type", typ)
	return nil
}

// dispatch routes one inbound signaling message. Every handler is
// idempotent with respect to duplicate delivery: re-applying an event to
// state it no longer matches is a no-op.
func (m *Manager) dispatch(msg bus.Message) {
	switch msg.Event {
	case EventOffer:
		var p OfferPayload
		if !m.decode(msg, &p) {
			return
		}
		m.handleOffer(p)
	case EventAccepted:
		var p AcceptedPayload
		if !m.decode(msg, &p) {
			return
		}
		m.handleAccepted(p)
	case EventRejected:
		var p RejectedPayload
		if !m.decode(msg, &p) {
			return
		}
		m.handleRejected(p)
	case EventEnded:
		var p EndedPayload
		if !m.decode(msg, &p) {
			return
		}
		m.handleEnded(p)
	case EventBusy:
		m.handleBusy()
	case EventCancel:
		m.handleCancel()
	default:
		m.logger.Debug("ignoring unknown signaling event", "event", msg.Event)
	}
}

// handleOffer creates the incoming call, or replies busy when a call is
// already in progress, leaving local state untouched. An offer for the
// call already ringing is a duplicate delivery, not a busy condition.
func (m *Manager) handleOffer(p OfferPayload) {
	m.mu.Lock()
	if m.active != nil && m.active.ID == p.CallID {
		m.mu.Unlock()
		return
	}
	if m.active != nil {
		m.mu.Unlock()
		m.publish(context.Background(), p.CallerID, EventBusy, BusyPayload{
			BusyUserID: m.selfID,
			CallID:     p.CallID,
		})
		m.logger.Info("busy reply sent", "call_id", p.CallID, "caller_id", p.CallerID)
		return
	}
	m.setActiveLocked(&ActiveCall{
		ID:          p.CallID,
		Type:        Type(p.CallType),
		Category:    CategoryPrivate,
		PeerID:      p.CallerID,
		PeerName:    p.CallerName,
		PeerAvatar:  p.CallerAvatar,
		IsInitiator: false,
		Status:      StatusIncoming,
	})
	m.mu.Unlock()
	m.logger.Info("incoming call", "call_id", p.CallID, "caller_id", p.CallerID)
}

// handleAccepted applies only to the outbound call it names.
func (m *Manager) handleAccepted(p AcceptedPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.ID != p.CallID || m.active.Status != StatusCalling {
		return
	}
	m.active.Status = StatusActive
	// Local clock, not the remote's: durations are per-participant.
	m.active.StartTime = m.now()
	m.fireChangeLocked()
	m.logger.Info("call answered by peer", "call_id", p.CallID)
}

// handleRejected clears the outbound call. An absent callId matches
// anything, a defensive fallback for older peers.
func (m *Manager) handleRejected(p RejectedPayload) {
	m.mu.Lock()
	if m.active == nil || m.active.Status != StatusCalling {
		m.mu.Unlock()
		return
	}
	if p.CallID != "" && p.CallID != m.active.ID {
		m.mu.Unlock()
		return
	}
	id := m.active.ID
	m.clearActiveLocked()
	m.mu.Unlock()

	m.fireNotice(Notice{Kind: NoticeRejected, CallID: id})
	m.logger.Info("call rejected by peer", "call_id", id)
}

// handleEnded clears the call it names, whatever the local state.
func (m *Manager) handleEnded(p EndedPayload) {
	m.mu.Lock()
	if m.active == nil || m.active.ID != p.CallID {
		m.mu.Unlock()
		return
	}
	m.clearActiveLocked()
	m.mu.Unlock()

	m.fireNotice(Notice{Kind: NoticeEnded, CallID: p.CallID})
	m.logger.Info("call ended by peer", "call_id", p.CallID)
}

// handleBusy clears local state unconditionally.
func (m *Manager) handleBusy() {
	m.mu.Lock()
	var id string
	if m.active != nil {
		id = m.active.ID
	}
	m.clearActiveLocked()
	m.mu.Unlock()

	m.fireNotice(Notice{Kind: NoticePeerBusy, CallID: id})
	m.logger.Info("peer busy", "call_id", id)
}

// handleCancel clears a not-yet-established call. An established call is
// torn down by EventEnded, never by cancel.
func (m *Manager) handleCancel() {
	m.mu.Lock()
	if m.active == nil || m.active.Status == StatusActive {
		m.mu.Unlock()
		return
	}
	id := m.active.ID
	m.clearActiveLocked()
	m.mu.Unlock()

	m.logger.Info("call cancelled by peer", "call_id", id)
}

// adopt installs a call state rebuilt from the durable record, provided no
// call is in progress. Used by deep-link recovery.
func (m *Manager) adopt(ac ActiveCall) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return false
	}
	m.setActiveLocked(&ac)
	return true
}

// isStarted reports whether the signaling subscription is live.
func (m *Manager) isStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// setActiveLocked replaces the active call and fires change callbacks.
// Caller holds m.mu.
func (m *Manager) setActiveLocked(ac *ActiveCall) {
	m.active = ac
	m.fireChangeLocked()
}

// clearActiveLocked drops the active call and fires change callbacks.
// Caller holds m.mu.
func (m *Manager) clearActiveLocked() {
	if m.active == nil {
		return
	}
	m.active = nil
	m.fireChangeLocked()
}

// fireChangeLocked queues a snapshot for the notify loop. Caller holds
// m.mu. Queueing under the lock keeps delivery in transition order, so an
// observer's last notification always matches the manager's final state.
func (m *Manager) fireChangeLocked() {
	if m.changeWake == nil {
		return
	}
	var snapshot ActiveCall
	ok := m.active != nil
	if ok {
		snapshot = *m.active
	}
	m.pendingChanges = append(m.pendingChanges, change{call: snapshot, ok: ok})
	select {
	case m.changeWake <- struct{}{}:
	default:
	}
}

// notifyLoop delivers queued snapshots to OnChange callbacks one at a
// time, in the order the transitions happened. Callbacks run without
// m.mu held so they can call back into the manager.
func (m *Manager) notifyLoop(wake <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for range wake {
		m.drainChanges()
	}
	// Deliver anything queued between the last wake and Close.
	m.drainChanges()
}

func (m *Manager) drainChanges() {
	for {
		m.mu.Lock()
		if len(m.pendingChanges) == 0 {
			m.mu.Unlock()
			return
		}
		ev := m.pendingChanges[0]
		m.pendingChanges = m.pendingChanges[1:]
		fns := make([]func(ActiveCall, bool), len(m.changeFns))
		copy(fns, m.changeFns)
		m.mu.Unlock()
		for _, fn := range fns {
			fn(ev.call, ev.ok)
		}
	}
}

// fireNotice invokes notice callbacks.
func (m *Manager) fireNotice(n Notice) {
	m.mu.Lock()
	fns := make([]func(Notice), len(m.noticeFns))
	copy(fns, m.noticeFns)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// publish sends a signaling event, tolerating failure: the bus is
// best-effort and the durable record is the recovery path.
func (m *Manager) publish(ctx context.Context, userID, event string, payload any) {
	if err := m.bus.Publish(ctx, userID, event, payload); err != nil {
		m.logger.Warn("publishing signaling event failed",
			"event", event, "peer_id", userID, "error", err)
	}
}

// decode unmarshals a payload, discarding malformed messages.
func (m *Manager) decode(msg bus.Message, v any) bool {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		m.logger.Warn("discarding malformed payload", "event", msg.Event, "error", err)
		return false
	}
	return true
}

// durationSeconds computes a call's billing duration: whole seconds from
// answer to hangup, never negative, zero when the call was never answered.
func durationSeconds(start, end time.Time) int64 {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}
