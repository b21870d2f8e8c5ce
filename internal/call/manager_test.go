package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/bus"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

type fakeStore struct {
	mu        sync.Mutex
	accepted  []string
	rejected  []string
	completed map[string]int64
	sessions  map[string]*models.CallSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		completed: make(map[string]int64),
		sessions:  make(map[string]*models.CallSession),
	}
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id], nil
}

func (s *fakeStore) MarkAccepted(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, id)
	return nil
}

func (s *fakeStore) MarkRejected(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, id)
	return nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id string, _ time.Time, durationSec int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[id] = durationSec
	return nil
}

func (s *fakeStore) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

type fakeValidator struct {
	mu      sync.Mutex
	created int
}

func (v *fakeValidator) CreateSession(_ context.Context, callerID, receiverID string, typ Type) (*models.CallSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.created++
	return &models.CallSession{
		ID:         "sess-" + callerID + "-" + receiverID,
		CallType:   string(typ),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     models.SessionInitiated,
		CreatedAt:  time.Now(),
	}, nil
}

func (v *fakeValidator) createdCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.created
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (l *noticeLog) record(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) last() (Notice, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.notices) == 0 {
		return Notice{}, false
	}
	return l.notices[len(l.notices)-1], true
}

type testPeer struct {
	mgr       *Manager
	store     *fakeStore
	validator *fakeValidator
	notices   *noticeLog
}

func newTestPeer(t *testing.T, b bus.Bus, id string) *testPeer {
	t.Helper()
	store := newFakeStore()
	validator := &fakeValidator{}
	mgr, err := NewManager(Config{
		SelfID:    id,
		SelfName:  "User " + id,
		Store:     store,
		Bus:       b,
		Validator: validator,
	})
	if err != nil {
		t.Fatalf("NewManager(%s) error: %v", id, err)
	}
	notices := &noticeLog{}
	mgr.OnNotice(notices.record)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) error: %v", id, err)
	}
	t.Cleanup(mgr.Close)
	return &testPeer{mgr: mgr, store: store, validator: validator, notices: notices}
}

func newTestPair(t *testing.T) (*testPeer, *testPeer) {
	t.Helper()
	b := bus.NewMemory(nil)
	return newTestPeer(t, b, "alice"), newTestPeer(t, b, "bob")
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func status(p *testPeer) Status {
	ac, ok := p.mgr.Current()
	if !ok {
		return StatusIdle
	}
	return ac.Status
}

func TestInitiateDeliversOffer(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeVideo); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}

	ac, ok := alice.mgr.Current()
	if !ok || ac.Status != StatusCalling || !ac.IsInitiator {
		t.Fatalf("caller state = (%+v, %v), want calling initiator", ac, ok)
	}

	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})
	bac, _ := bob.mgr.Current()
	if bac.PeerID != "alice" || bac.ID != ac.ID || bac.Type != TypeVideo {
		t.Errorf("callee call = %+v, want mirror of %+v", bac, ac)
	}
	if bac.IsInitiator {
		t.Error("callee must not be marked initiator")
	}
}

func TestAcceptEstablishesBothSides(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})

	if err := bob.mgr.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall() error: %v", err)
	}

	if got := status(bob); got != StatusActive {
		t.Errorf("callee status = %s, want active", got)
	}
	waitFor(t, "caller never saw the accept", func() bool {
		return status(alice) == StatusActive
	})
	if bob.store.acceptedCount() != 1 {
		t.Errorf("MarkAccepted calls = %d, want 1", bob.store.acceptedCount())
	}
}

func TestRejectClearsCaller(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})

	if err := bob.mgr.RejectCall(context.Background()); err != nil {
		t.Fatalf("RejectCall() error: %v", err)
	}

	if _, ok := bob.mgr.Current(); ok {
		t.Error("callee state not cleared after reject")
	}
	waitFor(t, "caller never saw the rejection", func() bool {
		return status(alice) == StatusIdle
	})
	waitFor(t, "caller never got the rejected notice", func() bool {
		n, ok := alice.notices.last()
		return ok && n.Kind == NoticeRejected
	})

	bob.store.mu.Lock()
	rejected := len(bob.store.rejected)
	bob.store.mu.Unlock()
	if rejected != 1 {
		t.Errorf("MarkRejected calls = %d, want 1", rejected)
	}
}

func TestBusyWhenEngaged(t *testing.T) {
	b := bus.NewMemory(nil)
	alice := newTestPeer(t, b, "alice")
	bob := newTestPeer(t, b, "bob")
	carol := newTestPeer(t, b, "carol")

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "bob never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})

	// Carol calls bob while he is already ringing.
	if err := carol.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}

	waitFor(t, "carol never got the busy reply", func() bool {
		n, ok := carol.notices.last()
		return ok && n.Kind == NoticePeerBusy
	})
	if _, ok := carol.mgr.Current(); ok {
		t.Error("carol's state not cleared by busy")
	}
	if got := status(bob); got != StatusIncoming {
		t.Errorf("bob's ringing call disturbed by second offer, status = %s", got)
	}
}

func TestEndCallNotifiesPeer(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})
	if err := bob.mgr.AcceptCall(context.Background()); err != nil {
		t.Fatalf("AcceptCall() error: %v", err)
	}
	waitFor(t, "caller never saw the accept", func() bool {
		return status(alice) == StatusActive
	})

	if err := alice.mgr.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}

	if _, ok := alice.mgr.Current(); ok {
		t.Error("caller state not cleared after hangup")
	}
	waitFor(t, "callee never saw the hangup", func() bool {
		return status(bob) == StatusIdle
	})
	waitFor(t, "callee never got the ended notice", func() bool {
		n, ok := bob.notices.last()
		return ok && n.Kind == NoticeEnded
	})

	alice.store.mu.Lock()
	_, completed := alice.store.completed["sess-alice-bob"]
	alice.store.mu.Unlock()
	if !completed {
		t.Error("MarkCompleted never called on the caller's store")
	}
}

func TestHangupWhileRingingCancels(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})

	// Caller gives up before the callee answers.
	if err := alice.mgr.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}

	waitFor(t, "callee's ringing call never cleared", func() bool {
		return status(bob) == StatusIdle
	})
}

func TestInitiateWhileEngagedDropped(t *testing.T) {
	alice, _ := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	if err := alice.mgr.InitiateCall(context.Background(), "carol", "Carol", "", TypeAudio); err != nil {
		t.Fatalf("second InitiateCall() error: %v", err)
	}

	if got := alice.validator.createdCount(); got != 1 {
		t.Errorf("sessions created = %d, want 1 (second initiate must be dropped)", got)
	}
	ac, _ := alice.mgr.Current()
	if ac.PeerID != "bob" {
		t.Errorf("active peer = %s, want bob", ac.PeerID)
	}
}

func TestMeetingIsLocalOnly(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.StartMeeting("conv-1", "Math study group", TypeVideo); err != nil {
		t.Fatalf("StartMeeting() error: %v", err)
	}

	ac, ok := alice.mgr.Current()
	if !ok || ac.Status != StatusActive || ac.Category != CategoryMeeting {
		t.Fatalf("meeting state = (%+v, %v), want active meeting", ac, ok)
	}
	if ac.ID != "" {
		t.Error("meetings must not carry a session id")
	}
	if alice.validator.createdCount() != 0 {
		t.Error("meetings must not create session rows")
	}

	// Ending a meeting writes nothing durable and signals nobody.
	if err := alice.mgr.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall() error: %v", err)
	}
	alice.store.mu.Lock()
	completed := len(alice.store.completed)
	alice.store.mu.Unlock()
	if completed != 0 {
		t.Errorf("MarkCompleted calls = %d, want 0 for a meeting", completed)
	}
	if got := status(bob); got != StatusIdle {
		t.Errorf("bystander status = %s, want idle", got)
	}
}

func TestMeetingRepliesBusy(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := bob.mgr.StartMeeting("conv-1", "Study group", TypeVideo); err != nil {
		t.Fatalf("StartMeeting() error: %v", err)
	}
	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}

	waitFor(t, "caller never got the busy reply", func() bool {
		n, ok := alice.notices.last()
		return ok && n.Kind == NoticePeerBusy
	})
	if got := status(bob); got != StatusActive {
		t.Errorf("meeting disturbed by offer, status = %s", got)
	}
}

func TestStaleEventsIgnored(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})

	// An accepted event naming a different call must not touch state.
	alice.mgr.handleAccepted(AcceptedPayload{AcceptorID: "bob", CallID: "someone-elses-call"})
	if got := status(alice); got != StatusCalling {
		t.Errorf("status after mismatched accept = %s, want calling", got)
	}

	// An ended event for an unknown call is a no-op too.
	bob.mgr.handleEnded(EndedPayload{CallID: "someone-elses-call"})
	if got := status(bob); got != StatusIncoming {
		t.Errorf("status after mismatched ended = %s, want incoming", got)
	}
}

func TestDuplicateAcceptedIdempotent(t *testing.T) {
	alice, bob := newTestPair(t)

	if err := alice.mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != nil {
		t.Fatalf("InitiateCall() error: %v", err)
	}
	waitFor(t, "callee never saw the offer", func() bool {
		return status(bob) == StatusIncoming
	})
	ac, _ := alice.mgr.Current()

	alice.mgr.handleAccepted(AcceptedPayload{AcceptorID: "bob", CallID: ac.ID})
	first, _ := alice.mgr.Current()
	time.Sleep(10 * time.Millisecond)
	alice.mgr.handleAccepted(AcceptedPayload{AcceptorID: "bob", CallID: ac.ID})
	second, _ := alice.mgr.Current()

	if first.Status != StatusActive || second.Status != StatusActive {
		t.Fatalf("statuses = %s, %s, want active, active", first.Status, second.Status)
	}
	if !second.StartTime.Equal(first.StartTime) {
		t.Error("duplicate accepted moved the answer time")
	}
}

func TestChangeNotificationsOrdered(t *testing.T) {
	alice, _ := newTestPair(t)

	type snap struct {
		call ActiveCall
		ok   bool
	}
	var mu sync.Mutex
	var snaps []snap
	alice.mgr.OnChange(func(ac ActiveCall, ok bool) {
		mu.Lock()
		snaps = append(snaps, snap{call: ac, ok: ok})
		mu.Unlock()
	})

	// Rapid create/clear bursts must notify in transition order; the
	// observer's last word has to match the manager's final state.
	const rounds = 50
	for i := 0; i < rounds; i++ {
		if err := alice.mgr.StartMeeting("conv-1", "Study group", TypeVideo); err != nil {
			t.Fatalf("StartMeeting() error: %v", err)
		}
		if err := alice.mgr.EndCall(context.Background()); err != nil {
			t.Fatalf("EndCall() error: %v", err)
		}
	}

	waitFor(t, "observer never saw every transition", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps) == 2*rounds
	})

	mu.Lock()
	defer mu.Unlock()
	for i, s := range snaps {
		if want := i%2 == 0; s.ok != want {
			t.Fatalf("notification %d ok = %v, want %v (delivered out of order)", i, s.ok, want)
		}
	}
	if last := snaps[len(snaps)-1]; last.ok {
		t.Errorf("final notification reports call %+v, but the manager is idle", last.call)
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	mgr, err := NewManager(Config{
		SelfID:    "alice",
		Store:     newFakeStore(),
		Bus:       bus.NewMemory(nil),
		Validator: &fakeValidator{},
	})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	if err := mgr.InitiateCall(context.Background(), "bob", "Bob", "", TypeAudio); err != ErrNotStarted {
		t.Errorf("InitiateCall() before Start = %v, want ErrNotStarted", err)
	}
	if err := mgr.StartMeeting("conv-1", "Study", TypeVideo); err != ErrNotStarted {
		t.Errorf("StartMeeting() before Start = %v, want ErrNotStarted", err)
	}
}

func TestDurationSeconds(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int64
	}{
		{"whole seconds", base, base.Add(95 * time.Second), 95},
		{"fraction floors", base, base.Add(2500 * time.Millisecond), 2},
		{"never answered", time.Time{}, base, 0},
		{"clock skew clamps", base, base.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := durationSeconds(tt.start, tt.end); got != tt.want {
				t.Errorf("durationSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}
