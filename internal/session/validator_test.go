package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/call"
	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

func newValidator(t *testing.T) (*Validator, database.CallSessionRepository) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := database.NewCallSessionRepository(db)
	profiles := database.NewProfileRepository(db)
	for _, p := range []models.Profile{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
	} {
		if err := profiles.Upsert(context.Background(), &p); err != nil {
			t.Fatalf("seeding profile: %v", err)
		}
	}
	return NewValidator(sessions, profiles, nil), sessions
}

func TestCreateSession(t *testing.T) {
	v, _ := newValidator(t)

	sess, err := v.CreateSession(context.Background(), "alice", "bob", call.TypeVideo)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.ID == "" {
		t.Error("session id not assigned")
	}
	if sess.Status != models.SessionInitiated {
		t.Errorf("status = %s, want initiated", sess.Status)
	}
	if sess.CallerID != "alice" || sess.ReceiverID != "bob" || sess.CallType != "video" {
		t.Errorf("session = %+v, want alice->bob video", sess)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	if _, err := v.CreateSession(ctx, "alice", "alice", call.TypeAudio); !errors.Is(err, ErrSelfCall) {
		t.Errorf("self call error = %v, want ErrSelfCall", err)
	}
	if _, err := v.CreateSession(ctx, "alice", "bob", "screen"); !errors.Is(err, ErrInvalidCallType) {
		t.Errorf("bad type error = %v, want ErrInvalidCallType", err)
	}
	if _, err := v.CreateSession(ctx, "alice", "mallory", call.TypeAudio); !errors.Is(err, ErrUnknownReceiver) {
		t.Errorf("unknown receiver error = %v, want ErrUnknownReceiver", err)
	}
}

func TestCreateSessionRetryReturnsInFlightRow(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	first, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("first CreateSession() error: %v", err)
	}

	// The same request again (double tap, request replay) is a retry.
	retry, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("retried CreateSession() error: %v", err)
	}
	if retry.ID != first.ID {
		t.Errorf("retry created a twin session %s, want %s", retry.ID, first.ID)
	}
}

func TestCreateSessionBlocksOpenPair(t *testing.T) {
	v, _ := newValidator(t)
	ctx := context.Background()

	if _, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio); err != nil {
		t.Fatalf("first CreateSession() error: %v", err)
	}

	// A different call type is a new call, not a retry.
	if _, err := v.CreateSession(ctx, "alice", "bob", call.TypeVideo); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("different-type error = %v, want ErrCallInProgress", err)
	}
	// The reverse direction is the same pair.
	if _, err := v.CreateSession(ctx, "bob", "alice", call.TypeAudio); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("reverse error = %v, want ErrCallInProgress", err)
	}
}

func TestCreateSessionSweepsStaleRing(t *testing.T) {
	v, sessions := newValidator(t)
	ctx := context.Background()

	old, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	// Age the unanswered ring past the TTL.
	v.now = func() time.Time { return time.Now().Add(unansweredTTL + time.Minute) }

	fresh, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("CreateSession() after TTL error: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatal("expected a new session, got the old one")
	}

	swept, err := sessions.GetByID(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if swept.Status != models.SessionCompleted {
		t.Errorf("stale session status = %s, want completed", swept.Status)
	}
}

func TestCreateSessionEstablishedCallAlwaysBlocks(t *testing.T) {
	v, sessions := newValidator(t)
	ctx := context.Background()

	sess, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if err := sessions.MarkAccepted(ctx, sess.ID, time.Now()); err != nil {
		t.Fatalf("MarkAccepted() error: %v", err)
	}

	// Even far past the TTL, an answered call is not swept.
	v.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := v.CreateSession(ctx, "alice", "bob", call.TypeAudio); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("error = %v, want ErrCallInProgress for an established call", err)
	}
}
