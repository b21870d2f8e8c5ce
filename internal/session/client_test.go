package session_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/codergangganesh/eduspace-sub001/internal/api"
	"github.com/codergangganesh/eduspace-sub001/internal/api/middleware"
	"github.com/codergangganesh/eduspace-sub001/internal/call"
	"github.com/codergangganesh/eduspace-sub001/internal/database"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
	"github.com/codergangganesh/eduspace-sub001/internal/session"
)

var clientTestSecret = []byte("fedcba9876543210fedcba9876543210")

// newClientEnv stands up the real API over sqlite and returns clients
// authenticated as alice and bob.
func newClientEnv(t *testing.T) (alice, bob *session.Client) {
	t.Helper()

	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sessions := database.NewCallSessionRepository(db)
	profiles := database.NewProfileRepository(db)
	for _, p := range []models.Profile{
		{ID: "alice", DisplayName: "Alice", AvatarURL: "https://cdn/a.png"},
		{ID: "bob", DisplayName: "Bob"},
	} {
		if err := profiles.Upsert(context.Background(), &p); err != nil {
			t.Fatalf("seeding profile: %v", err)
		}
	}

	srv := api.NewServer(api.ServerConfig{
		Sessions:   sessions,
		Profiles:   profiles,
		PushTokens: database.NewPushTokenRepository(db),
		Validator:  session.NewValidator(sessions, profiles, nil),
		JWTSecret:  clientTestSecret,
	})
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	token := func(userID string) string {
		tok, _, err := middleware.GenerateUserToken(clientTestSecret, userID, userID)
		if err != nil {
			t.Fatalf("generating token: %v", err)
		}
		return tok
	}
	return session.NewClient(ts.URL, token("alice")), session.NewClient(ts.URL, token("bob"))
}

func TestClientSessionLifecycle(t *testing.T) {
	alice, bob := newClientEnv(t)
	ctx := context.Background()

	sess, err := alice.CreateSession(ctx, "alice", "bob", call.TypeVideo)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if sess.CallerID != "alice" || sess.ReceiverID != "bob" || sess.Status != models.SessionInitiated {
		t.Errorf("created session = %+v, want initiated alice->bob", sess)
	}

	got, caller, err := bob.GetWithCaller(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetWithCaller() error: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("GetWithCaller() session = %+v, want %s", got, sess.ID)
	}
	if caller == nil || caller.DisplayName != "Alice" {
		t.Errorf("caller = %+v, want Alice's profile", caller)
	}

	if err := bob.MarkAccepted(ctx, sess.ID, sess.CreatedAt); err != nil {
		t.Fatalf("MarkAccepted() error: %v", err)
	}
	got, err = bob.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.SessionAccepted || got.StartedAt == nil {
		t.Errorf("after accept = %+v, want accepted with startedAt", got)
	}

	if err := alice.MarkCompleted(ctx, sess.ID, got.CreatedAt, 42); err != nil {
		t.Fatalf("MarkCompleted() error: %v", err)
	}
	got, err = alice.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.SessionCompleted || got.Duration == nil || *got.Duration != 42 {
		t.Errorf("after complete = %+v, want completed with duration 42", got)
	}
}

func TestClientValidationErrors(t *testing.T) {
	alice, _ := newClientEnv(t)
	ctx := context.Background()

	if _, err := alice.CreateSession(ctx, "alice", "alice", call.TypeAudio); err == nil {
		t.Error("self call accepted by the service")
	}
	if _, err := alice.CreateSession(ctx, "alice", "mallory", call.TypeAudio); err == nil {
		t.Error("unknown receiver accepted by the service")
	}
}

func TestClientMissingSession(t *testing.T) {
	alice, _ := newClientEnv(t)

	sess, caller, err := alice.GetWithCaller(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("GetWithCaller() error: %v", err)
	}
	if sess != nil || caller != nil {
		t.Errorf("missing session = (%+v, %+v), want (nil, nil)", sess, caller)
	}
}

func TestClientRejectFlow(t *testing.T) {
	alice, bob := newClientEnv(t)
	ctx := context.Background()

	sess, err := alice.CreateSession(ctx, "alice", "bob", call.TypeAudio)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	if err := bob.MarkRejected(ctx, sess.ID); err != nil {
		t.Fatalf("MarkRejected() error: %v", err)
	}
	got, err := alice.GetByID(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Status != models.SessionRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
}

func TestClientRegisterPushToken(t *testing.T) {
	_, bob := newClientEnv(t)

	if err := bob.RegisterPushToken(context.Background(), "tok-1", "fcm", "phone"); err != nil {
		t.Fatalf("RegisterPushToken() error: %v", err)
	}
	if err := bob.RegisterPushToken(context.Background(), "tok-1", "carrier-pigeon", "phone"); err == nil {
		t.Error("invalid platform accepted by the service")
	}
}
