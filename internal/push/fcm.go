package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrTokenInvalid marks a registration token the provider no longer
// recognises. Callers should drop the token.
var ErrTokenInvalid = errors.New("push token no longer valid")

// fcmTTL bounds how long FCM may hold an undelivered wake-up. A call
// notification older than this rings a call that is already gone.
const fcmTTL = 30 * time.Second

// Payload is the data carried by a wake-up push. Data-only: the client
// renders the incoming-call surface itself, a system notification banner
// would be the wrong UI for a ring.
type Payload struct {
	Type       string // "incoming_call"
	CallID     string
	CallerID   string
	CallerName string
	CallType   string // "audio" | "video"
	DeepLink   string
}

// Sender delivers a wake-up push to one device token.
type Sender interface {
	Send(ctx context.Context, platform, token string, p Payload) error
}

// FCMSender sends wake-up pushes via Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initialises a Firebase app from the service-account JSON
// file at credentialsFile and returns a ready-to-use FCMSender.
// If credentialsFile is empty, the SDK falls back to
// GOOGLE_APPLICATION_CREDENTIALS or the default service account.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining messaging client: %w", err)
	}

	slog.Info("fcm sender initialised")
	return &FCMSender{client: client}, nil
}

// Send delivers a wake-up push to the given FCM registration token. It
// only handles the "fcm" platform.
func (f *FCMSender) Send(ctx context.Context, platform, token string, p Payload) error {
	if platform != "fcm" {
		return fmt.Errorf("fcm sender: unsupported platform %q", platform)
	}

	ttl := fcmTTL
	msg := &messaging.Message{
		Token: token,
		Data: map[string]string{
			"type":        p.Type,
			"call_id":     p.CallID,
			"caller_id":   p.CallerID,
			"caller_name": p.CallerName,
			"call_type":   p.CallType,
			"deep_link":   p.DeepLink,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
		},
	}

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm: %w: %v", ErrTokenInvalid, err)
		}
		return fmt.Errorf("fcm: send failed: %w", err)
	}

	slog.Debug("fcm message sent", "message_id", id, "call_id", p.CallID)
	return nil
}
