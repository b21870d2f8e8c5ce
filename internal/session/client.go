package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/codergangganesh/eduspace-sub001/internal/call"
	"github.com/codergangganesh/eduspace-sub001/internal/database/models"
)

// maxResponseBytes caps how much of a signaling API response is read.
const maxResponseBytes = 64 * 1024

// apiEnvelope is the standard signaling API response wrapper.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// sessionJSON is the wire shape of a durable call session.
type sessionJSON struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	CallerID    string  `json:"callerId"`
	ReceiverID  string  `json:"receiverId"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
	StartedAt   *string `json:"startedAt,omitempty"`
	EndedAt     *string `json:"endedAt,omitempty"`
	DurationSec *int64  `json:"durationSec,omitempty"`
	Caller      *struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		AvatarURL   string `json:"avatarUrl"`
	} `json:"caller,omitempty"`
}

// Client talks to the signaling API over HTTP. It gives a client process
// the same session surface the server has in-process: it implements the
// orchestrator's validator and store hooks and the recovery lookup.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient creates a signaling API client. baseURL is the service root
// (e.g. "https://signal.eduspace.example.com"); token is the portal JWT
// sent as a bearer credential with each request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		token:      token,
	}
}

// CreateSession asks the service to validate and create a session.
func (c *Client) CreateSession(ctx context.Context, callerID, receiverID string, callType call.Type) (*models.CallSession, error) {
	body := map[string]string{
		"receiverId": receiverID,
		"type":       string(callType),
	}
	var out sessionJSON
	if err := c.do(ctx, http.MethodPost, "/api/v1/calls", body, &out); err != nil {
		return nil, err
	}
	return toModel(&out)
}

// GetByID fetches a session. Returns (nil, nil) when the service does not
// know the id, matching the repository convention.
func (c *Client) GetByID(ctx context.Context, id string) (*models.CallSession, error) {
	sess, _, err := c.GetWithCaller(ctx, id)
	return sess, err
}

// GetWithCaller fetches a session joined with the caller's profile.
func (c *Client) GetWithCaller(ctx context.Context, id string) (*models.CallSession, *models.Profile, error) {
	var out sessionJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/calls/"+url.PathEscape(id), nil, &out)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	sess, err := toModel(&out)
	if err != nil {
		return nil, nil, err
	}
	var caller *models.Profile
	if out.Caller != nil {
		caller = &models.Profile{
			ID:          out.Caller.ID,
			DisplayName: out.Caller.DisplayName,
			AvatarURL:   out.Caller.AvatarURL,
		}
	}
	return sess, caller, nil
}

// MarkAccepted records the answer milestone.
func (c *Client) MarkAccepted(ctx context.Context, id string, _ time.Time) error {
	return c.updateStatus(ctx, id, models.SessionAccepted, nil)
}

// MarkRejected records the decline milestone.
func (c *Client) MarkRejected(ctx context.Context, id string) error {
	return c.updateStatus(ctx, id, models.SessionRejected, nil)
}

// MarkCompleted records the hangup milestone with the call duration.
func (c *Client) MarkCompleted(ctx context.Context, id string, _ time.Time, durationSec int64) error {
	return c.updateStatus(ctx, id, models.SessionCompleted, &durationSec)
}

// RegisterPushToken registers this device for wake-up pushes. Called on
// every app start.
func (c *Client) RegisterPushToken(ctx context.Context, token, platform, deviceID string) error {
	body := map[string]string{
		"token":    token,
		"platform": platform,
		"deviceId": deviceID,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/push-tokens", body, nil)
}

// updateStatus issues the status transition. Timestamps are stamped
// server-side; only the duration travels with the request.
func (c *Client) updateStatus(ctx context.Context, id, status string, durationSec *int64) error {
	body := map[string]any{"status": status}
	if durationSec != nil {
		body["durationSec"] = *durationSec
	}
	return c.do(ctx, http.MethodPut, "/api/v1/calls/"+url.PathEscape(id)+"/status", body, nil)
}

// statusError carries the HTTP status of a non-2xx API response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("signaling api: %s (status %d)", e.msg, e.code)
	}
	return fmt.Sprintf("signaling api: status %d", e.code)
}

// do issues one API request and decodes the data envelope into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("signaling api: marshalling request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("signaling api: creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signaling api: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("signaling api: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env apiEnvelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return &statusError{code: resp.StatusCode, msg: env.Error}
		}
		return &statusError{code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("signaling api: decoding response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("signaling api: decoding response data: %w", err)
	}
	return nil
}

// toModel converts the wire shape to the shared model.
func toModel(s *sessionJSON) (*models.CallSession, error) {
	createdAt, err := time.Parse(time.RFC3339, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("signaling api: parsing createdAt: %w", err)
	}
	sess := &models.CallSession{
		ID:         s.ID,
		CallType:   s.Type,
		CallerID:   s.CallerID,
		ReceiverID: s.ReceiverID,
		Status:     s.Status,
		CreatedAt:  createdAt,
		Duration:   s.DurationSec,
	}
	if s.StartedAt != nil {
		ts, err := time.Parse(time.RFC3339, *s.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("signaling api: parsing startedAt: %w", err)
		}
		sess.StartedAt = &ts
	}
	if s.EndedAt != nil {
		ts, err := time.Parse(time.RFC3339, *s.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("signaling api: parsing endedAt: %w", err)
		}
		sess.EndedAt = &ts
	}
	return sess, nil
}
