// Package push wakes up a callee's devices when the portal is closed. The
// notification is data-only and carries a deep link back into the call; the
// recovery path in internal/call consumes it on the next cold start.
package push

import (
	"fmt"
	"net/url"
)

// LinkBuilder builds call deep links on the portal entry URL.
type LinkBuilder struct {
	base *url.URL
}

// NewLinkBuilder parses the portal entry URL. The URL must be absolute.
func NewLinkBuilder(base string) (*LinkBuilder, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parsing deep link base: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("deep link base must be absolute, got %q", base)
	}
	return &LinkBuilder{base: u}, nil
}

// IncomingCall returns the link that reopens the portal ringing for the
// given session. With accept set, tapping the link answers immediately.
func (b *LinkBuilder) IncomingCall(sessionID string, accept bool) string {
	u := *b.base
	q := u.Query()
	q.Set("session", sessionID)
	if accept {
		q.Set("action", "accept")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
