// Package transport defines the outbound announcement channels.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrPublish is wrapped by every channel-side delivery failure.
var ErrPublish = errors.New("publish failed")

// Post is one announcement. Channels pick the parts they can render:
// rich chat embeds use Title, plain-text channels only Text.
type Post struct {
	Title    string
	Text     string
	Username string
	Urgent   bool
}

// Publisher delivers a post to one channel.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, p Post) error
}

// PendingPublisher is implemented by channels that stage messages and need a
// separate step to broadcast them (e.g. announcement channel crossposts).
type PendingPublisher interface {
	PublishPending(ctx context.Context) (int, error)
}

// StatusError is an unexpected HTTP status from a channel API.
type StatusError struct {
	Channel string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:297] + "..."
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Channel, e.Status, body)
}

func (e *StatusError) Unwrap() error { return ErrPublish }
