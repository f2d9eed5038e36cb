// Package transport wraps a topic-based publish/subscribe broker.
//
// Delivery follows broker semantics: a message published after a
// subscription is established reaches that subscriber, in publish order per
// publisher. Messages published before the subscription existed are never
// replayed.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrClosed is returned by operations on a session that has been closed.
var ErrClosed = errors.New("session closed")

// Handler receives one delivered message. Handlers of a single subscription
// run one at a time in delivery order.
type Handler func(ctx context.Context, topic string, payload []byte)

// Subscription is an established interest in a topic pattern.
type Subscription interface {
	Pattern() string
	Unsubscribe() error
}

// Publisher is the publishing half of a Session.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Subscriber is the subscribing half of a Session.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error)
}

// Session is an open connection to the broker. Close releases every
// subscription; later Publish and Subscribe calls fail with ErrClosed.
type Session interface {
	Publisher
	Subscriber
	Close() error
}

// Open connects to the broker at url. Only redis:// and rediss:// URLs are
// supported.
func Open(ctx context.Context, url string) (Session, error) {
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return OpenRedis(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported transport url %q", url)
	}
}

func copyPayload(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
