package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyvo/bundlecast/pkg/fault"
)

// go-redis buffers each subscription's deliveries in a channel and drops a
// message once the handler has been blocked for longer than the send
// timeout. A synchronous worker holds its handler for a whole build, so both
// are sized for slow consumers. Workers expecting builds longer than
// redisSendTimeout should set queue_size.
const (
	redisChannelSize = 1024
	redisSendTimeout = 30 * time.Minute
)

// RedisSession is a Session backed by Redis Pub/Sub. Concrete topics map to
// SUBSCRIBE channels, wildcard patterns to PSUBSCRIBE globs whose deliveries
// are re-checked with Match so "*" never crosses a '/'.
type RedisSession struct {
	redis  *redis.Client
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	subs   map[*redisSubscription]struct{}
}

var _ Session = (*RedisSession)(nil)

// OpenRedis connects to the Redis server at redisURL and verifies it with PING.
func OpenRedis(ctx context.Context, redisURL string) (*RedisSession, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fault.Config("open transport", fmt.Errorf("invalid redis URL: %w", err))
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fault.Transport("open transport", fmt.Errorf("failed to connect to redis: %w", err))
	}

	sctx, cancel := context.WithCancel(context.Background())
	return &RedisSession{
		redis:  client,
		ctx:    sctx,
		cancel: cancel,
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

func (s *RedisSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish sends data on topic. The payload is the whole message body.
func (s *RedisSession) Publish(ctx context.Context, topic string, data []byte) error {
	if s.isClosed() {
		return fault.Transport("publish "+topic, ErrClosed)
	}
	if err := ValidateTopic(topic); err != nil {
		return fault.Transport("publish", err)
	}
	if err := s.redis.Publish(ctx, topic, copyPayload(data)).Err(); err != nil {
		return fault.Transport("publish "+topic, err)
	}
	return nil
}

// Subscribe waits for the server to confirm the subscription before
// returning, so anything published afterwards is delivered to handler.
func (s *RedisSession) Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, fault.Transport("subscribe", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.Transport("subscribe "+pattern, ErrClosed)
	}

	var ps *redis.PubSub
	if HasWildcard(pattern) {
		ps = s.redis.PSubscribe(ctx, redisGlob(pattern))
	} else {
		ps = s.redis.Subscribe(ctx, pattern)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fault.Transport("subscribe "+pattern, err)
	}

	sub := &redisSubscription{session: s, pattern: pattern, pubsub: ps}
	s.subs[sub] = struct{}{}
	ch := ps.Channel(
		redis.WithChannelSize(redisChannelSize),
		redis.WithChannelSendTimeout(redisSendTimeout),
	)
	go sub.dispatch(s.ctx, ch, handler)
	return sub, nil
}

// Close releases every subscription and the client connection pool.
func (s *RedisSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*redisSubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[*redisSubscription]struct{}{}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.pubsub.Close()
	}
	s.cancel()
	return s.redis.Close()
}

type redisSubscription struct {
	session *RedisSession
	pattern string
	pubsub  *redis.PubSub
	once    sync.Once
}

func (r *redisSubscription) Pattern() string { return r.pattern }

func (r *redisSubscription) Unsubscribe() error {
	r.session.mu.Lock()
	delete(r.session.subs, r)
	r.session.mu.Unlock()

	var err error
	r.once.Do(func() { err = r.pubsub.Close() })
	return err
}

func (r *redisSubscription) dispatch(ctx context.Context, ch <-chan *redis.Message, handler Handler) {
	for msg := range ch {
		if !Match(r.pattern, msg.Channel) {
			continue
		}
		handler(ctx, msg.Channel, []byte(msg.Payload))
	}
}

// redisGlob converts a topic pattern to a Redis glob. A trailing "/**"
// becomes a bare "*" so the prefix itself also matches; Match filters the
// over-broad results.
func redisGlob(pattern string) string {
	segments := strings.Split(pattern, "/")
	var b strings.Builder
	for i, seg := range segments {
		if seg == multiWildcard && i == len(segments)-1 {
			b.WriteString("*")
			return b.String()
		}
		if i > 0 {
			b.WriteString("/")
		}
		if seg == singleWildcard {
			b.WriteString("*")
			continue
		}
		b.WriteString(escapeGlob(seg))
	}
	return b.String()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
