package transport

import (
	"context"
	"sync"

	"github.com/vyvo/bundlecast/pkg/fault"
)

const memoryQueueDepth = 64

type message struct {
	topic   string
	payload []byte
}

// Broker is an in-process pub/sub broker. Sessions opened on the same Broker
// see each other's publications, which makes it a stand-in for a real broker
// when coordinator and workers share one process.
type Broker struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*memorySubscription]struct{})}
}

// Open returns a new session attached to the broker.
func (b *Broker) Open() *MemorySession {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemorySession{
		broker: b,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*memorySubscription]struct{}),
	}
}

func (b *Broker) add(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
}

func (b *Broker) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (b *Broker) matching(topic string) []*memorySubscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*memorySubscription
	for sub := range b.subs {
		if Match(sub.pattern, topic) {
			out = append(out, sub)
		}
	}
	return out
}

// MemorySession is a Session on an in-process Broker.
type MemorySession struct {
	broker *Broker
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	subs   map[*memorySubscription]struct{}
}

var _ Session = (*MemorySession)(nil)

func (s *MemorySession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Publish delivers a copy of data to every subscription matching topic.
func (s *MemorySession) Publish(ctx context.Context, topic string, data []byte) error {
	if s.isClosed() {
		return fault.Transport("publish "+topic, ErrClosed)
	}
	if err := ValidateTopic(topic); err != nil {
		return fault.Transport("publish", err)
	}
	for _, sub := range s.broker.matching(topic) {
		msg := message{topic: topic, payload: copyPayload(data)}
		select {
		case sub.queue <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return fault.Transport("publish "+topic, ctx.Err())
		}
	}
	return nil
}

// Subscribe registers handler for pattern. The subscription is live when
// Subscribe returns.
func (s *MemorySession) Subscribe(ctx context.Context, pattern string, handler Handler) (Subscription, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, fault.Transport("subscribe", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.Transport("subscribe "+pattern, ErrClosed)
	}

	sub := &memorySubscription{
		session: s,
		pattern: pattern,
		handler: handler,
		queue:   make(chan message, memoryQueueDepth),
		done:    make(chan struct{}),
	}
	s.subs[sub] = struct{}{}
	s.broker.add(sub)
	go sub.dispatch(s.ctx)
	return sub, nil
}

// Close unsubscribes everything. In-flight handlers are not awaited.
func (s *MemorySession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*memorySubscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[*memorySubscription]struct{}{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	s.cancel()
	return nil
}

type memorySubscription struct {
	session *MemorySession
	pattern string
	handler Handler
	queue   chan message
	done    chan struct{}
	once    sync.Once
}

func (m *memorySubscription) Pattern() string { return m.pattern }

func (m *memorySubscription) Unsubscribe() error {
	m.session.mu.Lock()
	delete(m.session.subs, m)
	m.session.mu.Unlock()
	m.stop()
	return nil
}

func (m *memorySubscription) stop() {
	m.once.Do(func() {
		m.session.broker.remove(m)
		close(m.done)
	})
}

func (m *memorySubscription) dispatch(ctx context.Context) {
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.queue:
			m.handler(ctx, msg.topic, msg.payload)
		}
	}
}
