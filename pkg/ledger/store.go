package ledger

import (
	"context"
	"sync"
)

const DefaultCapacity = 256

type subscriber chan Event

// MemStore keeps the most recent events in memory and supports live
// subscriptions.
type MemStore struct {
	mu          sync.RWMutex
	capacity    int
	events      []Event
	subscribers map[subscriber]struct{}
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns a store retaining at most capacity events. A
// non-positive capacity uses DefaultCapacity.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemStore{
		capacity:    capacity,
		subscribers: make(map[subscriber]struct{}),
	}
}

// Append stores event, evicting the oldest when full, and broadcasts it.
func (s *MemStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	s.mu.Unlock()

	s.Broadcast(event)
	return nil
}

// List returns up to limit events, newest first. limit <= 0 returns all.
func (s *MemStore) List(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.events[i])
	}
	return result, nil
}

// Subscribe returns a channel receiving events appended from now on and a
// func that ends the subscription. Slow subscribers miss events rather than
// block appends.
func (s *MemStore) Subscribe() (<-chan Event, func()) {
	ch := make(subscriber, 32)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (s *MemStore) Broadcast(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// CloseSubscribers ends every live subscription.
func (s *MemStore) CloseSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		close(sub)
	}
	s.subscribers = make(map[subscriber]struct{})
}
