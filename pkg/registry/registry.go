// Package registry tracks the workers a coordinator has heard from.
//
// Every announcement still triggers a distribution; the registry only
// remembers who announced, on which channel and how often.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Entry describes one known node.
type Entry struct {
	NodeID        string    `json:"node_id"`
	Channel       string    `json:"channel"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	Announcements int       `json:"announcements"`
}

// Registry offers a threadsafe in-memory view of announced nodes.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Observe records an announcement from nodeID on channel at ts and returns
// the updated entry.
func (r *Registry) Observe(nodeID, channel string, ts time.Time) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[nodeID]
	if !ok {
		entry = Entry{NodeID: nodeID, FirstSeen: ts}
	}
	entry.Channel = channel
	entry.LastSeen = ts
	entry.Announcements++
	r.entries[nodeID] = entry
	return entry
}

// Get retrieves an entry by node id and a boolean indicating its presence.
func (r *Registry) Get(nodeID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[nodeID]
	return entry, ok
}

// List returns every entry, most recently seen first.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
