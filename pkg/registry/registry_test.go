package registry

import (
	"testing"
	"time"
)

func TestObserveCountsAnnouncements(t *testing.T) {
	r := New()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	r.Observe("node-7", "video", t0)
	entry := r.Observe("node-7", "audio", t0.Add(time.Minute))

	if entry.Announcements != 2 {
		t.Fatalf("expected 2 announcements, got %d", entry.Announcements)
	}
	if !entry.FirstSeen.Equal(t0) || !entry.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected timestamps: %+v", entry)
	}
	if entry.Channel != "audio" {
		t.Fatalf("expected latest channel, got %s", entry.Channel)
	}

	got, ok := r.Get("node-7")
	if !ok || got != entry {
		t.Fatalf("Get returned %+v, %v", got, ok)
	}
	if _, ok := r.Get("node-8"); ok {
		t.Fatalf("unexpected entry for unknown node")
	}
}

func TestListOrdersByLastSeen(t *testing.T) {
	r := New()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Observe("node-a", "video", t0)
	r.Observe("node-b", "video", t0.Add(2*time.Second))
	r.Observe("node-c", "video", t0.Add(time.Second))

	list := r.List()
	want := []string{"node-b", "node-c", "node-a"}
	for i, id := range want {
		if list[i].NodeID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, list[i].NodeID)
		}
	}
}
