package distribution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/discovery"
	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/transport"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	data  []byte
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, data: append([]byte(nil), data...)})
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func writeBundle(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.zip")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func TestOnNodeAnnouncedPublishesBundle(t *testing.T) {
	path := writeBundle(t, "zip-bytes")
	pub := &recordingPublisher{}
	rec := ledger.NewRecorder(nil, nil, nil)
	svc := NewService(bundle.NewFileSource(path), pub, "", rec, zaptest.NewLogger(t))

	if err := svc.OnNodeAnnounced(context.Background(), "node-7"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected one publish, got %d", pub.count())
	}
	call := pub.calls[0]
	if call.topic != "distribute/docker_image_zip" || string(call.data) != "zip-bytes" {
		t.Fatalf("unexpected publish: %s %q", call.topic, call.data)
	}

	events, _ := rec.Memory().List(context.Background(), 0)
	if len(events) != 1 || events[0].Kind != ledger.KindDistribute || events[0].Status != ledger.StatusSucceeded {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].Digest != bundle.Digest([]byte("zip-bytes")) || events[0].Size != 9 {
		t.Fatalf("unexpected event metadata: %+v", events[0])
	}
}

func TestOnNodeAnnouncedMissingBundlePublishesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	rec := ledger.NewRecorder(nil, nil, nil)
	src := bundle.NewFileSource(filepath.Join(t.TempDir(), "image.zip"))
	svc := NewService(src, pub, "", rec, zaptest.NewLogger(t))

	err := svc.OnNodeAnnounced(context.Background(), "node-7")
	if !errors.Is(err, bundle.ErrMissing) || !fault.IsKind(err, fault.KindConfig) {
		t.Fatalf("expected missing bundle config error, got %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("expected no publish, got %d", pub.count())
	}
	events, _ := rec.Memory().List(context.Background(), 0)
	if len(events) != 1 || events[0].Status != ledger.StatusFailed {
		t.Fatalf("expected failed event, got %+v", events)
	}
}

func TestOnNodeAnnouncedPublishFailure(t *testing.T) {
	path := writeBundle(t, "zip-bytes")
	pub := &recordingPublisher{err: fault.Transport("publish", transport.ErrClosed)}
	svc := NewService(bundle.NewFileSource(path), pub, "", nil, zaptest.NewLogger(t))

	err := svc.OnNodeAnnounced(context.Background(), "node-7")
	if !fault.IsKind(err, fault.KindTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected a single attempt without retry, got %d", pub.count())
	}
}

func TestOnNodeAnnouncedReadsFreshBundle(t *testing.T) {
	path := writeBundle(t, "v1")
	pub := &recordingPublisher{}
	svc := NewService(bundle.NewFileSource(path), pub, "", nil, zaptest.NewLogger(t))

	_ = svc.OnNodeAnnounced(context.Background(), "node-1")
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite bundle: %v", err)
	}
	_ = svc.OnNodeAnnounced(context.Background(), "node-2")

	if string(pub.calls[0].data) != "v1" || string(pub.calls[1].data) != "v2" {
		t.Fatalf("expected fresh loads, got %q then %q", pub.calls[0].data, pub.calls[1].data)
	}
}

func TestAnnouncementBroadcastsToAllWorkers(t *testing.T) {
	ctx := context.Background()
	path := writeBundle(t, "zip-bytes")
	broker := transport.NewBroker()
	coordinator := broker.Open()
	defer coordinator.Close()

	svc := NewService(bundle.NewFileSource(path), coordinator, "", nil, zaptest.NewLogger(t))
	if _, err := discovery.Listen(ctx, coordinator, discovery.DefaultPattern, zaptest.NewLogger(t), svc.HandleAnnouncement); err != nil {
		t.Fatalf("listen: %v", err)
	}

	received := make(chan string, 4)
	for _, name := range []string{"node-a", "node-b"} {
		name := name
		sess := broker.Open()
		defer sess.Close()
		_, err := sess.Subscribe(ctx, DefaultTopic, func(_ context.Context, _ string, payload []byte) {
			received <- name + ":" + string(payload)
		})
		if err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}

	announcer := broker.Open()
	defer announcer.Close()
	if err := discovery.Announce(ctx, announcer, "video", "node-a"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-received:
			got[r] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for broadcast, got %v", got)
		}
	}
	if !got["node-a:zip-bytes"] || !got["node-b:zip-bytes"] {
		t.Fatalf("expected both workers to receive the bundle, got %v", got)
	}
}
