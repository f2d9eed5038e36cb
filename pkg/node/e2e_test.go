package node

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap/zaptest"

	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/container"
	"github.com/vyvo/bundlecast/pkg/distribution"
	"github.com/vyvo/bundlecast/pkg/ingest"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/transport"
)

type signalingBuilder struct {
	built chan string
}

func (b *signalingBuilder) BuildAndRun(_ context.Context, dir string) container.Outcome {
	b.built <- dir
	return container.Outcome{Status: container.OutcomeBuilt, ImageTag: "extracted_folder:latest", RunImage: "extracted_folder:latest", ContainerID: "c0ffee"}
}

type coordinatorHarness struct {
	bundlePath string
	rec        *ledger.Recorder
	svc        *CoordinatorService
}

type workerHarness struct {
	extractDir string
	builder    *signalingBuilder
	rec        *ledger.Recorder
	svc        *WorkerService
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func startCoordinator(t *testing.T, broker *transport.Broker) *coordinatorHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Named("coordinator")
	session := broker.Open()
	t.Cleanup(func() { session.Close() })

	bundlePath := filepath.Join(t.TempDir(), "image.zip")
	rec := ledger.NewRecorder(nil, nil, logger)
	dist := distribution.NewService(bundle.NewFileSource(bundlePath), session, "", rec, logger)
	svc := NewCoordinatorService(session, dist, nil, "", logger)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start coordinator: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return &coordinatorHarness{bundlePath: bundlePath, rec: rec, svc: svc}
}

func newWorker(t *testing.T, broker *transport.Broker, nodeID string, queueSize int) *workerHarness {
	t.Helper()
	logger := zaptest.NewLogger(t).Named(nodeID)
	session := broker.Open()
	t.Cleanup(func() { session.Close() })

	dir := t.TempDir()
	b := &signalingBuilder{built: make(chan string, 8)}
	rec := ledger.NewRecorder(nil, nil, logger)
	pipeline := ingest.NewPipeline(ingest.Config{
		BundlePath: filepath.Join(dir, "image.zip"),
		ExtractDir: filepath.Join(dir, "extracted_folder"),
	}, b, rec, logger)
	svc := NewWorkerService(session, pipeline, rec, WorkerOptions{NodeID: nodeID, QueueSize: queueSize}, logger)
	t.Cleanup(func() { svc.Stop() })
	return &workerHarness{extractDir: pipeline.Config().ExtractDir, builder: b, rec: rec, svc: svc}
}

func waitBuild(t *testing.T, w *workerHarness) string {
	t.Helper()
	select {
	case dir := <-w.builder.built:
		return dir
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a build")
	}
	return ""
}

func expectNoBuild(t *testing.T, w *workerHarness) {
	t.Helper()
	select {
	case dir := <-w.builder.built:
		t.Fatalf("unexpected build of %s", dir)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitEvent(t *testing.T, rec *ledger.Recorder, match func(ledger.Event) bool) ledger.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		events, _ := rec.List(context.Background(), 0)
		for _, e := range events {
			if match(e) {
				return e
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for ledger event")
	return ledger.Event{}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestAnnouncementDeliversBundle(t *testing.T) {
	for _, queueSize := range []int{0, 2} {
		broker := transport.NewBroker()
		coord := startCoordinator(t, broker)
		files := map[string]string{
			"Dockerfile": "FROM python:3.12-slim\nCOPY app.py /app.py\n",
			"app.py":     "print('hi')\n",
		}
		if err := os.WriteFile(coord.bundlePath, zipBytes(t, files), 0o644); err != nil {
			t.Fatalf("write bundle: %v", err)
		}

		w := newWorker(t, broker, "node-7", queueSize)
		if err := w.svc.Start(context.Background()); err != nil {
			t.Fatalf("start worker: %v", err)
		}

		if dir := waitBuild(t, w); dir != w.extractDir {
			t.Fatalf("build context: expected %s, got %s", w.extractDir, dir)
		}
		for name, content := range files {
			if got := readFile(t, filepath.Join(w.extractDir, name)); got != content {
				t.Fatalf("queue=%d: %s: expected %q, got %q", queueSize, name, content, got)
			}
		}

		waitEvent(t, coord.rec, func(e ledger.Event) bool {
			return e.Kind == ledger.KindDistribute && e.NodeID == "node-7" && e.Status == ledger.StatusSucceeded
		})
	}
}

func TestMissingBundlePublishesNothing(t *testing.T) {
	broker := transport.NewBroker()
	coord := startCoordinator(t, broker)

	w := newWorker(t, broker, "node-7", 0)
	if err := os.MkdirAll(w.extractDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	marker := filepath.Join(w.extractDir, "Dockerfile")
	if err := os.WriteFile(marker, []byte("FROM previous\n"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if err := w.svc.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	failed := waitEvent(t, coord.rec, func(e ledger.Event) bool {
		return e.Kind == ledger.KindDistribute && e.Status == ledger.StatusFailed
	})
	if failed.NodeID != "node-7" {
		t.Fatalf("unexpected failed event %+v", failed)
	}
	expectNoBuild(t, w)
	if got := readFile(t, marker); got != "FROM previous\n" {
		t.Fatalf("prior extraction modified: %q", got)
	}
}

func TestBadDeliveryDoesNotBreakWorker(t *testing.T) {
	broker := transport.NewBroker()
	w := newWorker(t, broker, "node-7", 0)
	if err := w.svc.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	pub := broker.Open()
	defer pub.Close()
	ctx := context.Background()
	if err := pub.Publish(ctx, distribution.DefaultTopic, []byte{}); err != nil {
		t.Fatalf("publish empty payload: %v", err)
	}
	waitEvent(t, w.rec, func(e ledger.Event) bool {
		return e.Kind == ledger.KindIngest && e.Status == ledger.StatusFailed
	})
	expectNoBuild(t, w)

	if err := pub.Publish(ctx, distribution.DefaultTopic, zipBytes(t, map[string]string{"Dockerfile": "FROM scratch\n"})); err != nil {
		t.Fatalf("publish bundle: %v", err)
	}
	waitBuild(t, w)
	if got := readFile(t, filepath.Join(w.extractDir, "Dockerfile")); got != "FROM scratch\n" {
		t.Fatalf("unexpected Dockerfile %q", got)
	}
}

func TestAnnouncementBroadcastsToEveryWorker(t *testing.T) {
	broker := transport.NewBroker()
	coord := startCoordinator(t, broker)
	if err := os.WriteFile(coord.bundlePath, zipBytes(t, map[string]string{"Dockerfile": "FROM scratch\n"}), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	first := newWorker(t, broker, "node-1", 0)
	if err := first.svc.Start(context.Background()); err != nil {
		t.Fatalf("start first worker: %v", err)
	}
	waitBuild(t, first)

	second := newWorker(t, broker, "node-2", 0)
	if err := second.svc.Start(context.Background()); err != nil {
		t.Fatalf("start second worker: %v", err)
	}
	waitBuild(t, second)
	// The second announcement redistributes to the first worker too.
	waitBuild(t, first)

	nodes := coord.svc.Nodes().List()
	if len(nodes) != 2 {
		t.Fatalf("expected two registered nodes, got %+v", nodes)
	}
}

func TestWorkerAnnouncesAfterSubscribing(t *testing.T) {
	broker := transport.NewBroker()
	w := newWorker(t, broker, "node-9", 0)

	observer := broker.Open()
	defer observer.Close()
	ctx := context.Background()
	payload := zipBytes(t, map[string]string{"Dockerfile": "FROM scratch\n"})
	// Answer every announcement immediately, the tightest possible race.
	if _, err := observer.Subscribe(ctx, "nodes/new/**", func(ctx context.Context, _ string, _ []byte) {
		_ = observer.Publish(ctx, distribution.DefaultTopic, payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := w.svc.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	waitBuild(t, w)

	announced := waitEvent(t, w.rec, func(e ledger.Event) bool { return e.Kind == ledger.KindAnnounce })
	if announced.Status != ledger.StatusSucceeded || announced.Detail != "nodes/new/video" {
		t.Fatalf("unexpected announce event %+v", announced)
	}
}
