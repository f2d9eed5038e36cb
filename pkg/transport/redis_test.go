package transport

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vyvo/bundlecast/pkg/fault"
)

func openTestRedis(t *testing.T) *RedisSession {
	t.Helper()
	mr := miniredis.RunT(t)
	sess, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0?protocol=2")
	if err != nil {
		t.Fatalf("open redis session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRedisSessionWildcardSubscribe(t *testing.T) {
	ctx := context.Background()
	sess := openTestRedis(t)

	got := make(chan delivery, 4)
	if _, err := sess.Subscribe(ctx, "nodes/new/**", collect(got)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sess.Publish(ctx, "nodes/newer", []byte("nope")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := sess.Publish(ctx, "nodes/new/video", []byte("node-7")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	d := expectDelivery(t, got)
	if d.topic != "nodes/new/video" || d.payload != "node-7" {
		t.Fatalf("unexpected delivery %+v", d)
	}
	expectNothing(t, got)
}

func TestRedisSessionBinaryPayload(t *testing.T) {
	ctx := context.Background()
	sess := openTestRedis(t)

	got := make(chan delivery, 1)
	if _, err := sess.Subscribe(ctx, "distribute/docker_image_zip", collect(got)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := []byte{'P', 'K', 0x03, 0x04, 0x00, 0xff}
	if err := sess.Publish(ctx, "distribute/docker_image_zip", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if d := expectDelivery(t, got); d.payload != string(payload) {
		t.Fatalf("binary payload changed in transit: %v", []byte(d.payload))
	}
}

func TestRedisSessionKeepsBacklogWhileHandlerBlocks(t *testing.T) {
	ctx := context.Background()
	sess := openTestRedis(t)

	const total = 300
	release := make(chan struct{})
	got := make(chan delivery, total)
	_, err := sess.Subscribe(ctx, "distribute/docker_image_zip", func(ctx context.Context, topic string, payload []byte) {
		<-release
		got <- delivery{topic: topic, payload: string(payload)}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < total; i++ {
		if err := sess.Publish(ctx, "distribute/docker_image_zip", []byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	// Let the reader buffer everything while the handler is still blocked.
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < total; i++ {
		if d := expectDelivery(t, got); d.payload != strconv.Itoa(i) {
			t.Fatalf("delivery %d: got payload %q", i, d.payload)
		}
	}
}

func TestRedisSessionClosed(t *testing.T) {
	ctx := context.Background()
	sess := openTestRedis(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := sess.Publish(ctx, "distribute/docker_image_zip", []byte("x"))
	if !errors.Is(err, ErrClosed) || !fault.IsKind(err, fault.KindTransport) {
		t.Fatalf("expected transport ErrClosed, got %v", err)
	}
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "zenoh://localhost:7447"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	_, err := OpenRedis(context.Background(), "redis://%zz")
	if !fault.IsKind(err, fault.KindConfig) {
		t.Fatalf("expected config error for bad url, got %v", err)
	}
}
