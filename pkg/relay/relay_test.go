package relay

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/transport"
)

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs(" camera/raw:video/in , sensors/**:archive/sensors,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Pair{
		{Input: "camera/raw", Output: "video/in"},
		{Input: "sensors/**", Output: "archive/sensors"},
	}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %+v", len(want), pairs)
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d: expected %+v, got %+v", i, want[i], pairs[i])
		}
	}
}

func TestParsePairsInvalid(t *testing.T) {
	cases := []string{
		"camera/raw",
		":video/in",
		"camera/raw:",
		"a:b:c",
		"camera//raw:video/in",
		"camera/raw:video/*",
		"a/**:a/b",
		"camera/*:camera/raw",
		"camera/raw:camera/raw",
	}
	for _, tc := range cases {
		if _, err := ParsePairs(tc); !fault.IsKind(err, fault.KindConfig) {
			t.Errorf("ParsePairs(%q): expected config error, got %v", tc, err)
		}
	}
}

func TestControlTopic(t *testing.T) {
	if got := ControlTopic("control/", "relay-1"); got != "control/relay-1" {
		t.Fatalf("unexpected control topic %q", got)
	}
}

func TestRelayForwardsAndLogsControl(t *testing.T) {
	ctx := context.Background()
	broker := transport.NewBroker()
	relaySession := broker.Open()
	client := broker.Open()
	defer relaySession.Close()
	defer client.Close()

	core, logs := observer.New(zap.InfoLevel)
	r := New(relaySession, []Pair{{Input: "camera/*", Output: "video/in"}}, ControlTopic("control/", "relay-1"), zap.New(core))
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop()

	got := make(chan string, 4)
	if _, err := client.Subscribe(ctx, "video/in", func(_ context.Context, _ string, payload []byte) {
		got <- string(payload)
	}); err != nil {
		t.Fatalf("subscribe output: %v", err)
	}

	if err := client.Publish(ctx, "camera/front", []byte("frame-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case payload := <-got:
		if payload != "frame-1" {
			t.Fatalf("unexpected forwarded payload %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded message")
	}

	if err := client.Publish(ctx, "control/relay-1", []byte("reload")); err != nil {
		t.Fatalf("publish control: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("control message received").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("control message was not logged")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRelayStopEndsForwarding(t *testing.T) {
	ctx := context.Background()
	broker := transport.NewBroker()
	relaySession := broker.Open()
	client := broker.Open()
	defer relaySession.Close()
	defer client.Close()

	r := New(relaySession, []Pair{{Input: "a", Output: "b"}}, "", zaptest.NewLogger(t))
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := make(chan string, 1)
	if _, err := client.Subscribe(ctx, "b", func(_ context.Context, _ string, payload []byte) {
		got <- string(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Publish(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case p := <-got:
		t.Fatalf("stopped relay forwarded %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}
