package nodeid

import (
	"errors"
	"testing"
)

func stubHostname(t *testing.T, name string, err error) {
	t.Helper()
	orig := hostname
	hostname = func() (string, error) { return name, err }
	t.Cleanup(func() { hostname = orig })
}

func TestResolve(t *testing.T) {
	stubHostname(t, " node-7\n", nil)
	if got := Resolve(); got != "node-7" {
		t.Fatalf("unexpected id: %q", got)
	}
	if Resolve() != Resolve() {
		t.Fatalf("expected deterministic id")
	}
}

func TestResolveFallback(t *testing.T) {
	stubHostname(t, "", errors.New("uname failed"))
	if got := Resolve(); got != Fallback {
		t.Fatalf("expected fallback, got %q", got)
	}

	stubHostname(t, "   ", nil)
	if got := Resolve(); got != Fallback {
		t.Fatalf("expected fallback for blank hostname, got %q", got)
	}
}

func TestResolveWithOverride(t *testing.T) {
	stubHostname(t, "host-a", nil)
	if got := ResolveWith("gpu-worker-3"); got != "gpu-worker-3" {
		t.Fatalf("expected override, got %q", got)
	}
	if got := ResolveWith("  "); got != "host-a" {
		t.Fatalf("expected hostname for blank override, got %q", got)
	}
}
