// Package relay forwards every message received on an input topic to an
// output topic, and listens on a per-process control topic.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/transport"
)

// Pair routes messages from Input (a pattern) to Output (a concrete topic).
type Pair struct {
	Input  string
	Output string
}

// ParsePairs parses "in:out,in:out". Blank items are ignored. A pair whose
// output matches its own input is rejected.
func ParsePairs(list string) ([]Pair, error) {
	var pairs []Pair
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		in, out, ok := strings.Cut(item, ":")
		in, out = strings.TrimSpace(in), strings.TrimSpace(out)
		if !ok || in == "" || out == "" || strings.Contains(out, ":") {
			return nil, fault.Config("parse topics", fmt.Errorf("malformed pair %q, want in:out", item))
		}
		if err := transport.ValidatePattern(in); err != nil {
			return nil, fault.Config("parse topics", err)
		}
		if err := transport.ValidateTopic(out); err != nil {
			return nil, fault.Config("parse topics", err)
		}
		if transport.Match(in, out) {
			return nil, fault.Config("parse topics", fmt.Errorf("pair %q forwards into its own input", item))
		}
		pairs = append(pairs, Pair{Input: in, Output: out})
	}
	return pairs, nil
}

// ControlTopic joins the control topic base and the process id.
func ControlTopic(base, processID string) string {
	return base + processID
}

type Relay struct {
	session      transport.Session
	pairs        []Pair
	controlTopic string
	log          *zap.Logger

	mu   sync.Mutex
	subs []transport.Subscription
}

func New(session transport.Session, pairs []Pair, controlTopic string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{session: session, pairs: pairs, controlTopic: controlTopic, log: logger}
}

func (r *Relay) Name() string { return "relay" }

// Start subscribes every input and the control topic. On failure the
// subscriptions made so far are released.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.pairs {
		sub, err := r.session.Subscribe(ctx, p.Input, r.forward(p))
		if err != nil {
			r.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", p.Input, err)
		}
		r.subs = append(r.subs, sub)
		r.log.Info("relaying", zap.String("input", p.Input), zap.String("output", p.Output))
	}

	if r.controlTopic != "" {
		sub, err := r.session.Subscribe(ctx, r.controlTopic, func(_ context.Context, topic string, payload []byte) {
			r.log.Info("control message received", zap.String("topic", topic), zap.ByteString("payload", payload))
		})
		if err != nil {
			r.unsubscribeLocked()
			return fmt.Errorf("subscribe control topic %s: %w", r.controlTopic, err)
		}
		r.subs = append(r.subs, sub)
		r.log.Info("listening for control messages", zap.String("topic", r.controlTopic))
	}
	return nil
}

func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked()
}

func (r *Relay) unsubscribeLocked() error {
	var errs []error
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, transport.ErrClosed) {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return errors.Join(errs...)
}

func (r *Relay) forward(p Pair) transport.Handler {
	return func(ctx context.Context, topic string, payload []byte) {
		if err := r.session.Publish(ctx, p.Output, payload); err != nil {
			r.log.Error("forward failed",
				zap.String("input", topic),
				zap.String("output", p.Output),
				zap.Error(err),
			)
			return
		}
		r.log.Debug("forwarded", zap.String("input", topic), zap.String("output", p.Output), zap.Int("bytes", len(payload)))
	}
}
