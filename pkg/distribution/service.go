// Package distribution implements the coordinator side of bundle delivery.
//
// Every announcement triggers one load of the bundle from its source and
// one publish on the distribution topic. The topic is a broadcast: every
// worker subscribed at that moment receives the bundle, not only the node
// that announced. No acknowledgment flows back and nothing is retried.
package distribution

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/discovery"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/transport"
)

// DefaultTopic is the wire-level distribution topic.
const DefaultTopic = "distribute/docker_image_zip"

var tracer = otel.Tracer("github.com/vyvo/bundlecast/pkg/distribution")

// Service publishes the current bundle whenever a node announces itself.
type Service struct {
	source bundle.Source
	pub    transport.Publisher
	topic  string
	rec    *ledger.Recorder
	log    *zap.Logger

	// mu keeps at most one bundle load and publish in flight.
	mu sync.Mutex
}

func NewService(source bundle.Source, pub transport.Publisher, topic string, rec *ledger.Recorder, logger *zap.Logger) *Service {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = ledger.NewRecorder(nil, nil, logger)
	}
	return &Service{source: source, pub: pub, topic: topic, rec: rec, log: logger}
}

// Topic returns the distribution topic.
func (s *Service) Topic() string { return s.topic }

// HandleAnnouncement adapts OnNodeAnnounced to discovery.Listen. Errors are
// logged by OnNodeAnnounced and do not stop the listener.
func (s *Service) HandleAnnouncement(ctx context.Context, ann discovery.Announcement) {
	s.rec.Record(ctx, ledger.Event{
		Kind:   ledger.KindAnnounce,
		NodeID: ann.NodeID,
		Status: ledger.StatusSucceeded,
		Detail: ann.Topic,
	})
	_ = s.OnNodeAnnounced(ctx, ann.NodeID)
}

// OnNodeAnnounced loads the bundle and broadcasts it. A missing bundle, a
// read failure or a publish failure is logged and returned; nothing is
// published in the first two cases.
func (s *Service) OnNodeAnnounced(ctx context.Context, nodeID string) error {
	ctx, span := tracer.Start(ctx, "distribution.on_node_announced")
	defer span.End()
	span.SetAttributes(
		attribute.String("node.id", nodeID),
		attribute.String("bundle.source", s.source.Describe()),
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.log.With(zap.String("node_id", nodeID), zap.String("source", s.source.Describe()))
	log.Info("preparing bundle distribution")

	b, err := s.source.Load(ctx)
	if err != nil {
		log.Error("bundle load failed, nothing published", zap.Error(err))
		s.fail(ctx, span, nodeID, "", 0, err)
		return err
	}

	span.SetAttributes(
		attribute.String("bundle.digest", b.Digest),
		attribute.Int("bundle.size", b.Size()),
	)

	if err := s.pub.Publish(ctx, s.topic, b.Payload); err != nil {
		log.Error("bundle publish failed",
			zap.String("digest", bundle.ShortDigest(b.Digest)),
			zap.Error(err),
		)
		s.fail(ctx, span, nodeID, b.Digest, b.Size(), err)
		return fmt.Errorf("distribute bundle: %w", err)
	}

	log.Info("bundle published",
		zap.String("topic", s.topic),
		zap.String("digest", bundle.ShortDigest(b.Digest)),
		zap.Int("bytes", b.Size()),
	)
	s.rec.Record(ctx, ledger.Event{
		Kind:   ledger.KindDistribute,
		NodeID: nodeID,
		Digest: b.Digest,
		Size:   int64(b.Size()),
		Status: ledger.StatusSucceeded,
		Detail: s.topic,
	})
	return nil
}

func (s *Service) fail(ctx context.Context, span trace.Span, nodeID, digest string, size int, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.rec.Record(ctx, ledger.Event{
		Kind:   ledger.KindDistribute,
		NodeID: nodeID,
		Digest: digest,
		Size:   int64(size),
		Status: ledger.StatusFailed,
		Error:  err.Error(),
	})
}
