package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/discovery"
	"github.com/vyvo/bundlecast/pkg/distribution"
	"github.com/vyvo/bundlecast/pkg/ingest"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/transport"
)

type WorkerOptions struct {
	NodeID            string
	Channel           string
	DistributionTopic string
	// QueueSize > 0 moves ingestion off the delivery goroutine into a
	// bounded queue.
	QueueSize int
}

// WorkerService subscribes to the distribution topic and then announces
// the node once. The order matters: a bundle published in response to the
// announcement only reaches subscriptions that already exist.
type WorkerService struct {
	session  transport.Session
	pipeline *ingest.Pipeline
	rec      *ledger.Recorder
	opts     WorkerOptions
	log      *zap.Logger

	queue *ingest.Queue
	sub   transport.Subscription
}

func NewWorkerService(session transport.Session, pipeline *ingest.Pipeline, rec *ledger.Recorder, opts WorkerOptions, logger *zap.Logger) *WorkerService {
	if opts.Channel == "" {
		opts.Channel = discovery.DefaultChannel
	}
	if opts.DistributionTopic == "" {
		opts.DistributionTopic = distribution.DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = ledger.NewRecorder(nil, nil, logger)
	}
	return &WorkerService{session: session, pipeline: pipeline, rec: rec, opts: opts, log: logger}
}

func (w *WorkerService) Name() string { return "worker" }

// Start subscribes, then announces. A failed subscription is returned; a
// failed announcement is logged and the worker keeps its subscription.
func (w *WorkerService) Start(ctx context.Context) error {
	handler := w.pipeline.Handle
	if w.opts.QueueSize > 0 {
		w.queue = ingest.NewQueue(w.pipeline, w.opts.QueueSize, w.log)
		w.queue.Start(ctx)
		handler = w.queue.Handle
	}

	sub, err := w.session.Subscribe(ctx, w.opts.DistributionTopic, handler)
	if err != nil {
		if w.queue != nil {
			w.queue.Stop()
		}
		return fmt.Errorf("subscribe %s: %w", w.opts.DistributionTopic, err)
	}
	w.sub = sub
	w.log.Info("subscribed to distribution topic", zap.String("topic", w.opts.DistributionTopic))

	event := ledger.Event{
		Kind:   ledger.KindAnnounce,
		NodeID: w.opts.NodeID,
		Detail: discovery.Topic(w.opts.Channel),
	}
	if err := discovery.Announce(ctx, w.session, w.opts.Channel, w.opts.NodeID); err != nil {
		w.log.Error("announcement failed", zap.String("node_id", w.opts.NodeID), zap.Error(err))
		event.Status = ledger.StatusFailed
		event.Error = err.Error()
		w.rec.Record(ctx, event)
		return nil
	}
	w.log.Info("announced node",
		zap.String("node_id", w.opts.NodeID),
		zap.String("topic", discovery.Topic(w.opts.Channel)),
	)
	event.Status = ledger.StatusSucceeded
	w.rec.Record(ctx, event)
	return nil
}

func (w *WorkerService) Stop() error {
	var err error
	if w.sub != nil {
		if uerr := w.sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, transport.ErrClosed) {
			err = uerr
		}
		w.sub = nil
	}
	if w.queue != nil {
		w.queue.Stop()
		w.queue = nil
	}
	return err
}
