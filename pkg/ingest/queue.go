package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/ledger"
)

// Queue decouples the transport's delivery goroutine from ingestion. A
// single consumer drains it in arrival order; deliveries that arrive while
// it is full are dropped.
type Queue struct {
	pipeline *Pipeline
	ch       chan []byte
	log      *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewQueue(p *Pipeline, size int, logger *zap.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		pipeline: p,
		ch:       make(chan []byte, size),
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the consumer. It exits when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go q.consume(ctx)
	})
}

// Stop signals the consumer and waits for it to finish the delivery in
// progress. Queued deliveries are discarded.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.startOnce.Do(func() { close(q.done) })
	<-q.done
}

// Handle enqueues payload without blocking. It matches transport.Handler.
func (q *Queue) Handle(ctx context.Context, _ string, payload []byte) {
	select {
	case q.ch <- payload:
	default:
		digest := bundle.Digest(payload)
		q.log.Warn("ingest queue full, dropping delivery",
			zap.String("digest", bundle.ShortDigest(digest)),
			zap.Int("capacity", cap(q.ch)),
		)
		q.pipeline.rec.Record(ctx, ledger.Event{
			Kind:   ledger.KindIngest,
			Digest: digest,
			Size:   int64(len(payload)),
			Status: ledger.StatusSkipped,
			Detail: "queue full",
		})
	}
}

func (q *Queue) consume(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case payload := <-q.ch:
			_, _ = q.pipeline.OnBundleReceived(ctx, payload)
		}
	}
}
