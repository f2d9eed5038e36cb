package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder fills in event ids and timestamps and writes events to the
// in-memory store and, when configured, a durable store. Durable store
// failures are logged and never surface to the caller.
type Recorder struct {
	mem     *MemStore
	durable Store
	log     *zap.Logger
	now     func() time.Time
}

// NewRecorder returns a recorder backed by mem. durable may be nil.
func NewRecorder(mem *MemStore, durable Store, logger *zap.Logger) *Recorder {
	if mem == nil {
		mem = NewMemStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{mem: mem, durable: durable, log: logger, now: time.Now}
}

// Memory returns the in-memory store.
func (r *Recorder) Memory() *MemStore { return r.mem }

// Record appends event and returns it with ID and CreatedAt set.
func (r *Recorder) Record(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}

	_ = r.mem.Append(ctx, event)
	if r.durable != nil {
		if err := r.durable.Append(ctx, event); err != nil {
			r.log.Warn("persist event failed",
				zap.String("event_id", event.ID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
		}
	}
	return event
}

// List reads from the durable store when present, else from memory.
func (r *Recorder) List(ctx context.Context, limit int) ([]Event, error) {
	if r.durable != nil {
		return r.durable.List(ctx, limit)
	}
	return r.mem.List(ctx, limit)
}
