// Package ingest turns a received bundle into a running container on the
// worker: persist, extract, verify, then build and run.
//
// Extraction goes into a staging directory that replaces the active
// extraction directory only once it is complete and non-empty, so a
// corrupt or empty archive leaves the previous extraction untouched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/container"
	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/ledger"
)

const (
	DefaultBundlePath = "image.zip"
	DefaultExtractDir = "extracted_folder"
)

// ErrEmptyArchive reports an archive that extracted to nothing.
var ErrEmptyArchive = errors.New("archive extracted to an empty directory")

var tracer = otel.Tracer("github.com/vyvo/bundlecast/pkg/ingest")

// Builder builds and starts a container from an extracted bundle.
type Builder interface {
	BuildAndRun(ctx context.Context, dir string) container.Outcome
}

type Config struct {
	// BundlePath is where the received archive is persisted.
	BundlePath string
	// ExtractDir is the active extraction directory handed to the builder.
	ExtractDir string
}

// Result describes one processed delivery.
type Result struct {
	Digest     string
	Size       int
	Files      int
	Dir        string
	ReceivedAt time.Time
	Outcome    container.Outcome
}

type Pipeline struct {
	cfg     Config
	builder Builder
	rec     *ledger.Recorder
	log     *zap.Logger
	now     func() time.Time

	// mu serializes deliveries; they share BundlePath and ExtractDir.
	mu sync.Mutex
}

func NewPipeline(cfg Config, builder Builder, rec *ledger.Recorder, logger *zap.Logger) *Pipeline {
	if cfg.BundlePath == "" {
		cfg.BundlePath = DefaultBundlePath
	}
	if cfg.ExtractDir == "" {
		cfg.ExtractDir = DefaultExtractDir
	}
	// Staging and retired trees are siblings of ExtractDir; a trailing
	// slash would put them inside it.
	cfg.BundlePath = filepath.Clean(cfg.BundlePath)
	cfg.ExtractDir = filepath.Clean(cfg.ExtractDir)
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = ledger.NewRecorder(nil, nil, logger)
	}
	return &Pipeline{cfg: cfg, builder: builder, rec: rec, log: logger, now: time.Now}
}

func (p *Pipeline) Config() Config { return p.cfg }

// Handle adapts OnBundleReceived to transport.Handler. Errors are already
// logged and recorded by OnBundleReceived.
func (p *Pipeline) Handle(ctx context.Context, _ string, payload []byte) {
	_, _ = p.OnBundleReceived(ctx, payload)
}

// OnBundleReceived persists payload, extracts it and hands the extraction
// directory to the builder. Archive failures return a fault.KindArchive
// error and the builder is not invoked. A build or run failure is returned
// together with the Result carrying the Outcome.
func (p *Pipeline) OnBundleReceived(ctx context.Context, payload []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "ingest.on_bundle_received")
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{
		Digest:     bundle.Digest(payload),
		Size:       len(payload),
		Dir:        p.cfg.ExtractDir,
		ReceivedAt: p.now().UTC(),
	}
	span.SetAttributes(
		attribute.String("bundle.digest", res.Digest),
		attribute.Int("bundle.size", res.Size),
	)
	log := p.log.With(
		zap.String("digest", bundle.ShortDigest(res.Digest)),
		zap.Int("bytes", res.Size),
	)
	log.Info("bundle received")

	files, err := p.unpack(payload)
	if err != nil {
		log.Error("bundle ingestion failed, build skipped", zap.Error(err))
		p.fail(ctx, span, res, ledger.KindIngest, err)
		return res, err
	}
	res.Files = files
	log.Info("bundle extracted", zap.String("dir", p.cfg.ExtractDir), zap.Int("files", files))
	p.rec.Record(ctx, ledger.Event{
		Kind:   ledger.KindIngest,
		Digest: res.Digest,
		Size:   int64(res.Size),
		Status: ledger.StatusSucceeded,
		Detail: fmt.Sprintf("%d files in %s", files, p.cfg.ExtractDir),
	})

	res.Outcome = p.builder.BuildAndRun(ctx, p.cfg.ExtractDir)
	if !res.Outcome.Succeeded() {
		err := res.Outcome.Err
		if err == nil {
			err = fault.Runtime("build and run", errors.New(res.Outcome.Reason))
		}
		p.fail(ctx, span, res, ledger.KindBuild, err)
		return res, err
	}

	p.rec.Record(ctx, ledger.Event{
		Kind:   ledger.KindBuild,
		Digest: res.Digest,
		Size:   int64(res.Size),
		Status: ledger.StatusSucceeded,
		Detail: res.Outcome.RunImage + " " + res.Outcome.ContainerID,
	})
	return res, nil
}

// unpack persists payload and swaps a fresh extraction into ExtractDir.
func (p *Pipeline) unpack(payload []byte) (int, error) {
	if err := writeFileAtomic(p.cfg.BundlePath, payload); err != nil {
		return 0, fault.Archive("persist bundle", err)
	}

	staging := p.cfg.ExtractDir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return 0, fault.Archive("clear staging dir", err)
	}

	files, err := extractArchive(p.cfg.BundlePath, staging)
	if err != nil {
		os.RemoveAll(staging)
		return 0, fault.Archive("extract bundle", err)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		os.RemoveAll(staging)
		return 0, fault.Archive("verify extraction", err)
	}
	if len(entries) == 0 {
		os.RemoveAll(staging)
		return 0, fault.Archive("verify extraction", ErrEmptyArchive)
	}

	if err := swapDir(staging, p.cfg.ExtractDir); err != nil {
		os.RemoveAll(staging)
		return 0, fault.Archive("activate extraction", err)
	}
	return files, nil
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, res Result, kind ledger.Kind, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.rec.Record(ctx, ledger.Event{
		Kind:   kind,
		Digest: res.Digest,
		Size:   int64(res.Size),
		Status: ledger.StatusFailed,
		Error:  err.Error(),
	})
}
