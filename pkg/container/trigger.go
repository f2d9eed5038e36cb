package container

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const defaultImageName = "bundle"

var tracer = otel.Tracer("github.com/vyvo/bundlecast/pkg/container")

// Trigger builds an image from an extracted bundle and starts a container.
//
// The image is tagged from imageName, or from the extraction directory's
// base name when imageName is empty. The container runs runImage when set,
// which makes the deploy two-staged: run always targets that reference and
// the fresh build only takes effect once runImage points at it. With
// runImage empty the container runs the image just built.
//
// Every delivery replaces the container started by the previous one, so a
// worker keeps at most one container of its own running.
type Trigger struct {
	rt        Runtime
	imageName string
	runImage  string
	log       *zap.Logger

	mu      sync.Mutex
	current string
}

func NewTrigger(rt Runtime, imageName, runImage string, logger *zap.Logger) *Trigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trigger{
		rt:        rt,
		imageName: strings.TrimSpace(imageName),
		runImage:  strings.TrimSpace(runImage),
		log:       logger,
	}
}

// Runtime returns the underlying container runtime.
func (t *Trigger) Runtime() Runtime { return t.rt }

// BuildAndRun builds dir, retires the container from the previous call and
// starts a new one. Failures are logged and reported in the Outcome; nothing
// is retried or rolled back.
func (t *Trigger) BuildAndRun(ctx context.Context, dir string) Outcome {
	ctx, span := tracer.Start(ctx, "container.build_and_run")
	defer span.End()

	t.mu.Lock()
	defer t.mu.Unlock()

	tag := TagFor(dir, t.imageName)
	runImage := t.runImage
	if runImage == "" {
		runImage = tag
	}
	span.SetAttributes(attribute.String("image.tag", tag), attribute.String("image.run", runImage))

	outcome := Outcome{ImageTag: tag, RunImage: runImage}
	log := t.log.With(zap.String("dir", dir), zap.String("tag", tag))

	log.Info("building image")
	if _, err := t.rt.Build(ctx, BuildRequest{Tag: tag, ContextDir: dir}); err != nil {
		log.Error("image build failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		outcome.Status = OutcomeFailed
		outcome.Reason = "build: " + err.Error()
		outcome.Err = err
		return outcome
	}

	t.retire(ctx, log)

	log.Info("starting container", zap.String("run_image", runImage))
	id, err := t.rt.Run(ctx, RunRequest{Image: runImage})
	if err != nil {
		log.Error("container start failed", zap.String("run_image", runImage), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "run failed")
		outcome.Status = OutcomeFailed
		outcome.Reason = "run: " + err.Error()
		outcome.Err = err
		return outcome
	}

	t.current = id
	outcome.ContainerID = id
	outcome.Status = OutcomeBuilt
	log.Info("container running", zap.String("container_id", id), zap.String("run_image", runImage))
	return outcome
}

// Current returns the id of the container started by the last successful
// BuildAndRun, or "" when none is running.
func (t *Trigger) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// retire stops and removes the previously started container. Failures are
// logged only: the container may already be gone.
func (t *Trigger) retire(ctx context.Context, log *zap.Logger) {
	if t.current == "" {
		return
	}
	id := t.current
	t.current = ""
	log = log.With(zap.String("previous_container", id))
	if err := t.rt.Stop(ctx, id); err != nil {
		log.Warn("stopping previous container failed", zap.Error(err))
	}
	if err := t.rt.Remove(ctx, id); err != nil {
		log.Warn("removing previous container failed", zap.Error(err))
		return
	}
	log.Info("previous container removed")
}

// TagFor derives an image reference from imageName, or from dir's base name
// when imageName is empty. References without a tag get ":latest".
func TagFor(dir, imageName string) string {
	name := imageName
	if name == "" {
		name = sanitizeName(filepath.Base(filepath.Clean(dir)))
	}
	if !strings.Contains(name[strings.LastIndex(name, "/")+1:], ":") {
		name += ":latest"
	}
	return name
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "._-")
	if name == "" {
		return defaultImageName
	}
	return name
}
