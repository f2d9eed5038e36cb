package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/adminapi"
	"github.com/vyvo/bundlecast/pkg/config"
	"github.com/vyvo/bundlecast/pkg/container"
	"github.com/vyvo/bundlecast/pkg/ingest"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/logging"
	"github.com/vyvo/bundlecast/pkg/node"
	"github.com/vyvo/bundlecast/pkg/nodeid"
	"github.com/vyvo/bundlecast/pkg/telemetry"
	"github.com/vyvo/bundlecast/pkg/transport"
)

func main() {
	cfg, err := config.LoadWorker(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.WorkerConfig, logger *zap.Logger) error {
	ctx := context.Background()
	id := nodeid.ResolveWith(cfg.NodeID)
	logger = logger.With(zap.String("node_id", id))

	shutdownTracer, err := telemetry.InitTracer(ctx, "bundlecast-worker", cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	session, err := transport.Open(ctx, cfg.Transport.URL)
	if err != nil {
		return fmt.Errorf("open transport session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("transport session close error", zap.Error(err))
		}
	}()
	logger.Info("transport session open", zap.String("url", cfg.Transport.URL))

	rec := ledger.NewRecorder(ledger.NewMemStore(0), nil, logger)
	runtime := container.NewDockerCLI(cfg.Runtime.Binary, cfg.Runtime.RunArgs, logger)
	trigger := container.NewTrigger(runtime, cfg.ImageName, cfg.RunImage, logger)
	pipeline := ingest.NewPipeline(ingest.Config{
		BundlePath: cfg.BundlePath,
		ExtractDir: cfg.ExtractDir,
	}, trigger, rec, logger)

	n := node.New("worker", logger)
	n.RegisterService(node.NewWorkerService(session, pipeline, rec, node.WorkerOptions{
		NodeID:            id,
		Channel:           cfg.Channel,
		DistributionTopic: cfg.DistributionTopic,
		QueueSize:         cfg.QueueSize,
	}, logger))
	if cfg.AdminAddr != "" {
		admin := adminapi.NewServer(cfg.AdminAddr, adminapi.NewRouter(adminapi.Options{
			Role:     "worker",
			Recorder: rec,
			Runtime:  trigger.Runtime(),
			Token:    cfg.AdminToken,
			Logger:   logger,
		}), logger)
		admin.OnShutdown(rec.Memory().CloseSubscribers)
		n.RegisterService(admin)
	}

	return n.Run(ctx)
}
