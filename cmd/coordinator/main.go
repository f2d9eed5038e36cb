package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/adminapi"
	"github.com/vyvo/bundlecast/pkg/bundle"
	"github.com/vyvo/bundlecast/pkg/config"
	"github.com/vyvo/bundlecast/pkg/distribution"
	"github.com/vyvo/bundlecast/pkg/ledger"
	"github.com/vyvo/bundlecast/pkg/logging"
	"github.com/vyvo/bundlecast/pkg/node"
	"github.com/vyvo/bundlecast/pkg/registry"
	"github.com/vyvo/bundlecast/pkg/telemetry"
	"github.com/vyvo/bundlecast/pkg/transport"
)

func main() {
	cfg, err := config.LoadCoordinator(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("coordinator exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.CoordinatorConfig, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, "bundlecast-coordinator", cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	source, err := bundle.NewSource(cfg.BundlePath, bundle.Options{
		SFTPPassword:       cfg.SFTP.Password,
		SFTPPrivateKeyPath: cfg.SFTP.PrivateKeyPath,
	})
	if err != nil {
		return err
	}

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

	var durable ledger.Store
	if cfg.DatabaseURL != "" {
		pg, err := ledger.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("coordinator postgres init failed: %w", err)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				logger.Warn("postgres close error", zap.Error(err))
			}
		}()
		durable = pg
	}
	rec := ledger.NewRecorder(ledger.NewMemStore(0), durable, logger)

	dist := distribution.NewService(source, session, cfg.DistributionTopic, rec, logger)

	n := node.New("coordinator", logger)
	nodes := registry.New()
	n.RegisterService(node.NewCoordinatorService(session, dist, nodes, cfg.DiscoveryPattern, logger))
	if cfg.AdminAddr != "" {
		admin := adminapi.NewServer(cfg.AdminAddr, adminapi.NewRouter(adminapi.Options{
			Role:        "coordinator",
			Recorder:    rec,
			Distributor: dist,
			Nodes:       nodes,
			Token:       cfg.AdminToken,
			Logger:      logger,
		}), logger)
		admin.OnShutdown(rec.Memory().CloseSubscribers)
		n.RegisterService(admin)
	}

	logger.Info("coordinator ready",
		zap.String("bundle", source.Describe()),
		zap.String("discovery_pattern", cfg.DiscoveryPattern),
		zap.String("distribution_topic", dist.Topic()),
	)
	return n.Run(ctx)
}
