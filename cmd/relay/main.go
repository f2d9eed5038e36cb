package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/config"
	"github.com/vyvo/bundlecast/pkg/logging"
	"github.com/vyvo/bundlecast/pkg/node"
	"github.com/vyvo/bundlecast/pkg/relay"
	"github.com/vyvo/bundlecast/pkg/transport"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.RelayConfig, logger *zap.Logger) error {
	ctx := context.Background()
	logger = logger.With(zap.String("process_id", cfg.ProcessID))

	pairs, err := relay.ParsePairs(cfg.Topics)
	if err != nil {
		return err
	}
	logger.Debug("parsed topics", zap.Any("pairs", pairs))

	session, err := transport.Open(ctx, cfg.Transport.URL)
	if err != nil {
		return fmt.Errorf("open transport session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("transport session close error", zap.Error(err))
		}
	}()

	n := node.New("relay", logger)
	n.RegisterService(relay.New(session, pairs, relay.ControlTopic(cfg.ControlTopicBase, cfg.ProcessID), logger))
	return n.Run(ctx)
}
