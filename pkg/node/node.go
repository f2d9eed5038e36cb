// Package node runs a process as a set of registered services: started in
// registration order, stopped in reverse on SIGINT/SIGTERM.
package node

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

type Node struct {
	role string
	log  *zap.Logger

	services []Service
	started  []Service
}

func New(role string, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{role: role, log: log}
}

func (n *Node) RegisterService(s Service) {
	n.services = append(n.services, s)
}

// Start starts every registered service in order. If one fails, those
// already started are stopped and the error is returned.
func (n *Node) Start(ctx context.Context) error {
	n.log.Info("starting node", zap.String("role", n.role), zap.Int("services", len(n.services)))

	for _, s := range n.services {
		if err := s.Start(ctx); err != nil {
			n.Stop()
			return fmt.Errorf("failed to start service %s: %w", s.Name(), err)
		}
		n.started = append(n.started, s)
		n.log.Info("started service", zap.String("name", s.Name()))
	}
	return nil
}

// Stop stops started services in reverse order. Stop errors are logged.
func (n *Node) Stop() {
	for i := len(n.started) - 1; i >= 0; i-- {
		s := n.started[i]
		n.log.Info("stopping service", zap.String("name", s.Name()))
		if err := s.Stop(); err != nil {
			n.log.Warn("error stopping service", zap.String("name", s.Name()), zap.Error(err))
		}
	}
	n.started = nil
	n.log.Info("node shutdown complete", zap.String("role", n.role))
}

// Run starts the node, blocks until ctx is done or the process receives
// SIGINT or SIGTERM, then stops it.
func (n *Node) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	n.log.Info("shutting down node", zap.String("role", n.role))
	n.Stop()
	return nil
}
