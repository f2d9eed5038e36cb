package node

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/discovery"
	"github.com/vyvo/bundlecast/pkg/distribution"
	"github.com/vyvo/bundlecast/pkg/registry"
	"github.com/vyvo/bundlecast/pkg/transport"
)

// CoordinatorService feeds discovery announcements into the node registry
// and the distribution service.
type CoordinatorService struct {
	session transport.Subscriber
	dist    *distribution.Service
	nodes   *registry.Registry
	pattern string
	log     *zap.Logger

	sub transport.Subscription
}

func NewCoordinatorService(session transport.Subscriber, dist *distribution.Service, nodes *registry.Registry, pattern string, logger *zap.Logger) *CoordinatorService {
	if pattern == "" {
		pattern = discovery.DefaultPattern
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nodes == nil {
		nodes = registry.New()
	}
	return &CoordinatorService{session: session, dist: dist, nodes: nodes, pattern: pattern, log: logger}
}

func (c *CoordinatorService) Name() string { return "coordinator" }

func (c *CoordinatorService) Start(ctx context.Context) error {
	sub, err := discovery.Listen(ctx, c.session, c.pattern, c.log, c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	c.log.Info("listening for announcements",
		zap.String("pattern", c.pattern),
		zap.String("distribution_topic", c.dist.Topic()),
	)
	return nil
}

func (c *CoordinatorService) handle(ctx context.Context, ann discovery.Announcement) {
	entry := c.nodes.Observe(ann.NodeID, ann.Channel, ann.ReceivedAt)
	if entry.Announcements > 1 {
		c.log.Info("node announced again", zap.String("node_id", ann.NodeID), zap.Int("announcements", entry.Announcements))
	}
	c.dist.HandleAnnouncement(ctx, ann)
}

// Nodes returns the registry of announced nodes.
func (c *CoordinatorService) Nodes() *registry.Registry { return c.nodes }

func (c *CoordinatorService) Stop() error {
	if c.sub == nil {
		return nil
	}
	err := c.sub.Unsubscribe()
	c.sub = nil
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}
