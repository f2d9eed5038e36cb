// Package discovery carries worker presence announcements from workers to
// the coordinator.
//
// A worker announces once per process lifetime by publishing its node id as
// the raw message body on nodes/new/<channel>. The coordinator listens on the
// whole nodes/new/** space. Announcements are not acknowledged and are never
// deduplicated: a restarted worker announces again and triggers again.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vyvo/bundlecast/pkg/fault"
	"github.com/vyvo/bundlecast/pkg/transport"
)

const (
	// TopicPrefix is the root of the discovery topic space.
	TopicPrefix = "nodes/new"
	// DefaultPattern covers every worker class.
	DefaultPattern = TopicPrefix + "/**"
	// DefaultChannel is the worker class used when none is configured.
	DefaultChannel = "video"
)

// ErrEmptyNodeID is returned for announcements without a node id.
var ErrEmptyNodeID = errors.New("announcement carries an empty node id")

// Announcement is a decoded worker presence message.
type Announcement struct {
	NodeID     string
	Channel    string
	Topic      string
	ReceivedAt time.Time
}

// Topic returns the concrete discovery topic for a worker channel.
func Topic(channel string) string {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	return TopicPrefix + "/" + channel
}

// Announce publishes nodeID on the channel's discovery topic. It does not
// wait for any acknowledgment.
func Announce(ctx context.Context, pub transport.Publisher, channel, nodeID string) error {
	if strings.TrimSpace(nodeID) == "" {
		return fault.Config("announce", ErrEmptyNodeID)
	}
	return pub.Publish(ctx, Topic(channel), []byte(nodeID))
}

// Decode parses a message received on topic.
func Decode(topic string, payload []byte) (Announcement, error) {
	id := strings.TrimSpace(string(payload))
	if id == "" {
		return Announcement{}, ErrEmptyNodeID
	}
	channel := strings.TrimPrefix(topic, TopicPrefix)
	channel = strings.TrimPrefix(channel, "/")
	return Announcement{
		NodeID:     id,
		Channel:    channel,
		Topic:      topic,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// Listen subscribes to pattern and calls fn for every decodable
// announcement, synchronously inside the delivery callback.
func Listen(ctx context.Context, sub transport.Subscriber, pattern string, logger *zap.Logger, fn func(context.Context, Announcement)) (transport.Subscription, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	s, err := sub.Subscribe(ctx, pattern, func(ctx context.Context, topic string, payload []byte) {
		ann, err := Decode(topic, payload)
		if err != nil {
			logger.Warn("discarding announcement", zap.String("topic", topic), zap.Error(err))
			return
		}
		logger.Info("new node announced",
			zap.String("node_id", ann.NodeID),
			zap.String("channel", ann.Channel),
		)
		fn(ctx, ann)
	})
	if err != nil {
		return nil, fmt.Errorf("listen for announcements on %s: %w", pattern, err)
	}
	return s, nil
}
