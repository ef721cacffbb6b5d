package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
)

// DefaultChannelPrefix prefixes the per-type Redis channel.
const DefaultChannelPrefix = "featurestore:events:"

// RedisPublisherClient is the part of a go-redis client the publisher uses.
type RedisPublisherClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher is a listener that publishes every event on the channel
// "<prefix><type name>".
type RedisPublisher struct {
	client  RedisPublisherClient
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ core.Listener = (*RedisPublisher)(nil)

// NewRedisPublisher wraps client. An empty prefix selects
// DefaultChannelPrefix.
func NewRedisPublisher(client RedisPublisherClient, prefix string, logger *slog.Logger, m *metrics.Metrics) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, prefix: prefix, logger: logger, metrics: m, now: time.Now}
}

// Channel returns the channel events of typeName are published on.
func (p *RedisPublisher) Channel(typeName string) string { return p.prefix + typeName }

// OnFeatureEvent publishes ev.
func (p *RedisPublisher) OnFeatureEvent(ctx context.Context, ev core.FeatureEvent) error {
	data, err := NewMessage(ev, p.now()).Encode()
	if err != nil {
		p.count("error")
		return err
	}
	channel := p.Channel(ev.TypeName)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		p.count("error")
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	p.count("ok")
	p.logger.Debug("RedisPublisher.OnFeatureEvent() - published", "channel", channel, "receivers", receivers)
	return nil
}

func (p *RedisPublisher) count(result string) {
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues("redis", result).Inc()
	}
}
