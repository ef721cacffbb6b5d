package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/featurestore/internal/core"
	"github.com/rzpsarthak13/featurestore/internal/metrics"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka producer and the publishing rate.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int // 0, 1, or -1 (all)

	// QueueSize bounds the events waiting to be published; further events
	// are dropped.
	QueueSize int

	// PublishRate is the maximum number of messages written per second.
	PublishRate int
}

// DefaultKafkaConfig returns defaults for everything but brokers and topic.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: 1,
		QueueSize:    10000,
		PublishRate:  500,
	}
}

func (c KafkaConfig) withDefaults() KafkaConfig {
	d := DefaultKafkaConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.PublishRate <= 0 {
		c.PublishRate = d.PublishRate
	}
	return c
}

// NewKafkaWriter builds the producer for cfg.
func NewKafkaWriter(cfg KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	cfg = cfg.withDefaults()
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  3,
	}, nil
}

// KafkaPublisher is a listener that queues events in memory and publishes
// them from a background goroutine at a bounded rate. Messages are keyed by
// type name so the events of one type stay ordered within a partition.
type KafkaPublisher struct {
	writer  MessageWriter
	queue   *MemoryQueue
	config  KafkaConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ core.Listener = (*KafkaPublisher)(nil)

// NewKafkaPublisher wraps w. Start must be called before events flow.
func NewKafkaPublisher(w MessageWriter, cfg KafkaConfig, logger *slog.Logger, m *metrics.Metrics) *KafkaPublisher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer:  w,
		queue:   NewMemoryQueue(cfg.QueueSize),
		config:  cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// OnFeatureEvent queues ev. A full queue drops the event with an error.
func (p *KafkaPublisher) OnFeatureEvent(ctx context.Context, ev core.FeatureEvent) error {
	if err := p.queue.Enqueue(ctx, NewMessage(ev, p.now())); err != nil {
		p.count("dropped")
		return fmt.Errorf("failed to queue %s event for %s: %w", ev.Kind, ev.TypeName, err)
	}
	return nil
}

// Pending returns the number of queued events.
func (p *KafkaPublisher) Pending() int { return p.queue.Size() }

// Start launches the publishing goroutine.
func (p *KafkaPublisher) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(ctx)
	p.logger.Info("KafkaPublisher.Start() - publishing events", "rate", p.config.PublishRate, "batch", p.config.BatchSize)
}

// Stop ends the goroutine, publishes what is still queued and closes the
// writer.
func (p *KafkaPublisher) Stop() error {
	p.mu.Lock()
	running := p.running
	p.running = false
	p.mu.Unlock()

	if running {
		close(p.stopCh)
		<-p.doneCh
	}
	_ = p.queue.Close()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.WriteTimeout)
	defer cancel()
	var errs []error
	for {
		batch := p.queue.Dequeue(p.config.BatchSize)
		if len(batch) == 0 {
			break
		}
		if err := p.publish(ctx, batch); err != nil {
			errs = append(errs, err)
			break
		}
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
	}
	return errors.Join(errs...)
}

func (p *KafkaPublisher) run(ctx context.Context) {
	defer close(p.doneCh)
	limiter := rate.NewLimiter(rate.Limit(p.config.PublishRate), p.config.BatchSize)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case first, ok := <-p.queue.Ready():
			if !ok {
				return
			}
			batch := append([]*Message{first}, p.queue.Dequeue(p.config.BatchSize-1)...)
			if err := limiter.WaitN(ctx, len(batch)); err != nil {
				p.logger.Warn("KafkaPublisher.run() - rate limiter", "error", err, "dropped", len(batch))
				return
			}
			if err := p.publish(ctx, batch); err != nil {
				p.logger.Warn("KafkaPublisher.run() - publish failed", "error", err, "dropped", len(batch))
			}
		}
	}
}

func (p *KafkaPublisher) publish(ctx context.Context, batch []*Message) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, m := range batch {
		data, err := m.Encode()
		if err != nil {
			p.count("error")
			p.logger.Warn("KafkaPublisher.publish() - skipping message", "type", m.TypeName, "error", err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(m.TypeName),
			Value: data,
			Time:  m.Timestamp,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(m.Kind)},
				{Key: "type", Value: []byte(m.TypeName)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		for range msgs {
			p.count("error")
		}
		return fmt.Errorf("failed to write %d messages to kafka: %w", len(msgs), err)
	}
	for range msgs {
		p.count("ok")
	}
	p.logger.Debug("KafkaPublisher.publish() - published", "messages", len(msgs))
	return nil
}

func (p *KafkaPublisher) count(result string) {
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues("kafka", result).Inc()
	}
}
