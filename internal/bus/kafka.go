package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/errs"
)

// KafkaProducer publishes to one writer per topic, keyed so partitioning
// preserves per-ride order.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{brokers: brokers, writers: make(map[string]*kafka.Writer)}
}

func (p *KafkaProducer) writer(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.writers[topic]
	if !ok {
		w = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  p.brokers,
			Topic:    topic,
			Balancer: &kafka.Hash{},
		})
		p.writers[topic] = w
	}
	return w
}

func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := p.writer(topic).WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", errs.ErrBusUnavailable, topic, err)
	}
	return nil
}

func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// KafkaConsumer runs one group reader per topic and feeds every message into
// the shared key-sharded pool. Read errors back off exponentially, the same
// loop shape as a plain consumer binary.
type KafkaConsumer struct {
	brokers []string
	group   string
	logger  *slog.Logger
	pool    *Pool
}

func NewKafkaConsumer(brokers []string, group string, pool *Pool, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{brokers: brokers, group: group, pool: pool, logger: logger}
}

// Run blocks until ctx is cancelled, consuming every listed topic.
func (c *KafkaConsumer) Run(ctx context.Context, topics ...string) {
	var wg sync.WaitGroup
	for _, topic := range topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consumeTopic(ctx, topic)
		}(topic)
	}
	wg.Wait()
}

func (c *KafkaConsumer) consumeTopic(ctx context.Context, topic string) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    topic,
		GroupID:  c.group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka read error", "topic", topic, "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		if err := c.pool.Dispatch(ctx, Message{Topic: topic, Key: string(m.Key), Value: m.Value}); err != nil {
			return
		}
	}
}
