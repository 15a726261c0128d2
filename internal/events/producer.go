package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lalith-99/ordersvc/internal/observ"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var (
	ErrQueueFull      = errors.New("event queue full")
	ErrProducerClosed = errors.New("event producer closed")
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers events in memory and writes them to Kafka from one
// goroutine. Publish never waits on the broker: when the buffer is full the
// event is dropped and counted.
type Producer struct {
	w       Writer
	inbox   chan kafka.Message
	done    chan struct{}
	logger  *zap.Logger
	metrics *observ.Metrics

	mu     sync.RWMutex
	closed bool
}

// NewProducer writes to topic on brokers, keyed by order id.
func NewProducer(brokers []string, topic string, buf int, logger *zap.Logger, metrics *observ.Metrics) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same order id, same partition, in order
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, logger, metrics)
}

// NewProducerWithWriter is NewProducer over any Writer. Tests pass a fake.
// buf bounds the in-memory queue; when it is full new events are dropped
// and counted.
func NewProducerWithWriter(w Writer, buf int, logger *zap.Logger, metrics *observ.Metrics) *Producer {
	if buf <= 0 {
		buf = 256
	}
	p := &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: metrics,
	}
	go p.loop()
	return p
}

func (p *Producer) loop() {
	defer close(p.done)
	for m := range p.inbox {
		eventType := headerValue(m, "event_type")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.w.WriteMessages(ctx, m)
		cancel()
		p.metrics.EventPublished(eventType, err)
		if err != nil {
			p.logger.Warn("publish order event",
				zap.String("event_type", eventType),
				zap.ByteString("key", m.Key),
				zap.Error(err),
			)
		}
	}
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Publish enqueues env keyed by order id.
func (p *Producer) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(env.OrderID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
			{Key: "tenant_id", Value: []byte(env.TenantID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.metrics.EventPublished(env.EventType, ErrQueueFull)
		return ErrQueueFull
	}
}

// Close stops accepting events, flushes what is queued, and closes the
// writer. It gives up waiting when ctx ends.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("flush order events: %w", ctx.Err())
	}
	return p.w.Close()
}
