package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaSubscriber gives every Subscribe call its own reader in its own
// consumer group, starting at the latest offset. Nothing is shared between
// connections and offsets are never committed.
type KafkaSubscriber struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

// Subscribe opens a reader in a consumer group of its own, so every
// websocket connection sees every event. The reader connects lazily on the
// first Next, and the stream lives until Close.
//
// Why a fresh group per connection?
// Members of one group split the partitions between them. Two browser tabs
// sharing a group would each see only part of the feed.
func (s KafkaSubscriber) Subscribe(ctx context.Context) (Stream, error) {
	if len(s.Brokers) == 0 {
		return nil, fmt.Errorf("subscribe: no brokers configured")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.Brokers,
		Topic:       s.Topic,
		GroupID:     s.GroupPrefix + "-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &kafkaStream{r: r}, nil
}

type kafkaStream struct {
	r *kafka.Reader
}

func (s *kafkaStream) Next(ctx context.Context) (Envelope, error) {
	for {
		m, err := s.r.FetchMessage(ctx)
		if err != nil {
			return Envelope{}, err
		}
		var env Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			// Not ours; skip rather than kill the stream.
			continue
		}
		return env, nil
	}
}

func (s *kafkaStream) Close() error { return s.r.Close() }

// Hub is an in-process Publisher and Subscriber for running without a
// broker (STORAGE=memory, local development). Slow subscribers lose events
// instead of blocking publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[*hubStream]struct{}
	buf  int
}

// NewHub buffers up to buf events per subscriber. A non-positive buf means 64.
func NewHub(buf int) *Hub {
	if buf <= 0 {
		buf = 64
	}
	return &Hub{subs: make(map[*hubStream]struct{}), buf: buf}
}

// Publish never blocks: a subscriber with a full buffer misses the event.
func (h *Hub) Publish(_ context.Context, env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- env:
		default:
		}
	}
	return nil
}

// Subscribe registers a stream that receives events published from now on.
func (h *Hub) Subscribe(context.Context) (Stream, error) {
	s := &hubStream{hub: h, ch: make(chan Envelope, h.buf), closed: make(chan struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s, nil
}

type hubStream struct {
	hub    *Hub
	ch     chan Envelope
	once   sync.Once
	closed chan struct{}
}

func (s *hubStream) Next(ctx context.Context) (Envelope, error) {
	select {
	case env := <-s.ch:
		return env, nil
	case <-s.closed:
		return Envelope{}, fmt.Errorf("stream closed")
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (s *hubStream) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.closed)
	})
	return nil
}
