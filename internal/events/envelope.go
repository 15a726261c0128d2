// Package events carries order lifecycle events to Kafka and back out to
// live websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	OrderCreated       = "OrderCreated"
	OrderUpdated       = "OrderUpdated"
	OrderStatusChanged = "OrderStatusChanged"
	OrderDeleted       = "OrderDeleted"
)

const envelopeVersion = 1

// Envelope is the wire format of every event. Payload is the order as the
// API renders it (for OrderDeleted, the order as it was before removal).
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	TenantID     string          `json:"tenant_id"`
	OrderID      string          `json:"order_id"`
	Payload      json.RawMessage `json:"payload"`
}

// NewEnvelope stamps a fresh event id and the current time, and marshals
// payload as the event body.
func NewEnvelope(producer, eventType string, tenantID, orderID uuid.UUID, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: envelopeVersion,
		OccurredAt:   time.Now().UTC(),
		Producer:     producer,
		TenantID:     tenantID.String(),
		OrderID:      orderID.String(),
		Payload:      b,
	}, nil
}

// Publisher hands an event off for delivery. Implementations must not block
// on the broker; the request that produced the event has already committed.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Stream is one subscriber's view of the event flow.
type Stream interface {
	Next(ctx context.Context) (Envelope, error)
	Close() error
}

// Subscriber opens a fresh Stream that starts at the newest event.
type Subscriber interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Noop drops every event. Used when no broker is configured and nothing
// listens in-process.
type Noop struct{}

// Publish discards env.
func (Noop) Publish(context.Context, Envelope) error { return nil }
