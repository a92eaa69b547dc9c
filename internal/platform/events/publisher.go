package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// Event is the envelope published for every domain event. Payload carries the
// event-specific document, already JSON-serialisable.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	OrderID    string         `json:"orderId,omitempty"`
	OrderCode  string         `json:"orderCode,omitempty"`
	StoreID    string         `json:"storeId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publisher delivers domain events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// PubSubPublisher publishes domain events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed domain event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish enqueues the event on the configured topic and returns the broker
// message ID. Attributes duplicate the routing fields so subscribers can
// filter without decoding payloads. Events for the same order share an
// ordering key, so consumers see one order's events in publish order; the
// topic must have message ordering enabled.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" {
		return "", errors.New("pubsub event publisher: event type is required")
	}

	msg, err := p.message(event)
	if err != nil {
		return "", err
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event %s: %w", event.Type, err)
	}
	return id, nil
}

// message builds the broker message for one event. Events without an order
// carry no ordering key and stay unordered.
func (p *PubSubPublisher) message(event Event) (*pubsub.Message, error) {
	data, err := p.marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.Type, err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderCode", event.OrderCode)
	setAttr(attrs, "storeId", event.StoreID)

	return &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.OrderID),
	}, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
