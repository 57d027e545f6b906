package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/ticketgate/api/internal/domain"
)

// checkoutEventMessage is the wire form of a payment transition.
type checkoutEventMessage struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	SessionID      string    `json:"sessionId,omitempty"`
	PaymentID      string    `json:"paymentId,omitempty"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	TransactionID  string    `json:"transactionId,omitempty"`
	State          string    `json:"state"`
	BackendStatus  int       `json:"backendStatus,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PubSubCheckoutPublisher publishes payment transitions to a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCheckoutPublisher constructs a Pub/Sub backed checkout event publisher.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutEvent sends event and waits for the server-assigned message id.
func (p *PubSubCheckoutPublisher) PublishCheckoutEvent(ctx context.Context, event domain.CheckoutEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(checkoutEventMessage{
		EventID:        event.ID,
		Type:           string(event.Type),
		SessionID:      event.SessionID,
		PaymentID:      event.PaymentID,
		OrderNumber:    event.OrderNumber,
		TransactionID:  event.TransactionID,
		State:          string(event.State),
		BackendStatus:  event.BackendStatus,
		IdempotencyKey: event.IdempotencyKey,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "type", string(event.Type))
	setAttr(attrs, "paymentId", event.PaymentID)
	setAttr(attrs, "idempotencyKey", event.IdempotencyKey)
	if event.BackendStatus > 0 {
		attrs["backendStatus"] = strconv.Itoa(event.BackendStatus)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish checkout event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubSubCheckoutPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// NoopCheckoutPublisher drops events. It is used when no topic is configured.
type NoopCheckoutPublisher struct{}

func (NoopCheckoutPublisher) PublishCheckoutEvent(context.Context, domain.CheckoutEvent) (string, error) {
	return "", nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
