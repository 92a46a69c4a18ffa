package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/acme/number-provisioning/internal/domain"
)

// LifecycleEvent is emitted when a provisioning job resolves.
type LifecycleEvent struct {
	NumberID    uuid.UUID           `json:"number_id"`
	PhoneNumber string              `json:"phone_number"`
	Action      domain.JobAction    `json:"action"`
	Status      domain.NumberStatus `json:"status"`
	ProviderID  *string             `json:"provider_id,omitempty"`
	Error       string              `json:"error,omitempty"`
	Attempt     int                 `json:"attempt"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// FailureNotification asks the notification collaborator to alert the owner.
type FailureNotification struct {
	NumberID   uuid.UUID `json:"number_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits lifecycle events and failure notifications to Kafka.
type Publisher struct {
	events        *kafka.Writer
	notifications *kafka.Writer
}

// NewPublisher constructs a publisher for the configured topics.
func NewPublisher(k *Kafka, eventsTopic, notificationsTopic string) *Publisher {
	return &Publisher{
		events:        k.NewWriter(eventsTopic),
		notifications: k.NewWriter(notificationsTopic),
	}
}

// PublishLifecycle emits a job resolution event.
func (p *Publisher) PublishLifecycle(ctx context.Context, evt LifecycleEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("event publisher: marshal lifecycle: %w", err)
	}
	record := kafka.Message{
		Key:   evt.NumberID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.events.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write lifecycle: %w", err)
	}
	return nil
}

// NotifyFailure emits a user-facing failure notification for a number.
func (p *Publisher) NotifyFailure(ctx context.Context, numberID uuid.UUID, reason string) error {
	value, err := json.Marshal(FailureNotification{
		NumberID:   numberID,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("event publisher: marshal notification: %w", err)
	}
	record := kafka.Message{
		Key:   numberID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.notifications.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write notification: %w", err)
	}
	return nil
}

// Close closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.events != nil {
		if cerr := p.events.Close(); cerr != nil {
			err = cerr
		}
	}
	if p.notifications != nil {
		if cerr := p.notifications.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
