package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishGeneration publishes a generation analytics event.
func (p *Publisher) PublishGeneration(ctx context.Context, event GenerationEvent) error {
	return p.publish(ctx, SubjectGenerationEvent, event)
}

// PublishTemplateUpsert queues templates for indexing.
func (p *Publisher) PublishTemplateUpsert(ctx context.Context, msg TemplateUpsert) error {
	return p.publish(ctx, SubjectTemplateUpsert, msg)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
