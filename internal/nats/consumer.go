package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec describes a durable pull consumer. Zero MaxDeliver and AckWait
// keep the server defaults.
type ConsumerSpec struct {
	Stream        string
	Name          string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// TemplateIndexerSpec is the consumer that feeds template upserts into the
// index. A Nak redelivers until MaxDeliver, and AckWait leaves room for one
// embedding batch.
func TemplateIndexerSpec() ConsumerSpec {
	return ConsumerSpec{
		Stream:        StreamTemplates,
		Name:          "template-indexer",
		FilterSubject: SubjectTemplateUpsert,
		MaxDeliver:    5,
		AckWait:       2 * time.Minute,
		MaxAckPending: 10,
	}
}

func (s ConsumerSpec) config() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       s.Name,
		FilterSubject: s.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    s.MaxDeliver,
		AckWait:       s.AckWait,
		MaxAckPending: s.MaxAckPending,
	}
}

// ConsumerManager handles durable consumer creation and retrieval.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates or updates the durable consumer described by spec.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, spec.Stream, spec.config())
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Name, spec.Stream, err)
	}
	return consumer, nil
}
