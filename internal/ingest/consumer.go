package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/notigen/internal/nats"
)

// TemplateIngester ingests a batch of templates. *Indexer satisfies it.
type TemplateIngester interface {
	Ingest(ctx context.Context, source string, templates []Template) (int, error)
}

// Consumer listens on the template upsert subject and writes the received
// templates into the index.
type Consumer struct {
	ingester    TemplateIngester
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new template upsert Consumer.
func NewConsumer(ingester TemplateIngester, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		ingester:    ingester,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	spec := inats.TemplateIndexerSpec()
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, spec)
	if err != nil {
		return err
	}

	slog.Info("template consumer started", "consumer", spec.Name, "max_deliver", spec.MaxDeliver)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("template consumer: fetching messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMsg(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleMsg terminates messages that can never be ingested and naks
// transient failures for redelivery.
func (c *Consumer) handleMsg(ctx context.Context, msg jetstream.Msg) {
	templates, err := decodeUpsert(msg.Data())
	if err == nil {
		err = Validate(templates)
	}
	if err != nil {
		slog.Error("template consumer: rejecting upsert", "error", err)
		_ = msg.Term()
		return
	}

	if _, err := c.ingester.Ingest(ctx, "nats", templates); err != nil {
		slog.Error("template consumer: ingesting upsert", "error", err, "templates", len(templates))
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func decodeUpsert(data []byte) ([]Template, error) {
	var msg inats.TemplateUpsert
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling template upsert: %w", err)
	}
	templates := make([]Template, len(msg.Templates))
	for i, r := range msg.Templates {
		templates[i] = Template{ID: r.ID, Payload: r.Payload}
	}
	return templates, nil
}
