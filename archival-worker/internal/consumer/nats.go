package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/toivape/nauction/internal/events"
	"github.com/toivape/nauction/shared/models"
)

// DurableName is the JetStream consumer shared by all archival workers
const DurableName = "archival-worker"

// Archiver stores bid events and reports whether the event was new
type Archiver interface {
	ArchiveBidEvent(ctx context.Context, event *models.BidEvent) (bool, error)
}

// NATSConsumer consumes bid events from JetStream and archives them
type NATSConsumer struct {
	js       jetstream.JetStream
	archiver Archiver
	logger   *slog.Logger
}

// NewNATSConsumer creates a consumer on a JetStream context
func NewNATSConsumer(js jetstream.JetStream, archiver Archiver, logger *slog.Logger) *NATSConsumer {
	return &NATSConsumer{
		js:       js,
		archiver: archiver,
		logger:   logger,
	}
}

// Start consumes "bid.events.*" with a durable consumer until ctx is done.
// Messages are acked only after they are archived.
func (c *NATSConsumer) Start(ctx context.Context) error {
	if err := events.EnsureStream(ctx, c.js); err != nil {
		return err
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, events.StreamName, jetstream.ConsumerConfig{
		Durable:       DurableName,
		FilterSubject: events.SubjectPrefix + "*",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer cc.Stop()

	c.logger.Info("consuming bid events", "stream", events.StreamName, "durable", DurableName)

	<-ctx.Done()
	return nil
}

// handleMessage archives one bid event. Unparseable messages are
// terminated; archive failures are redelivered.
func (c *NATSConsumer) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event models.BidEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Error("failed to unmarshal event", "subject", msg.Subject(), "error", err)
		msg.Term()
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	added, err := c.archiver.ArchiveBidEvent(dbCtx, &event)
	if err != nil {
		c.logger.Error("failed to archive bid event", "event_id", event.EventID, "error", err)
		msg.NakWithDelay(5 * time.Second)
		return
	}

	if added {
		c.logger.Info("archived bid event",
			"event_id", event.EventID,
			"item_id", event.AuctionItemID,
			"bidder", event.Bidder,
			"current_price", event.CurrentPrice)
	} else {
		c.logger.Debug("bid event already archived", "event_id", event.EventID)
	}

	msg.Ack()
}
