package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/toivape/nauction/shared/models"
)

// Stream settings for bid events
const (
	StreamName    = "BID_EVENTS"
	SubjectPrefix = "bid.events."
)

// JetStreamPublisher publishes accepted bids to a durable JetStream stream
// for downstream consumers such as settlement exports.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewJetStreamPublisher creates the JetStream context and makes sure the
// stream exists
func NewJetStreamPublisher(ctx context.Context, natsConn *nats.Conn, logger *slog.Logger) (*JetStreamPublisher, error) {
	js, err := jetstream.New(natsConn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := EnsureStream(ctx, js); err != nil {
		return nil, err
	}
	logger.Info("JetStream stream ready", "stream", StreamName)

	return &JetStreamPublisher{js: js, logger: logger}, nil
}

// EnsureStream creates or updates the BID_EVENTS stream
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Accepted bids",
		Subjects:    []string{SubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream: %w", err)
	}
	return nil
}

// Subject returns the JetStream subject of an item
func Subject(itemID string) string {
	return SubjectPrefix + itemID
}

// PublishBid publishes the event and waits for the server acknowledgement.
// The event id is used as the message id so retries are deduplicated.
func (p *JetStreamPublisher) PublishBid(ctx context.Context, event *models.BidEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := p.js.Publish(ctx, Subject(event.AuctionItemID), data, jetstream.WithMsgID(event.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}

	p.logger.Debug("published bid event", "subject", Subject(event.AuctionItemID), "seq", ack.Sequence)
	return nil
}
