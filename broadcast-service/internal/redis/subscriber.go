package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/toivape/nauction/internal/events"
	"github.com/toivape/nauction/shared/models"
)

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger
}

// NewSubscriber creates a Redis Pub/Sub subscriber on an existing client
func NewSubscriber(client *redis.Client, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client: client,
		logger: logger,
	}
}

// SubscribeToAllItems subscribes to the bid events of every item and
// waits for Redis to confirm the subscription
func (s *Subscriber) SubscribeToAllItems(ctx context.Context) error {
	s.pubsub = s.client.PSubscribe(ctx, events.ChannelPrefix+"*")
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to bid events: %w", err)
	}
	return nil
}

// Listen forwards bid events to messageChan until ctx is done or the
// subscription is closed. It closes messageChan when it returns.
func (s *Subscriber) Listen(ctx context.Context, messageChan chan<- *Message) error {
	defer close(messageChan)

	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			m, err := parseMessage(msg.Channel, msg.Payload)
			if err != nil {
				s.logger.Warn("dropping bid event", "channel", msg.Channel, "error", err)
				continue
			}

			select {
			case messageChan <- m:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Message is a bid event received for one item
type Message struct {
	ItemID string
	Event  *models.BidEvent
}

func parseMessage(channel, payload string) (*Message, error) {
	itemID := extractItemIDFromChannel(channel)
	if itemID == "" {
		return nil, fmt.Errorf("unexpected channel %q", channel)
	}

	var event models.BidEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	return &Message{ItemID: itemID, Event: &event}, nil
}

// extractItemIDFromChannel extracts item ID from channel name
// Example: "bid_events:item123" -> "item123"
func extractItemIDFromChannel(channel string) string {
	itemID, ok := strings.CutPrefix(channel, events.ChannelPrefix)
	if !ok {
		return ""
	}
	return itemID
}

// Close closes the subscription. The client is owned by the caller.
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
