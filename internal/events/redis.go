package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toivape/nauction/shared/models"
)

// ChannelPrefix prefixes the per-item Redis Pub/Sub channel: bid_events:{itemID}
const ChannelPrefix = "bid_events:"

// NewRedisClient creates a Redis client and checks the connection
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// RedisPublisher publishes accepted bids to Redis Pub/Sub.
// The broadcast service picks them up for real-time WebSocket updates.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher creates a publisher on an existing client
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Channel returns the Pub/Sub channel of an item
func Channel(itemID string) string {
	return ChannelPrefix + itemID
}

// PublishBid publishes the event on the item's channel
func (p *RedisPublisher) PublishBid(ctx context.Context, event *models.BidEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, Channel(event.AuctionItemID), eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}
	return nil
}
