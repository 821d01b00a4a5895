// Package events delivers accepted bids to the systems that follow them:
// Redis Pub/Sub for live updates and NATS JetStream for durable consumers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/toivape/nauction/shared/models"
)

// Publisher delivers one bid event
type Publisher interface {
	PublishBid(ctx context.Context, event *models.BidEvent) error
}

// Fanout publishes every event to all sinks concurrently and joins their errors
type Fanout []Publisher

// PublishBid publishes to every sink; one failing sink does not stop the others
func (f Fanout) PublishBid(ctx context.Context, event *models.BidEvent) error {
	errs := make([]error, len(f))
	var wg sync.WaitGroup
	for i, p := range f {
		wg.Add(1)
		go func(i int, p Publisher) {
			defer wg.Done()
			errs[i] = p.PublishBid(ctx, event)
		}(i, p)
	}
	wg.Wait()
	return errors.Join(errs...)
}
