package database

import (
	"context"
	"fmt"

	"github.com/toivape/nauction/shared/models"
)

// ArchiveBidEvent records a published bid event. Redelivered events are
// ignored, so the archive holds each event once. It reports whether the
// event was new.
func (c *PostgresClient) ArchiveBidEvent(ctx context.Context, event *models.BidEvent) (bool, error) {
	query := `
		INSERT INTO bid_event_archive
			(event_id, fk_auction_item_id, bid_id, bidder_email, previous_price, current_price, event_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	result, err := c.db.ExecContext(ctx, query,
		event.EventID,
		event.AuctionItemID,
		event.BidID,
		event.Bidder,
		event.PreviousPrice,
		event.CurrentPrice,
		event.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("failed to archive bid event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}
