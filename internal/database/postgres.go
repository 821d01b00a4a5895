package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/toivape/nauction/internal/store"
	"github.com/toivape/nauction/shared/models"
)

// uniqueViolation is the Postgres SQLSTATE for unique constraint failures
const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db *sql.DB
	queries
}

var _ store.Store = (*PostgresClient)(nil)

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresClient{db: db, queries: queries{q: db}}, nil
}

// InitSchema creates the necessary database tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS auction_item (
		id UUID PRIMARY KEY,
		external_id VARCHAR(255) NOT NULL UNIQUE,
		description VARCHAR(2000) NOT NULL,
		category VARCHAR(2000) NOT NULL,
		purchase_date DATE NOT NULL,
		purchase_price NUMERIC(12, 2) NOT NULL,
		bidding_end_date DATE NOT NULL,
		starting_price BIGINT NOT NULL,
		times_renewed INT NOT NULL DEFAULT 0,
		is_transferred BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bid (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		fk_auction_item_id UUID NOT NULL REFERENCES auction_item(id),
		bid_price BIGINT NOT NULL,
		bidder_email VARCHAR(255) NOT NULL,
		bid_time TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bid_event_archive (
		event_id UUID PRIMARY KEY,
		fk_auction_item_id UUID NOT NULL,
		bid_id UUID NOT NULL,
		bidder_email VARCHAR(255) NOT NULL,
		previous_price BIGINT NOT NULL,
		current_price BIGINT NOT NULL,
		event_time TIMESTAMPTZ NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_auction_item_end_date ON auction_item(bidding_end_date);
	CREATE INDEX IF NOT EXISTS idx_bid_item_time ON bid(fk_auction_item_id, bid_time, seq);
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// WithItemLock runs fn in a transaction holding a row lock on the auction
// item, so concurrent bid placements on the same item are serialised.
// A missing item, or an id that is not a UUID, takes no lock; fn still
// runs and sees no item.
func (c *PostgresClient) WithItemLock(ctx context.Context, auctionItemID string, fn store.TxFunc) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := uuid.Parse(auctionItemID); err == nil {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM auction_item WHERE id = $1 FOR UPDATE`, auctionItemID); err != nil {
			return fmt.Errorf("failed to lock auction item: %w", err)
		}
	}

	q := &queries{q: tx}
	if err := fn(ctx, q, q); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

const itemColumns = `
	ai.id,
	ai.external_id,
	ai.description,
	ai.category,
	ai.purchase_date,
	ai.purchase_price,
	ai.bidding_end_date,
	ai.starting_price,
	ai.times_renewed,
	ai.is_transferred,
	ai.created_at,
	ai.updated_at,
	COALESCE(lb.bid_price, ai.starting_price) AS current_price,
	(SELECT COUNT(*) FROM bid b WHERE b.fk_auction_item_id = ai.id) AS bid_count`

// latestBidJoin attaches the most recent bid of each item
const latestBidJoin = `
	LEFT JOIN LATERAL (
		SELECT b.bid_price
		FROM bid b
		WHERE b.fk_auction_item_id = ai.id
		ORDER BY b.bid_time DESC, b.seq DESC
		LIMIT 1
	) lb ON TRUE`

// queries implements the store contracts on top of a querier
type queries struct {
	q querier
}

// FindByID retrieves an auction item with its current price
func (s *queries) FindByID(ctx context.Context, id string) (*models.AuctionItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		// Never a valid primary key, avoid a cast error from Postgres
		return nil, nil
	}

	query := `SELECT` + itemColumns + ` FROM auction_item ai` + latestBidJoin + ` WHERE ai.id = $1`

	item, err := scanItem(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction item: %w", err)
	}
	return item, nil
}

// FindAllOpen lists items whose bidding end date is after today
func (s *queries) FindAllOpen(ctx context.Context, today time.Time) ([]*models.AuctionItem, error) {
	query := `SELECT` + itemColumns + ` FROM auction_item ai` + latestBidJoin + `
		WHERE ai.bidding_end_date > $1::date
		ORDER BY ai.bidding_end_date ASC, ai.id ASC`

	rows, err := s.q.QueryContext(ctx, query, models.Date(today))
	if err != nil {
		return nil, fmt.Errorf("failed to query open auction items: %w", err)
	}
	defer rows.Close()

	items := []*models.AuctionItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindAllAdmin lists every item for the admin view
func (s *queries) FindAllAdmin(ctx context.Context) ([]*models.AdminItem, error) {
	query := `
		SELECT
			ai.id,
			ai.external_id,
			ai.description,
			ai.bidding_end_date,
			ai.times_renewed,
			ai.is_transferred,
			COALESCE(lb.bid_price, ai.starting_price) AS current_price,
			(SELECT COUNT(*) FROM bid b WHERE b.fk_auction_item_id = ai.id) AS number_of_bids
		FROM auction_item ai` + latestBidJoin + `
		ORDER BY ai.bidding_end_date ASC, ai.id ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query admin items: %w", err)
	}
	defer rows.Close()

	items := []*models.AdminItem{}
	for rows.Next() {
		item := &models.AdminItem{}
		err := rows.Scan(
			&item.ID,
			&item.ExternalID,
			&item.Description,
			&item.BiddingEndDate,
			&item.TimesRenewed,
			&item.IsTransferred,
			&item.CurrentPrice,
			&item.NumberOfBids,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin item: %w", err)
		}
		item.BiddingEndDate = models.Date(item.BiddingEndDate)
		items = append(items, item)
	}
	return items, rows.Err()
}

// Create inserts an auction item
func (s *queries) Create(ctx context.Context, item *models.AuctionItem) error {
	query := `
		INSERT INTO auction_item
			(id, external_id, description, category, purchase_date, purchase_price,
			 bidding_end_date, starting_price, times_renewed, is_transferred, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.q.ExecContext(
		ctx,
		query,
		item.ID,
		item.ExternalID,
		item.Description,
		item.Category,
		models.Date(item.PurchaseDate),
		item.PurchasePrice,
		models.Date(item.BiddingEndDate),
		item.StartingPrice,
		item.TimesRenewed,
		item.IsTransferred,
		item.CreatedAt,
		item.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "auction_item_external_id_key" {
		return fmt.Errorf("failed to insert auction item %s: %w", item.ExternalID, store.ErrDuplicateExternalID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert auction item: %w", err)
	}
	return nil
}

// FindByAuctionItem retrieves the bid history of an item, oldest first
func (s *queries) FindByAuctionItem(ctx context.Context, auctionItemID string) ([]*models.Bid, error) {
	if _, err := uuid.Parse(auctionItemID); err != nil {
		return []*models.Bid{}, nil
	}

	query := `
		SELECT id, fk_auction_item_id, bid_price, bidder_email, bid_time
		FROM bid
		WHERE fk_auction_item_id = $1
		ORDER BY bid_time ASC, seq ASC
	`

	rows, err := s.q.QueryContext(ctx, query, auctionItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	bids := []*models.Bid{}
	for rows.Next() {
		bid := &models.Bid{}
		err := rows.Scan(
			&bid.ID,
			&bid.AuctionItemID,
			&bid.Amount,
			&bid.Bidder,
			&bid.BidTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}

	return bids, rows.Err()
}

// Append inserts a bid record into the database
func (s *queries) Append(ctx context.Context, auctionItemID, bidder string, amount int64, at time.Time) (*models.Bid, error) {
	bid := &models.Bid{
		ID:            uuid.NewString(),
		AuctionItemID: auctionItemID,
		Amount:        amount,
		Bidder:        bidder,
		BidTime:       at,
	}

	query := `
		INSERT INTO bid (id, fk_auction_item_id, bid_price, bidder_email, bid_time)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.q.ExecContext(ctx, query, bid.ID, bid.AuctionItemID, bid.Amount, bid.Bidder, bid.BidTime)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}

	return bid, nil
}

// RenewExpired extends expired auctions that never received a bid
func (s *queries) RenewExpired(ctx context.Context, today, newDeadline time.Time) (int64, error) {
	query := `
		UPDATE auction_item ai
		SET bidding_end_date = $2::date,
		    times_renewed = ai.times_renewed + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE ai.bidding_end_date < $1::date
		  AND ai.is_transferred = FALSE
		  AND NOT EXISTS (SELECT 1 FROM bid b WHERE b.fk_auction_item_id = ai.id)
	`

	result, err := s.q.ExecContext(ctx, query, models.Date(today), models.Date(newDeadline))
	if err != nil {
		return 0, fmt.Errorf("failed to renew expired auctions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*models.AuctionItem, error) {
	item := &models.AuctionItem{}
	err := row.Scan(
		&item.ID,
		&item.ExternalID,
		&item.Description,
		&item.Category,
		&item.PurchaseDate,
		&item.PurchasePrice,
		&item.BiddingEndDate,
		&item.StartingPrice,
		&item.TimesRenewed,
		&item.IsTransferred,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.CurrentPrice,
		&item.BidCount,
	)
	if err != nil {
		return nil, err
	}
	item.PurchaseDate = models.Date(item.PurchaseDate)
	item.BiddingEndDate = models.Date(item.BiddingEndDate)
	return item, nil
}
