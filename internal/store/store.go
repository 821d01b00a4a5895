// Package store defines how the bidding core reads and writes auction
// items and bids. Whether the data lives in Postgres or in memory is an
// implementation detail the core does not know about.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/toivape/nauction/shared/models"
)

// ErrDuplicateExternalID is returned by Create when another item already
// uses the external id.
var ErrDuplicateExternalID = errors.New("external id already exists")

// AuctionStore gives access to auction item records.
type AuctionStore interface {
	// FindByID returns the item, or nil without error when it does not exist.
	FindByID(ctx context.Context, id string) (*models.AuctionItem, error)

	// FindAllOpen returns items whose bidding end date is after today,
	// ordered by bidding end date ascending.
	FindAllOpen(ctx context.Context, today time.Time) ([]*models.AuctionItem, error)

	// FindAllAdmin returns every item ordered by bidding end date ascending.
	FindAllAdmin(ctx context.Context) ([]*models.AdminItem, error)

	// Create inserts a new item.
	Create(ctx context.Context, item *models.AuctionItem) error
}

// BidStore is the append-only bid ledger.
type BidStore interface {
	// FindByAuctionItem returns the bids of an item in submission order.
	FindByAuctionItem(ctx context.Context, auctionItemID string) ([]*models.Bid, error)

	// Append commits a new bid and returns it with its assigned id.
	Append(ctx context.Context, auctionItemID, bidder string, amount int64, at time.Time) (*models.Bid, error)

	// RenewExpired moves the bidding end date of every expired, bid-free,
	// non-transferred item to newDeadline and bumps its renewal counter.
	// It returns the number of renewed items.
	RenewExpired(ctx context.Context, today, newDeadline time.Time) (int64, error)
}

// TxFunc is the body of a unit of work. The stores it receives are bound
// to the unit of work.
type TxFunc func(ctx context.Context, auctions AuctionStore, bids BidStore) error

// Transactor runs units of work with exclusive access to one item's bid
// stream: no other WithItemLock call for the same item can commit while fn
// runs. Returning an error from fn discards its writes.
type Transactor interface {
	WithItemLock(ctx context.Context, auctionItemID string, fn TxFunc) error
}

// Store bundles everything the bidding core needs.
type Store interface {
	AuctionStore
	BidStore
	Transactor
}
