package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionItem represents an auction item
type AuctionItem struct {
	ID             string          `json:"id"`
	ExternalID     string          `json:"externalId"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	PurchaseDate   time.Time       `json:"purchaseDate"`
	PurchasePrice  decimal.Decimal `json:"purchasePrice"`
	BiddingEndDate time.Time       `json:"biddingEndDate"`
	StartingPrice  int64           `json:"startingPrice"`
	TimesRenewed   int             `json:"timesRenewed"`
	IsTransferred  bool            `json:"isTransferred"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`

	// Derived from the bid ledger when the item is read
	CurrentPrice int64 `json:"currentPrice"`
	BidCount     int   `json:"bidCount"`
}

// NewAuctionItem is the data needed to put a new item up for auction.
// ID is the external (business) id, unique across all items.
type NewAuctionItem struct {
	ID            string
	Description   string
	Category      string
	PurchaseDate  time.Time
	PurchasePrice decimal.Decimal
	StartingPrice int64
}

// AdminItem is a row of the administrative item listing
type AdminItem struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"externalId"`
	Description    string    `json:"description"`
	BiddingEndDate time.Time `json:"biddingEndDate"`
	TimesRenewed   int       `json:"timesRenewed"`
	IsTransferred  bool      `json:"isTransferred"`
	CurrentPrice   int64     `json:"currentPrice"`
	NumberOfBids   int       `json:"numberOfBids"`
}

// Bidding periods
const (
	InitialBiddingMonths = 3
	RenewalPeriodDays    = 30
)
