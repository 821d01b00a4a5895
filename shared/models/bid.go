package models

import "time"

// Bid represents a single committed bid on an item.
// Amount is the absolute price the item reached with this bid.
type Bid struct {
	ID            string    `json:"id"`
	AuctionItemID string    `json:"auctionItemId"`
	Amount        int64     `json:"amount"`
	Bidder        string    `json:"bidder"`
	BidTime       time.Time `json:"bidTime"`
}

// LatestBid is the view of an item's bid stream handed to bidders.
// LastBidID doubles as the optimistic concurrency token for the next bid.
type LatestBid struct {
	AuctionItemID   string `json:"auctionItemId"`
	LastBidID       string `json:"lastBidId"`
	LastBidAmount   *int64 `json:"lastBidAmount"`
	LastBidder      string `json:"lastBidder"`
	ItemDescription string `json:"itemDescription"`
	CurrentPrice    int64  `json:"currentPrice"`
}

// NewLatestBid derives the latest bid view from an item and its ordered bids
func NewLatestBid(item *AuctionItem, bids []*Bid) *LatestBid {
	view := &LatestBid{
		AuctionItemID:   item.ID,
		ItemDescription: item.Description,
		CurrentPrice:    CurrentPrice(item, bids),
	}
	if last := LastBid(bids); last != nil {
		amount := last.Amount
		view.LastBidID = last.ID
		view.LastBidAmount = &amount
		view.LastBidder = last.Bidder
	}
	return view
}

// BidEvent represents an event that gets published when a bid is accepted
// This is sent to:
// 1. Redis Pub/Sub (for real-time WebSocket broadcast)
// 2. NATS JetStream (for durable downstream consumers)
type BidEvent struct {
	EventID       string    `json:"eventId"`
	AuctionItemID string    `json:"auctionItemId"`
	BidID         string    `json:"bidId"`
	Bidder        string    `json:"bidder"`
	Amount        int64     `json:"amount"`
	PreviousPrice int64     `json:"previousPrice"`
	CurrentPrice  int64     `json:"currentPrice"`
	Timestamp     time.Time `json:"timestamp"`
}
