package models

import "time"

// LastBid returns the most recent bid of an ordered bid list, or nil.
func LastBid(bids []*Bid) *Bid {
	if len(bids) == 0 {
		return nil
	}
	return bids[len(bids)-1]
}

// CurrentPrice is the price of the item after its bids.
// Bids carry absolute prices, so the last one wins; without bids the
// starting price applies.
func CurrentPrice(item *AuctionItem, bids []*Bid) int64 {
	if last := LastBid(bids); last != nil {
		return last.Amount
	}
	return item.StartingPrice
}

// NextBidAmount is the absolute amount recorded for a bid raising the
// current price by increment. The first bid always locks in the starting
// price and ignores increment.
func NextBidAmount(item *AuctionItem, bids []*Bid, increment int64) int64 {
	last := LastBid(bids)
	if last == nil {
		return item.StartingPrice
	}
	return last.Amount + increment
}

// Date truncates t to its calendar date (midnight UTC of t's year, month
// and day in t's own location).
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsExpired reports whether the bidding end date is before asOf.
func IsExpired(item *AuctionItem, asOf time.Time) bool {
	return Date(item.BiddingEndDate).Before(Date(asOf))
}

// IsOpen reports whether the bidding end date is after asOf.
func IsOpen(item *AuctionItem, asOf time.Time) bool {
	return Date(item.BiddingEndDate).After(Date(asOf))
}

// IsRenewalCandidate reports whether the renewal sweep extends the item
func IsRenewalCandidate(item *AuctionItem, bidCount int, asOf time.Time) bool {
	return bidCount == 0 && !item.IsTransferred && IsExpired(item, asOf)
}
