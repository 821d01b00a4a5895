package bidding

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound is returned when the referenced auction item does not exist
	ErrItemNotFound = errors.New("auction item not found")

	// ErrAuctionExpired is returned for bids on an item past its bidding end date
	ErrAuctionExpired = errors.New("auction item is expired")

	// ErrConcurrentBid is matched by every *ConcurrentBidError
	ErrConcurrentBid = errors.New("concurrent bid")

	// ErrDuplicateExternalID is returned when an item with the same external id exists
	ErrDuplicateExternalID = errors.New("auction item already exists")

	// ErrInvalidAmount is returned when a bid increment is below one or
	// would push the price past the largest representable amount
	ErrInvalidAmount = errors.New("bid amount must be at least 1 and keep the price in range")
)

// ConcurrentBidError means the caller's last-seen bid id is stale. The
// caller may fetch the latest bid and resubmit.
type ConcurrentBidError struct {
	Reason string
}

func (e *ConcurrentBidError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConcurrentBid, e.Reason)
}

// Is makes errors.Is(err, ErrConcurrentBid) match
func (e *ConcurrentBidError) Is(target error) bool {
	return target == ErrConcurrentBid
}

// StorageError wraps a persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
