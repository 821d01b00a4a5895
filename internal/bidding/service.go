// Package bidding is the bid placement and price consistency engine.
package bidding

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/toivape/nauction/internal/metrics"
	"github.com/toivape/nauction/internal/store"
	"github.com/toivape/nauction/shared/models"
)

// EventPublisher receives accepted bids after they are committed
type EventPublisher interface {
	PublishBid(ctx context.Context, event *models.BidEvent) error
}

// publishTimeout bounds publishing so a slow broker cannot hold up callers
const publishTimeout = 2 * time.Second

// Service handles the business logic for bidding operations
type Service struct {
	store     store.Store
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	location  *time.Location
}

// Option configures a Service
type Option func(*Service)

// WithPublisher sets where accepted bids are published
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the time zone that decides what "today" is
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.location = loc }
}

// NewService creates a new bidding service
func NewService(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		logger:   logger,
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time {
	return models.Date(s.now().In(s.location))
}

// PlaceBid commits a bid of bidder on an item and returns the refreshed
// latest bid view. lastBidID is the id of the bid the caller believes is
// the latest one, empty when the caller believes there are none.
//
// The first bid of an item is always recorded at the starting price. Later
// bids raise the price by amount. The whole check-and-append runs under
// the item's lock, so of two callers presenting the same lastBidID only
// one succeeds; the other gets a *ConcurrentBidError.
func (s *Service) PlaceBid(ctx context.Context, auctionItemID, bidder string, amount int64, lastBidID string) (*models.LatestBid, error) {
	var (
		view     *models.LatestBid
		accepted *models.Bid
		previous int64
	)

	err := s.store.WithItemLock(ctx, auctionItemID, func(ctx context.Context, auctions store.AuctionStore, bids store.BidStore) error {
		item, err := auctions.FindByID(ctx, auctionItemID)
		if err != nil {
			return storageError("find auction item", err)
		}
		if item == nil {
			return ErrItemNotFound
		}

		if models.IsExpired(item, s.today()) {
			return ErrAuctionExpired
		}

		existing, err := bids.FindByAuctionItem(ctx, auctionItemID)
		if err != nil {
			return storageError("find bids", err)
		}

		if err := checkLastBid(existing, lastBidID); err != nil {
			return err
		}

		if last := models.LastBid(existing); last != nil && (amount < 1 || amount > math.MaxInt64-last.Amount) {
			return ErrInvalidAmount
		}

		at := s.now().UTC()
		if last := models.LastBid(existing); last != nil && at.Before(last.BidTime) {
			at = last.BidTime
		}

		previous = models.CurrentPrice(item, existing)
		bid, err := bids.Append(ctx, auctionItemID, bidder, models.NextBidAmount(item, existing, amount), at)
		if err != nil {
			return storageError("append bid", err)
		}

		accepted = bid
		view = models.NewLatestBid(item, append(existing, bid))
		return nil
	})

	if err != nil {
		var se *StorageError
		if !errors.As(err, &se) && !isDomainError(err) {
			// Failure of the unit of work itself (begin, lock, commit)
			err = storageError("place bid", err)
		}
		s.recordRejection(auctionItemID, bidder, err)
		return nil, err
	}

	metrics.Bids.WithLabelValues(metrics.OutcomeAccepted).Inc()
	s.logger.Info("bid accepted",
		"item_id", auctionItemID,
		"bid_id", accepted.ID,
		"bidder", bidder,
		"amount", accepted.Amount,
		"previous_price", previous)

	s.publish(ctx, &models.BidEvent{
		EventID:       uuid.NewString(),
		AuctionItemID: auctionItemID,
		BidID:         accepted.ID,
		Bidder:        bidder,
		Amount:        accepted.Amount,
		PreviousPrice: previous,
		CurrentPrice:  view.CurrentPrice,
		Timestamp:     accepted.BidTime,
	})

	return view, nil
}

// checkLastBid is the optimistic concurrency check: lastBidID must name
// the current last bid, or be empty when there are no bids.
func checkLastBid(existing []*models.Bid, lastBidID string) error {
	last := models.LastBid(existing)
	switch {
	case last == nil && lastBidID != "":
		return &ConcurrentBidError{Reason: "no bid has been placed yet"}
	case last != nil && lastBidID == "":
		return &ConcurrentBidError{Reason: "this is no longer the first bid"}
	case last != nil && lastBidID != last.ID:
		return &ConcurrentBidError{Reason: "another bid was committed first"}
	}
	return nil
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrAuctionExpired) ||
		errors.Is(err, ErrConcurrentBid) ||
		errors.Is(err, ErrInvalidAmount)
}

func (s *Service) recordRejection(auctionItemID, bidder string, err error) {
	outcome := metrics.OutcomeError
	switch {
	case errors.Is(err, ErrItemNotFound):
		outcome = metrics.OutcomeNotFound
	case errors.Is(err, ErrAuctionExpired):
		outcome = metrics.OutcomeExpired
	case errors.Is(err, ErrConcurrentBid):
		outcome = metrics.OutcomeConcurrentBid
	case errors.Is(err, ErrInvalidAmount):
		outcome = metrics.OutcomeInvalidAmount
	}
	metrics.Bids.WithLabelValues(outcome).Inc()

	if outcome == metrics.OutcomeError {
		s.logger.Error("bid failed", "item_id", auctionItemID, "bidder", bidder, "error", err)
		return
	}
	s.logger.Warn("bid rejected", "item_id", auctionItemID, "bidder", bidder, "reason", err.Error())
}

// publish hands the event to the publisher. A failure does not undo the bid.
func (s *Service) publish(ctx context.Context, event *models.BidEvent) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.PublishBid(ctx, event); err != nil {
		s.logger.Warn("failed to publish bid event", "event_id", event.EventID, "item_id", event.AuctionItemID, "error", err)
	}
}

// GetLatestBid returns the latest bid view of an item, or ErrItemNotFound
func (s *Service) GetLatestBid(ctx context.Context, auctionItemID string) (*models.LatestBid, error) {
	item, err := s.store.FindByID(ctx, auctionItemID)
	if err != nil {
		return nil, storageError("find auction item", err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	bids, err := s.store.FindByAuctionItem(ctx, auctionItemID)
	if err != nil {
		return nil, storageError("find bids", err)
	}

	return models.NewLatestBid(item, bids), nil
}

// GetAuctionItem returns one item with its current price
func (s *Service) GetAuctionItem(ctx context.Context, auctionItemID string) (*models.AuctionItem, error) {
	item, err := s.store.FindByID(ctx, auctionItemID)
	if err != nil {
		return nil, storageError("find auction item", err)
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// CreateAuctionItem puts a new item up for auction. Bidding ends
// InitialBiddingMonths after today.
func (s *Service) CreateAuctionItem(ctx context.Context, req models.NewAuctionItem) (*models.AuctionItem, error) {
	now := s.now().UTC()
	item := &models.AuctionItem{
		ID:             uuid.NewString(),
		ExternalID:     req.ID,
		Description:    req.Description,
		Category:       req.Category,
		PurchaseDate:   models.Date(req.PurchaseDate),
		PurchasePrice:  req.PurchasePrice,
		BiddingEndDate: s.today().AddDate(0, models.InitialBiddingMonths, 0),
		StartingPrice:  req.StartingPrice,
		CreatedAt:      now,
		UpdatedAt:      now,
		CurrentPrice:   req.StartingPrice,
	}

	if err := s.store.Create(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicateExternalID) {
			s.logger.Warn("auction item already exists", "external_id", req.ID)
			return nil, ErrDuplicateExternalID
		}
		s.logger.Error("failed to create auction item", "external_id", req.ID, "error", err)
		return nil, storageError("create auction item", err)
	}

	s.logger.Info("created auction item",
		"item_id", item.ID,
		"external_id", item.ExternalID,
		"starting_price", item.StartingPrice,
		"bidding_end_date", item.BiddingEndDate.Format(time.DateOnly))
	return item, nil
}

// ListOpenAuctions returns items still open for bidding, earliest deadline first
func (s *Service) ListOpenAuctions(ctx context.Context) ([]*models.AuctionItem, error) {
	items, err := s.store.FindAllOpen(ctx, s.today())
	if err != nil {
		return nil, storageError("list open auction items", err)
	}
	return items, nil
}

// ListAdminItems returns every item with its renewal and bid statistics
func (s *Service) ListAdminItems(ctx context.Context) ([]*models.AdminItem, error) {
	items, err := s.store.FindAllAdmin(ctx)
	if err != nil {
		return nil, storageError("list admin items", err)
	}
	return items, nil
}
