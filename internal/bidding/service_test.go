package bidding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/toivape/nauction/internal/memstore"
	"github.com/toivape/nauction/internal/store"
	"github.com/toivape/nauction/shared/logging"
	"github.com/toivape/nauction/shared/models"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.BidEvent
	err    error
}

func (f *fakePublisher) PublishBid(ctx context.Context, event *models.BidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// failingStore fails every unit of work and bulk update
type failingStore struct {
	*memstore.Store
	err error
}

func (f failingStore) WithItemLock(ctx context.Context, id string, fn store.TxFunc) error {
	return f.err
}

func (f failingStore) RenewExpired(ctx context.Context, today, newDeadline time.Time) (int64, error) {
	return 0, f.err
}

func (f failingStore) Create(ctx context.Context, item *models.AuctionItem) error {
	return f.err
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memstore.Store, *fakePublisher) {
	t.Helper()
	st := memstore.New()
	st.SetClock(func() time.Time { return now })
	pub := &fakePublisher{}
	opts = append([]Option{WithClock(func() time.Time { return now }), WithPublisher(pub)}, opts...)
	return NewService(st, logging.Discard(), opts...), st, pub
}

func seedItem(t *testing.T, st *memstore.Store, startingPrice int64, deadline time.Time) *models.AuctionItem {
	t.Helper()
	item := &models.AuctionItem{
		ID:             uuid.NewString(),
		ExternalID:     uuid.NewString(),
		Description:    "Espresso machine",
		Category:       "Kitchen",
		PurchaseDate:   models.Date(now.AddDate(-2, 0, 0)),
		PurchasePrice:  decimal.NewFromInt(300),
		BiddingEndDate: models.Date(deadline),
		StartingPrice:  startingPrice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	st.Put(item)
	return item
}

func TestPlaceBid_FirstBidLocksStartingPrice(t *testing.T) {
	svc, st, pub := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 42, now.AddDate(0, 0, 7))

	view, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, "")
	assert.NoError(t, err)
	assert.NotNil(t, view.LastBidAmount)
	check.Equal(t, int64(42), *view.LastBidAmount)
	check.Equal(t, int64(42), view.CurrentPrice)
	check.Equal(t, "bob@example.com", view.LastBidder)
	check.NotEqual(t, "", view.LastBidID)

	latest, err := svc.GetLatestBid(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, view.LastBidID, latest.LastBidID)
	check.Equal(t, int64(42), *latest.LastBidAmount)

	assert.Equal(t, 1, len(pub.events))
	check.Equal(t, view.LastBidID, pub.events[0].BidID)
	check.Equal(t, int64(42), pub.events[0].PreviousPrice)
	check.Equal(t, int64(42), pub.events[0].CurrentPrice)
}

func TestPlaceBid_FirstBidIgnoresProposedAmount(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	for _, proposed := range []int64{-5, 0, 1, 99, 1_000_000} {
		item := seedItem(t, st, 42, now.AddDate(0, 0, 7))
		view, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", proposed, "")
		assert.NoError(t, err)
		check.Equal(t, int64(42), *view.LastBidAmount)
	}
}

func TestPlaceBid_FirstBidWithTokenIsConcurrent(t *testing.T) {
	svc, st, pub := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 42, now.AddDate(0, 0, 7))

	_, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, uuid.NewString())
	check.True(t, errors.Is(err, ErrConcurrentBid))

	var cbe *ConcurrentBidError
	check.True(t, errors.As(err, &cbe))

	bids, _ := st.FindByAuctionItem(ctx, item.ID)
	check.Equal(t, 0, len(bids))
	check.Equal(t, 0, len(pub.events))
}

func TestPlaceBid_SubsequentBids(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 5, now.AddDate(0, 0, 7))

	first, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, "")
	assert.NoError(t, err)
	check.Equal(t, int64(5), *first.LastBidAmount)

	_, err = svc.PlaceBid(ctx, item.ID, "alice@example.com", 9, "")
	check.True(t, errors.Is(err, ErrConcurrentBid))
	check.Equal(t, "concurrent bid: this is no longer the first bid", err.Error())

	_, err = svc.PlaceBid(ctx, item.ID, "alice@example.com", 9, uuid.NewString())
	check.True(t, errors.Is(err, ErrConcurrentBid))
	check.Equal(t, "concurrent bid: another bid was committed first", err.Error())

	second, err := svc.PlaceBid(ctx, item.ID, "alice@example.com", 9, first.LastBidID)
	assert.NoError(t, err)
	check.Equal(t, int64(14), *second.LastBidAmount)
	check.Equal(t, int64(14), second.CurrentPrice)
	check.Equal(t, "alice@example.com", second.LastBidder)

	// The first token is stale now
	_, err = svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, first.LastBidID)
	check.True(t, errors.Is(err, ErrConcurrentBid))
}

func TestPlaceBid_InvalidIncrement(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 5, now.AddDate(0, 0, 7))

	first, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, "")
	assert.NoError(t, err)

	_, err = svc.PlaceBid(ctx, item.ID, "alice@example.com", 0, first.LastBidID)
	check.True(t, errors.Is(err, ErrInvalidAmount))

	latest, err := svc.GetLatestBid(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, first.LastBidID, latest.LastBidID)
}

func TestPlaceBid_IncrementOverflow(t *testing.T) {
	svc, st, pub := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 10, now.AddDate(0, 0, 7))

	first, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, "")
	assert.NoError(t, err)

	_, err = svc.PlaceBid(ctx, item.ID, "alice@example.com", math.MaxInt64, first.LastBidID)
	check.True(t, errors.Is(err, ErrInvalidAmount))

	latest, err := svc.GetLatestBid(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, first.LastBidID, latest.LastBidID)
	check.Equal(t, int64(10), latest.CurrentPrice)
	check.Equal(t, 1, len(pub.events))

	// The largest increment that still fits is accepted
	top, err := svc.PlaceBid(ctx, item.ID, "alice@example.com", math.MaxInt64-10, first.LastBidID)
	assert.NoError(t, err)
	check.Equal(t, int64(math.MaxInt64), top.CurrentPrice)
}

func TestPlaceBid_ItemNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.PlaceBid(context.Background(), uuid.NewString(), "bob@example.com", 1, "")
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestPlaceBid_ExpiredAlwaysFails(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 5, now.AddDate(0, 0, 7))

	first, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", 1, "")
	assert.NoError(t, err)

	// Move the clock past the deadline; the token is still correct
	later := now.AddDate(0, 0, 8)
	expiredSvc := NewService(st, logging.Discard(), WithClock(func() time.Time { return later }))

	_, err = expiredSvc.PlaceBid(ctx, item.ID, "alice@example.com", 3, first.LastBidID)
	check.True(t, errors.Is(err, ErrAuctionExpired))

	fresh := seedItem(t, st, 5, now.AddDate(0, 0, 7))
	_, err = expiredSvc.PlaceBid(ctx, fresh.ID, "alice@example.com", 3, "")
	check.True(t, errors.Is(err, ErrAuctionExpired))
}

func TestPlaceBid_DeadlineDayStillAcceptsBids(t *testing.T) {
	svc, st, _ := newTestService(t)
	item := seedItem(t, st, 5, now)

	_, err := svc.PlaceBid(context.Background(), item.ID, "bob@example.com", 1, "")
	check.NoError(t, err)
}

func TestPlaceBid_UsesItemTimeZoneForToday(t *testing.T) {
	helsinki := time.FixedZone("EET", 2*60*60)
	// 23:30 UTC on the 10th is already the 11th in Helsinki
	lateEvening := time.Date(2024, 5, 10, 23, 30, 0, 0, time.UTC)
	st := memstore.New()
	svc := NewService(st, logging.Discard(),
		WithClock(func() time.Time { return lateEvening }),
		WithLocation(helsinki))
	item := seedItem(t, st, 5, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))

	_, err := svc.PlaceBid(context.Background(), item.ID, "bob@example.com", 1, "")
	check.True(t, errors.Is(err, ErrAuctionExpired))
}

func TestPlaceBid_PriceIsMonotonic(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 10, now.AddDate(0, 0, 7))

	token := ""
	previous := item.StartingPrice
	for i := int64(1); i <= 25; i++ {
		view, err := svc.PlaceBid(ctx, item.ID, "bob@example.com", i%4+1, token)
		assert.NoError(t, err)
		check.True(t, view.CurrentPrice >= previous)
		previous = view.CurrentPrice
		token = view.LastBidID
	}

	bids, _ := st.FindByAuctionItem(ctx, item.ID)
	for i := 1; i < len(bids); i++ {
		check.False(t, bids[i].BidTime.Before(bids[i-1].BidTime))
	}
}

func TestPlaceBid_ConcurrentSameTokenSingleWinner(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	for _, withPriorBid := range []bool{false, true} {
		item := seedItem(t, st, 10, now.AddDate(0, 0, 7))
		token := ""
		if withPriorBid {
			view, err := svc.PlaceBid(ctx, item.ID, "seed@example.com", 1, "")
			assert.NoError(t, err)
			token = view.LastBidID
		}

		const callers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		start := make(chan struct{})
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.PlaceBid(ctx, item.ID, "racer@example.com", 5, token)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrConcurrentBid):
					conflicts++
				}
			}()
		}
		close(start)
		wg.Wait()

		check.Equal(t, 1, successes)
		check.Equal(t, callers-1, conflicts)
	}
}

func TestPlaceBid_PublishFailureDoesNotFailBid(t *testing.T) {
	svc, st, pub := newTestService(t)
	pub.err = errors.New("broker down")
	item := seedItem(t, st, 10, now.AddDate(0, 0, 7))

	view, err := svc.PlaceBid(context.Background(), item.ID, "bob@example.com", 1, "")
	check.NoError(t, err)
	check.NotNil(t, view)
}

func TestPlaceBid_StorageFailure(t *testing.T) {
	boom := errors.New("connection reset")
	svc := NewService(failingStore{Store: memstore.New(), err: boom}, logging.Discard())

	_, err := svc.PlaceBid(context.Background(), uuid.NewString(), "bob@example.com", 1, "")
	var se *StorageError
	check.True(t, errors.As(err, &se))
	check.True(t, errors.Is(err, boom))
}

func TestGetLatestBid(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	item := seedItem(t, st, 42, now.AddDate(0, 0, 7))

	view, err := svc.GetLatestBid(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, "", view.LastBidID)
	check.Nil(t, view.LastBidAmount)
	check.Equal(t, int64(42), view.CurrentPrice)
	check.Equal(t, "Espresso machine", view.ItemDescription)

	_, err = svc.GetLatestBid(ctx, uuid.NewString())
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestCreateAuctionItem(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := models.NewAuctionItem{
		ID:            "LAPTOP-001",
		Description:   "Laptop",
		Category:      "Computers",
		PurchaseDate:  time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
		PurchasePrice: decimal.RequireFromString("1499.00"),
		StartingPrice: 100,
	}

	item, err := svc.CreateAuctionItem(ctx, req)
	assert.NoError(t, err)
	check.Equal(t, "LAPTOP-001", item.ExternalID)
	check.Equal(t, time.Date(2024, 8, 10, 0, 0, 0, 0, time.UTC), item.BiddingEndDate)
	check.Equal(t, int64(100), item.CurrentPrice)

	stored, err := svc.GetAuctionItem(ctx, item.ID)
	assert.NoError(t, err)
	check.Equal(t, item.ID, stored.ID)
	check.True(t, stored.PurchasePrice.Equal(req.PurchasePrice))

	_, err = svc.CreateAuctionItem(ctx, req)
	check.True(t, errors.Is(err, ErrDuplicateExternalID))

	_, err = svc.GetAuctionItem(ctx, uuid.NewString())
	check.True(t, errors.Is(err, ErrItemNotFound))
}

func TestCreateAuctionItem_StorageFailure(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewService(failingStore{Store: memstore.New(), err: boom}, logging.Discard())

	_, err := svc.CreateAuctionItem(context.Background(), models.NewAuctionItem{ID: "x"})
	var se *StorageError
	check.True(t, errors.As(err, &se))
	check.False(t, errors.Is(err, ErrDuplicateExternalID))
}

func TestListOpenAuctions(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	later := seedItem(t, st, 1, now.AddDate(0, 0, 9))
	sooner := seedItem(t, st, 1, now.AddDate(0, 0, 2))
	seedItem(t, st, 1, now.AddDate(0, 0, -2))

	items, err := svc.ListOpenAuctions(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(items))
	check.Equal(t, sooner.ID, items[0].ID)
	check.Equal(t, later.ID, items[1].ID)

	admin, err := svc.ListAdminItems(ctx)
	assert.NoError(t, err)
	check.Equal(t, 3, len(admin))
}
