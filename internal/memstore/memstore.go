// Package memstore is an in-memory implementation of store.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toivape/nauction/internal/store"
	"github.com/toivape/nauction/shared/models"
)

// Store keeps items and bids in maps guarded by a RWMutex. Per-item
// mutexes serialise units of work on the same item.
type Store struct {
	mu         sync.RWMutex
	items      map[string]*models.AuctionItem
	externalID map[string]string
	bids       map[string][]*models.Bid

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store
func New() *Store {
	return &Store{
		items:      make(map[string]*models.AuctionItem),
		externalID: make(map[string]string),
		bids:       make(map[string][]*models.Bid),
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

// SetClock replaces the clock used for update timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Put stores an item as is, bypassing the duplicate check. Meant for
// seeding fixtures such as expired or transferred items.
func (s *Store) Put(item *models.AuctionItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[cp.ID] = &cp
	s.externalID[cp.ExternalID] = cp.ID
}

// FindByID returns a copy of the item with derived price fields
func (s *Store) FindByID(ctx context.Context, id string) (*models.AuctionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return s.derive(item), nil
}

// FindAllOpen returns items with a bidding end date after today
func (s *Store) FindAllOpen(ctx context.Context, today time.Time) ([]*models.AuctionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open := make([]*models.AuctionItem, 0, len(s.items))
	for _, item := range s.items {
		if models.IsOpen(item, today) {
			open = append(open, s.derive(item))
		}
	}
	sortByDeadline(open, func(i int) (time.Time, string) { return open[i].BiddingEndDate, open[i].ID })
	return open, nil
}

// FindAllAdmin returns every item as an admin row
func (s *Store) FindAllAdmin(ctx context.Context) ([]*models.AdminItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]*models.AdminItem, 0, len(s.items))
	for _, item := range s.items {
		d := s.derive(item)
		rows = append(rows, &models.AdminItem{
			ID:             d.ID,
			ExternalID:     d.ExternalID,
			Description:    d.Description,
			BiddingEndDate: d.BiddingEndDate,
			TimesRenewed:   d.TimesRenewed,
			IsTransferred:  d.IsTransferred,
			CurrentPrice:   d.CurrentPrice,
			NumberOfBids:   d.BidCount,
		})
	}
	sortByDeadline(rows, func(i int) (time.Time, string) { return rows[i].BiddingEndDate, rows[i].ID })
	return rows, nil
}

// Create inserts a new item, rejecting duplicate external ids
func (s *Store) Create(ctx context.Context, item *models.AuctionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.externalID[item.ExternalID]; exists {
		return fmt.Errorf("create auction item %s: %w", item.ExternalID, store.ErrDuplicateExternalID)
	}
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("create auction item: id %s already in use", item.ID)
	}
	cp := *item
	s.items[cp.ID] = &cp
	s.externalID[cp.ExternalID] = cp.ID
	return nil
}

// FindByAuctionItem returns copies of the item's bids in submission order
func (s *Store) FindByAuctionItem(ctx context.Context, auctionItemID string) ([]*models.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyBids(s.bids[auctionItemID]), nil
}

// Append commits a bid immediately
func (s *Store) Append(ctx context.Context, auctionItemID, bidder string, amount int64, at time.Time) (*models.Bid, error) {
	bid := newBid(auctionItemID, bidder, amount, at)
	if err := s.commit(bid); err != nil {
		return nil, err
	}
	cp := *bid
	return &cp, nil
}

// RenewExpired extends every expired, bid-free, non-transferred item
func (s *Store) RenewExpired(ctx context.Context, today, newDeadline time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var renewed int64
	for id, item := range s.items {
		if !models.IsRenewalCandidate(item, len(s.bids[id]), today) {
			continue
		}
		item.BiddingEndDate = models.Date(newDeadline)
		item.TimesRenewed++
		item.UpdatedAt = s.now()
		renewed++
	}
	return renewed, nil
}

// WithItemLock runs fn while holding the item's mutex. Bids appended by fn
// become visible only when fn returns nil.
func (s *Store) WithItemLock(ctx context.Context, auctionItemID string, fn store.TxFunc) error {
	lock := s.itemLock(auctionItemID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txBids{Store: s, itemID: auctionItemID}
	if err := fn(ctx, s, tx); err != nil {
		return err
	}
	for _, bid := range tx.pending {
		if err := s.commit(bid); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) itemLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Store) commit(bid *models.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[bid.AuctionItemID]; !ok {
		return fmt.Errorf("append bid: auction item %s does not exist", bid.AuctionItemID)
	}
	s.bids[bid.AuctionItemID] = append(s.bids[bid.AuctionItemID], bid)
	return nil
}

// derive must be called with s.mu held.
func (s *Store) derive(item *models.AuctionItem) *models.AuctionItem {
	cp := *item
	bids := s.bids[item.ID]
	cp.CurrentPrice = models.CurrentPrice(&cp, bids)
	cp.BidCount = len(bids)
	return &cp
}

// txBids buffers appends until the unit of work succeeds. Reads see the
// buffered bids after the committed ones.
type txBids struct {
	*Store
	itemID  string
	pending []*models.Bid
}

func (t *txBids) FindByAuctionItem(ctx context.Context, auctionItemID string) ([]*models.Bid, error) {
	bids, err := t.Store.FindByAuctionItem(ctx, auctionItemID)
	if err != nil || auctionItemID != t.itemID {
		return bids, err
	}
	return append(bids, copyBids(t.pending)...), nil
}

func (t *txBids) Append(ctx context.Context, auctionItemID, bidder string, amount int64, at time.Time) (*models.Bid, error) {
	if auctionItemID != t.itemID {
		return nil, fmt.Errorf("append bid: unit of work is bound to item %s, not %s", t.itemID, auctionItemID)
	}
	bid := newBid(auctionItemID, bidder, amount, at)
	t.pending = append(t.pending, bid)
	cp := *bid
	return &cp, nil
}

func newBid(auctionItemID, bidder string, amount int64, at time.Time) *models.Bid {
	return &models.Bid{
		ID:            uuid.NewString(),
		AuctionItemID: auctionItemID,
		Amount:        amount,
		Bidder:        bidder,
		BidTime:       at,
	}
}

func copyBids(bids []*models.Bid) []*models.Bid {
	out := make([]*models.Bid, len(bids))
	for i, b := range bids {
		cp := *b
		out[i] = &cp
	}
	return out
}

func sortByDeadline[T any](rows []T, key func(i int) (time.Time, string)) {
	sort.SliceStable(rows, func(i, j int) bool {
		di, idi := key(i)
		dj, idj := key(j)
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return idi < idj
	})
}
