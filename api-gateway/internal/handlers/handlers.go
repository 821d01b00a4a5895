package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/toivape/nauction/internal/bidding"
	"github.com/toivape/nauction/shared/models"
)

// BiddingService is the part of bidding.Service the API exposes
type BiddingService interface {
	PlaceBid(ctx context.Context, auctionItemID, bidder string, amount int64, lastBidID string) (*models.LatestBid, error)
	GetLatestBid(ctx context.Context, auctionItemID string) (*models.LatestBid, error)
	GetAuctionItem(ctx context.Context, auctionItemID string) (*models.AuctionItem, error)
	CreateAuctionItem(ctx context.Context, req models.NewAuctionItem) (*models.AuctionItem, error)
	ListOpenAuctions(ctx context.Context) ([]*models.AuctionItem, error)
	ListAdminItems(ctx context.Context) ([]*models.AdminItem, error)
	RunRenewalSweep(ctx context.Context) (int64, error)
}

// Handler contains HTTP request handlers
type Handler struct {
	biddingService BiddingService
	logger         *slog.Logger
	validate       *validator.Validate
}

// NewHandler creates a new HTTP handler
func NewHandler(biddingService BiddingService, logger *slog.Logger) *Handler {
	return &Handler{
		biddingService: biddingService,
		logger:         logger,
		validate:       newValidator(),
	}
}

// SetupRoutes configures all HTTP routes. CORS wraps the router so
// preflight requests are answered before method matching.
func (h *Handler) SetupRoutes() http.Handler {
	router := mux.NewRouter()

	// Health check and metrics
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API routes
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auctionitems", h.ListOpenAuctions).Methods(http.MethodGet)
	api.HandleFunc("/auctionitems", h.CreateAuctionItem).Methods(http.MethodPost)
	api.HandleFunc("/auctionitems/{id}", h.GetAuctionItem).Methods(http.MethodGet)
	api.HandleFunc("/auctionitems/{id}/latestbid", h.GetLatestBid).Methods(http.MethodGet)
	api.HandleFunc("/auctionitems/{id}/bids", h.PlaceBid).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/auctionitems", h.ListAdminItems).Methods(http.MethodGet)
	admin.HandleFunc("/renewals", h.RunRenewalSweep).Methods(http.MethodPost)

	router.Use(loggingMiddleware(h.logger))

	return corsMiddleware(router)
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "api-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// ListOpenAuctions lists items open for bidding
func (h *Handler) ListOpenAuctions(w http.ResponseWriter, r *http.Request) {
	items, err := h.biddingService.ListOpenAuctions(r.Context())
	if err != nil {
		h.logger.Error("failed to list open auctions", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list auction items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// CreateAuctionItem handles new auction items
func (h *Handler) CreateAuctionItem(w http.ResponseWriter, r *http.Request) {
	var req createAuctionItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	purchaseDate, err := time.Parse(time.DateOnly, req.PurchaseDate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "purchaseDate is invalid")
		return
	}
	if req.PurchasePrice.IsNegative() {
		respondError(w, http.StatusBadRequest, "purchasePrice must not be negative")
		return
	}

	item, err := h.biddingService.CreateAuctionItem(r.Context(), models.NewAuctionItem{
		ID:            req.ID,
		Description:   req.Description,
		Category:      req.Category,
		PurchaseDate:  purchaseDate,
		PurchasePrice: *req.PurchasePrice,
		StartingPrice: *req.StartingPrice,
	})

	switch {
	case errors.Is(err, bidding.ErrDuplicateExternalID):
		respondError(w, http.StatusBadRequest, "Can't create auction item. Item already exists with external id "+req.ID+".")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to add new auction item")
	default:
		w.Header().Set("Location", "/api/auctionitems/"+item.ID)
		respondJSON(w, http.StatusCreated, item)
	}
}

// GetAuctionItem returns one auction item
func (h *Handler) GetAuctionItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	item, err := h.biddingService.GetAuctionItem(r.Context(), itemID)
	switch {
	case errors.Is(err, bidding.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "Auction item not found")
	case err != nil:
		h.logger.Error("failed to get auction item", "item_id", itemID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve item")
	default:
		respondJSON(w, http.StatusOK, item)
	}
}

// GetLatestBid returns the latest bid view, whose lastBidId is the token
// for the next bid
func (h *Handler) GetLatestBid(w http.ResponseWriter, r *http.Request) {
	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	latest, err := h.biddingService.GetLatestBid(r.Context(), itemID)
	switch {
	case errors.Is(err, bidding.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "Auction item not found")
	case err != nil:
		h.logger.Error("failed to get latest bid", "item_id", itemID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve latest bid")
	default:
		respondJSON(w, http.StatusOK, latest)
	}
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	var req bidRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.logger.Info("new bid", "item_id", itemID, "bidder", req.Bidder, "amount", *req.Amount, "last_bid_id", req.LastBidID)

	latest, err := h.biddingService.PlaceBid(r.Context(), itemID, req.Bidder, *req.Amount, req.LastBidID)

	var concurrent *bidding.ConcurrentBidError
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, latest)
	case errors.Is(err, bidding.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "Auction item not found")
	case errors.As(err, &concurrent):
		respondError(w, http.StatusConflict, concurrent.Error())
	case errors.Is(err, bidding.ErrAuctionExpired), errors.Is(err, bidding.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Failed to place bid")
	}
}

// ListAdminItems lists every item with renewal and bid statistics
func (h *Handler) ListAdminItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.biddingService.ListAdminItems(r.Context())
	if err != nil {
		h.logger.Error("failed to list admin items", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list auction items")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// RunRenewalSweep triggers the renewal sweep outside its schedule
func (h *Handler) RunRenewalSweep(w http.ResponseWriter, r *http.Request) {
	renewed, err := h.biddingService.RunRenewalSweep(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to renew expired auctions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"renewed": renewed})
}

// decode parses and validates a JSON body, answering 400 when it is not usable
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func itemIDFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	itemID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(itemID); err != nil {
		respondError(w, http.StatusBadRequest, "Auction item id is invalid")
		return "", false
	}
	return itemID, true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
