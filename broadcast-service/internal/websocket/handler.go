package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development (use proper CORS in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// SetupRoutes configures WebSocket routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// WebSocket endpoint: /ws/items/{id}
	router.HandleFunc("/ws/items/{id}", h.HandleWebSocket)

	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/stats/items/{id}", h.GetStats).Methods(http.MethodGet)

	return router
}

// HandleWebSocket upgrades HTTP connection to WebSocket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(itemID); err != nil {
		http.Error(w, "Item ID is invalid", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "item_id", itemID, "error", err)
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		ItemID: itemID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
	}

	// Queue the welcome frame first; Send is closed once the client unregisters
	welcome, _ := json.Marshal(Envelope{Type: TypeConnected, ItemID: itemID, ClientID: client.ID})
	client.Send <- welcome

	if !h.manager.RegisterClient(client) {
		conn.Close()
		return
	}

	go client.readPump(h.manager)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy", "service": "broadcast-service"})
}

// GetStats returns statistics for an item
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]
	writeJSON(w, map[string]any{
		"itemId":      itemID,
		"subscribers": h.manager.GetSubscriberCount(itemID),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
