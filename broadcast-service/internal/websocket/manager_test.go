package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/toivape/nauction/shared/logging"
	"github.com/toivape/nauction/shared/models"
)

func startServer(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	manager := NewManager(logging.Discard())
	go manager.Run(ctx)

	server := httptest.NewServer(NewHandler(manager, logging.Discard()).SetupRoutes())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return manager, server
}

func dial(t *testing.T, server *httptest.Server, itemID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/items/" + itemID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	var env Envelope
	assert.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManager_BroadcastsToItemWatchers(t *testing.T) {
	manager, server := startServer(t)
	itemID, otherID := uuid.NewString(), uuid.NewString()

	watcher := dial(t, server, itemID)
	other := dial(t, server, otherID)

	welcome := readEnvelope(t, watcher)
	check.Equal(t, TypeConnected, welcome.Type)
	check.Equal(t, itemID, welcome.ItemID)
	check.NotEqual(t, "", welcome.ClientID)
	check.Equal(t, TypeConnected, readEnvelope(t, other).Type)
	check.Equal(t, 1, manager.GetSubscriberCount(itemID))

	assert.NoError(t, manager.BroadcastBid(itemID, &models.BidEvent{
		AuctionItemID: itemID,
		BidID:         "bid-1",
		CurrentPrice:  14,
	}))

	got := readEnvelope(t, watcher)
	check.Equal(t, TypeBidPlaced, got.Type)
	assert.NotNil(t, got.Event)
	check.Equal(t, "bid-1", got.Event.BidID)
	check.Equal(t, int64(14), got.Event.CurrentPrice)

	// The other item's watcher gets nothing
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := other.ReadMessage()
	check.Error(t, err)
}

func TestManager_UnregistersClosedClients(t *testing.T) {
	manager, server := startServer(t)
	itemID := uuid.NewString()

	conn := dial(t, server, itemID)
	readEnvelope(t, conn)
	check.Equal(t, 1, manager.GetSubscriberCount(itemID))

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	waitFor(t, func() bool { return manager.GetSubscriberCount(itemID) == 0 })
}

func TestManager_StopDisconnectsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	manager := NewManager(logging.Discard())
	stopped := make(chan struct{})
	go func() {
		manager.Run(ctx)
		close(stopped)
	}()
	server := httptest.NewServer(NewHandler(manager, logging.Discard()).SetupRoutes())
	defer server.Close()

	itemID := uuid.NewString()
	conn := dial(t, server, itemID)
	readEnvelope(t, conn)

	cancel()
	<-stopped

	check.Equal(t, 0, manager.GetSubscriberCount(itemID))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	check.Error(t, err)

	// Calls after stop return instead of blocking
	manager.Broadcast(itemID, []byte("{}"))
	check.False(t, manager.RegisterClient(&Client{ItemID: itemID}))
}

func TestHandler_RejectsInvalidItemID(t *testing.T) {
	_, server := startServer(t)

	resp, err := http.Get(server.URL + "/ws/items/not-a-uuid")
	assert.NoError(t, err)
	defer resp.Body.Close()

	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_Stats(t *testing.T) {
	_, server := startServer(t)
	itemID := uuid.NewString()
	readEnvelope(t, dial(t, server, itemID))

	resp, err := http.Get(server.URL + "/stats/items/" + itemID)
	assert.NoError(t, err)
	defer resp.Body.Close()

	var stats struct {
		ItemID      string `json:"itemId"`
		Subscribers int    `json:"subscribers"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	check.Equal(t, itemID, stats.ItemID)
	check.Equal(t, 1, stats.Subscribers)
}
