// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bid outcome label values
const (
	OutcomeAccepted      = "accepted"
	OutcomeNotFound      = "not_found"
	OutcomeExpired       = "expired"
	OutcomeConcurrentBid = "concurrent_bid"
	OutcomeInvalidAmount = "invalid_amount"
	OutcomeError         = "error"
)

var (
	// Bids counts bid placement attempts by outcome
	Bids = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nauction",
			Name:      "bids_total",
			Help:      "Bid placement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RenewedAuctions counts auction items extended by the renewal sweep
	RenewedAuctions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nauction",
			Name:      "renewed_auctions_total",
			Help:      "Auction items extended by the renewal sweep.",
		})

	// HTTPRequests counts API requests by method, route template and status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nauction",
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the API gateway.",
		},
		[]string{"method", "route", "status"},
	)

	// WebSocketClients is the number of connected live-update clients
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nauction",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		})

	// BroadcastMessages counts bid events delivered to WebSocket clients
	BroadcastMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nauction",
			Name:      "broadcast_messages_total",
			Help:      "Bid events written to WebSocket client queues.",
		})

	// RenewalRuns counts scheduled renewal runs by result
	RenewalRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nauction",
			Name:      "renewal_runs_total",
			Help:      "Scheduled renewal runs by result.",
		},
		[]string{"result"},
	)
)
