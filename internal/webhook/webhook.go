// Package webhook receives event batches pushed by the cloud POS and turns
// them into stop-list refreshes and throttled stock checks.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/cloudapi"
)

const (
	eventStopList      = "StopListUpdate"
	eventDeliveryOrder = "DeliveryOrderUpdate"
	eventTableOrder    = "TableOrderUpdate"

	orderClosed = "Closed"
)

// event mirrors one element of the webhook body. eventInfo.order is null when
// creationStatus is not Success.
type event struct {
	EventType      string    `json:"eventType"`
	EventTime      string    `json:"eventTime"`
	OrganizationID string    `json:"organizationId"`
	EventInfo      eventInfo `json:"eventInfo"`
}

type eventInfo struct {
	CreationStatus string     `json:"creationStatus"`
	Order          *orderInfo `json:"order"`
}

type orderInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Server handles webhook POSTs. The heavy work happens elsewhere: stop-list
// events only poke a debouncer and order events only bump a counter, so the
// handler always answers fast.
type Server struct {
	secret       string
	stopList     interface{ Trigger() }
	closedOrders func(n int) bool
	stockCheck   func(ctx context.Context)
}

func NewServer(secret string, stopList interface{ Trigger() }, closedOrders func(int) bool, stockCheck func(context.Context)) *Server {
	return &Server{secret: secret, stopList: stopList, closedOrders: closedOrders, stockCheck: stockCheck}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/iiko-webhook", s.handleWebhook)

	return r
}

type webhookResp struct {
	Processed      int  `json:"processed"`
	TriggeredCheck bool `json:"triggeredCheck"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !cloudapi.VerifyWebhookAuth(r.Header.Get("authToken"), s.secret) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid auth token"})
		return
	}

	var events []event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
		return
	}

	closed := 0
	stopListSeen := false
	for _, ev := range events {
		log.Debug().Str("type", ev.EventType).Str("org", ev.OrganizationID).
			Str("time", ev.EventTime).Msg("webhook event")

		switch ev.EventType {
		case eventStopList:
			stopListSeen = true
		case eventDeliveryOrder, eventTableOrder:
			if ev.EventInfo.Order != nil && ev.EventInfo.Order.Status == orderClosed {
				closed++
			}
		}
	}

	if stopListSeen {
		s.stopList.Trigger()
	}

	triggered := false
	if closed > 0 {
		log.Info().Int("closed", closed).Msg("webhook: closed orders received")
		if s.closedOrders(closed) {
			triggered = true
			// The check syncs balances over HTTP and fans out chat messages,
			// so it must not hold the webhook response open.
			go s.stockCheck(context.Background())
		}
	}

	writeJSON(w, http.StatusOK, webhookResp{Processed: closed, TriggeredCheck: triggered})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode webhook response")
	}
}
