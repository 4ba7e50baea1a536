package http

import (
	"errors"
	"net/http"
	"time"

	"botstore/internal/models"
	"botstore/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const statusPollInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API sits behind the storefront's auth proxy; origin policy is
	// enforced there.
	CheckOrigin: func(*http.Request) bool { return true },
}

type statusEvent struct {
	PurchaseID     string `json:"purchaseId"`
	PaymentStatus  string `json:"paymentStatus"`
	DeliveryStatus string `json:"deliveryStatus"`
	Confirmations  int64  `json:"confirmations"`
	TxID           string `json:"txid,omitempty"`
}

// PurchaseEvents streams purchase state changes to the storefront UI. It
// polls the stored purchase row; the worker owns chain verification, so this
// feed never hits the explorer itself.
func (h *Handler) PurchaseEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "purchaseId")
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if _, err := h.Purchases.Status(r.Context(), userID, id); err != nil {
		if errors.Is(err, services.ErrPurchaseNotFound) {
			writeError(w, http.StatusNotFound, "purchase not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to open event stream")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("purchase", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	log.Info().Str("purchase", id).Msg("event stream connected")

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.StatusPollInterval
	if interval <= 0 {
		interval = statusPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last statusEvent
	for {
		purchase, err := h.Purchases.Status(r.Context(), userID, id)
		if err != nil {
			log.Warn().Err(err).Str("purchase", id).Msg("event stream status fetch failed")
			return
		}
		ev := statusEvent{
			PurchaseID:     purchase.ID,
			PaymentStatus:  string(purchase.PaymentStatus),
			DeliveryStatus: string(purchase.DeliveryStatus),
		}
		if purchase.Confirmations != nil {
			ev.Confirmations = *purchase.Confirmations
		}
		if purchase.TransactionID != nil {
			ev.TxID = *purchase.TransactionID
		}

		if ev != last {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			last = ev
		}
		if terminal(purchase.PaymentStatus) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(purchase.PaymentStatus)))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func terminal(status models.PaymentStatus) bool {
	switch status {
	case models.PaymentConfirmed, models.PaymentExpired, models.PaymentCancelled:
		return true
	}
	return false
}
