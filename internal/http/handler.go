package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"botstore/internal/models"
	"botstore/internal/payments"
	"botstore/internal/pricing"
	"botstore/internal/services"
	"botstore/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Handler struct {
	Purchases           *services.PurchaseService
	PriceUpdateInterval time.Duration
	StatusPollInterval  time.Duration // zero means the default
}

func NewHandler(purchases *services.PurchaseService, priceUpdateInterval time.Duration) *Handler {
	return &Handler{Purchases: purchases, PriceUpdateInterval: priceUpdateInterval}
}

type createPurchaseRequest struct {
	Plan string `json:"plan"`
}

type purchaseResponse struct {
	ID                  string          `json:"id"`
	Plan                string          `json:"plan"`
	DashAddress         string          `json:"dashAddress"`
	DashAmount          decimal.Decimal `json:"dashAmount"`
	DashPriceUSD        decimal.Decimal `json:"dashPriceUSD"`
	PaymentStatus       string          `json:"paymentStatus"`
	DeliveryStatus      string          `json:"deliveryStatus"`
	Confirmations       int64           `json:"confirmations"`
	ExpiresAt           string          `json:"expiresAt"`
	CreatedAt           string          `json:"createdAt"`
	TxID                string          `json:"txid,omitempty"`
	PriceUpdateInterval int             `json:"priceUpdateInterval,omitempty"`
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req createPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	userID := r.Header.Get("X-User-Id")
	email := r.Header.Get("X-User-Email")
	meta := services.RequestMeta{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}

	purchase, err := h.Purchases.Create(r.Context(), userID, email, req.Plan, meta)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingUser):
			writeError(w, http.StatusUnauthorized, "unauthorized")
		case errors.Is(err, services.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, "invalid plan")
		case errors.Is(err, services.ErrPurchaseLimit):
			writeError(w, http.StatusConflict, "complete or cancel your pending purchase first")
		case errors.Is(err, pricing.ErrAllSourcesUnavailable):
			writeError(w, http.StatusServiceUnavailable, "price feeds unavailable, try again later")
		case errors.Is(err, wallet.ErrAllocationFailed), errors.Is(err, wallet.ErrKeyUnavailable):
			log.Error().Err(err).Msg("address allocation failed")
			writeError(w, http.StatusInternalServerError, "failed to create purchase")
		default:
			log.Error().Err(err).Msg("create purchase failed")
			writeError(w, http.StatusInternalServerError, "failed to create purchase")
		}
		return
	}

	resp := toPurchaseResponse(purchase)
	resp.PriceUpdateInterval = int(h.PriceUpdateInterval / time.Second)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "purchase": resp})
}

func (h *Handler) PurchaseStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "purchaseId")
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	purchase, err := h.Purchases.Status(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, services.ErrPurchaseNotFound) {
			writeError(w, http.StatusNotFound, "purchase not found")
			return
		}
		log.Error().Err(err).Str("purchase", id).Msg("purchase status failed")
		writeError(w, http.StatusInternalServerError, "failed to fetch purchase status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "purchase": toPurchaseResponse(purchase)})
}

func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	plan := r.URL.Query().Get("plan")
	quote, err := h.Purchases.Quote(r.Context(), plan)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, "invalid plan specified")
		case errors.Is(err, pricing.ErrAllSourcesUnavailable):
			writeError(w, http.StatusServiceUnavailable, "price feeds unavailable, try again later")
		default:
			log.Error().Err(err).Msg("price quote failed")
			writeError(w, http.StatusInternalServerError, "failed to fetch price")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plan": plan, "pricing": quote})
}

type cancelRequest struct {
	PurchaseID string `json:"purchaseId"`
}

func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PurchaseID == "" {
		writeError(w, http.StatusBadRequest, "purchase id is required")
		return
	}
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	purchase, err := h.Purchases.Cancel(r.Context(), userID, req.PurchaseID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPurchaseNotFound):
			writeError(w, http.StatusNotFound, "purchase not found")
		case errors.Is(err, services.ErrNotCancellable):
			writeError(w, http.StatusBadRequest, "this purchase cannot be cancelled")
		default:
			log.Error().Err(err).Str("purchase", req.PurchaseID).Msg("cancel failed")
			writeError(w, http.StatusInternalServerError, "failed to cancel purchase")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "purchase": toPurchaseResponse(purchase)})
}

type verifyRequest struct {
	PurchaseID string `json:"purchaseId"`
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PurchaseID == "" {
		writeError(w, http.StatusBadRequest, "purchase id is required")
		return
	}

	outcome, err := h.Purchases.Verify(r.Context(), req.PurchaseID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrPurchaseNotFound):
			writeError(w, http.StatusNotFound, "purchase not found")
		case errors.Is(err, payments.ErrVerificationFailed):
			log.Error().Err(err).Str("purchase", req.PurchaseID).Msg("verification failed upstream")
			writeError(w, http.StatusBadGateway, "payment verification temporarily unavailable")
		default:
			log.Error().Err(err).Str("purchase", req.PurchaseID).Msg("verification failed")
			writeError(w, http.StatusInternalServerError, "payment verification failed")
		}
		return
	}

	success := outcome.Status == string(models.PaymentConfirmed) || outcome.Status == "already_confirmed"
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      success,
		"status":       outcome.Status,
		"verification": outcome.Result,
	})
}

func toPurchaseResponse(p *models.Purchase) purchaseResponse {
	resp := purchaseResponse{
		ID:             p.ID,
		Plan:           p.PlanName,
		DashAddress:    p.DashAddress,
		DashAmount:     p.DashAmount,
		DashPriceUSD:   p.DashPriceUSD,
		PaymentStatus:  string(p.PaymentStatus),
		DeliveryStatus: string(p.DeliveryStatus),
		ExpiresAt:      p.ExpiresAt.Format(time.RFC3339),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
	if p.Confirmations != nil {
		resp.Confirmations = *p.Confirmations
	}
	if p.TransactionID != nil {
		resp.TxID = *p.TransactionID
	}
	return resp
}
