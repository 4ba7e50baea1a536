package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botstore/internal/models"
	"botstore/internal/payments"
	"botstore/internal/pricing"
	"botstore/internal/services"
	"botstore/internal/store"
	"botstore/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	purchases   map[string]*models.Purchase
	outstanding int64
}

func (r *fakeRepo) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	r.purchases[p.ID] = p
	return nil
}

func (r *fakeRepo) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	p, ok := r.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) GetPurchaseForUser(ctx context.Context, id, userID string) (*models.Purchase, error) {
	p, ok := r.purchases[id]
	if !ok || p.UserID != userID {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) CountOutstanding(ctx context.Context, userID string) (int64, error) {
	return r.outstanding, nil
}

func (r *fakeRepo) MarkConfirmed(ctx context.Context, id, txid string, confirmations int64) (int64, error) {
	r.purchases[id].PaymentStatus = models.PaymentConfirmed
	return 1, nil
}

func (r *fakeRepo) MarkCancelled(ctx context.Context, id, userID string) (int64, error) {
	r.purchases[id].PaymentStatus = models.PaymentCancelled
	return 1, nil
}

func (r *fakeRepo) MarkExpired(ctx context.Context, id string) (int64, error) {
	r.purchases[id].PaymentStatus = models.PaymentExpired
	return 1, nil
}

func (r *fakeRepo) UpdateConfirmations(ctx context.Context, id string, confirmations int64, txid string) error {
	return nil
}

type fakeAllocator struct{}

func (fakeAllocator) Allocate(ctx context.Context, req wallet.AllocationRequest) (*models.AddressAllocation, error) {
	return &models.AddressAllocation{DerivationIndex: 0, Address: "yTestAddr"}, nil
}

type fakeOracle struct {
	err error
}

func (o fakeOracle) CalculateDashAmount(ctx context.Context, usd decimal.Decimal) (*pricing.Quote, error) {
	if o.err != nil {
		return nil, o.err
	}
	price := decimal.RequireFromString("30")
	return &pricing.Quote{USD: usd, Dash: usd.DivRound(price, 8), DashPriceUSD: price, Timestamp: time.Now().UTC()}, nil
}

type fakeVerifier struct {
	result *payments.Result
	err    error
}

func (v fakeVerifier) VerifyPayment(ctx context.Context, address string, expected decimal.Decimal) (*payments.Result, error) {
	return v.result, v.err
}

func testRouter(t *testing.T, repo *fakeRepo, verifier fakeVerifier, oracle fakeOracle) http.Handler {
	t.Helper()
	if repo.purchases == nil {
		repo.purchases = make(map[string]*models.Purchase)
	}
	svc := &services.PurchaseService{
		Repo:      repo,
		Allocator: fakeAllocator{},
		Oracle:    oracle,
		Verifier:  verifier,
		Plans:     map[string]decimal.Decimal{"Bot BNC": decimal.RequireFromString("150")},
		Expiry:    72 * time.Hour,
	}
	handler := NewHandler(svc, 2*time.Minute)
	limiter := NewRateLimiter(100, time.Minute)
	return NewServer(handler, limiter).Router
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func authHeaders() map[string]string {
	return map[string]string{"X-User-Id": "user-1", "X-User-Email": "u@example.com"}
}

func TestCreatePurchaseEndpoint(t *testing.T) {
	repo := &fakeRepo{}
	router := testRouter(t, repo, fakeVerifier{}, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodPost, "/api/purchase/create", `{"plan":"Bot BNC"}`, authHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, true, body["success"])
	purchase := body["purchase"].(map[string]any)
	assert.Equal(t, "Bot BNC", purchase["plan"])
	assert.Equal(t, "yTestAddr", purchase["dashAddress"])
	assert.Equal(t, "pending", purchase["paymentStatus"])
	assert.Equal(t, float64(120), purchase["priceUpdateInterval"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCreatePurchaseErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		headers map[string]string
		repo    *fakeRepo
		oracle  fakeOracle
		want    int
	}{
		{"no identity", `{"plan":"Bot BNC"}`, nil, &fakeRepo{}, fakeOracle{}, http.StatusUnauthorized},
		{"bad json", `{`, authHeaders(), &fakeRepo{}, fakeOracle{}, http.StatusBadRequest},
		{"unknown plan", `{"plan":"nope"}`, authHeaders(), &fakeRepo{}, fakeOracle{}, http.StatusBadRequest},
		{"outstanding purchase", `{"plan":"Bot BNC"}`, authHeaders(), &fakeRepo{outstanding: 1}, fakeOracle{}, http.StatusConflict},
		{"oracle down", `{"plan":"Bot BNC"}`, authHeaders(), &fakeRepo{}, fakeOracle{err: pricing.ErrAllSourcesUnavailable}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := testRouter(t, tc.repo, fakeVerifier{}, tc.oracle)
			rec, _ := doJSON(t, router, http.MethodPost, "/api/purchase/create", tc.body, tc.headers)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPurchaseStatusEndpoint(t *testing.T) {
	repo := &fakeRepo{purchases: map[string]*models.Purchase{
		"p1": {ID: "p1", UserID: "user-1", PlanName: "Bot BNC", PaymentStatus: models.PaymentPending, DeliveryStatus: models.DeliveryPending},
	}}
	router := testRouter(t, repo, fakeVerifier{}, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodGet, "/api/purchase/status/p1", "", authHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1", body["purchase"].(map[string]any)["id"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/purchase/status/p1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/purchase/status/missing", "", authHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceEndpoint(t *testing.T) {
	router := testRouter(t, &fakeRepo{}, fakeVerifier{}, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodGet, "/api/purchase/price?plan=Bot+BNC", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bot BNC", body["plan"])
	assert.NotNil(t, body["pricing"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/purchase/price?plan=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	router = testRouter(t, &fakeRepo{}, fakeVerifier{}, fakeOracle{err: pricing.ErrAllSourcesUnavailable})
	rec, _ = doJSON(t, router, http.MethodGet, "/api/purchase/price?plan=Bot+BNC", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	repo := &fakeRepo{purchases: map[string]*models.Purchase{
		"p1": {ID: "p1", UserID: "user-1", PaymentStatus: models.PaymentPending, DeliveryStatus: models.DeliveryPending},
	}}
	router := testRouter(t, repo, fakeVerifier{}, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodPost, "/api/purchase/cancel", `{"purchaseId":"p1"}`, authHeaders())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", body["purchase"].(map[string]any)["paymentStatus"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/purchase/cancel", `{}`, authHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, "/api/purchase/cancel", `{"purchaseId":"p1"}`, authHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already cancelled")
}

func TestVerifyPaymentEndpoint(t *testing.T) {
	repo := &fakeRepo{purchases: map[string]*models.Purchase{
		"p1": {
			ID: "p1", UserID: "user-1", DashAddress: "yTestAddr",
			DashAmount:    decimal.RequireFromString("5"),
			PaymentStatus: models.PaymentPending,
			ExpiresAt:     time.Now().UTC().Add(time.Hour),
		},
	}}
	verifier := fakeVerifier{result: &payments.Result{Verified: true, TxID: "tx1", Confirmations: 5}}
	router := testRouter(t, repo, verifier, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodPost, "/api/dash/verify-payment", `{"purchaseId":"p1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "confirmed", body["status"])

	rec, _ = doJSON(t, router, http.MethodPost, "/api/dash/verify-payment", `{"purchaseId":"missing"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyPaymentUpstreamFailure(t *testing.T) {
	repo := &fakeRepo{purchases: map[string]*models.Purchase{
		"p1": {ID: "p1", PaymentStatus: models.PaymentPending, ExpiresAt: time.Now().UTC().Add(time.Hour)},
	}}
	router := testRouter(t, repo, fakeVerifier{err: payments.ErrVerificationFailed}, fakeOracle{})

	rec, _ := doJSON(t, router, http.MethodPost, "/api/dash/verify-payment", `{"purchaseId":"p1"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := rl.Handler(inner)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.9:1000"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:1000"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client still has a full bucket.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1000"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t, &fakeRepo{}, fakeVerifier{}, fakeOracle{})

	rec, body := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
