package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botstore/internal/models"
	"botstore/internal/payments"
	"botstore/internal/pricing"
	"botstore/internal/store"
	"botstore/internal/wallet"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingUser      = errors.New("missing user identity")
	ErrInvalidPlan      = errors.New("invalid plan")
	ErrPurchaseLimit    = errors.New("pending purchase limit reached")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrNotCancellable   = errors.New("purchase cannot be cancelled")
)

type PurchaseRepo interface {
	CreatePurchase(ctx context.Context, p *models.Purchase) error
	GetPurchase(ctx context.Context, id string) (*models.Purchase, error)
	GetPurchaseForUser(ctx context.Context, id, userID string) (*models.Purchase, error)
	CountOutstanding(ctx context.Context, userID string) (int64, error)
	MarkConfirmed(ctx context.Context, id, txid string, confirmations int64) (int64, error)
	MarkCancelled(ctx context.Context, id, userID string) (int64, error)
	MarkExpired(ctx context.Context, id string) (int64, error)
	UpdateConfirmations(ctx context.Context, id string, confirmations int64, txid string) error
}

type Allocator interface {
	Allocate(ctx context.Context, req wallet.AllocationRequest) (*models.AddressAllocation, error)
}

type Oracle interface {
	CalculateDashAmount(ctx context.Context, usd decimal.Decimal) (*pricing.Quote, error)
}

type Verifier interface {
	VerifyPayment(ctx context.Context, address string, expected decimal.Decimal) (*payments.Result, error)
}

type Mailer interface {
	SendPurchaseConfirmation(ctx context.Context, p *models.Purchase) error
	SendDelivery(ctx context.Context, p *models.Purchase) error
	SendAdminNotification(ctx context.Context, p *models.Purchase)
}

// RequestMeta is audit metadata recorded with each address allocation.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type PurchaseService struct {
	Repo      PurchaseRepo
	Allocator Allocator
	Oracle    Oracle
	Verifier  Verifier
	Mailer    Mailer // optional
	Plans     map[string]decimal.Decimal
	Expiry    time.Duration
}

// Create opens a purchase: quote, fresh address, expiry. A user may hold at
// most one outstanding order at a time.
func (s *PurchaseService) Create(ctx context.Context, userID, email, plan string, meta RequestMeta) (*models.Purchase, error) {
	if userID == "" || email == "" {
		return nil, ErrMissingUser
	}
	priceUSD, ok := s.Plans[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	outstanding, err := s.Repo.CountOutstanding(ctx, userID)
	if err != nil {
		return nil, err
	}
	if outstanding >= 1 {
		return nil, ErrPurchaseLimit
	}

	quote, err := s.Oracle.CalculateDashAmount(ctx, priceUSD)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	alloc, err := s.Allocator.Allocate(ctx, wallet.AllocationRequest{
		PurchaseID: id,
		UserID:     userID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	purchase := &models.Purchase{
		ID:             id,
		UserID:         userID,
		Email:          email,
		PlanName:       plan,
		PlanPriceUSD:   priceUSD,
		DashAddress:    alloc.Address,
		DashAmount:     quote.Dash,
		DashPriceUSD:   quote.DashPriceUSD,
		PaymentStatus:  models.PaymentPending,
		DeliveryStatus: models.DeliveryPending,
		ExpiresAt:      now.Add(s.Expiry),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.Repo.CreatePurchase(ctx, purchase); err != nil {
		return nil, err
	}

	log.Info().
		Str("purchase", id).
		Str("plan", plan).
		Int64("index", alloc.DerivationIndex).
		Str("address", alloc.Address).
		Msg("purchase created")

	// Email failure never fails the purchase.
	if s.Mailer != nil {
		if err := s.Mailer.SendPurchaseConfirmation(ctx, purchase); err != nil {
			log.Error().Err(err).Str("purchase", id).Msg("confirmation email failed")
		}
	}
	return purchase, nil
}

func (s *PurchaseService) Status(ctx context.Context, userID, id string) (*models.Purchase, error) {
	p, err := s.Repo.GetPurchaseForUser(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	return p, err
}

// Quote recomputes the plan's coin amount at the current price. Quotes are
// never cached or reused.
func (s *PurchaseService) Quote(ctx context.Context, plan string) (*pricing.Quote, error) {
	priceUSD, ok := s.Plans[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	return s.Oracle.CalculateDashAmount(ctx, priceUSD)
}

// Cancel is allowed only while payment and delivery are both still pending.
func (s *PurchaseService) Cancel(ctx context.Context, userID, id string) (*models.Purchase, error) {
	p, err := s.Repo.GetPurchaseForUser(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.PaymentStatus != models.PaymentPending || p.DeliveryStatus != models.DeliveryPending {
		return nil, ErrNotCancellable
	}

	updated, err := s.Repo.MarkCancelled(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if updated == 0 {
		return nil, ErrNotCancellable
	}

	log.Info().Str("purchase", id).Str("reason", "user_requested").Msg("purchase cancelled")
	return s.Repo.GetPurchaseForUser(ctx, id, userID)
}

// VerifyOutcome reports the result of one verification pass over a purchase.
type VerifyOutcome struct {
	Status string           `json:"status"`
	Result *payments.Result `json:"verification,omitempty"`
}

// Verify re-derives the purchase's payment state from the chain and advances
// the stored status. Already-confirmed purchases short-circuit; expiry is
// applied before the chain is consulted. Upstream fetch failures propagate
// so the caller retries later instead of recording a definite state.
func (s *PurchaseService) Verify(ctx context.Context, id string) (*VerifyOutcome, error) {
	p, err := s.Repo.GetPurchase(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, err
	}

	switch p.PaymentStatus {
	case models.PaymentConfirmed:
		return &VerifyOutcome{Status: "already_confirmed"}, nil
	case models.PaymentExpired, models.PaymentCancelled:
		return &VerifyOutcome{Status: string(p.PaymentStatus)}, nil
	}

	if time.Now().UTC().After(p.ExpiresAt) {
		if _, err := s.Repo.MarkExpired(ctx, id); err != nil {
			return nil, err
		}
		log.Info().Str("purchase", id).Msg("purchase expired")
		return &VerifyOutcome{Status: string(models.PaymentExpired)}, nil
	}

	result, err := s.Verifier.VerifyPayment(ctx, p.DashAddress, p.DashAmount)
	if err != nil {
		return nil, err
	}

	if result.Verified {
		if _, err := s.Repo.MarkConfirmed(ctx, id, result.TxID, result.Confirmations); err != nil {
			return nil, err
		}
		log.Info().
			Str("purchase", id).
			Str("txid", result.TxID).
			Int64("confirmations", result.Confirmations).
			Msg("payment confirmed")
		return &VerifyOutcome{Status: string(models.PaymentConfirmed), Result: result}, nil
	}

	if result.Reason == payments.ReasonInsufficientConfirmations {
		if err := s.Repo.UpdateConfirmations(ctx, id, result.Confirmations, result.TxID); err != nil {
			return nil, err
		}
	}
	return &VerifyOutcome{Status: string(result.Reason), Result: result}, nil
}
