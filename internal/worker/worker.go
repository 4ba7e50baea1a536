package worker

import (
	"context"
	"errors"
	"time"

	"botstore/internal/models"
	"botstore/internal/payments"
	"botstore/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Repo interface {
	ExpireOverdue(ctx context.Context, now time.Time) error
	ListPendingPurchases(ctx context.Context) ([]*models.Purchase, error)
	ListDeliverable(ctx context.Context, cutoff time.Time) ([]*models.Purchase, error)
	MarkDelivered(ctx context.Context, id string) (int64, error)
	InsertSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error
}

// Worker drives purchase lifecycle outside the request path: a ticker loop
// re-verifies pending payments against the chain, and a cron schedule sweeps
// confirmed purchases for delivery.
type Worker struct {
	Repo             Repo
	Purchases        *services.PurchaseService
	Mailer           services.Mailer // nil disables deliveries
	Interval         time.Duration
	DeliverySchedule string
	DeliveryDelay    time.Duration
}

func (w *Worker) Run(ctx context.Context) {
	c := cron.New()
	if w.Mailer != nil {
		_, err := c.AddFunc(w.DeliverySchedule, func() {
			if err := w.ProcessDeliveries(ctx); err != nil {
				log.Error().Err(err).Msg("delivery sweep failed")
			}
		})
		if err != nil {
			log.Error().Err(err).Str("schedule", w.DeliverySchedule).Msg("invalid delivery schedule")
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.SyncOnce(ctx); err != nil {
			log.Error().Err(err).Msg("sync error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce expires overdue purchases, then re-verifies every pending one.
// A single purchase failing upstream does not stop the pass.
func (w *Worker) SyncOnce(ctx context.Context) error {
	if err := w.Repo.ExpireOverdue(ctx, time.Now().UTC()); err != nil {
		return err
	}

	pending, err := w.Repo.ListPendingPurchases(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	log.Debug().Int("pending", len(pending)).Msg("verification pass")

	for _, p := range pending {
		outcome, err := w.Purchases.Verify(ctx, p.ID)
		if err != nil {
			// Transient: leave the purchase for the next tick.
			if errors.Is(err, payments.ErrVerificationFailed) {
				log.Warn().Err(err).Str("purchase", p.ID).Msg("verification deferred")
				continue
			}
			log.Error().Err(err).Str("purchase", p.ID).Msg("verification error")
			continue
		}
		if outcome.Status == string(models.PaymentConfirmed) {
			log.Info().Str("purchase", p.ID).Msg("purchase confirmed by worker")
		}
	}
	return nil
}

// ProcessDeliveries sends delivery mail for purchases confirmed at least
// DeliveryDelay ago and marks them sent. Failures are recorded as security
// events and retried on the next sweep.
func (w *Worker) ProcessDeliveries(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.DeliveryDelay)
	due, err := w.Repo.ListDeliverable(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	log.Info().Int("count", len(due)).Msg("processing deliveries")

	for _, p := range due {
		if err := w.deliver(ctx, p); err != nil {
			log.Error().Err(err).Str("purchase", p.ID).Msg("delivery failed")
			ev := &models.SecurityEvent{
				EventType:  "delivery_failed",
				Severity:   "HIGH",
				PurchaseID: p.ID,
				Details:    err.Error(),
			}
			if insertErr := w.Repo.InsertSecurityEvent(ctx, ev); insertErr != nil {
				log.Error().Err(insertErr).Str("purchase", p.ID).Msg("security event insert failed")
			}
			continue
		}
		log.Info().Str("purchase", p.ID).Msg("delivered")
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, p *models.Purchase) error {
	if err := w.Mailer.SendDelivery(ctx, p); err != nil {
		return err
	}
	w.Mailer.SendAdminNotification(ctx, p)

	updated, err := w.Repo.MarkDelivered(ctx, p.ID)
	if err != nil {
		return err
	}
	if updated == 0 {
		log.Warn().Str("purchase", p.ID).Msg("delivery raced with another update")
	}
	return nil
}
