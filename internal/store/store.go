package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"botstore/internal/models"
	"botstore/internal/wallet"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

const uniqueViolation = "23505"

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// MaxIndex returns the highest derivation index ever issued; ok is false when
// the log is empty.
func (s *Store) MaxIndex(ctx context.Context) (int64, bool, error) {
	var idx sql.NullInt64
	err := s.Pool.QueryRow(ctx, "SELECT MAX(derivation_index) FROM address_generation_logs").Scan(&idx)
	if err != nil {
		return 0, false, err
	}
	if !idx.Valid {
		return 0, false, nil
	}
	return idx.Int64, true, nil
}

// Insert claims a derivation index. The unique constraint on the index column
// is what makes concurrent allocation safe; a conflict surfaces as
// wallet.ErrIndexTaken so the allocator can retry.
func (s *Store) Insert(ctx context.Context, alloc *models.AddressAllocation) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO address_generation_logs (
			derivation_index, address, purchase_id, user_id, ip_address, user_agent
		) VALUES ($1,$2,$3,$4,$5,$6)
	`,
		alloc.DerivationIndex,
		alloc.Address,
		alloc.PurchaseID,
		alloc.UserID,
		alloc.IPAddress,
		alloc.UserAgent,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: index %d", wallet.ErrIndexTaken, alloc.DerivationIndex)
	}
	return err
}

func (s *Store) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO purchases (
			id, user_id, email, plan_name, plan_price_usd,
			dash_address, dash_amount, dash_price_usd,
			payment_status, delivery_status, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		p.ID,
		p.UserID,
		p.Email,
		p.PlanName,
		p.PlanPriceUSD.String(),
		p.DashAddress,
		p.DashAmount.String(),
		p.DashPriceUSD.String(),
		p.PaymentStatus,
		p.DeliveryStatus,
		p.ExpiresAt,
	)
	return err
}

const purchaseColumns = `
	id, user_id, email, plan_name, plan_price_usd,
	dash_address, dash_amount, dash_price_usd,
	payment_status, delivery_status, expires_at,
	transaction_id, confirmations, delivered_at,
	created_at, updated_at
`

func (s *Store) GetPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	return scanPurchase(row)
}

func (s *Store) GetPurchaseForUser(ctx context.Context, id, userID string) (*models.Purchase, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 AND user_id=$2`, id, userID)
	return scanPurchase(row)
}

// CountOutstanding counts purchases that still block a new order for the
// user: payment pending or confirmed, delivery not yet sent.
func (s *Store) CountOutstanding(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM purchases
		WHERE user_id=$1
		  AND payment_status IN ('pending','confirmed')
		  AND delivery_status='pending'
	`, userID).Scan(&n)
	return n, err
}

func (s *Store) ListPendingPurchases(ctx context.Context) ([]*models.Purchase, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_status='pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

// ListDeliverable returns confirmed, undelivered purchases whose confirmation
// is at least as old as cutoff.
func (s *Store) ListDeliverable(ctx context.Context, cutoff time.Time) ([]*models.Purchase, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE payment_status='confirmed' AND delivery_status='pending' AND updated_at <= $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPurchases(rows)
}

func (s *Store) MarkConfirmed(ctx context.Context, id, txid string, confirmations int64) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET payment_status='confirmed', transaction_id=$2, confirmations=$3, updated_at=now()
		WHERE id=$1 AND payment_status='pending'
	`, id, txid, confirmations)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkCancelled(ctx context.Context, id, userID string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET payment_status='cancelled', updated_at=now()
		WHERE id=$1 AND user_id=$2 AND payment_status='pending' AND delivery_status='pending'
	`, id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) MarkExpired(ctx context.Context, id string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET payment_status='expired', updated_at=now()
		WHERE id=$1 AND payment_status='pending'
	`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET payment_status='expired', updated_at=now()
		WHERE payment_status='pending' AND expires_at < $1
	`, now)
	return err
}

// UpdateConfirmations records observed confirmation progress on a still
// pending purchase.
func (s *Store) UpdateConfirmations(ctx context.Context, id string, confirmations int64, txid string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET confirmations=$2, transaction_id=NULLIF($3,''), updated_at=now()
		WHERE id=$1 AND payment_status='pending'
	`, id, confirmations, txid)
	return err
}

func (s *Store) MarkDelivered(ctx context.Context, id string) (int64, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE purchases
		SET delivery_status='sent', delivered_at=now(), updated_at=now()
		WHERE id=$1 AND payment_status='confirmed' AND delivery_status='pending'
	`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

func (s *Store) InsertSecurityEvent(ctx context.Context, ev *models.SecurityEvent) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO security_events (event_type, severity, purchase_id, details)
		VALUES ($1,$2,NULLIF($3,''),$4)
	`, ev.EventType, ev.Severity, ev.PurchaseID, ev.Details)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var p models.Purchase
	var planPrice, dashAmount, dashPrice string
	var txID sql.NullString
	var confirmations sql.NullInt64
	var deliveredAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Email,
		&p.PlanName,
		&planPrice,
		&p.DashAddress,
		&dashAmount,
		&dashPrice,
		&p.PaymentStatus,
		&p.DeliveryStatus,
		&p.ExpiresAt,
		&txID,
		&confirmations,
		&deliveredAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if p.PlanPriceUSD, err = decimal.NewFromString(planPrice); err != nil {
		return nil, fmt.Errorf("purchase %s: bad plan_price_usd: %w", p.ID, err)
	}
	if p.DashAmount, err = decimal.NewFromString(dashAmount); err != nil {
		return nil, fmt.Errorf("purchase %s: bad dash_amount: %w", p.ID, err)
	}
	if p.DashPriceUSD, err = decimal.NewFromString(dashPrice); err != nil {
		return nil, fmt.Errorf("purchase %s: bad dash_price_usd: %w", p.ID, err)
	}
	if txID.Valid {
		p.TransactionID = &txID.String
	}
	if confirmations.Valid {
		p.Confirmations = &confirmations.Int64
	}
	if deliveredAt.Valid {
		p.DeliveredAt = &deliveredAt.Time
	}
	return &p, nil
}

func scanPurchases(rows pgx.Rows) ([]*models.Purchase, error) {
	var out []*models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
