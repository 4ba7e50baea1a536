package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botstore/internal/explorer"

	"github.com/shopspring/decimal"
)

// ErrVerificationFailed wraps upstream fetch failures. It is distinct from
// the negative reason codes below, which are valid results, not errors:
// a caller seeing this error must treat the state as unknown and retry later.
var ErrVerificationFailed = errors.New("payment verification failed")

type Reason string

const (
	ReasonAmountMismatch            Reason = "amount_mismatch"
	ReasonNoPayment                 Reason = "no_payment"
	ReasonNoTransactions            Reason = "no_transactions"
	ReasonInsufficientConfirmations Reason = "insufficient_confirmations"
)

type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusPending         Status = "pending"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusAmountIncorrect Status = "amount_incorrect"
	StatusUnknown         Status = "unknown"
)

// dashDecimals is the decimal exponent between DASH and its smallest unit.
const dashDecimals = 8

var defaultTolerance = decimal.NewFromFloat(0.001) // 0.1%

type Result struct {
	Verified      bool            `json:"verified"`
	Reason        Reason          `json:"reason,omitempty"`
	Expected      decimal.Decimal `json:"expected"`
	Received      decimal.Decimal `json:"received"`
	Difference    decimal.Decimal `json:"difference"`
	Confirmations int64           `json:"confirmations"`
	Required      int64           `json:"required,omitempty"`
	TxID          string          `json:"txid,omitempty"`
	BlockHeight   int64           `json:"blockHeight,omitempty"`
	Timestamp     time.Time       `json:"timestamp,omitzero"`
}

// AddressReader is the slice of the explorer the verifier needs.
type AddressReader interface {
	AddressInfo(ctx context.Context, address string) (*explorer.AddressInfo, error)
	AddressTransactions(ctx context.Context, address string) ([]explorer.Transaction, error)
}

// Verifier classifies the payment state of an (address, expected amount)
// pair. Amount correctness is checked before confirmation depth: an under-
// or overpayment is a different user-facing problem than an unconfirmed but
// correct payment.
type Verifier struct {
	Explorer         AddressReader
	MinConfirmations int64
	Tolerance        decimal.Decimal // fraction of the expected amount
}

func NewVerifier(reader AddressReader, minConfirmations int64, tolerance decimal.Decimal) *Verifier {
	if minConfirmations <= 0 {
		minConfirmations = 3
	}
	if !tolerance.IsPositive() {
		tolerance = defaultTolerance
	}
	return &Verifier{Explorer: reader, MinConfirmations: minConfirmations, Tolerance: tolerance}
}

func (v *Verifier) VerifyPayment(ctx context.Context, address string, expected decimal.Decimal) (*Result, error) {
	info, err := v.Explorer.AddressInfo(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	balance := decimal.New(info.Balance, -dashDecimals)

	// A zero balance is always "no payment yet", never an amount mismatch,
	// even though it also fails the tolerance check.
	if balance.IsZero() {
		return &Result{Reason: ReasonNoPayment, Expected: expected, Received: balance}, nil
	}

	difference := balance.Sub(expected).Abs()
	tolerance := expected.Mul(v.Tolerance)
	if difference.GreaterThan(tolerance) {
		return &Result{
			Reason:     ReasonAmountMismatch,
			Expected:   expected,
			Received:   balance,
			Difference: difference,
		}, nil
	}

	txs, err := v.Explorer.AddressTransactions(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if len(txs) == 0 {
		return &Result{Reason: ReasonNoTransactions, Expected: expected, Received: balance}, nil
	}

	latest := txs[0]
	if latest.Confirmations < v.MinConfirmations {
		return &Result{
			Reason:        ReasonInsufficientConfirmations,
			Expected:      expected,
			Received:      balance,
			Confirmations: latest.Confirmations,
			Required:      v.MinConfirmations,
			TxID:          latest.TxID,
		}, nil
	}

	return &Result{
		Verified:      true,
		Expected:      expected,
		Received:      balance,
		Confirmations: latest.Confirmations,
		TxID:          latest.TxID,
		BlockHeight:   latest.BlockHeight,
		Timestamp:     time.Unix(latest.Time, 0).UTC(),
	}, nil
}

// PaymentStatus maps a verification result onto the user-facing state.
// Upstream failures propagate; the caller treats them as "unknown, retry
// later", distinct from the definite classifications.
func (v *Verifier) PaymentStatus(ctx context.Context, address string, expected decimal.Decimal) (Status, error) {
	result, err := v.VerifyPayment(ctx, address, expected)
	if err != nil {
		return "", err
	}
	return StatusFor(result), nil
}

func StatusFor(result *Result) Status {
	if result.Verified {
		return StatusConfirmed
	}
	switch result.Reason {
	case ReasonInsufficientConfirmations:
		return StatusPending
	case ReasonNoPayment:
		return StatusAwaitingPayment
	case ReasonAmountMismatch:
		return StatusAmountIncorrect
	default:
		return StatusUnknown
	}
}
