package payments

import (
	"context"
	"errors"
	"testing"

	"botstore/internal/explorer"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExplorer struct {
	info    *explorer.AddressInfo
	infoErr error
	txs     []explorer.Transaction
	txsErr  error
}

func (f *fakeExplorer) AddressInfo(ctx context.Context, address string) (*explorer.AddressInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeExplorer) AddressTransactions(ctx context.Context, address string) ([]explorer.Transaction, error) {
	return f.txs, f.txsErr
}

func dash(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func testVerifier(f *fakeExplorer) *Verifier {
	return NewVerifier(f, 3, dash("0.001"))
}

func TestVerifyZeroBalanceIsNoPayment(t *testing.T) {
	v := testVerifier(&fakeExplorer{info: &explorer.AddressInfo{Balance: 0}})

	res, err := v.VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonNoPayment, res.Reason)
	assert.True(t, res.Received.IsZero())
}

func TestVerifyAmountMismatch(t *testing.T) {
	// 1.005 DASH received against 1 DASH expected exceeds the 0.1% band.
	v := testVerifier(&fakeExplorer{info: &explorer.AddressInfo{Balance: 100500000}})

	res, err := v.VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonAmountMismatch, res.Reason)
	assert.True(t, res.Difference.Equal(dash("0.005")), "diff %s", res.Difference)
}

func TestVerifySmallOverpaymentWithinTolerance(t *testing.T) {
	// 1.0005 DASH against 1 DASH is 0.05% off and passes the amount check;
	// with no history yet the result is no_transactions, not a mismatch.
	f := &fakeExplorer{info: &explorer.AddressInfo{Balance: 100050000}}

	res, err := testVerifier(f).VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonNoTransactions, res.Reason)
}

func TestVerifyToleranceBoundary(t *testing.T) {
	// Exactly 0.1% off sits on the boundary and passes the amount check.
	f := &fakeExplorer{
		info: &explorer.AddressInfo{Balance: 100100000}, // 1.001 DASH
		txs:  []explorer.Transaction{{TxID: "tx1", Confirmations: 5, BlockHeight: 100, Time: 1756723200}},
	}

	res, err := testVerifier(f).VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestVerifyNoTransactions(t *testing.T) {
	// Balance present but the history endpoint has nothing yet.
	f := &fakeExplorer{info: &explorer.AddressInfo{Balance: 100000000}}

	res, err := testVerifier(f).VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonNoTransactions, res.Reason)
}

func TestVerifyInsufficientConfirmations(t *testing.T) {
	f := &fakeExplorer{
		info: &explorer.AddressInfo{Balance: 100000000},
		txs:  []explorer.Transaction{{TxID: "tx1", Confirmations: 1}},
	}

	res, err := testVerifier(f).VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, ReasonInsufficientConfirmations, res.Reason)
	assert.Equal(t, int64(1), res.Confirmations)
	assert.Equal(t, int64(3), res.Required)
	assert.Equal(t, "tx1", res.TxID)
}

func TestVerifySuccess(t *testing.T) {
	f := &fakeExplorer{
		info: &explorer.AddressInfo{Balance: 100000000},
		txs: []explorer.Transaction{
			{TxID: "latest", Confirmations: 5, BlockHeight: 201000, Time: 1756723200},
			{TxID: "older", Confirmations: 90},
		},
	}

	res, err := testVerifier(f).VerifyPayment(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Empty(t, res.Reason)
	assert.Equal(t, "latest", res.TxID)
	assert.Equal(t, int64(5), res.Confirmations)
	assert.Equal(t, int64(201000), res.BlockHeight)
	assert.Equal(t, int64(1756723200), res.Timestamp.Unix())
}

func TestVerifyExplorerFailure(t *testing.T) {
	v := testVerifier(&fakeExplorer{infoErr: errors.New("timeout")})
	_, err := v.VerifyPayment(context.Background(), "yAddr", dash("1"))
	assert.ErrorIs(t, err, ErrVerificationFailed)

	v = testVerifier(&fakeExplorer{
		info:   &explorer.AddressInfo{Balance: 100000000},
		txsErr: errors.New("timeout"),
	})
	_, err = v.VerifyPayment(context.Background(), "yAddr", dash("1"))
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestNewVerifierDefaults(t *testing.T) {
	v := NewVerifier(nil, 0, decimal.Zero)
	assert.Equal(t, int64(3), v.MinConfirmations)
	assert.True(t, v.Tolerance.Equal(dash("0.001")))
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		result Result
		want   Status
	}{
		{Result{Verified: true}, StatusConfirmed},
		{Result{Reason: ReasonInsufficientConfirmations}, StatusPending},
		{Result{Reason: ReasonNoPayment}, StatusAwaitingPayment},
		{Result{Reason: ReasonAmountMismatch}, StatusAmountIncorrect},
		{Result{Reason: ReasonNoTransactions}, StatusUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(&tc.result), "reason %q", tc.result.Reason)
	}
}

func TestPaymentStatus(t *testing.T) {
	f := &fakeExplorer{
		info: &explorer.AddressInfo{Balance: 100000000},
		txs:  []explorer.Transaction{{TxID: "tx1", Confirmations: 7}},
	}

	status, err := testVerifier(f).PaymentStatus(context.Background(), "yAddr", dash("1"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)

	_, err = testVerifier(&fakeExplorer{infoErr: errors.New("down")}).
		PaymentStatus(context.Background(), "yAddr", dash("1"))
	assert.ErrorIs(t, err, ErrVerificationFailed)
}
