package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name  string
	price decimal.Decimal
	err   error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) DashPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	return s.price, s.err
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestMedianResistsOutlier(t *testing.T) {
	o := NewOracle(
		stubSource{name: "a", price: price("10")},
		stubSource{name: "b", price: price("11")},
		stubSource{name: "c", price: price("100")},
	)

	got, err := o.DashPriceUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(price("11")), "got %s", got)
}

func TestMedianEvenCountTakesUpper(t *testing.T) {
	o := NewOracle(
		stubSource{name: "a", price: price("10")},
		stubSource{name: "b", price: price("20")},
	)

	got, err := o.DashPriceUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(price("20")), "got %s", got)
}

func TestFailingSourcesDiscarded(t *testing.T) {
	o := NewOracle(
		stubSource{name: "a", err: errors.New("timeout")},
		stubSource{name: "b", price: price("0")},
		stubSource{name: "c", price: price("-3")},
		stubSource{name: "d", price: price("42.5")},
	)

	got, err := o.DashPriceUSD(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(price("42.5")), "got %s", got)
}

func TestAllSourcesUnavailable(t *testing.T) {
	o := NewOracle(
		stubSource{name: "a", err: errors.New("down")},
		stubSource{name: "b", price: price("0")},
	)

	_, err := o.DashPriceUSD(context.Background())
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
}

func TestCalculateDashAmount(t *testing.T) {
	o := NewOracle(stubSource{name: "a", price: price("32.129")})

	quote, err := o.CalculateDashAmount(context.Background(), price("150"))
	require.NoError(t, err)

	assert.True(t, quote.USD.Equal(price("150")))
	assert.True(t, quote.DashPriceUSD.Equal(price("32.13")), "price %s", quote.DashPriceUSD)
	assert.Equal(t, int32(-8), quote.Dash.Exponent())
	assert.False(t, quote.Timestamp.IsZero())

	// coin x price ~= usd within the 8-decimal rounding tolerance.
	diff := quote.Dash.Mul(price("32.129")).Sub(quote.USD).Abs()
	assert.True(t, diff.LessThan(price("0.000001")), "residual %s", diff)
}

func TestCalculateDashAmountRejectsNonPositive(t *testing.T) {
	o := NewOracle(stubSource{name: "a", price: price("30")})

	_, err := o.CalculateDashAmount(context.Background(), decimal.Zero)
	assert.Error(t, err)
	_, err = o.CalculateDashAmount(context.Background(), price("-5"))
	assert.Error(t, err)
}

func TestCalculateDashAmountPropagatesOracleFailure(t *testing.T) {
	o := NewOracle(stubSource{name: "a", err: errors.New("down")})

	_, err := o.CalculateDashAmount(context.Background(), price("150"))
	assert.ErrorIs(t, err, ErrAllSourcesUnavailable)
}
