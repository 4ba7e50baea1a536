package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrAllSourcesUnavailable = errors.New("all price sources unavailable")

type Quote struct {
	USD          decimal.Decimal `json:"usd"`
	Dash         decimal.Decimal `json:"dash"`
	DashPriceUSD decimal.Decimal `json:"dashPriceUSD"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Oracle reconciles several independent price feeds into one estimate. It
// takes the median of the surviving prices so a single compromised or stale
// source cannot skew the quote. The oracle never caches; staleness policy
// belongs to the caller.
type Oracle struct {
	Sources []Source
}

func NewOracle(sources ...Source) *Oracle {
	return &Oracle{Sources: sources}
}

func (o *Oracle) DashPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	type sample struct {
		name  string
		price decimal.Decimal
		err   error
	}

	samples := make([]sample, len(o.Sources))
	var wg sync.WaitGroup
	for i, src := range o.Sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			price, err := src.DashPriceUSD(ctx)
			samples[i] = sample{name: src.Name(), price: price, err: err}
		}(i, src)
	}
	wg.Wait()

	var prices []decimal.Decimal
	for _, s := range samples {
		if s.err != nil {
			log.Warn().Str("source", s.name).Err(s.err).Msg("price source failed")
			continue
		}
		if !s.price.IsPositive() {
			log.Warn().Str("source", s.name).Str("price", s.price.String()).Msg("price source returned unusable value")
			continue
		}
		prices = append(prices, s.price)
	}
	if len(prices) == 0 {
		return decimal.Zero, ErrAllSourcesUnavailable
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	median := prices[len(prices)/2]

	log.Info().Str("price_usd", median.StringFixed(2)).Int("sources", len(prices)).Msg("dash price fetched")
	return median, nil
}

// CalculateDashAmount converts a fiat amount into DASH at the current median
// price. The coin amount is rounded to 8 decimal places, the price to 2.
func (o *Oracle) CalculateDashAmount(ctx context.Context, usd decimal.Decimal) (*Quote, error) {
	if !usd.IsPositive() {
		return nil, fmt.Errorf("usd amount must be positive, got %s", usd)
	}
	price, err := o.DashPriceUSD(ctx)
	if err != nil {
		return nil, err
	}
	return &Quote{
		USD:          usd,
		Dash:         usd.DivRound(price, 8),
		DashPriceUSD: price.Round(2),
		Timestamp:    time.Now().UTC(),
	}, nil
}
