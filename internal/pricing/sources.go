package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const sourceTimeout = 5 * time.Second

// Source is one independent DASH/USD price feed. A source that errors or
// returns a non-positive price is discarded by the oracle, never retried.
type Source interface {
	Name() string
	DashPriceUSD(ctx context.Context) (decimal.Decimal, error)
}

type coinGecko struct {
	baseURL string
	client  *http.Client
}

func NewCoinGecko(baseURL string) Source {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com"
	}
	return &coinGecko{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: sourceTimeout}}
}

func (s *coinGecko) Name() string { return "coingecko" }

func (s *coinGecko) DashPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Dash struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"dash"`
	}
	endpoint := s.baseURL + "/api/v3/simple/price?ids=dash&vs_currencies=usd"
	if err := getJSON(ctx, s.client, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Dash.USD, nil
}

type coinbase struct {
	baseURL string
	client  *http.Client
}

func NewCoinbase(baseURL string) Source {
	if baseURL == "" {
		baseURL = "https://api.coinbase.com"
	}
	return &coinbase{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: sourceTimeout}}
}

func (s *coinbase) Name() string { return "coinbase" }

func (s *coinbase) DashPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Data struct {
			Rates map[string]string `json:"rates"`
		} `json:"data"`
	}
	endpoint := s.baseURL + "/v2/exchange-rates?currency=DASH"
	if err := getJSON(ctx, s.client, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	usd, ok := resp.Data.Rates["USD"]
	if !ok {
		return decimal.Zero, errors.New("no USD rate in response")
	}
	return decimal.NewFromString(usd)
}

type binance struct {
	baseURL string
	client  *http.Client
}

func NewBinance(baseURL string) Source {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &binance{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: sourceTimeout}}
}

func (s *binance) Name() string { return "binance" }

func (s *binance) DashPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Price decimal.Decimal `json:"price"`
	}
	endpoint := s.baseURL + "/api/v3/ticker/price?symbol=DASHUSDT"
	if err := getJSON(ctx, s.client, endpoint, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Price, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
