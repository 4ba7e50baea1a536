package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable wraps any network, timeout, or non-2xx failure from the
// explorer. There is no retry at this layer; retry policy belongs to the
// caller.
var ErrUnavailable = errors.New("explorer unavailable")

const (
	mainnetAPI = "https://insight.dash.org/insight-api"
	testnetAPI = "https://testnet-insight.dashevo.org/insight-api"

	requestTimeout = 10 * time.Second
)

// AddressInfo balances are in duffs, the smallest coin unit.
type AddressInfo struct {
	Address       string `json:"addrStr"`
	Balance       int64  `json:"balance"`
	TotalReceived int64  `json:"totalReceived"`
	TotalSent     int64  `json:"totalSent"`
	TxCount       int64  `json:"txApperances"`
}

type Transaction struct {
	TxID          string `json:"txid"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"blockheight"`
	Time          int64  `json:"time"`
}

// Client is a read-only facade over an Insight-style block explorer. The
// endpoint is fixed at construction from the configured network.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(testnet bool) *Client {
	endpoint := mainnetAPI
	if testnet {
		endpoint = testnetAPI
	}
	return NewClientWithURL(endpoint)
}

func NewClientWithURL(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) AddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var info AddressInfo
	if err := c.getJSON(ctx, c.baseURL+"/addr/"+url.PathEscape(address), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Transaction(ctx context.Context, txid string) (*Transaction, error) {
	var tx Transaction
	if err := c.getJSON(ctx, c.baseURL+"/tx/"+url.PathEscape(txid), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// AddressTransactions returns the address history most-recent-first, as the
// explorer orders it.
func (c *Client) AddressTransactions(ctx context.Context, address string) ([]Transaction, error) {
	var page struct {
		Txs []Transaction `json:"txs"`
	}
	endpoint := c.baseURL + "/txs/?address=" + url.QueryEscape(address)
	if err := c.getJSON(ctx, endpoint, &page); err != nil {
		return nil, err
	}
	return page.Txs, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%w: http status %d: %s", ErrUnavailable, resp.StatusCode, msg)
		}
		return fmt.Errorf("%w: http status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
