package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"botstore/internal/models"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.resend.com"

type Config struct {
	APIKey     string
	From       string
	AdminEmail string
	BaseURL    string // override for tests
}

// Client sends transactional mail through the Resend HTTP API.
type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) SendPurchaseConfirmation(ctx context.Context, p *models.Purchase) error {
	html := fmt.Sprintf(`
		<h1>Thanks for your purchase</h1>
		<p>We received your order for <strong>%s</strong>.</p>
		<p><strong>Amount due:</strong> %s DASH</p>
		<p><strong>Payment address:</strong> <code>%s</code></p>
		<p><strong>Expires:</strong> %s</p>
		<p>Once your payment reaches the required confirmations, delivery follows within 24 hours.</p>
	`, p.PlanName, p.DashAmount.String(), p.DashAddress, p.ExpiresAt.Format(time.RFC1123))

	_, err := c.send(ctx, []string{p.Email}, "Purchase confirmation: "+p.PlanName, html)
	return err
}

func (c *Client) SendDelivery(ctx context.Context, p *models.Purchase) error {
	html := fmt.Sprintf(`
		<h1>Your bot is ready</h1>
		<p>Your payment is confirmed and <strong>%s</strong> is ready to download.</p>
		<p><a href="https://botscambiarios.com/download/%s">Download now</a></p>
		<p>This link is valid for 30 days.</p>
	`, p.PlanName, p.ID)

	_, err := c.send(ctx, []string{p.Email}, "Your "+p.PlanName+" is ready", html)
	return err
}

// SendAdminNotification is best effort: a failure is logged, never returned,
// so it cannot block a delivery.
func (c *Client) SendAdminNotification(ctx context.Context, p *models.Purchase) {
	if c.cfg.AdminEmail == "" {
		return
	}
	html := fmt.Sprintf(`
		<h2>New sale</h2>
		<ul>
			<li><strong>Plan:</strong> %s</li>
			<li><strong>Amount:</strong> %s DASH</li>
			<li><strong>Purchase:</strong> %s</li>
		</ul>
	`, p.PlanName, p.DashAmount.String(), p.ID)

	if _, err := c.send(ctx, []string{c.cfg.AdminEmail}, "New sale registered", html); err != nil {
		log.Error().Err(err).Str("purchase", p.ID).Msg("admin notification failed")
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

func (c *Client) send(ctx context.Context, to []string, subject, html string) (string, error) {
	payload, err := json.Marshal(sendRequest{From: c.cfg.From, To: to, Subject: subject, HTML: html})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("send email: http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("send email: decode response: %w", err)
	}
	return out.ID, nil
}
