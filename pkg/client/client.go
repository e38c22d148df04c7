// Package client is a Go client for the sponsor-access-sync HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/sponsor-access-sync/internal/webhook"
)

// Client is the API client for sponsor-access-sync
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Health is the /health response
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Delivery is the outcome of one webhook delivery
type Delivery struct {
	ID         string
	StatusCode int
	Body       string
}

// Accepted reports whether the service took the delivery
func (d *Delivery) Accepted() bool {
	return d.StatusCode == http.StatusOK || d.StatusCode == http.StatusAccepted
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	if health.Status != "ok" {
		return &health, fmt.Errorf("unhealthy status: %s", health.Status)
	}
	return &health, nil
}

// DeliverSponsorship signs payload with secret and posts it to the owner's
// webhook endpoint the same way GitHub does. A rejected delivery is
// reported through Delivery.StatusCode, not as an error.
func (c *Client) DeliverSponsorship(ctx context.Context, owner, secret string, payload []byte) (*Delivery, error) {
	endpoint := c.baseURL + "/webhooks/sponsor/" + url.PathEscape(owner)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.EventHeader, "sponsorship")
	req.Header.Set(webhook.DeliveryHeader, id)
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(payload, secret))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return &Delivery{ID: id, StatusCode: resp.StatusCode, Body: string(body)}, nil
}
