// Package dashboard provides the client for the dashboard backend that
// stores saved bots and serves the community listing.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/aristath/botstudio/internal/clients/transport"
	"github.com/aristath/botstudio/internal/domain"
)

type botResponse struct {
	ID string `json:"id"`
}

type communityResponse struct {
	Items []domain.SharedItem `json:"items"`
}

// Client for the dashboard backend
type Client struct {
	http *transport.Client
	log  zerolog.Logger
}

// NewClient creates a new dashboard client
func NewClient(baseURL string, opts transport.Options, log zerolog.Logger) *Client {
	l := log.With().Str("client", "dashboard").Logger()
	return &Client{
		http: transport.New(baseURL, opts, l),
		log:  l,
	}
}

// CreateBot persists a new bot and returns its id
func (c *Client) CreateBot(ctx context.Context, bot domain.Bot) (string, error) {
	bot.ID = ""
	var resp botResponse
	if err := c.http.Do(ctx, "persist-create", http.MethodPost, "/api/bots", bot, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &domain.RemoteFailureError{Op: "persist-create", StatusCode: http.StatusOK, Detail: "no bot id returned"}
	}
	return resp.ID, nil
}

// UpdateBot overwrites the bot stored under id. Repeating it is harmless.
func (c *Client) UpdateBot(ctx context.Context, id string, bot domain.Bot) error {
	bot.ID = id
	path := fmt.Sprintf("/api/bots/%s", url.PathEscape(id))
	return c.http.Do(ctx, "persist-update", http.MethodPut, path, bot, nil)
}

// ListCommunity returns the authoritative shared-item listing
func (c *Client) ListCommunity(ctx context.Context) ([]domain.SharedItem, error) {
	var resp communityResponse
	if err := c.http.Do(ctx, "community-list", http.MethodGet, "/api/community", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ToggleLike flips the current user's like on a shared item. The ack carries
// no listing; callers re-fetch for the authoritative state.
func (c *Client) ToggleLike(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/api/community/%s/like", url.PathEscape(itemID))
	return c.http.Do(ctx, "toggle-like", http.MethodPost, path, struct{}{}, nil)
}

// RecordDownload bumps the download counter of a shared item
func (c *Client) RecordDownload(ctx context.Context, itemID string) error {
	path := fmt.Sprintf("/api/community/%s/download", url.PathEscape(itemID))
	return c.http.Do(ctx, "record-download", http.MethodPost, path, struct{}{}, nil)
}
