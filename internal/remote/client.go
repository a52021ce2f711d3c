package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"roomqueue/internal/config"
	"roomqueue/internal/models"
)

// Client is the reference implementation of the two callbacks the sync
// orchestrator consumes: booking submission and the authoritative conflict
// check. It speaks the booking backend's HTTP API, with OAuth2 client
// credentials when configured.
type Client struct {
	baseURL    string
	healthPath string
	http       *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "remote").Logger()
	}

	httpClient := &http.Client{Timeout: cfg.Timeout()}
	if cfg.ClientID != "" {
		oauthCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = oauthCfg.Client(context.Background())
		httpClient.Timeout = cfg.Timeout()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		healthPath: cfg.HealthPath,
		http:       httpClient,
		log:        log,
	}
}

type submitResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Submit posts the booking to the backend and returns the remote booking id.
// Any non-2xx response is an error; the orchestrator classifies it by
// message only.
func (c *Client) Submit(ctx context.Context, booking models.BookingData) (string, error) {
	body, err := json.Marshal(booking)
	if err != nil {
		return "", fmt.Errorf("encode booking: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit booking: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return "", fmt.Errorf("booking rejected (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return "", fmt.Errorf("booking rejected with status %d", resp.StatusCode)
	}

	var submitted submitResponse
	if err := json.Unmarshal(raw, &submitted); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if submitted.ID == "" {
		return "", fmt.Errorf("backend returned no booking id")
	}

	c.log.Debug().Str("booking_id", submitted.ID).Msg("booking submitted")
	return submitted.ID, nil
}

type conflictResponse struct {
	Conflict bool `json:"conflict"`
}

// CheckConflict asks the backend whether the slot clashes with a confirmed
// booking.
func (c *Client) CheckConflict(ctx context.Context, roomID, date, startTime, endTime string) (bool, error) {
	params := url.Values{}
	params.Set("room_id", roomID)
	params.Set("date", date)
	params.Set("start_time", startTime)
	params.Set("end_time", endTime)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/conflicts?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("conflict check failed with status %d", resp.StatusCode)
	}

	var result conflictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return result.Conflict, nil
}

// Health probes the backend; a nil error means reachable. Used by the
// connectivity watcher.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.healthPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
