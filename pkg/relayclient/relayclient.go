// Package relayclient provides a client for the relayer's intent API.
package relayclient

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

	"github.com/superyldr/relayer/pkg/logger"
	"github.com/superyldr/relayer/pkg/models"
)

// PendingResponse is the body of GET /intents/pending
type PendingResponse struct {
	Intents []models.StatusView `json:"intents"`
	Count   int                 `json:"count"`
}

// NudgeRequest is the body of POST /intents/nudge
type NudgeRequest struct {
	RefID string `json:"refId"`
}

// Client talks to a relayer over HTTP
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new relayer API client
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// ListPending gets the user's non-terminal intents, newest first
func (c *Client) ListPending(ctx context.Context, user string) ([]models.StatusView, error) {
	var resp PendingResponse
	if err := c.do(ctx, http.MethodGet, "/intents/pending?user="+url.QueryEscape(user), nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch pending intents: %w", err)
	}
	return resp.Intents, nil
}

// Status gets one intent. A missing intent returns models.ErrNotFound.
func (c *Client) Status(ctx context.Context, refID string) (*models.StatusView, error) {
	var view models.StatusView
	if err := c.do(ctx, http.MethodGet, "/intents/"+url.PathEscape(refID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Nudge asks the relayer to settle refID
func (c *Client) Nudge(ctx context.Context, refID string) error {
	if err := c.do(ctx, http.MethodPost, "/intents/nudge", NudgeRequest{RefID: refID}, nil); err != nil {
		return fmt.Errorf("failed to nudge %s: %w", refID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
