// Package remote syncs the tracked token set into a remote tabletop
// session: REST for identity and fallback updates, WebSocket for the
// live position stream.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteToken is the server's view of one session token.
type RemoteToken struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	X     float64    `json:"x"`
	Y     float64    `json:"y"`
	Flags TokenFlags `json:"flags"`
}

// TokenFlags carries tracker-owned metadata stored on the remote token.
type TokenFlags struct {
	MarkerID int    `json:"marker_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// CreateTokenRequest is the body for a token creation.
type CreateTokenRequest struct {
	Name  string     `json:"name"`
	X     int        `json:"x"`
	Y     int        `json:"y"`
	Flags TokenFlags `json:"flags"`
}

// TokenPatch is a partial token update for the REST fallback path.
type TokenPatch struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Client handles communication with the remote session's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the remote session server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// ListTokens fetches all tokens in the scene.
func (c *Client) ListTokens(ctx context.Context, sceneID string) ([]RemoteToken, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/scenes/"+sceneID+"/tokens", nil)
	if err != nil {
		return nil, fmt.Errorf("list tokens request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tokens returned status %d", resp.StatusCode)
	}

	var tokens []RemoteToken
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("failed to decode token list: %w", err)
	}
	return tokens, nil
}

// CreateToken creates a new token in the scene. The server answers 201
// with the created token.
func (c *Client) CreateToken(ctx context.Context, sceneID string, req CreateTokenRequest) (RemoteToken, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/scenes/"+sceneID+"/tokens", req)
	if err != nil {
		return RemoteToken{}, fmt.Errorf("create token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return RemoteToken{}, fmt.Errorf("create token returned status %d", resp.StatusCode)
	}

	var created RemoteToken
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return RemoteToken{}, fmt.Errorf("failed to decode created token: %w", err)
	}
	return created, nil
}

// UpdateToken patches a token's position over REST. Used when the live
// channel is down.
func (c *Client) UpdateToken(ctx context.Context, tokenID string, patch TokenPatch) error {
	resp, err := c.do(ctx, http.MethodPatch, "/api/tokens/"+tokenID, patch)
	if err != nil {
		return fmt.Errorf("update token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("update token returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}
