package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradepost/internal/auth"
	"tradepost/internal/game"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
	Body    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server, as opposed to
// a transport failure that is worth queueing for later.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

type Wallet struct {
	OwnerID string `json:"owner_id"`
	Balance int64  `json:"balance"`
}

func (c *Client) Wallet(ctx context.Context, accessToken string) (Wallet, error) {
	var out Wallet
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me/wallet", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Inventory(ctx context.Context, accessToken string) ([]game.InventoryStack, error) {
	var out struct {
		Stacks []game.InventoryStack `json:"stacks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me/inventory", accessToken, nil, &out, "")
	return out.Stacks, err
}

func (c *Client) Ledger(ctx context.Context, accessToken string, limit int) ([]game.LedgerEntry, error) {
	var out struct {
		Entries []game.LedgerEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/me/ledger?limit=%d", limit), accessToken, nil, &out, "")
	return out.Entries, err
}

func (c *Client) Listings(ctx context.Context, accessToken, item string) ([]game.Listing, error) {
	path := "/v1/listings"
	if item != "" {
		path += "?item=" + url.QueryEscape(item)
	}
	var out struct {
		Listings []game.Listing `json:"listings"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Listings, err
}

func (c *Client) Catalog(ctx context.Context) (Catalog, error) {
	var out Catalog
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/catalog", "", nil, &out, "")
	return out, err
}

type Catalog struct {
	Items      []game.ItemDef    `json:"items"`
	Blueprints []game.Blueprint  `json:"blueprints"`
	Missions   []game.MissionDef `json:"missions"`
}

// Write endpoints go through Do so the CLI can queue them verbatim when
// the API is unreachable.

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var in any
	if body != nil {
		in = body
	}
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if json.Unmarshal(raw, &apiErr.Body) == nil {
			if msg, ok := apiErr.Body["error"].(string); ok {
				apiErr.Message = msg
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
