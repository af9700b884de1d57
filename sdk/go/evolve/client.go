// Package evolve is a Go client for the evolvd REST API.
package evolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout applies to clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Error codes returned by evolvd that callers commonly branch on.
const (
	CodeNotFound          = "EVOLUTION_NOT_FOUND"
	CodeCooldownActive    = "EVOLUTION_COOLDOWN_ACTIVE"
	CodeOracleUnavailable = "EVOLUTION_ORACLE_UNAVAILABLE"
	CodeInvalidSignal     = "EVOLUTION_INVALID_SIGNAL"
)

// Asset is a registered asset together with its evolution state.
type Asset struct {
	ID        uint64     `json:"id"`
	Owner     string     `json:"owner"`
	MintedAt  time.Time  `json:"minted_at"`
	Level     int        `json:"level,omitempty"`
	Stage     string     `json:"stage,omitempty"`
	LastCheck *time.Time `json:"last_check,omitempty"`
	TokenURI  string     `json:"token_uri,omitempty"`
}

// AssetPage is one page of ListAssets.
type AssetPage struct {
	Items  []Asset `json:"items"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Description is the read-only view returned by GET /assets/{id}.
type Description struct {
	AssetID           uint64    `json:"asset_id"`
	Owner             string    `json:"owner"`
	Level             int       `json:"level"`
	Stage             string    `json:"stage"`
	LastCheck         time.Time `json:"last_check"`
	Signal            string    `json:"signal"`
	CooldownRemaining int64     `json:"cooldown_remaining_seconds"`
	TokenURI          string    `json:"token_uri,omitempty"`
}

// Evaluation reports the outcome of a single evaluation.
type Evaluation struct {
	AssetID   uint64    `json:"asset_id"`
	Changed   bool      `json:"changed"`
	Level     int       `json:"level"`
	Stage     string    `json:"stage"`
	LastCheck time.Time `json:"last_check"`
}

// Requirements lists the signal values that would move an asset.
type Requirements struct {
	AssetID    uint64 `json:"asset_id"`
	Level      int    `json:"level"`
	Stage      string `json:"stage"`
	CanEvolve  bool   `json:"can_evolve"`
	EvolveAt   string `json:"evolve_at,omitempty"`
	NextStage  string `json:"next_stage,omitempty"`
	CanDevolve bool   `json:"can_devolve"`
	DevolveAt  string `json:"devolve_at,omitempty"`
	PrevStage  string `json:"previous_stage,omitempty"`
}

// Record is the evolution state after an override.
type Record struct {
	AssetID   uint64    `json:"asset_id"`
	Level     int       `json:"level"`
	Stage     string    `json:"stage"`
	LastCheck time.Time `json:"last_check"`
}

// Event is one journalled evolution change.
type Event struct {
	ID      string    `json:"id"`
	AssetID uint64    `json:"asset_id"`
	Level   int       `json:"level"`
	Stage   string    `json:"stage"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Policy is the active evolution policy.
type Policy struct {
	LowThreshold       decimal.Decimal `json:"low_threshold"`
	HighThreshold      decimal.Decimal `json:"high_threshold"`
	CooldownSeconds    int64           `json:"cooldown_seconds"`
	MinCooldownSeconds int64           `json:"min_cooldown_seconds"`
	MaxCooldownSeconds int64           `json:"max_cooldown_seconds"`
	Oracle             string          `json:"oracle"`
}

// Feed is a price feed the operator can switch to.
type Feed struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
}

// APIError is a non-2xx response from evolvd.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RetryAfter time.Duration     `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("evolve api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("evolve api error (%d): %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to one evolvd instance. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// NewClient parses baseURL and builds a client. A nil httpClient gets
// DefaultHTTPTimeout.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with admin calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the stored bearer token.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// Mint registers an asset for owner. Requires an admin token when evolvd
// runs with jwt auth.
func (c *Client) Mint(ctx context.Context, owner string) (Asset, error) {
	var out Asset
	err := c.call(ctx, http.MethodPost, "/api/v1/assets", nil, map[string]string{"owner": owner}, &out)
	return out, err
}

// ListAssets returns one page of assets.
func (c *Client) ListAssets(ctx context.Context, limit, offset int) (AssetPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out AssetPage
	err := c.call(ctx, http.MethodGet, "/api/v1/assets", q, nil, &out)
	return out, err
}

// Describe returns the state of id and the current signal.
func (c *Client) Describe(ctx context.Context, id uint64) (Description, error) {
	var out Description
	err := c.call(ctx, http.MethodGet, assetPath(id, ""), nil, nil, &out)
	return out, err
}

// Evaluate asks evolvd to evaluate id now. A cooldown rejection is an
// APIError with RetryAfter set.
func (c *Client) Evaluate(ctx context.Context, id uint64) (Evaluation, error) {
	var out Evaluation
	err := c.call(ctx, http.MethodPost, assetPath(id, "/evaluate"), nil, nil, &out)
	return out, err
}

// Requirements returns the evolve and devolve triggers of id.
func (c *Client) Requirements(ctx context.Context, id uint64) (Requirements, error) {
	var out Requirements
	err := c.call(ctx, http.MethodGet, assetPath(id, "/requirements"), nil, nil, &out)
	return out, err
}

// History returns the journalled changes of id in the order they happened.
func (c *Client) History(ctx context.Context, id uint64, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Event
	err := c.call(ctx, http.MethodGet, assetPath(id, "/history"), q, nil, &out)
	return out, err
}

// Override force-sets the level of id. An empty stage is derived by the
// server.
func (c *Client) Override(ctx context.Context, id uint64, level int, stage string) (Record, error) {
	body := struct {
		Level int    `json:"level"`
		Stage string `json:"stage,omitempty"`
	}{level, stage}
	var out Record
	err := c.call(ctx, http.MethodPost, assetPath(id, "/override"), nil, body, &out)
	return out, err
}

// Policy returns the active policy.
func (c *Client) Policy(ctx context.Context) (Policy, error) {
	var out Policy
	err := c.call(ctx, http.MethodGet, "/api/v1/policy", nil, nil, &out)
	return out, err
}

// SetThresholds replaces the low/high thresholds.
func (c *Client) SetThresholds(ctx context.Context, low, high decimal.Decimal) (Policy, error) {
	body := map[string]decimal.Decimal{"low_threshold": low, "high_threshold": high}
	var out Policy
	err := c.call(ctx, http.MethodPut, "/api/v1/policy/thresholds", nil, body, &out)
	return out, err
}

// SetCooldown replaces the cooldown. It is sent in whole seconds.
func (c *Client) SetCooldown(ctx context.Context, cooldown time.Duration) (Policy, error) {
	body := map[string]int64{"cooldown_seconds": int64(cooldown / time.Second)}
	var out Policy
	err := c.call(ctx, http.MethodPut, "/api/v1/policy/cooldown", nil, body, &out)
	return out, err
}

// SetOracle switches the active price feed.
func (c *Client) SetOracle(ctx context.Context, feed string) (Policy, error) {
	var out Policy
	err := c.call(ctx, http.MethodPut, "/api/v1/policy/oracle", nil, map[string]string{"feed": feed}, &out)
	return out, err
}

// Feeds lists the configured price feeds.
func (c *Client) Feeds(ctx context.Context) ([]Feed, error) {
	var out []Feed
	err := c.call(ctx, http.MethodGet, "/api/v1/oracle/feeds", nil, nil, &out)
	return out, err
}

func assetPath(id uint64, suffix string) string {
	return "/api/v1/assets/" + strconv.FormatUint(id, 10) + suffix
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, payload, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	envelope := struct {
		Error *APIError `json:"error"`
	}{Error: apiErr}
	if len(data) > 0 && json.Unmarshal(data, &envelope) != nil {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
