// Package twin is a client for the Azure Digital Twins REST API: JSON Patch
// property writes and paged twin queries.
package twin

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

	"github.com/synapseshield/shield/internal/domain"
)

// DefaultAPIVersion is the Digital Twins data-plane API version used when
// none is configured.
const DefaultAPIVersion = "2022-05-31"

// DefaultQuery selects every twin.
const DefaultQuery = "SELECT * FROM DIGITALTWINS"

// Ensure interfaces are implemented
var (
	_ domain.TwinSink    = (*Client)(nil)
	_ domain.TwinQuerier = (*Client)(nil)
)

// Config configures the client. An empty URL leaves the client unconfigured:
// every call returns domain.ErrTwinNotConfigured.
type Config struct {
	URL        string // e.g. https://<instance>.api.<region>.digitaltwins.azure.net
	Token      string // bearer token
	APIVersion string
	Timeout    time.Duration
	Breaker    BreakerConfig
}

// Client talks to one Digital Twins instance.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *Breaker
}

// New creates a client.
func New(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewBreaker(cfg.Breaker),
	}
}

// Breaker returns the breaker guarding property writes.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool { return c.cfg.URL != "" }

// APIError is a non-2xx response from the service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("digital twins API error: %d %s", e.Status, e.Body)
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// SetProperty writes value at path on the twin. It tries a JSON Patch
// "replace" first and falls back to "add" when the property does not exist
// yet. While the breaker is open it fails fast with ErrCircuitOpen.
func (c *Client) SetProperty(ctx context.Context, twinID, path string, value any) error {
	if !c.Configured() {
		return domain.ErrTwinNotConfigured
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	err := c.setProperty(ctx, twinID, path, value)
	switch {
	case ctx.Err() != nil:
	case unavailable(err):
		c.breaker.RecordFailure()
	default:
		c.breaker.RecordSuccess()
	}
	return err
}

// unavailable reports whether err means the service itself is failing, as
// opposed to rejecting this particular request.
func unavailable(err error) bool {
	if err == nil {
		return false
	}
	// The add fallback is the attempt that decided the outcome.
	var pe *patchError
	if errors.As(err, &pe) {
		return unavailable(pe.add)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) setProperty(ctx context.Context, twinID, path string, value any) error {
	replaceErr := c.patch(ctx, twinID, patchOp{Op: "replace", Path: path, Value: value})
	if replaceErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return replaceErr
	}
	if err := c.patch(ctx, twinID, patchOp{Op: "add", Path: path, Value: value}); err != nil {
		return fmt.Errorf("set %s on %s: %w", path, twinID, &patchError{replace: replaceErr, add: err})
	}
	return nil
}

// patchError carries both failed attempts of a property write.
type patchError struct {
	replace, add error
}

func (e *patchError) Error() string {
	return fmt.Sprintf("replace: %v; add: %v", e.replace, e.add)
}

func (e *patchError) Unwrap() []error { return []error{e.replace, e.add} }

func (c *Client) patch(ctx context.Context, twinID string, op patchOp) error {
	body, err := json.Marshal([]patchOp{op})
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	endpoint := fmt.Sprintf("%s/digitaltwins/%s?api-version=%s",
		c.cfg.URL, url.PathEscape(twinID), url.QueryEscape(c.cfg.APIVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-patch+json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return readAPIError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

type queryRequest struct {
	Query             string `json:"query,omitempty"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

type queryResponse struct {
	Value             []map[string]any `json:"value"`
	ContinuationToken string           `json:"continuationToken"`
}

// Query runs a twin query and follows continuation tokens until every page
// has been read.
func (c *Client) Query(ctx context.Context, query string) ([]map[string]any, error) {
	if !c.Configured() {
		return nil, domain.ErrTwinNotConfigured
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}

	items := []map[string]any{}
	req := queryRequest{Query: query}
	for {
		page, err := c.queryPage(ctx, req)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Value...)
		if page.ContinuationToken == "" {
			return items, nil
		}
		req = queryRequest{ContinuationToken: page.ContinuationToken}
	}
}

func (c *Client) queryPage(ctx context.Context, q queryRequest) (*queryResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	endpoint := fmt.Sprintf("%s/query?api-version=%s", c.cfg.URL, url.QueryEscape(c.cfg.APIVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var page queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &page, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func readAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
