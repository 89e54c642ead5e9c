package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultPageSize is the largest page Airtable will return.
const DefaultPageSize = 100

// Config holds the datastore connection settings.
type Config struct {
	APIKey   string
	BaseID   string
	BaseURL  string
	PageSize int
	Timeout  time.Duration
}

// Client is an authenticated Airtable REST client.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Table      string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable %s %s: status %d: %s", e.Method, e.Table, e.StatusCode, e.Body)
}

// RateLimited reports whether Airtable rejected the request for rate limiting.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Sort orders a list request by one field.
type Sort struct {
	Field string
	Desc  bool
}

// Query narrows a list request. The zero value lists every record.
type Query struct {
	Fields          []string
	FilterByFormula string
	Sort            []Sort
}

func (q Query) values() url.Values {
	v := url.Values{}
	for _, f := range q.Fields {
		v.Add("fields[]", f)
	}
	if q.FilterByFormula != "" {
		v.Set("filterByFormula", q.FilterByFormula)
	}
	for i, s := range q.Sort {
		direction := "asc"
		if s.Desc {
			direction = "desc"
		}
		v.Set(fmt.Sprintf("sort[%d][field]", i), s.Field)
		v.Set(fmt.Sprintf("sort[%d][direction]", i), direction)
	}
	return v
}

// Page is one list response.
type Page struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// NewClient creates a new Airtable client. The API key is sent as a bearer
// token on every request.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.APIKey,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = cfg.Timeout

	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "airtable").Logger(),
	}
}

func (c *Client) tableURL(table string, parts ...string) string {
	segments := []string{c.config.BaseURL, url.PathEscape(c.config.BaseID), url.PathEscape(table)}
	for _, p := range parts {
		segments = append(segments, url.PathEscape(p))
	}
	return strings.Join(segments, "/")
}

// do sends a request and decodes a JSON response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, table, endpoint string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.DatastoreRequests.WithLabelValues(table, method, "error").Inc()
		return fmt.Errorf("airtable %s %s: %w", method, table, err)
	}
	defer resp.Body.Close()
	metrics.DatastoreRequests.WithLabelValues(table, method, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Table:      table,
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding airtable response: %w", err)
	}
	return nil
}

// FetchPage retrieves a single page of records starting at offset.
func (c *Client) FetchPage(ctx context.Context, table string, q Query, offset string) (*Page, error) {
	params := q.values()
	params.Set("pageSize", strconv.Itoa(c.config.PageSize))
	if offset != "" {
		params.Set("offset", offset)
	}

	var page Page
	endpoint := c.tableURL(table) + "?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, table, endpoint, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchAll retrieves every record matching q, following continuation
// offsets until the last page. Any failed page aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context, table string, q Query) ([]Record, error) {
	var all []Record
	offset := ""
	pages := 0
	for {
		page, err := c.FetchPage(ctx, table, q, offset)
		if err != nil {
			return nil, err
		}
		pages++
		all = append(all, page.Records...)
		if page.Offset == "" {
			break
		}
		offset = page.Offset
	}

	c.logger.Debug().
		Str("table", table).
		Int("pages", pages).
		Int("records", len(all)).
		Msg("Fetched records")

	if all == nil {
		all = []Record{}
	}
	return all, nil
}

// Update patches the given fields on one record.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) error {
	payload, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return fmt.Errorf("encoding update for %s: %w", id, err)
	}
	return c.do(ctx, http.MethodPatch, table, c.tableURL(table, id), bytes.NewReader(payload), nil)
}
