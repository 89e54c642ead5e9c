package hackatime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/rs/zerolog"
)

// BypassHeader carries the trusted-caller token past the API rate limiter.
const BypassHeader = "Rack-Attack-Bypass"

const dateLayout = "2006-01-02"

// Config holds the activity API settings.
type Config struct {
	BaseURL      string
	StartDate    string
	EndDate      string // empty means tomorrow (UTC)
	BypassToken  string
	ProjectDelay time.Duration
	Timeout      time.Duration
}

// Client fetches activity totals and spans from Hackatime.
type Client struct {
	config     Config
	httpClient *http.Client
	clock      quartz.Clock
	logger     zerolog.Logger
}

// NewClient creates a new activity API client
func NewClient(cfg Config, clock quartz.Clock, logger zerolog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clock,
		logger:     logger.With().Str("component", "hackatime").Logger(),
	}
}

// endDate returns the configured end date, or tomorrow so that activity
// from today is included.
func (c *Client) endDate() string {
	if c.config.EndDate != "" {
		return c.config.EndDate
	}
	return c.clock.Now().UTC().AddDate(0, 0, 1).Format(dateLayout)
}

func (c *Client) get(ctx context.Context, endpoint, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.BypassToken != "" {
		req.Header.Set(BypassHeader, c.config.BypassToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ActivityRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("hackatime %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.ActivityRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding hackatime %s response: %w", endpoint, err)
	}
	return nil
}

// FetchTotals returns the user's per-project totals for the tracking window.
// A 429 response yields a *StatusError whose RateLimited method is true.
func (c *Client) FetchTotals(ctx context.Context, userID string) (*Totals, error) {
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}

	params := url.Values{}
	params.Set("features", "projects")
	params.Set("start_date", c.config.StartDate)
	params.Set("end_date", c.endDate())
	endpoint := fmt.Sprintf("%s/users/%s/stats?%s", c.config.BaseURL, url.PathEscape(userID), params.Encode())

	var body statsResponse
	if err := c.get(ctx, "stats", endpoint, &body); err != nil {
		return nil, err
	}

	totals := &Totals{
		Projects:     body.Data.Projects,
		TotalSeconds: body.Data.TotalSeconds,
	}
	if totals.Projects == nil {
		totals.Projects = []ProjectTotal{}
	}
	return totals, nil
}

// FetchSpans fetches activity spans for each named project. A project whose
// request fails is recorded in Omitted and the rest continue; only context
// cancellation aborts the whole call.
func (c *Client) FetchSpans(ctx context.Context, userID string, projects []ProjectTotal) (*SpanSet, error) {
	if userID == "" {
		return nil, fmt.Errorf("missing user id")
	}

	set := &SpanSet{ByProject: make(map[string][]Span)}
	first := true
	for _, project := range projects {
		if project.Name == "" {
			continue
		}

		if !first {
			if err := c.sleep(ctx, c.config.ProjectDelay); err != nil {
				return nil, err
			}
		}
		first = false

		spans, err := c.fetchProjectSpans(ctx, userID, project.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.SpanProjectsOmitted.Inc()
			c.logger.Warn().
				Err(err).
				Str("slack_id", userID).
				Str("project", project.Name).
				Msg("Skipping project spans")
			set.Omitted = append(set.Omitted, OmittedProject{Name: project.Name, Reason: err.Error()})
			continue
		}
		set.ByProject[project.Name] = spans
	}

	return set, nil
}

func (c *Client) fetchProjectSpans(ctx context.Context, userID, project string) ([]Span, error) {
	params := url.Values{}
	params.Set("start_date", c.config.StartDate)
	params.Set("project", project)
	endpoint := fmt.Sprintf("%s/users/%s/heartbeats/spans?%s", c.config.BaseURL, url.PathEscape(userID), params.Encode())

	var body spansResponse
	if err := c.get(ctx, "spans", endpoint, &body); err != nil {
		return nil, err
	}
	if body.Spans == nil {
		return []Span{}, nil
	}
	return body.Spans, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := c.clock.NewTimer(d, "hackatime", "project_delay")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
