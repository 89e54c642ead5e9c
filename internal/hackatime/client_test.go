package hackatime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, clock quartz.Clock, cfg Config, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/api/v1/"
	if cfg.StartDate == "" {
		cfg.StartDate = "2025-08-18"
	}
	cfg.Timeout = 5 * time.Second
	return NewClient(cfg, clock, zerolog.Nop())
}

func TestFetchTotals(t *testing.T) {
	mClock := quartz.NewMock(t)
	mClock.Set(time.Date(2025, 9, 1, 22, 0, 0, 0, time.UTC))

	client := newTestClient(t, mClock, Config{BypassToken: "trusted"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/U123/stats", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "projects", q.Get("features"))
		assert.Equal(t, "2025-08-18", q.Get("start_date"))
		assert.Equal(t, "2025-09-02", q.Get("end_date"))
		assert.Equal(t, "trusted", r.Header.Get(BypassHeader))

		_, _ = w.Write([]byte(`{"data":{"projects":[{"name":"shiba-game","total_seconds":3600},{"name":"Tools","total_seconds":120.5}],"total_seconds":3720.5}}`))
	})

	totals, err := client.FetchTotals(context.Background(), "U123")
	require.NoError(t, err)
	assert.Equal(t, 3720.5, totals.TotalSeconds)
	require.Len(t, totals.Projects, 2)

	p, ok := totals.Find("tools")
	assert.True(t, ok)
	assert.Equal(t, 120.5, p.TotalSeconds)

	_, ok = totals.Find("missing")
	assert.False(t, ok)
}

func TestFetchTotals_ExplicitEndDate(t *testing.T) {
	client := newTestClient(t, quartz.NewMock(t), Config{EndDate: "2025-10-01"}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2025-10-01", r.URL.Query().Get("end_date"))
		assert.Empty(t, r.Header.Get(BypassHeader))
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	totals, err := client.FetchTotals(context.Background(), "U1")
	require.NoError(t, err)
	assert.NotNil(t, totals.Projects)
	assert.Empty(t, totals.Projects)
}

func TestFetchTotals_RateLimited(t *testing.T) {
	client := newTestClient(t, quartz.NewMock(t), Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchTotals(context.Background(), "U1")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, statusErr.RateLimited())
	assert.Contains(t, err.Error(), "429")
}

func TestFetchTotals_ServerError(t *testing.T) {
	client := newTestClient(t, quartz.NewMock(t), Config{}, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchTotals(context.Background(), "U1")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.False(t, statusErr.RateLimited())
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestFetchTotals_MissingUser(t *testing.T) {
	client := NewClient(Config{}, quartz.NewMock(t), zerolog.Nop())
	_, err := client.FetchTotals(context.Background(), "")
	assert.Error(t, err)
}

func TestFetchSpans_SkipsFailedProjects(t *testing.T) {
	client := newTestClient(t, quartz.NewReal(), Config{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/U123/heartbeats/spans", r.URL.Path)
		assert.Equal(t, "2025-08-18", r.URL.Query().Get("start_date"))

		switch r.URL.Query().Get("project") {
		case "alpha":
			_, _ = w.Write([]byte(`{"spans":[{"start_time":0,"end_time":100},{"start_time":200,"end_time":260}]}`))
		case "beta":
			w.WriteHeader(http.StatusTooManyRequests)
		case "gamma":
			_, _ = w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected project %q", r.URL.Query().Get("project"))
		}
	})

	set, err := client.FetchSpans(context.Background(), "U123", []ProjectTotal{
		{Name: "alpha"},
		{Name: ""},
		{Name: "beta"},
		{Name: "gamma"},
	})
	require.NoError(t, err)

	assert.Equal(t, []Span{{Start: 0, End: 100}, {Start: 200, End: 260}}, set.Spans("alpha"))
	assert.Equal(t, []Span{{Start: 0, End: 100}, {Start: 200, End: 260}}, set.Spans("ALPHA"))
	assert.NotNil(t, set.ByProject["gamma"])
	assert.Empty(t, set.ByProject["gamma"])
	assert.NotContains(t, set.ByProject, "beta")

	require.Len(t, set.Omitted, 1)
	assert.Equal(t, "beta", set.Omitted[0].Name)
	assert.Contains(t, set.Omitted[0].Reason, "429")
}

func TestFetchSpans_DelaysBetweenProjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().NewTimer("hackatime", "project_delay")
	defer trap.Close()

	requests := make(chan string, 3)
	client := newTestClient(t, mClock, Config{ProjectDelay: 100 * time.Millisecond}, func(w http.ResponseWriter, r *http.Request) {
		requests <- r.URL.Query().Get("project")
		_, _ = w.Write([]byte(`{"spans":[]}`))
	})

	done := make(chan error, 1)
	go func() {
		_, err := client.FetchSpans(ctx, "U1", []ProjectTotal{{Name: "a"}, {Name: "b"}})
		done <- err
	}()

	assert.Equal(t, "a", <-requests)

	call := trap.MustWait(ctx)
	assert.Equal(t, 100*time.Millisecond, call.Duration)
	call.MustRelease(ctx)

	select {
	case p := <-requests:
		t.Fatalf("request for %q sent before delay elapsed", p)
	default:
	}

	mClock.Advance(100 * time.Millisecond).MustWait(ctx)
	assert.Equal(t, "b", <-requests)
	require.NoError(t, <-done)
}

func TestFetchSpans_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := newTestClient(t, quartz.NewReal(), Config{ProjectDelay: time.Hour}, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		_, _ = w.Write([]byte(`{"spans":[]}`))
	})

	_, err := client.FetchSpans(ctx, "U1", []ProjectTotal{{Name: "a"}, {Name: "b"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpanSet_OmittedAmong(t *testing.T) {
	set := &SpanSet{Omitted: []OmittedProject{{Name: "Beta", Reason: "status 429"}}}

	assert.Equal(t, []string{"beta"}, set.OmittedAmong([]string{"alpha", "beta"}))
	assert.Nil(t, set.OmittedAmong([]string{"alpha"}))

	var none *SpanSet
	assert.Nil(t, none.OmittedAmong([]string{"beta"}))
}
