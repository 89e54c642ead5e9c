package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/shibasync/internal/reconcile"
	"github.com/goodtune/shibasync/internal/scheduler"
	"github.com/goodtune/shibasync/internal/storage"
	"github.com/goodtune/shibasync/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	summary  *reconcile.Summary
	err      error
	status   scheduler.Status
	triggers int
}

func (f *fakeSyncer) Trigger(ctx context.Context) (*reconcile.Summary, error) {
	f.triggers++
	return f.summary, f.err
}

func (f *fakeSyncer) Status() scheduler.Status {
	return f.status
}

func newTestServer(t *testing.T, syncer Syncer, runs storage.RunStore, cfg Config) *Server {
	t.Helper()
	s := NewServer(cfg, syncer, runs, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeSyncer{}, nil, Config{})

	rec := serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, body.Timestamp.Equal(fixedNow))
}

func TestSyncStatus(t *testing.T) {
	last := fixedNow.Add(-time.Minute)
	syncer := &fakeSyncer{status: scheduler.Status{
		State:     scheduler.StateIdle,
		RunCount:  3,
		LastRunAt: &last,
		LastError: "boom",
	}}
	s := newTestServer(t, syncer, nil, Config{})

	rec := serve(s, http.MethodGet, "/api/sync-status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, false, body["isRunning"])
	assert.Equal(t, float64(3), body["syncCount"])
	assert.Equal(t, "boom", body["lastError"])
	assert.Equal(t, last.Format(time.RFC3339), body["lastSyncTime"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), body["timestamp"])
}

func TestSyncTrigger(t *testing.T) {
	tests := []struct {
		name       string
		syncer     *fakeSyncer
		wantStatus int
		wantInBody string
	}{
		{
			name:       "success returns summary",
			syncer:     &fakeSyncer{summary: &reconcile.Summary{ID: "run-1", TotalGames: 4, SuccessfulUpdates: 2}},
			wantStatus: http.StatusOK,
			wantInBody: `"totalGames":4`,
		},
		{
			name:       "busy",
			syncer:     &fakeSyncer{err: scheduler.ErrBusy},
			wantStatus: http.StatusConflict,
			wantInBody: "Sync already running",
		},
		{
			name:       "failure",
			syncer:     &fakeSyncer{err: fmt.Errorf("fetch games: %w", errors.New("airtable down"))},
			wantStatus: http.StatusInternalServerError,
			wantInBody: "airtable down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.syncer, nil, Config{})

			rec := serve(s, http.MethodPost, "/api/sync")
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantInBody)
			assert.Equal(t, 1, tt.syncer.triggers)
		})
	}
}

func TestSyncTrigger_ErrorBody(t *testing.T) {
	s := newTestServer(t, &fakeSyncer{err: scheduler.ErrBusy}, nil, Config{})

	rec := serve(s, http.MethodPost, "/api/sync")

	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, http.StatusConflict, body.Code)
	assert.Equal(t, "Conflict", body.Error)
}

func TestSyncTrigger_RateLimited(t *testing.T) {
	syncer := &fakeSyncer{summary: &reconcile.Summary{ID: "run-1"}}
	s := newTestServer(t, syncer, nil, Config{TriggerLimit: 2, TriggerWindow: time.Hour})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/api/sync").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/api/sync").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(s, http.MethodPost, "/api/sync").Code)
	assert.Equal(t, 2, syncer.triggers)

	// other endpoints are not limited
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/sync-status").Code)
}

func TestSyncTrigger_WrongMethod(t *testing.T) {
	syncer := &fakeSyncer{}
	s := newTestServer(t, syncer, nil, Config{})

	rec := serve(s, http.MethodGet, "/api/sync")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, syncer.triggers)
}

func TestSyncHistory(t *testing.T) {
	ctx := context.Background()
	store := memory.New(10)
	for i := 0; i < 4; i++ {
		start := fixedNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(ctx, storage.Run{
			ID:         fmt.Sprintf("run-%d", i),
			Trigger:    storage.TriggerScheduled,
			StartedAt:  start,
			FinishedAt: start.Add(time.Second),
			Success:    true,
		}))
	}
	s := newTestServer(t, &fakeSyncer{}, store.Runs(), Config{})

	rec := serve(s, http.MethodGet, "/api/sync/history?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HistoryResponse
	decode(t, rec, &body)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "run-3", body.Runs[0].ID)
	assert.Equal(t, "run-2", body.Runs[1].ID)

	rec = serve(s, http.MethodGet, "/api/sync/history")
	decode(t, rec, &body)
	assert.Equal(t, 4, body.Count)
}

func TestSyncHistory_NoStore(t *testing.T) {
	s := newTestServer(t, &fakeSyncer{}, nil, Config{})

	rec := serve(s, http.MethodGet, "/api/sync/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, rec.Body.String())
}

func TestSyncHistory_BadLimit(t *testing.T) {
	s := newTestServer(t, &fakeSyncer{}, memory.New(1).Runs(), Config{})

	for _, q := range []string{"abc", "-1"} {
		rec := serve(s, http.MethodGet, "/api/sync/history?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, &fakeSyncer{}, nil, Config{})

	rec := serve(s, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "/nope"))
}
