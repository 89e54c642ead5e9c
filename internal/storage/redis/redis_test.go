package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/shibasync/internal/config"
	"github.com/goodtune/shibasync/internal/storage"
)

func setupTestStore(t *testing.T, historySize int) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg, historySize)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func testRun(id string, startedAt time.Time) storage.Run {
	return storage.Run{
		ID:                id,
		Trigger:           storage.TriggerScheduled,
		StartedAt:         startedAt,
		FinishedAt:        startedAt.Add(42 * time.Second),
		Success:           true,
		TotalGames:        12,
		UniqueUsers:       4,
		SuccessfulUpdates: 10,
		Errors:            1,
		Skipped:           1,
		UsersTotal:        5,
		UsersUpdated:      3,
		UsersSkipped:      2,
		PostsUpdated:      7,
	}
}

func TestRunStore_RecordAndLatest(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	runs := store.Runs()

	start := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	first := testRun("run-1", start)
	second := testRun("run-2", start.Add(time.Minute))
	second.Success = false
	second.Error = "fetching games: airtable error 503"
	second.Trigger = storage.TriggerManual

	if err := runs.Record(ctx, first); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := runs.Record(ctx, second); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	latest, err := runs.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}

	if latest.ID != "run-2" {
		t.Errorf("Expected latest run-2, got %s", latest.ID)
	}
	if latest.Success {
		t.Error("Expected latest run to be a failure")
	}
	if latest.Error != second.Error {
		t.Errorf("Expected error %q, got %q", second.Error, latest.Error)
	}
	if latest.Trigger != storage.TriggerManual {
		t.Errorf("Expected manual trigger, got %s", latest.Trigger)
	}
	if !latest.StartedAt.Equal(second.StartedAt) {
		t.Errorf("Expected StartedAt %v, got %v", second.StartedAt, latest.StartedAt)
	}
	if latest.Duration() != 42*time.Second {
		t.Errorf("Expected duration 42s, got %v", latest.Duration())
	}
	if latest.PostsUpdated != 7 || latest.UsersSkipped != 2 || latest.TotalGames != 12 {
		t.Errorf("Counters not round-tripped: %+v", latest)
	}
}

func TestRunStore_LatestEmpty(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	_, err := store.Runs().Latest(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	runs := store.Runs()

	start := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := runs.Record(ctx, testRun(fmt.Sprintf("run-%d", i), start.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := runs.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 runs, got %d", len(all))
	}
	for i, want := range []string{"run-3", "run-2", "run-1", "run-0"} {
		if all[i].ID != want {
			t.Errorf("Expected runs[%d]=%s, got %s", i, want, all[i].ID)
		}
	}

	limited, err := runs.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "run-3" {
		t.Errorf("Expected [run-3 run-2], got %+v", limited)
	}
}

func TestRunStore_ListEmpty(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	runs, err := store.Runs().List(context.Background(), 5)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("Expected empty slice, got %v", runs)
	}
}

func TestRunStore_TrimsHistory(t *testing.T) {
	store, mr := setupTestStore(t, 3)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	runs := store.Runs()

	start := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := runs.Record(ctx, testRun(fmt.Sprintf("run-%d", i), start.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := runs.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected history trimmed to 3, got %d", len(all))
	}
	if all[2].ID != "run-2" {
		t.Errorf("Expected oldest kept run-2, got %s", all[2].ID)
	}

	// Evicted hashes are deleted, not just unindexed
	if mr.Exists(runKey("run-0")) || mr.Exists(runKey("run-1")) {
		t.Error("Expected evicted run hashes to be deleted")
	}
	if !mr.Exists(runKey("run-4")) {
		t.Error("Expected newest run hash to exist")
	}
}

func TestRunStore_RecordRequiresID(t *testing.T) {
	store, _ := setupTestStore(t, 10)
	defer func() { _ = store.Close() }()

	if err := store.Runs().Record(context.Background(), storage.Run{}); err == nil {
		t.Fatal("Expected error for run without id")
	}
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "soon"}, 10)
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestParseRun_Errors(t *testing.T) {
	if _, err := parseRun(map[string]string{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty hash, got %v", err)
	}

	bad := map[string]string{
		"id":          "run-1",
		"started_at":  "2025-09-01T12:00:00Z",
		"finished_at": "2025-09-01T12:00:42Z",
		"success":     "1",
		"errors":      "many",
	}
	if _, err := parseRun(bad); err == nil {
		t.Error("Expected error for non-numeric counter")
	}
}
