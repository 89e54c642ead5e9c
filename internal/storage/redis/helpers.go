package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/shibasync/internal/storage"
)

// runFields flattens a Run into Redis hash field/value pairs
func runFields(run storage.Run) []interface{} {
	success := "0"
	if run.Success {
		success = "1"
	}

	return []interface{}{
		"id", run.ID,
		"trigger", string(run.Trigger),
		"started_at", run.StartedAt.Format(time.RFC3339Nano),
		"finished_at", run.FinishedAt.Format(time.RFC3339Nano),
		"success", success,
		"error", run.Error,
		"total_games", run.TotalGames,
		"unique_users", run.UniqueUsers,
		"successful_updates", run.SuccessfulUpdates,
		"errors", run.Errors,
		"skipped", run.Skipped,
		"users_total", run.UsersTotal,
		"users_updated", run.UsersUpdated,
		"user_errors", run.UserErrors,
		"users_skipped", run.UsersSkipped,
		"posts_updated", run.PostsUpdated,
		"post_errors", run.PostErrors,
	}
}

// parseRun converts a Redis hash to Run
func parseRun(data map[string]string) (*storage.Run, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	finishedAt, err := time.Parse(time.RFC3339Nano, data["finished_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished_at: %w", err)
	}

	success, err := strconv.ParseBool(data["success"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse success: %w", err)
	}

	run := &storage.Run{
		ID:         data["id"],
		Trigger:    storage.Trigger(data["trigger"]),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Success:    success,
		Error:      data["error"],
	}

	counters := []struct {
		field string
		dst   *int
	}{
		{"total_games", &run.TotalGames},
		{"unique_users", &run.UniqueUsers},
		{"successful_updates", &run.SuccessfulUpdates},
		{"errors", &run.Errors},
		{"skipped", &run.Skipped},
		{"users_total", &run.UsersTotal},
		{"users_updated", &run.UsersUpdated},
		{"user_errors", &run.UserErrors},
		{"users_skipped", &run.UsersSkipped},
		{"posts_updated", &run.PostsUpdated},
		{"post_errors", &run.PostErrors},
	}
	for _, c := range counters {
		v, ok := data[c.field]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", c.field, err)
		}
		*c.dst = n
	}

	return run, nil
}
