package redis

import (
	"context"
	"fmt"

	"github.com/goodtune/shibasync/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	runKeyPrefix = "shibasync:run:"
	runIndexKey  = "shibasync:runs"
)

type runStore struct {
	client      *redis.Client
	historySize int
}

func runKey(id string) string {
	return runKeyPrefix + id
}

// Record stores a run and trims the history to the configured size
func (s *runStore) Record(ctx context.Context, run storage.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}

	script := redis.NewScript(recordRunScript)

	keys := []string{runKey(run.ID), runIndexKey}
	args := []interface{}{
		runKeyPrefix,
		run.ID,
		run.StartedAt.UnixMilli(),
		s.historySize,
	}
	args = append(args, runFields(run)...)

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Latest returns the most recently started run
func (s *runStore) Latest(ctx context.Context) (*storage.Run, error) {
	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, storage.ErrNotFound
	}

	data, err := s.client.HGetAll(ctx, runKey(ids[0])).Result()
	if err != nil {
		return nil, err
	}

	return parseRun(data)
}

// List returns up to limit runs, newest first
func (s *runStore) List(ctx context.Context, limit int) ([]storage.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, runIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Run{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, runKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	runs := make([]storage.Run, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		run, err := parseRun(data)
		if err != nil {
			continue
		}
		runs = append(runs, *run)
	}

	return runs, nil
}
