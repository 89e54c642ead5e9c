package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestRecordRunScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()
	defer mr.Close()

	ctx := context.Background()
	script := redis.NewScript(recordRunScript)

	tests := []struct {
		name        string
		runID       string
		score       int64
		keep        int
		wantEvicted int64
		wantIndex   []string
	}{
		{
			name:        "first run",
			runID:       "a",
			score:       100,
			keep:        2,
			wantEvicted: 0,
			wantIndex:   []string{"a"},
		},
		{
			name:        "second run fits",
			runID:       "b",
			score:       200,
			keep:        2,
			wantEvicted: 0,
			wantIndex:   []string{"a", "b"},
		},
		{
			name:        "third run evicts oldest",
			runID:       "c",
			score:       300,
			keep:        2,
			wantEvicted: 1,
			wantIndex:   []string{"b", "c"},
		},
		{
			name:        "re-recording keeps a single entry",
			runID:       "c",
			score:       300,
			keep:        2,
			wantEvicted: 0,
			wantIndex:   []string{"b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := []string{runKey(tt.runID), runIndexKey}
			args := []interface{}{runKeyPrefix, tt.runID, tt.score, tt.keep, "id", tt.runID, "success", "1"}

			evicted, err := script.Run(ctx, client, keys, args...).Int64()
			if err != nil {
				t.Fatalf("Script failed: %v", err)
			}
			if evicted != tt.wantEvicted {
				t.Errorf("Expected %d evicted, got %d", tt.wantEvicted, evicted)
			}

			index, err := client.ZRange(ctx, runIndexKey, 0, -1).Result()
			if err != nil {
				t.Fatalf("ZRange failed: %v", err)
			}
			if len(index) != len(tt.wantIndex) {
				t.Fatalf("Expected index %v, got %v", tt.wantIndex, index)
			}
			for i := range index {
				if index[i] != tt.wantIndex[i] {
					t.Errorf("Expected index %v, got %v", tt.wantIndex, index)
					break
				}
			}

			data, err := client.HGetAll(ctx, runKey(tt.runID)).Result()
			if err != nil {
				t.Fatalf("HGetAll failed: %v", err)
			}
			if data["id"] != tt.runID || data["success"] != "1" {
				t.Errorf("Unexpected hash contents: %v", data)
			}
		})
	}

	if mr.Exists(runKey("a")) {
		t.Error("Expected evicted run hash to be deleted")
	}
}
