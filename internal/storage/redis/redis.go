package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/shibasync/internal/config"
	"github.com/goodtune/shibasync/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultHistorySize is used when no history size is configured
const DefaultHistorySize = 50

// Store implements the storage.Store interface using Redis
type Store struct {
	client   *redis.Client
	runStore *runStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, historySize int) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry a port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	return &Store{
		client:   client,
		runStore: &runStore{client: client, historySize: historySize},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Runs returns the RunStore implementation
func (s *Store) Runs() storage.RunStore {
	return s.runStore
}
