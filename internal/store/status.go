package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/researcher/config"
)

// Run statuses cached while a research task is in flight.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunStatus is the transient view of an in-flight run
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps run statuses in Redis so multiple server instances see
// the same view. TTL bounds how long finished runs linger.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache connects and pings Redis
func NewStatusCache(ctx context.Context, cfg config.RedisConfig) (*StatusCache, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", host, port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusCache{client: client, ttl: ttl}, nil
}

func (c *StatusCache) SetStatus(ctx context.Context, status RunStatus) error {
	status.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statusKey(status.RunID), payload, c.ttl).Err()
}

func (c *StatusCache) GetStatus(ctx context.Context, runID string) (RunStatus, error) {
	payload, err := c.client.Get(ctx, statusKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return RunStatus{}, ErrNotFound
	}
	if err != nil {
		return RunStatus{}, err
	}
	var status RunStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return RunStatus{}, err
	}
	return status, nil
}

func (c *StatusCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func statusKey(runID string) string {
	return "researcher:run:" + runID
}
