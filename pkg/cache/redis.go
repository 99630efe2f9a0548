package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opentox/toxotis/pkg/task"
)

// ErrNotFound is returned when no snapshot is cached for a job.
var ErrNotFound = errors.New("task snapshot not found")

const keyPrefix = "toxotis:task:"

// TaskCache keeps the latest observed task of each monitored job in Redis so
// other processes can read progress without polling the remote service.
type TaskCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewTaskCache connects to redisURL. A zero ttl keeps snapshots forever.
func NewTaskCache(ctx context.Context, redisURL string, ttl time.Duration) (*TaskCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &TaskCache{redis: client, ttl: ttl}, nil
}

func key(jobID string) string {
	return keyPrefix + jobID
}

// Put stores a snapshot of t for jobID, replacing any previous one.
func (c *TaskCache) Put(ctx context.Context, jobID string, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key(jobID), data, c.ttl).Err()
}

// Get returns the cached snapshot for jobID.
func (c *TaskCache) Get(ctx context.Context, jobID string) (*task.Task, error) {
	data, err := c.redis.Get(ctx, key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task snapshot: %w", err)
	}
	return &t, nil
}

func (c *TaskCache) Delete(ctx context.Context, jobID string) error {
	return c.redis.Del(ctx, key(jobID)).Err()
}

func (c *TaskCache) Close() error {
	return c.redis.Close()
}
