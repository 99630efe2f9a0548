package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opentox/toxotis/pkg/task"
)

// redisURL returns TOXOTIS_TEST_REDIS_URL when set, otherwise starts a
// throwaway redis container.
func redisURL(t *testing.T, ctx context.Context) string {
	if url := os.Getenv("TOXOTIS_TEST_REDIS_URL"); url != "" {
		return url
	}
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestTaskCache(t *testing.T) {
	ctx := context.Background()
	c, err := NewTaskCache(ctx, redisURL(t, ctx), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	jobID := fmt.Sprintf("job-%d", time.Now().UnixNano())
	_, err = c.Get(ctx, jobID)
	require.ErrorIs(t, err, ErrNotFound)

	running := task.New("http://x/task/1")
	running.Status = task.StatusRunning
	running.PercentageCompleted = 30
	running.HTTPStatus = 202
	require.NoError(t, c.Put(ctx, jobID, running))

	got, err := c.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, 30.0, got.PercentageCompleted)
	assert.Equal(t, running.URI, got.URI)

	done := task.FromResult(200, "http://x/model/3")
	require.NoError(t, c.Put(ctx, jobID, done))
	got, err = c.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, got.Status)
	assert.Equal(t, done.ResultURI, got.ResultURI)

	require.NoError(t, c.Delete(ctx, jobID))
	_, err = c.Get(ctx, jobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewTaskCacheRejectsBadURL(t *testing.T) {
	_, err := NewTaskCache(context.Background(), "not-a-redis-url", time.Minute)
	assert.Error(t, err)
}
