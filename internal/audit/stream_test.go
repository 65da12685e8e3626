//go:build integration

package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"routstr-proxy/pkg/cache"
	"routstr-proxy/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func setupTestQueue(t *testing.T) *StreamQueue {
	t.Helper()

	require.NoError(t, cache.Init(cache.Config{Host: "localhost", Port: "6379", DB: 3}))
	return NewStreamQueue(cache.Client)
}

func cleanupTestQueue(t *testing.T) {
	t.Helper()
	require.NoError(t, cache.Client.FlushDB(context.Background()).Err())
}

func TestStreamQueue_PublishAndConsume(t *testing.T) {
	q := setupTestQueue(t)
	defer cleanupTestQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := "test:settlements"
	group := "test-group"
	require.NoError(t, q.DeclareStream(ctx, stream, group))

	expected := []byte(`{"event_id":"e1"}`)
	msgID, err := q.Publish(ctx, stream, expected)
	require.NoError(t, err)

	var received []byte
	var wg sync.WaitGroup
	wg.Add(1)

	handler := func(messageID string, data []byte) error {
		assert.Equal(t, msgID, messageID)
		received = data
		wg.Done()
		cancel()
		return nil
	}

	go func() { _ = q.Consume(ctx, stream, group, "consumer-1", handler) }()
	wg.Wait()

	assert.Equal(t, expected, received)
}

func TestStreamQueue_DeclareStream_Idempotent(t *testing.T) {
	q := setupTestQueue(t)
	defer cleanupTestQueue(t)

	ctx := context.Background()
	require.NoError(t, q.DeclareStream(ctx, "test:idempotent", "group"))
	require.NoError(t, q.DeclareStream(ctx, "test:idempotent", "group"))
}

func TestStreamQueue_HandlerError_LeavesMessagePending(t *testing.T) {
	q := setupTestQueue(t)
	defer cleanupTestQueue(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream := "test:pending"
	group := "test-group"
	require.NoError(t, q.DeclareStream(ctx, stream, group))

	_, err := q.Publish(ctx, stream, []byte("payload"))
	require.NoError(t, err)

	handler := func(messageID string, data []byte) error {
		return assert.AnError
	}

	go func() { _ = q.Consume(ctx, stream, group, "consumer-1", handler) }()
	time.Sleep(500 * time.Millisecond)

	pending, err := cache.Client.XPending(context.Background(), stream, group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}
