package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

// These tests talk to a real server and only run when REDIS_ADDR is set.
func testClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis store tests")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

func testKey(t *testing.T) string {
	return fmt.Sprintf("formrelay:test:%s:%d", t.Name(), time.Now().UnixNano())
}

func TestNewWithClient_DefaultKey(t *testing.T) {
	s := NewWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	assert.Equal(t, DefaultKey, s.Key())
	assert.NoError(t, s.Close())
}

func TestNew_UnreachableIsIOError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, Config{Addr: "127.0.0.1:1"})
	assert.ErrorIs(t, err, storage.ErrIO)
}

func TestStore_AppendLoad(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := testKey(t)
	t.Cleanup(func() { client.Del(ctx, key) })

	s := NewWithClient(client, key)
	require.NoError(t, s.Append(ctx, "2024-01-01 00:00:00.000001", form.Submission{"name": "Alice"}))
	require.NoError(t, s.Append(ctx, "2024-01-01 00:00:00.000002", form.Submission{"name": "Bob"}))

	doc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.Document{
		"2024-01-01 00:00:00.000001": {"name": "Alice"},
		"2024-01-01 00:00:00.000002": {"name": "Bob"},
	}, doc)
}

func TestStore_LoadFormatError(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := testKey(t)
	t.Cleanup(func() { client.Del(ctx, key) })

	require.NoError(t, client.HSet(ctx, key, "ts", "not-json").Err())

	_, err := NewWithClient(client, key).Load(ctx)
	assert.ErrorIs(t, err, storage.ErrFormat)
}
