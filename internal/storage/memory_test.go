package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/formrelay/internal/form"
)

func TestMemoryStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub := form.Submission{"name": "Alice"}
	require.NoError(t, s.Append(ctx, "2024-01-01 10:00:00.000001", sub))
	require.NoError(t, s.Append(ctx, "2024-01-01 10:00:00.000002", form.Submission{"name": "Bob"}))

	// Mutating the caller's map must not leak into the store.
	sub["name"] = "Mallory"

	doc, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, doc, 2)
	assert.Equal(t, "Alice", doc["2024-01-01 10:00:00.000001"]["name"])
	assert.Equal(t, 2, s.Appends())
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123456000, time.Local)
	key := FormatTimestamp(ts)
	assert.Equal(t, "2024-03-05 07:08:09.123456", key)

	parsed, err := ParseTimestamp(key)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}
