// Package redis implements the record store as a single Redis hash.
// Each hash field is a timestamp and each value is the JSON-encoded submission.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/storage"
)

// DefaultKey is the hash that holds the document.
const DefaultKey = "formrelay:submissions"

// Config configures the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Store keeps the document in a Redis hash.
type Store struct {
	client goredis.UniversalClient
	key    string
	owned  bool
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping redis %s: %w", storage.ErrIO, cfg.Addr, err)
	}

	s := NewWithClient(client, cfg.Key)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close will not close it.
func NewWithClient(client goredis.UniversalClient, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}
}

// Key returns the hash key.
func (s *Store) Key() string {
	return s.key
}

// Load reads every field of the hash.
func (s *Store) Load(ctx context.Context) (storage.Document, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %w", storage.ErrIO, s.key, err)
	}

	doc := make(storage.Document, len(fields))
	for ts, raw := range fields {
		var sub form.Submission
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			return nil, fmt.Errorf("%w: field %q of %s: %w", storage.ErrFormat, ts, s.key, err)
		}
		doc[ts] = sub
	}
	return doc, nil
}

// Append sets one hash field.
func (s *Store) Append(ctx context.Context, timestamp string, sub form.Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("%w: encode submission: %w", storage.ErrFormat, err)
	}
	if err := s.client.HSet(ctx, s.key, timestamp, raw).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %w", storage.ErrIO, s.key, err)
	}
	return nil
}

// Close closes the client if the store dialed it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
