// Package storage defines the record store contract shared by every backend.
//
// A document maps a creation timestamp to one submission. Backends live in
// sub-packages (jsonfile, redis, postgres); the in-memory store here is used
// by tests and as a scratch backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/formrelay/internal/form"
)

// TimestampLayout is the key format of a document: local time with
// microsecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000000"

var (
	// ErrIO marks failures reading or writing the backing medium.
	ErrIO = errors.New("storage io error")
	// ErrFormat marks existing content that is not a valid document.
	ErrFormat = errors.New("storage format error")
)

// Document is the full set of stored submissions keyed by timestamp.
type Document map[string]form.Submission

// Store persists submissions.
//
// Implementations are not required to be safe for concurrent Append calls;
// callers serialize writes (see ingest.Writer).
type Store interface {
	// Load returns the whole document. A store with nothing written yet
	// returns an empty document.
	Load(ctx context.Context) (Document, error)
	// Append inserts or overwrites the entry at timestamp.
	Append(ctx context.Context, timestamp string, sub form.Submission) error
	// Close releases backend resources.
	Close() error
}

// FormatTimestamp renders t as a document key.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a document key in local time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}
