// Package ingest receives relayed form bodies over UDP and persists them.
//
// The Listener decodes datagrams; the Writer is the only goroutine that ever
// touches the record store, so appends are serialized no matter how many
// receive loops run.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/internal/storage"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

var (
	// ErrWriterClosed is returned to callers once Run has exited.
	ErrWriterClosed = errors.New("writer closed")
	// ErrWriterRunning is returned by a second concurrent Run call.
	ErrWriterRunning = errors.New("writer already running")
)

// DefaultQueueSize bounds how many appends may wait for the writer.
const DefaultQueueSize = 64

// WriterConfig configures a Writer.
type WriterConfig struct {
	QueueSize int
	Logger    *logger.Logger
	Metrics   *metrics.Collector
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type appendRequest struct {
	ctx   context.Context
	sub   form.Submission
	reply chan appendResult
}

type appendResult struct {
	timestamp string
	err       error
}

// Writer owns a storage.Store and applies appends one at a time.
type Writer struct {
	store   storage.Store
	log     *logger.Logger
	metrics *metrics.Collector
	now     func() time.Time

	requests chan appendRequest
	done     chan struct{}
	running  atomic.Bool
	queued   atomic.Int32

	// last is the previous key as a wall-clock reading in UTC. Only the
	// Run goroutine touches it.
	last time.Time
}

// NewWriter creates a writer for store. Call Run to start it.
func NewWriter(store storage.Store, cfg WriterConfig) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("writer")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector("")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Writer{
		store:    store,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		requests: make(chan appendRequest, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Run applies queued appends until ctx is cancelled. It returns nil on
// cancellation; queued requests that were not applied fail with
// ErrWriterClosed.
func (w *Writer) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWriterRunning
	}
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.requests:
			w.metrics.SetWriterQueueDepth(int(w.queued.Add(-1)))
			req.reply <- w.apply(req)
		}
	}
}

// Append queues sub and waits until it is stored. It returns the timestamp
// the submission was stored under.
func (w *Writer) Append(ctx context.Context, sub form.Submission) (string, error) {
	req := appendRequest{ctx: ctx, sub: sub, reply: make(chan appendResult, 1)}

	select {
	case <-w.done:
		return "", ErrWriterClosed
	default:
	}

	// Count the request before Run can receive it so the depth never dips
	// below zero.
	w.metrics.SetWriterQueueDepth(int(w.queued.Add(1)))
	select {
	case w.requests <- req:
	case <-ctx.Done():
		w.metrics.SetWriterQueueDepth(int(w.queued.Add(-1)))
		return "", ctx.Err()
	case <-w.done:
		w.metrics.SetWriterQueueDepth(int(w.queued.Add(-1)))
		return "", ErrWriterClosed
	}

	select {
	case res := <-req.reply:
		return res.timestamp, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-w.done:
		// Run may have replied just before exiting.
		select {
		case res := <-req.reply:
			return res.timestamp, res.err
		default:
			return "", ErrWriterClosed
		}
	}
}

func (w *Writer) apply(req appendRequest) appendResult {
	if err := req.ctx.Err(); err != nil {
		return appendResult{err: err}
	}

	ts := w.nextTimestamp()
	start := time.Now()
	err := w.store.Append(req.ctx, ts, req.sub)
	w.metrics.RecordAppend(time.Since(start), err)
	if err != nil {
		return appendResult{err: err}
	}

	w.log.WithField("timestamp", ts).WithField("fields", len(req.sub)).Debug("submission stored")
	return appendResult{timestamp: ts}
}

// QueueDepth returns the number of appends waiting for the writer.
func (w *Writer) QueueDepth() int {
	return int(w.queued.Load())
}

// nextTimestamp returns a document key strictly after the previous one.
// Keys are compared as local wall-clock readings, not instants, so a clock
// that repeats an hour (end of daylight saving) cannot reuse a key.
func (w *Writer) nextTimestamp() string {
	now := w.now()
	wall := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(),
		now.Nanosecond(), time.UTC).Truncate(time.Microsecond)
	if !wall.After(w.last) {
		wall = w.last.Add(time.Microsecond)
	}
	w.last = wall
	return storage.FormatTimestamp(wall)
}
