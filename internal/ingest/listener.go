package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/R3E-Network/formrelay/internal/form"
	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/internal/storage"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

var (
	// ErrBind wraps a failure to open the listening socket.
	ErrBind = errors.New("ingest bind failed")
	// ErrPayloadTooLarge is reported for datagrams above MaxDatagramSize.
	ErrPayloadTooLarge = errors.New("datagram exceeds max size")
)

// Defaults for Config.
const (
	DefaultAddr            = "0.0.0.0:5000"
	DefaultMaxDatagramSize = 1024
)

// State is the listener's position in its receive loop.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateStopped    State = "stopped"
)

// Appender stores a decoded submission. *Writer implements it.
type Appender interface {
	Append(ctx context.Context, sub form.Submission) (string, error)
}

// Config configures a Listener.
type Config struct {
	// Addr is the UDP address to bind.
	Addr string
	// MaxDatagramSize is the largest accepted payload in bytes.
	MaxDatagramSize int
	// Workers is the number of receive loops sharing the socket. Defaults to 1.
	Workers int
	Logger  *logger.Logger
	Metrics *metrics.Collector
}

// Listener is the UDP ingestion endpoint.
type Listener struct {
	cfg     Config
	log     *logger.Logger
	metrics *metrics.Collector
	store   Appender

	mu      sync.Mutex
	conn    net.PacketConn
	serving atomic.Bool
	stopped atomic.Bool
	busy    atomic.Int32
}

// NewListener creates a listener that hands submissions to store.
func NewListener(cfg Config, store Appender) *Listener {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("ingest")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector("")
	}

	return &Listener{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		store:   store,
	}
}

// Bind opens the UDP socket. Calling it again is a no-op.
func (l *Listener) Bind() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return nil
	}
	conn, err := net.ListenPacket("udp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, l.cfg.Addr, err)
	}
	l.conn = conn
	l.log.WithField("addr", conn.LocalAddr().String()).Info("ingestion listener bound")
	return nil
}

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// State reports whether the listener is waiting for or processing a datagram.
func (l *Listener) State() State {
	switch {
	case l.stopped.Load():
		return StateStopped
	case !l.serving.Load():
		return StateIdle
	case l.busy.Load() > 0:
		return StateProcessing
	default:
		return StateListening
	}
}

// Serve runs the receive loops until ctx is cancelled, then closes the
// socket. It binds first if Bind has not been called. Errors handling a
// single datagram are logged and never stop the loop.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}

	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	l.serving.Store(true)
	defer func() {
		l.serving.Store(false)
		l.stopped.Store(true)
	}()
	defer l.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < l.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.receiveLoop(ctx, conn)
		}()
	}
	wg.Wait()

	l.log.Info("ingestion listener stopped")
	return nil
}

// Close closes the socket.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (l *Listener) receiveLoop(ctx context.Context, conn net.PacketConn) {
	// One extra byte so an oversize datagram is detectable instead of
	// silently truncated.
	buf := make([]byte, l.cfg.MaxDatagramSize+1)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.log.WithError(err).Warn("ingest read failed")
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		l.busy.Add(1)
		_ = l.handle(ctx, payload, from)
		l.busy.Add(-1)
	}
}

// handle decodes one datagram and stores it. The returned error is for
// tests; the loop only logs it.
func (l *Listener) handle(ctx context.Context, payload []byte, from net.Addr) error {
	entry := l.log.WithField("size", len(payload))
	if from != nil {
		entry = entry.WithField("from", from.String())
	}

	if len(payload) > l.cfg.MaxDatagramSize {
		err := fmt.Errorf("%w: received more than %d bytes", ErrPayloadTooLarge, l.cfg.MaxDatagramSize)
		entry.WithError(err).Error("dropping oversize submission")
		l.metrics.RecordDatagram(len(payload), metrics.DatagramTooLarge)
		return err
	}

	sub, err := form.Decode(payload)
	if err != nil {
		entry.WithField("body", string(payload)).WithError(err).Error("failed to parse submission")
		l.metrics.RecordDatagram(len(payload), metrics.DatagramDecodeError)
		return err
	}

	ts, err := l.store.Append(ctx, sub)
	if err != nil {
		kind := "unknown"
		switch {
		case errors.Is(err, storage.ErrFormat):
			kind = "format"
		case errors.Is(err, storage.ErrIO):
			kind = "io"
		}
		entry.WithField("body", string(payload)).WithField("kind", kind).WithError(err).
			Error("failed to store submission")
		l.metrics.RecordDatagram(len(payload), metrics.DatagramStorageError)
		return err
	}

	entry.WithField("timestamp", ts).Info("submission stored")
	l.metrics.RecordDatagram(len(payload), metrics.DatagramStored)
	return nil
}
