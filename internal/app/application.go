package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/formrelay/internal/config"
	"github.com/R3E-Network/formrelay/internal/httpapi"
	"github.com/R3E-Network/formrelay/internal/ingest"
	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/internal/relay"
	"github.com/R3E-Network/formrelay/internal/storage"
	"github.com/R3E-Network/formrelay/internal/storage/jsonfile"
	"github.com/R3E-Network/formrelay/internal/storage/postgres"
	redisstore "github.com/R3E-Network/formrelay/internal/storage/redis"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

const limiterCleanupInterval = time.Minute

// Application ties the front end, relay, listener and writer together and
// manages their lifecycle.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	Metrics  *metrics.Collector
	Store    storage.Store
	Writer   *ingest.Writer
	Listener *ingest.Listener
	Relay    *relay.Client
	HTTP     *httpapi.Server

	mu            sync.Mutex
	httpLn        net.Listener
	metricsLn     net.Listener
	httpServer    *http.Server
	metricsServer *http.Server
}

// New builds a fully wired application. The store is opened here; sockets
// are not bound until Bind or Run.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	store, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store, log), nil
}

// NewWithStore wires the application around an already opened store.
func NewWithStore(cfg *config.Config, store storage.Store, log *logger.Logger) *Application {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	m := metrics.NewCollector(cfg.Metrics.Namespace)

	writer := ingest.NewWriter(store, ingest.WriterConfig{
		QueueSize: cfg.Ingest.QueueSize,
		Logger:    log.Named("writer"),
		Metrics:   m,
	})
	listener := ingest.NewListener(ingest.Config{
		Addr:            cfg.Ingest.Addr,
		MaxDatagramSize: cfg.Ingest.MaxDatagramSize,
		Workers:         cfg.Ingest.Workers,
		Logger:          log.Named("listener"),
		Metrics:         m,
	}, writer)
	relayClient := relay.New(relay.Config{
		Target:  cfg.Relay.Target,
		Logger:  log.Named("relay"),
		Metrics: m,
	})
	server := httpapi.New(httpapi.Config{
		BaseDir:     cfg.HTTP.BaseDir,
		IndexPage:   cfg.HTTP.IndexPage,
		MessagePage: cfg.HTTP.MessagePage,
		ErrorPage:   cfg.HTTP.ErrorPage,
		RateLimit:   cfg.HTTP.RateLimit,
		RateBurst:   cfg.HTTP.RateBurst,
		Logger:      log.Named("http"),
		Metrics:     m,
	}, relayClient)

	return &Application{
		cfg:      cfg,
		log:      log,
		Metrics:  m,
		Store:    store,
		Writer:   writer,
		Listener: listener,
		Relay:    relayClient,
		HTTP:     server,
	}
}

// OpenStore opens the backend selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverJSON, "":
		return jsonfile.New(cfg.Path), nil
	case config.DriverRedis:
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Bind opens every socket the application serves on. A failure here is a
// startup failure; nothing is left bound.
func (a *Application) Bind() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.httpLn != nil {
		return nil
	}

	if err := a.Listener.Bind(); err != nil {
		return err
	}

	httpLn, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.Listener.Close()
		return fmt.Errorf("failed to bind http %s: %w", a.cfg.HTTP.Addr, err)
	}

	var metricsLn net.Listener
	if a.cfg.Metrics.Addr != "" {
		metricsLn, err = net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			httpLn.Close()
			a.Listener.Close()
			return fmt.Errorf("failed to bind metrics %s: %w", a.cfg.Metrics.Addr, err)
		}
	}

	a.httpLn = httpLn
	a.metricsLn = metricsLn
	a.httpServer = &http.Server{
		Handler:      a.HTTP.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		a.metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or nil before Bind.
func (a *Application) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpLn == nil {
		return nil
	}
	return a.httpLn.Addr()
}

// MetricsAddr returns the bound metrics address, or nil when disabled.
func (a *Application) MetricsAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metricsLn == nil {
		return nil
	}
	return a.metricsLn.Addr()
}

// Run binds (if needed) and serves until ctx is cancelled or a worker fails.
// HTTP connections get cfg.HTTP.ShutdownTimeout to drain.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Bind(); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	if a.HTTP.RateLimiter().Enabled() {
		a.HTTP.RateLimiter().StartCleanup(limiterCleanupInterval, stop)
	}

	a.log.WithField("http", a.httpLn.Addr().String()).
		WithField("ingest", a.Listener.Addr().String()).
		WithField("relay", a.Relay.Target()).
		Info("formrelay started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Writer.Run(gctx)
	})
	g.Go(func() error {
		return a.Listener.Serve(gctx)
	})
	g.Go(func() error {
		return serveHTTP(a.httpServer, a.httpLn)
	})
	if a.metricsServer != nil {
		g.Go(func() error {
			return serveHTTP(a.metricsServer, a.metricsLn)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	a.log.Info("formrelay stopped")
	return err
}

func serveHTTP(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Application) shutdown() error {
	a.log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the store.
func (a *Application) Close() error {
	return a.Store.Close()
}
