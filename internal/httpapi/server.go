// Package httpapi is the HTTP front end: two fixed pages, static files from a
// base directory, and a POST endpoint that hands the raw body to the relay.
// It never touches the record store.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/internal/middleware"
	"github.com/R3E-Network/formrelay/internal/relay"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

// Default page file names, resolved under the base directory.
const (
	DefaultIndexPage   = "index.html"
	DefaultMessagePage = "message.html"
	DefaultErrorPage   = "error.html"
)

// DefaultBaseDir keeps the store directory out of the served tree.
const DefaultBaseDir = "web"

// Config configures a Server.
type Config struct {
	// BaseDir is the root for static files and page files.
	BaseDir     string
	IndexPage   string
	MessagePage string
	ErrorPage   string

	// RateLimit is the allowed POSTs per second per client IP; 0 disables it.
	RateLimit float64
	RateBurst int

	Logger  *logger.Logger
	Metrics *metrics.Collector
}

// Server holds the HTTP handlers.
type Server struct {
	cfg     Config
	relay   relay.Relayer
	log     *logger.Logger
	metrics *metrics.Collector
	limiter *middleware.RateLimiter
	router  *mux.Router
}

// New builds the server and its router.
func New(cfg Config, r relay.Relayer) *Server {
	if cfg.BaseDir == "" {
		cfg.BaseDir = DefaultBaseDir
	}
	if cfg.IndexPage == "" {
		cfg.IndexPage = DefaultIndexPage
	}
	if cfg.MessagePage == "" {
		cfg.MessagePage = DefaultMessagePage
	}
	if cfg.ErrorPage == "" {
		cfg.ErrorPage = DefaultErrorPage
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("http")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector("")
	}

	s := &Server{
		cfg:     cfg,
		relay:   r,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger, cfg.Metrics),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// RateLimiter exposes the POST limiter so its cleanup can be scheduled.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

func (s *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()
	// POST must relay for any path, so never redirect to a cleaned path.
	router.SkipClean(true)

	router.Use(middleware.LoggingMiddleware(s.log))
	router.Use(middleware.MetricsMiddleware(s.metrics))
	router.Use(s.limiter.Handler)

	router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet).Name("index")
	router.HandleFunc("/message", s.handleMessage).Methods(http.MethodGet).Name("message")
	router.PathPrefix("/").Methods(http.MethodGet).HandlerFunc(s.handleStatic).Name("static")
	router.PathPrefix("/").Methods(http.MethodPost).HandlerFunc(s.handleSubmit).Name("submit")

	router.MethodNotAllowedHandler = http.HandlerFunc(s.handleUnsupported)
	return router
}
