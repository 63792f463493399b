// Package relay forwards raw form bodies to the ingestion listener.
//
// Delivery is fire-and-forget: each call opens a UDP socket, sends one
// datagram and closes it. Failures are logged and counted but never reported
// to the caller, so the HTTP response does not depend on storage health.
package relay

import (
	"context"
	"net"

	"github.com/R3E-Network/formrelay/internal/metrics"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

// DefaultTarget is where the ingestion listener binds by default.
const DefaultTarget = "127.0.0.1:5000"

// Relayer accepts a raw payload for best-effort delivery.
type Relayer interface {
	Relay(ctx context.Context, payload []byte)
}

// Config configures a Client.
type Config struct {
	Target  string
	Logger  *logger.Logger
	Metrics *metrics.Collector
}

// Client is a UDP Relayer.
type Client struct {
	target  string
	log     *logger.Logger
	metrics *metrics.Collector
	dialer  net.Dialer
}

// New creates a relay client.
func New(cfg Config) *Client {
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("relay")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector("")
	}
	return &Client{
		target:  cfg.Target,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Target returns the destination address.
func (c *Client) Target() string {
	return c.target
}

// Relay sends payload verbatim as one datagram.
func (c *Client) Relay(ctx context.Context, payload []byte) {
	err := c.send(ctx, payload)
	c.metrics.RecordRelaySend(len(payload), err)
	if err != nil {
		c.log.WithField("target", c.target).WithField("size", len(payload)).
			WithError(err).Warn("relay send failed")
	}
}

func (c *Client) send(ctx context.Context, payload []byte) error {
	conn, err := c.dialer.DialContext(ctx, "udp", c.target)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write(payload)
	return err
}
