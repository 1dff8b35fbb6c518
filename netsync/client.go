package netsync

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/c360/sigstream/errors"
)

// Client sends the start datagram.
type Client struct {
	addr    string
	logger  *slog.Logger
	metrics *netsyncMetrics
}

// NewClient creates a client targeting host:port. host is normally a
// broadcast address.
func NewClient(host string, port int, opts ...Option) (*Client, error) {
	if port < 1 || port > 65535 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "netsync.Client", "NewClient", "port validation")
	}

	o := applyOptions(opts)
	m, err := newMetrics(o.registry, "client")
	if err != nil {
		return nil, errors.Wrap(err, "netsync.Client", "NewClient", "metrics registration")
	}

	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		logger:  o.logger.With("component", "netsync", "role", "client"),
		metrics: m,
	}, nil
}

// Addr returns the target address
func (c *Client) Addr() string {
	return c.addr
}

// Broadcast sends the start datagram once. There is no acknowledgement.
func (c *Client) Broadcast(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", c.addr)
	if err != nil {
		return errors.WrapTransient(err, "netsync.Client", "Broadcast", "dial "+c.addr)
	}
	defer conn.Close()

	if _, err := conn.Write(Magic[:]); err != nil {
		return errors.WrapTransient(err, "netsync.Client", "Broadcast", "send start datagram")
	}

	c.metrics.count("sent")
	c.logger.Info("Start datagram sent", "addr", c.addr)
	return nil
}
