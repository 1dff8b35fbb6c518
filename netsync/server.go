package netsync

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/c360/sigstream/errors"
)

// readPoll bounds each blocking read so cancellation is noticed promptly.
const readPoll = 100 * time.Millisecond

// Server waits for the start datagram.
type Server struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger
	metrics *netsyncMetrics

	mu   sync.Mutex
	conn net.PacketConn
}

// NewServer creates a server that will bind bind:port. A zero timeout
// waits until the context is done.
func NewServer(bind string, port int, timeout time.Duration, opts ...Option) (*Server, error) {
	if port < 0 || port > 65535 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "netsync.Server", "NewServer", "port validation")
	}
	if timeout < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "netsync.Server", "NewServer", "timeout validation")
	}

	o := applyOptions(opts)
	m, err := newMetrics(o.registry, "server")
	if err != nil {
		return nil, errors.Wrap(err, "netsync.Server", "NewServer", "metrics registration")
	}

	return &Server{
		addr:    net.JoinHostPort(bind, strconv.Itoa(port)),
		timeout: timeout,
		logger:  o.logger.With("component", "netsync", "role", "server"),
		metrics: m,
	}, nil
}

// Open binds the socket. Calling it before Wait guarantees no datagram
// sent after Open returns is missed.
func (s *Server) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return errors.WrapTransient(err, "netsync.Server", "Open", "bind "+s.addr)
	}
	s.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Open.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Wait blocks until the start datagram arrives, ctx is done or the
// timeout elapses. Any other datagram is ignored. The socket is closed on
// return.
func (s *Server) Wait(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.logger.Info("Waiting for start datagram", "addr", conn.LocalAddr().String(), "timeout", s.timeout)
	started := time.Now()
	buf := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			return s.waitErr(err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(readPoll))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return s.waitErr(ctx.Err())
			}
			return errors.WrapTransient(err, "netsync.Server", "Wait", "read")
		}

		if !IsMagic(buf[:n]) {
			s.metrics.count("ignored")
			s.logger.Debug("Ignoring datagram", "from", from.String(), "bytes", n)
			continue
		}

		s.metrics.count("accepted")
		if s.metrics != nil {
			s.metrics.core.RecordNetSyncWait(time.Since(started))
		}
		s.logger.Info("Start datagram received", "from", from.String(), "waited", time.Since(started))
		return nil
	}
}

func (s *Server) waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.WrapTransient(
			fmt.Errorf("%w: no start datagram within %s", errors.ErrConnectionTimeout, s.timeout),
			"netsync.Server", "Wait", "wait for start")
	}
	return errors.WrapTransient(err, "netsync.Server", "Wait", "wait for start")
}

// Listen is Open followed by Wait.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Close releases the socket. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
