// Package dnsserver implements the captive DNS responder: every query is
// answered with the access point's own address.
package dnsserver

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/wifiprovd/internal/errors"
	"codeberg.org/mutker/wifiprovd/internal/logger"
	"codeberg.org/mutker/wifiprovd/internal/metrics"
)

type Config struct {
	// Answer is the address every query resolves to.
	Answer      net.IP
	ListenHost  string
	Port        int
	TTL         time.Duration
	ReadTimeout time.Duration
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Answer.To4() == nil {
		return errFactory.WithMessage(ErrConfig, "answer must be an IPv4 address")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errFactory.WithData(ErrConfig, c.Port)
	}
	if c.ReadTimeout <= 0 {
		return errFactory.WithMessage(ErrConfig, "read timeout must be positive")
	}
	if c.TTL < 0 {
		return errFactory.WithMessage(ErrConfig, "ttl must not be negative")
	}

	return nil
}

type listenFunc func(network, addr string) (net.PacketConn, error)

type Responder struct {
	cfg     Config
	metrics metrics.Collector
	logger  logger.Logger
	listen  listenFunc

	mu   sync.Mutex
	conn net.PacketConn
	stop chan struct{}
	done chan struct{}
}

func New(cfg Config, m metrics.Collector, log logger.Logger) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.Noop()
	}

	return &Responder{cfg: cfg, metrics: m, logger: log, listen: net.ListenPacket}, nil
}

// Start binds the socket and launches the serve loop. Starting a running
// responder is a no-op.
func (r *Responder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		r.logger.Debug().Msg("DNS responder already running")
		return nil
	}

	addr := net.JoinHostPort(r.cfg.ListenHost, strconv.Itoa(r.cfg.Port))
	conn, err := r.listen("udp4", addr)
	if err != nil {
		return errors.New().Wrap(ErrBind, err)
	}

	r.conn = conn
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go r.serve(ctx, conn, r.stop, r.done)

	r.logger.Info().
		Str("addr", conn.LocalAddr().String()).
		Str("answer", r.cfg.Answer.String()).
		Msg("DNS responder started")

	return nil
}

// Stop closes the socket and waits for the loop to exit. It is safe to call
// on a responder that was never started.
func (r *Responder) Stop() {
	r.mu.Lock()
	conn, stop, done := r.conn, r.stop, r.done
	if conn == nil {
		r.mu.Unlock()
		return
	}
	r.conn, r.stop, r.done = nil, nil, nil
	close(stop)
	// Closing unblocks a pending read immediately.
	conn.Close()
	r.mu.Unlock()

	<-done
	r.logger.Info().Msg("DNS responder stopped")
}

// Running reports whether the serve loop is active.
func (r *Responder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Addr returns the bound address, or nil when stopped.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Responder) serve(ctx context.Context, conn net.PacketConn, stop, done chan struct{}) {
	defer close(done)
	defer r.release(conn)

	ttl := uint32(r.cfg.TTL / time.Second)
	buf := make([]byte, maxPacket)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
			r.logger.Error().Err(err).Msg("Failed to set DNS read deadline")
			return
		}

		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if isStopping(stop) {
				return
			}
			r.logger.ErrorWithCode(errors.New().Wrap(ErrReceive, err)).Msg("DNS receive failed, responder exiting")
			return
		}

		resp, ok := answer(buf[:n], r.cfg.Answer, ttl)
		if !ok {
			r.metrics.DNSDropped()
			r.logger.Debug().Int("len", n).Str("from", src.String()).Msg("Dropping malformed DNS packet")
			continue
		}

		if _, err := conn.WriteTo(resp, src); err != nil {
			r.metrics.DNSSendFailed()
			r.logger.Warn().Err(err).Str("to", src.String()).Msg("Failed to send DNS response")
			continue
		}
		r.metrics.DNSQuery()
	}
}

// release closes conn and, when the loop ended on its own, marks the
// responder stopped so a later Start can bind again.
func (r *Responder) release(conn net.PacketConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn.Close()
	if r.conn == conn {
		r.conn, r.stop, r.done = nil, nil, nil
	}
}

func isStopping(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
