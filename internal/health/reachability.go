package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/emperorhan/signal-controller/internal/metrics"
)

// Reachability dials the detection host with a TCP dial on an interval.
// Online reads the last result without blocking, so the controller loop can
// check it before every analysis request.
type Reachability struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	logger   *slog.Logger

	online atomic.Bool
}

// NewReachability derives host:port from rawURL, defaulting the port from
// the scheme. The host counts as reachable until a dial fails.
func NewReachability(rawURL string, interval time.Duration, logger *slog.Logger) (*Reachability, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse detection url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("detection url %q has no host", rawURL)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}

	timeout := interval / 2
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	var d net.Dialer
	r := &Reachability{
		addr:     net.JoinHostPort(u.Hostname(), port),
		interval: interval,
		timeout:  timeout,
		dial:     d.DialContext,
		logger:   logger.With("component", "reachability"),
	}
	r.online.Store(true)
	metrics.BackendReachable.Set(1)
	return r, nil
}

func (r *Reachability) Online() bool {
	return r.online.Load()
}

// Run checks immediately and then every interval until ctx is cancelled.
func (r *Reachability) Run(ctx context.Context) error {
	r.check(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

func (r *Reachability) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dial(ctx, "tcp", r.addr)
	up := err == nil
	if up {
		conn.Close()
	} else if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		// Shutting down; keep the last verdict.
		return
	}

	if was := r.online.Swap(up); was != up {
		if up {
			r.logger.Info("detection host reachable again", "addr", r.addr)
		} else {
			r.logger.Warn("detection host unreachable", "addr", r.addr, "error", err)
		}
	}
	if up {
		metrics.BackendReachable.Set(1)
	} else {
		metrics.BackendReachable.Set(0)
	}
}
