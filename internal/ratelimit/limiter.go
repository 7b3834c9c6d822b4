package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/emperorhan/signal-controller/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter is a token-bucket ceiling on detection calls. A nil *Limiter
// never waits.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows rps calls per second with the given burst. It returns nil
// when rps is not positive, which disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until the limiter allows one call, or ctx is done.
// Reserve guarantees exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	metrics.DetectionRateLimitWaits.Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
