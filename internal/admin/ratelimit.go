package admin

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emperorhan/signal-controller/internal/metrics"
)

const (
	// clientIdleTTL is how long a client's limiter survives without requests.
	clientIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
)

// RateLimits are the per-client request budgets of the admin API.
type RateLimits struct {
	RearmPerMinute       int
	ModePerMinute        int
	SettingsPerMinute    int
	StreamErrorPerSecond float64
	DefaultPerSecond     float64
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP. Leave it off
	// unless a proxy in front of the API overwrites those headers.
	TrustProxy bool
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		RearmPerMinute:       6,
		ModePerMinute:        10,
		SettingsPerMinute:    10,
		StreamErrorPerSecond: 2,
		DefaultPerSecond:     5,
	}
}

type limitRule struct {
	name   string
	method string
	path   string // exact route; empty matches every request
	limit  rate.Limit
	burst  int
}

func perMinute(n int) rate.Limit { return rate.Limit(float64(n) / 60) }

// rulesFor lists the routes that change controller state ahead of the
// catch-all. Reads and the SSE stream fall under the default budget.
func rulesFor(l RateLimits) []limitRule {
	return []limitRule{
		{name: "rearm", method: http.MethodPost, path: "/admin/v1/rearm", limit: perMinute(l.RearmPerMinute), burst: 2},
		{name: "mode", method: http.MethodPost, path: "/api/mode", limit: perMinute(l.ModePerMinute), burst: 3},
		{name: "settings", method: http.MethodPost, path: "/api/settings", limit: perMinute(l.SettingsPerMinute), burst: 3},
		{name: "stream_error", method: http.MethodPost, path: "/api/stream-error", limit: rate.Limit(l.StreamErrorPerSecond), burst: 10},
		{name: "default", limit: rate.Limit(l.DefaultPerSecond), burst: 20},
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware gives every client its own token bucket per rule.
// Idle buckets are swept while serving requests.
type RateLimitMiddleware struct {
	rules      []limitRule
	trustProxy bool
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter // "rule|client"
	lastSweep time.Time
}

func NewRateLimitMiddleware(limits RateLimits, logger *slog.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rules:      rulesFor(limits),
		trustProxy: limits.TrustProxy,
		logger:     logger.With("component", "admin_ratelimit"),
		now:        time.Now,
		clients:    make(map[string]*clientLimiter),
	}
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := rl.match(r.Method, r.URL.Path)
		client := rl.clientKey(r)
		now := rl.now()

		res := rl.limiterFor(rule, client, now).ReserveN(now, 1)
		if !res.OK() {
			rl.reject(w, r, rule, client, time.Minute)
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			rl.reject(w, r, rule, client, delay)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, rule limitRule, client string, wait time.Duration) {
	metrics.AdminRateLimited.WithLabelValues(rule.name).Inc()
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	rl.logger.Warn("admin API rate limit exceeded",
		"rule", rule.name, "method", r.Method, "path", r.URL.Path, "client", client, "retry_after", wait)
}

func (rl *RateLimitMiddleware) match(method, path string) limitRule {
	for _, rule := range rl.rules {
		if rule.method != "" && rule.method != method {
			continue
		}
		if rule.path != "" && rule.path != path {
			continue
		}
		return rule
	}
	return rl.rules[len(rl.rules)-1]
}

// clientKey is the connection address, or the first forwarded address when
// the proxy is trusted.
func (rl *RateLimitMiddleware) clientKey(r *http.Request) string {
	if rl.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimitMiddleware) limiterFor(rule limitRule, client string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= sweepInterval {
		for key, c := range rl.clients {
			if now.Sub(c.lastSeen) > clientIdleTTL {
				delete(rl.clients, key)
			}
		}
		rl.lastSweep = now
	}

	key := rule.name + "|" + client
	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rule.limit, rule.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (rl *RateLimitMiddleware) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
