// Package health tracks the detection backend's health from the outcomes of
// analysis requests and raises alerts on state transitions.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/emperorhan/signal-controller/internal/alert"
	"github.com/emperorhan/signal-controller/internal/metrics"
)

type Status string

const (
	StatusUnknown   Status = "UNKNOWN"
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusInactive  Status = "INACTIVE"

	// DefaultUnhealthyThreshold is the number of consecutive failed
	// requests before the backend is considered unhealthy.
	DefaultUnhealthyThreshold = 5

	// DefaultDegradedLatencyThreshold is the P95 request latency above
	// which the backend is considered degraded.
	DefaultDegradedLatencyThreshold = 8 * time.Second

	latencyWindowSize = 10
)

func (s Status) gaugeValue() float64 {
	switch s {
	case StatusHealthy:
		return 1
	case StatusDegraded:
		return 2
	case StatusUnhealthy:
		return 3
	case StatusInactive:
		return 4
	default:
		return 0
	}
}

// Tracker keeps the backend health state. It is safe for concurrent use.
type Tracker struct {
	mu                       sync.RWMutex
	now                      func() time.Time
	status                   Status
	consecutiveFailures      int
	lastSuccessAt            *time.Time
	lastFailureAt            *time.Time
	lastError                string
	unhealthyThreshold       int
	degradedLatencyThreshold time.Duration
	recentLatencies          []time.Duration
}

func NewTracker() *Tracker {
	return &Tracker{
		now:                      time.Now,
		status:                   StatusUnknown,
		unhealthyThreshold:       DefaultUnhealthyThreshold,
		degradedLatencyThreshold: DefaultDegradedLatencyThreshold,
		recentLatencies:          make([]time.Duration, 0, latencyWindowSize),
	}
}

// SetInactive marks the backend as not in use, e.g. while the controller
// runs in timer mode. Failure counts are kept.
func (t *Tracker) SetInactive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setStatus(StatusInactive)
}

// RecordSuccess records a successful request and reports whether it
// recovered the backend from UNHEALTHY.
func (t *Tracker) RecordSuccess(latency time.Duration) (recovered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	wasUnhealthy := t.status == StatusUnhealthy
	t.consecutiveFailures = 0
	t.lastSuccessAt = &now
	t.lastError = ""
	if latency > 0 {
		if len(t.recentLatencies) >= latencyWindowSize {
			t.recentLatencies = t.recentLatencies[1:]
		}
		t.recentLatencies = append(t.recentLatencies, latency)
	}
	if t.latencyDegraded() {
		t.setStatus(StatusDegraded)
	} else {
		t.setStatus(StatusHealthy)
	}
	metrics.BackendConsecutiveFailures.Set(0)
	return wasUnhealthy
}

// RecordFailure records a failed request and reports whether this call moved
// the backend to UNHEALTHY.
func (t *Tracker) RecordFailure(err error) (transitioned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.consecutiveFailures++
	t.lastFailureAt = &now
	if err != nil {
		t.lastError = err.Error()
	}
	metrics.BackendConsecutiveFailures.Set(float64(t.consecutiveFailures))
	if t.consecutiveFailures >= t.unhealthyThreshold && t.status != StatusUnhealthy {
		t.setStatus(StatusUnhealthy)
		return true
	}
	return false
}

func (t *Tracker) setStatus(s Status) {
	t.status = s
	metrics.BackendHealthStatus.Set(s.gaugeValue())
}

// latencyDegraded must be called with mu held.
func (t *Tracker) latencyDegraded() bool {
	n := len(t.recentLatencies)
	if n < 2 {
		return false
	}
	sorted := slices.Clone(t.recentLatencies)
	slices.Sort(sorted)
	idx := (95*n - 1) / 100
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx] > t.degradedLatencyThreshold
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		Status:              t.status,
		ConsecutiveFailures: t.consecutiveFailures,
		LastSuccessAt:       t.lastSuccessAt,
		LastFailureAt:       t.lastFailureAt,
		LastError:           t.lastError,
	}
}

// Snapshot is a point-in-time view of backend health (JSON-safe).
type Snapshot struct {
	Status              Status     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// Monitor feeds request outcomes into a Tracker and sends an alert when the
// backend becomes unhealthy or recovers. Alerts are delivered in the
// background by a single worker, in the order they were raised.
type Monitor struct {
	tracker *Tracker
	alerter alert.Alerter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	queue   []alert.Alert
	running bool
	wg      sync.WaitGroup
}

func NewMonitor(tracker *Tracker, alerter alert.Alerter, logger *slog.Logger) *Monitor {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &Monitor{
		tracker: tracker,
		alerter: alerter,
		timeout: 10 * time.Second,
		logger:  logger.With("component", "backend_health"),
	}
}

func (m *Monitor) Tracker() *Tracker { return m.tracker }

func (m *Monitor) Success(latency time.Duration) {
	if m.tracker.RecordSuccess(latency) {
		m.logger.Info("detection backend recovered")
		m.send(alert.Alert{
			Type:    alert.AlertTypeRecovery,
			Source:  "detection",
			Title:   "Detection backend recovered",
			Message: "Analysis requests are succeeding again",
		})
	}
}

func (m *Monitor) Failure(err error) {
	if !m.tracker.RecordFailure(err) {
		return
	}
	snap := m.tracker.Snapshot()
	m.logger.Warn("detection backend unhealthy",
		"consecutive_failures", snap.ConsecutiveFailures, "error", err)
	m.send(alert.Alert{
		Type:    alert.AlertTypeBackendUnhealthy,
		Source:  "detection",
		Title:   "Detection backend unhealthy",
		Message: fmt.Sprintf("%d consecutive analysis failures", snap.ConsecutiveFailures),
		Fields: map[string]string{
			"failures":   strconv.Itoa(snap.ConsecutiveFailures),
			"last_error": snap.LastError,
		},
	})
}

// Notify sends an arbitrary alert in the background.
func (m *Monitor) Notify(a alert.Alert) {
	m.send(a)
}

func (m *Monitor) send(a alert.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wg.Add(1)
	m.queue = append(m.queue, a)
	if !m.running {
		m.running = true
		go m.deliver()
	}
}

// deliver drains the queue and exits once it is empty.
func (m *Monitor) deliver() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.running = false
			m.mu.Unlock()
			return
		}
		a := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.alerter.Send(ctx, a); err != nil {
			m.logger.Warn("alert delivery failed", "type", a.Type, "error", err)
		}
		cancel()
		m.wg.Done()
	}
}

// Wait blocks until every alert raised so far has been delivered or failed.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
