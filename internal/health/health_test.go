package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/signal-controller/internal/alert"
)

type captureAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureAlerter) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureAlerter) types() []alert.AlertType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]alert.AlertType, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Type)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTracker_RecordSuccess(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, StatusUnknown, tr.Snapshot().Status)

	assert.False(t, tr.RecordSuccess(time.Second))
	snap := tr.Snapshot()
	assert.Equal(t, StatusHealthy, snap.Status)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.NotNil(t, snap.LastSuccessAt)
}

func TestTracker_FailureThreshold(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < DefaultUnhealthyThreshold-1; i++ {
		assert.False(t, tr.RecordFailure(errors.New("boom")))
	}
	assert.True(t, tr.RecordFailure(errors.New("AI Backend Error")))
	assert.False(t, tr.RecordFailure(errors.New("again")), "transition is reported once")

	snap := tr.Snapshot()
	assert.Equal(t, StatusUnhealthy, snap.Status)
	assert.Equal(t, DefaultUnhealthyThreshold+1, snap.ConsecutiveFailures)
	assert.Equal(t, "again", snap.LastError)

	assert.True(t, tr.RecordSuccess(0))
	assert.Equal(t, StatusHealthy, tr.Snapshot().Status)
	assert.Empty(t, tr.Snapshot().LastError)
}

func TestTracker_LatencyDegraded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < latencyWindowSize; i++ {
		tr.RecordSuccess(10 * time.Second)
	}
	assert.Equal(t, StatusDegraded, tr.Snapshot().Status)

	for i := 0; i < latencyWindowSize; i++ {
		tr.RecordSuccess(time.Second)
	}
	assert.Equal(t, StatusHealthy, tr.Snapshot().Status)
}

func TestTracker_SetInactive(t *testing.T) {
	tr := NewTracker()
	tr.RecordFailure(errors.New("x"))
	tr.SetInactive()
	snap := tr.Snapshot()
	assert.Equal(t, StatusInactive, snap.Status)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestMonitor_AlertsOnTransitions(t *testing.T) {
	capture := &captureAlerter{}
	m := NewMonitor(NewTracker(), capture, testLogger())

	for i := 0; i < DefaultUnhealthyThreshold+2; i++ {
		m.Failure(errors.New("Network Error"))
	}
	m.Success(time.Second)
	m.Success(time.Second)
	m.Wait()

	require.Equal(t, []alert.AlertType{alert.AlertTypeBackendUnhealthy, alert.AlertTypeRecovery}, capture.types())
	assert.Equal(t, "detection", capture.alerts[0].Source)
	assert.Equal(t, "5", capture.alerts[0].Fields["failures"])
}

func TestMonitor_Notify(t *testing.T) {
	capture := &captureAlerter{}
	m := NewMonitor(NewTracker(), capture, testLogger())
	m.Notify(alert.Alert{Type: alert.AlertTypeControllerHalted, Source: "controller"})
	m.Wait()
	assert.Equal(t, []alert.AlertType{alert.AlertTypeControllerHalted}, capture.types())
}

// slowFirstAlerter holds the first delivery until release is closed.
type slowFirstAlerter struct {
	captureAlerter
	release chan struct{}
	once    sync.Once
}

func (s *slowFirstAlerter) Send(ctx context.Context, a alert.Alert) error {
	s.once.Do(func() { <-s.release })
	return s.captureAlerter.Send(ctx, a)
}

func TestMonitor_DeliversInRaiseOrder(t *testing.T) {
	slow := &slowFirstAlerter{release: make(chan struct{})}
	m := NewMonitor(NewTracker(), slow, testLogger())

	m.Notify(alert.Alert{Type: alert.AlertTypeBackendUnhealthy, Source: "detection"})
	m.Notify(alert.Alert{Type: alert.AlertTypeRecovery, Source: "detection"})
	m.Notify(alert.Alert{Type: alert.AlertTypeControllerHalted, Source: "controller"})
	close(slow.release)
	m.Wait()

	assert.Equal(t, []alert.AlertType{
		alert.AlertTypeBackendUnhealthy,
		alert.AlertTypeRecovery,
		alert.AlertTypeControllerHalted,
	}, slow.types())

	// The worker restarts for alerts raised after the queue drained.
	m.Notify(alert.Alert{Type: alert.AlertTypeRecovery, Source: "detection"})
	m.Wait()
	assert.Len(t, slow.types(), 4)
}
