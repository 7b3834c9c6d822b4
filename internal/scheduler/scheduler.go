// Package scheduler runs the one-request-at-a-time analysis loop that keeps
// direction A's presence estimate fresh while smart mode is active.
//
// A Scheduler belongs to the controller's event loop: every method must be
// called from the loop, and all timer and I/O completions are posted back to
// it through the configured post function.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/emperorhan/signal-controller/internal/clock"
	"github.com/emperorhan/signal-controller/internal/detection"
	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/metrics"
	"github.com/emperorhan/signal-controller/internal/retry"
)

// Skip reasons reported when a request is not dispatched.
const (
	SkipSmartInactive      = "smart_mode_inactive"
	SkipBackendUnavailable = "backend_unavailable"
	SkipInFlight           = "request_in_flight"
	SkipOffline            = "offline"
	SkipPhaseNotAllowed    = "phase_not_allowed"
)

// State is the controller state the scheduler checks before each request and
// after each completion.
type State struct {
	Mode             model.Mode
	Phase            model.Phase
	BackendAvailable bool
	// Backoff is the minimum delay before the next request after a failure.
	Backoff time.Duration
}

// Handler receives analysis outcomes on the event loop.
type Handler interface {
	OnAnalysisResult(res model.AnalysisResult)
	OnAnalysisError(err error)
	OnAnalysisSkipped(reason string)
}

// FrameSource reports when the camera has produced its first frame.
type FrameSource interface {
	WaitFirstFrame(ctx context.Context) error
}

type Config struct {
	Clock    clock.Clock
	Detector detection.Detector
	Frames   FrameSource
	Handler  Handler
	State    func() State
	// Online reports network reachability; nil means always online.
	Online func() bool
	Post   func(func())
	// Spawn runs blocking work off the loop; nil means a new goroutine.
	Spawn   func(func())
	Context context.Context
	Logger  *slog.Logger
}

type Scheduler struct {
	clock    clock.Clock
	detector detection.Detector
	frames   FrameSource
	handler  Handler
	state    func() State
	online   func() bool
	post     func(func())
	spawn    func(func())
	ctx      context.Context
	logger   *slog.Logger

	timer    clock.Timer
	timerSeq uint64

	// gen is bumped by Pause; completions from an older generation are dropped.
	gen           uint64
	active        bool
	inFlight      bool
	cancelRequest context.CancelFunc

	gating     bool
	cancelGate context.CancelFunc

	// lastErrAt is when the most recent request failed; zero after a success.
	lastErrAt time.Time
}

func New(cfg Config) *Scheduler {
	if cfg.Online == nil {
		cfg.Online = func() bool { return true }
	}
	if cfg.Spawn == nil {
		cfg.Spawn = func(fn func()) { go fn() }
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	return &Scheduler{
		clock:    cfg.Clock,
		detector: cfg.Detector,
		frames:   cfg.Frames,
		handler:  cfg.Handler,
		state:    cfg.State,
		online:   cfg.Online,
		post:     cfg.Post,
		spawn:    cfg.Spawn,
		ctx:      cfg.Context,
		logger:   cfg.Logger.With("component", "analysis_scheduler"),
	}
}

// Resume (re)starts the loop. The request is immediate unless the last one
// failed less than the backoff floor ago, in which case it waits out the rest
// of the floor. It replaces any pending request timer. While the first-frame
// gate is open it does nothing; the gate issues the first request itself.
func (s *Scheduler) Resume() {
	s.active = true
	if s.gating {
		s.logger.Debug("resume deferred to first-frame gate")
		return
	}
	s.schedule(s.remainingBackoff(s.state().Backoff))
}

// remainingBackoff is the part of the post-error floor not yet elapsed.
func (s *Scheduler) remainingBackoff(floor time.Duration) time.Duration {
	if s.lastErrAt.IsZero() {
		return 0
	}
	if rest := s.lastErrAt.Add(floor).Sub(s.clock.Now()); rest > 0 {
		return rest
	}
	return 0
}

// Activate arms the one-time first-frame gate used when smart mode starts.
// The first request is issued once the frame source is ready, or after the
// backoff delay if waiting for it fails.
func (s *Scheduler) Activate() {
	s.stopTimer()
	s.stopGate()
	s.active = true

	if s.frames == nil {
		s.schedule(0)
		return
	}

	s.gating = true
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelGate = cancel
	s.logger.Info("waiting for first camera frame")

	s.spawn(func() {
		err := s.frames.WaitFirstFrame(ctx)
		s.post(func() { s.gateOpened(gen, err) })
	})
}

func (s *Scheduler) gateOpened(gen uint64, err error) {
	if gen != s.gen || !s.gating {
		return
	}
	s.gating = false
	if s.cancelGate != nil {
		s.cancelGate()
		s.cancelGate = nil
	}

	st := s.state()
	if !st.Mode.IsSmart() || !st.Phase.AnalysisAllowed() {
		s.logger.Info("first frame settled but analysis is not allowed now",
			"phase", st.Phase, "mode", st.Mode)
		return
	}
	if err != nil {
		s.logger.Warn("first frame not received, falling back to delayed request",
			"delay", st.Backoff, "error", err)
		s.schedule(st.Backoff)
		return
	}
	s.logger.Info("first frame received")
	s.schedule(s.remainingBackoff(st.Backoff))
}

// Pause cancels the pending request timer and the first-frame wait, and
// drops the result of any request already in flight.
func (s *Scheduler) Pause() {
	s.active = false
	s.gen++
	s.stopTimer()
	s.stopGate()
	if s.cancelRequest != nil {
		s.cancelRequest()
		s.cancelRequest = nil
	}
}

// InFlight reports whether a detection request is outstanding.
func (s *Scheduler) InFlight() bool {
	return s.inFlight
}

// Pending reports whether a request timer is armed.
func (s *Scheduler) Pending() bool {
	return s.timer != nil
}

// Gating reports whether the first-frame gate is still open.
func (s *Scheduler) Gating() bool {
	return s.gating
}

func (s *Scheduler) schedule(delay time.Duration) {
	s.stopTimer()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(delay, func() {
		s.post(func() {
			if seq != s.timerSeq {
				return
			}
			s.timer = nil
			s.RequestAnalysis()
		})
	})
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

func (s *Scheduler) stopGate() {
	s.gating = false
	if s.cancelGate != nil {
		s.cancelGate()
		s.cancelGate = nil
	}
}

// RequestAnalysis dispatches one detection request if every precondition
// holds. An unmet precondition aborts without consuming a request slot.
func (s *Scheduler) RequestAnalysis() {
	st := s.state()
	var reason string
	switch {
	case !st.Mode.IsSmart():
		reason = SkipSmartInactive
	case !st.BackendAvailable:
		reason = SkipBackendUnavailable
	case s.inFlight:
		reason = SkipInFlight
	case !s.online():
		reason = SkipOffline
	case !st.Phase.AnalysisAllowed():
		reason = SkipPhaseNotAllowed
	}
	if reason != "" {
		metrics.AnalysisSkippedTotal.WithLabelValues(reason).Inc()
		s.logger.Debug("analysis request skipped", "reason", reason, "phase", st.Phase)
		s.handler.OnAnalysisSkipped(reason)
		return
	}

	s.inFlight = true
	gen := s.gen
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRequest = cancel

	s.spawn(func() {
		res, err := s.detector.Detect(ctx)
		s.post(func() { s.complete(gen, res, err) })
	})
}

func (s *Scheduler) complete(gen uint64, res model.AnalysisResult, err error) {
	s.inFlight = false
	if gen != s.gen {
		metrics.AnalysisStaleDropped.Inc()
		s.logger.Debug("dropping analysis result from before pause")
		if s.active && !s.gating && s.timer == nil {
			if st := s.state(); st.Mode.IsSmart() && st.Phase.AnalysisAllowed() {
				s.schedule(s.remainingBackoff(st.Backoff))
			}
		}
		return
	}
	if s.cancelRequest != nil {
		s.cancelRequest()
		s.cancelRequest = nil
	}

	if err != nil {
		s.lastErrAt = s.clock.Now()
		s.handler.OnAnalysisError(err)
	} else {
		s.lastErrAt = time.Time{}
		s.handler.OnAnalysisResult(res)
	}

	// The handler may have moved the phase (forced cycle) or paused us.
	if gen != s.gen {
		return
	}
	st := s.state()
	if !st.Mode.IsSmart() || !st.Phase.AnalysisAllowed() {
		s.active = false
		s.logger.Info("analysis loop halted until resumed", "phase", st.Phase, "mode", st.Mode)
		return
	}
	if err == nil {
		s.schedule(0)
		return
	}
	if d := retry.Classify(err); !d.IsTransient() {
		s.active = false
		s.logger.Warn("analysis loop halted", "reason", d.Reason, "error", err)
		return
	}
	s.schedule(st.Backoff)
}
