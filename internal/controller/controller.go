// Package controller implements the four-direction phase state machine and
// the smart-mode governance of direction A.
//
// A Controller is owned by a single event loop goroutine. Every exported
// method must run on that loop; timer callbacks and blocking I/O completions
// are posted back to it through Deps.Post.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/emperorhan/signal-controller/internal/alert"
	"github.com/emperorhan/signal-controller/internal/camera"
	"github.com/emperorhan/signal-controller/internal/clock"
	"github.com/emperorhan/signal-controller/internal/detection"
	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/health"
	"github.com/emperorhan/signal-controller/internal/metrics"
	"github.com/emperorhan/signal-controller/internal/render"
	"github.com/emperorhan/signal-controller/internal/rules"
	"github.com/emperorhan/signal-controller/internal/scheduler"
	"github.com/emperorhan/signal-controller/internal/settings"
)

var (
	ErrInvalidPhase     = errors.New("controller: unrecognized phase")
	ErrInvalidMode      = errors.New("controller: unrecognized mode")
	ErrSmartUnavailable = errors.New("controller: smart mode unavailable, AI backend disabled")
)

type Deps struct {
	Clock    clock.Clock
	Detector detection.Detector
	Camera   camera.Lifecycle
	Settings settings.Provider
	Emitter  render.Emitter
	Backend  model.BackendMode
	// Online reports network reachability; nil means always online.
	Online func() bool
	Post   func(func())
	// Spawn runs blocking work off the loop; nil means a new goroutine.
	Spawn   func(func())
	Context context.Context
	// Health is optional.
	Health *health.Monitor
	Logger *slog.Logger
}

type Controller struct {
	clock    clock.Clock
	camera   camera.Lifecycle
	provider settings.Provider
	emitter  render.Emitter
	backend  model.BackendMode
	post     func(func())
	spawn    func(func())
	ctx      context.Context
	health   *health.Monitor
	logger   *slog.Logger

	engine *rules.Engine
	sched  *scheduler.Scheduler

	snap      settings.Snapshot
	phase     model.Phase
	halted    bool
	highlight model.Direction

	cycleStart map[model.Direction]time.Time
	lastLabel  map[model.Direction]int

	phaseTimer  clock.Timer
	phaseSeq    uint64
	watchdog    clock.Timer
	watchdogSeq uint64

	modeSeq       uint64
	switching     bool
	cameraRunning bool
	lastStatus    string
}

func New(d Deps) *Controller {
	if d.Spawn == nil {
		d.Spawn = func(fn func()) { go fn() }
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Emitter == nil {
		d.Emitter = render.EmitterFunc(func(render.Envelope) {})
	}

	c := &Controller{
		clock:      d.Clock,
		camera:     d.Camera,
		provider:   d.Settings,
		emitter:    d.Emitter,
		backend:    d.Backend,
		post:       d.Post,
		spawn:      d.Spawn,
		ctx:        d.Context,
		health:     d.Health,
		logger:     d.Logger.With("component", "controller"),
		engine:     rules.NewEngine(),
		snap:       settings.DefaultSnapshot(),
		cycleStart: make(map[model.Direction]time.Time),
		lastLabel:  make(map[model.Direction]int),
	}
	for _, dir := range model.Directions {
		c.lastLabel[dir] = 0
	}

	var frames scheduler.FrameSource
	if d.Camera != nil {
		frames = d.Camera
	}
	c.sched = scheduler.New(scheduler.Config{
		Clock:    d.Clock,
		Detector: d.Detector,
		Frames:   frames,
		Handler:  c,
		State:    c.schedulerState,
		Online:   d.Online,
		Post:     d.Post,
		Spawn:    d.Spawn,
		Context:  d.Context,
		Logger:   d.Logger,
	})
	return c
}

// Start loads the settings record and begins the fixed cycle at A_GREEN.
func (c *Controller) Start() {
	c.logger.Info("controller starting", "backend", c.backend)
	if c.provider == nil {
		c.finishStart(settings.Settings{}, errors.New("no settings provider"))
		return
	}
	c.spawn(func() {
		s, err := c.provider.Load(c.ctx)
		c.post(func() { c.finishStart(s, err) })
	})
}

func (c *Controller) finishStart(s settings.Settings, err error) {
	if err != nil {
		c.logger.Error("settings load failed, using defaults", "error", err)
		c.emitLog(render.SeverityError, fmt.Sprintf("Failed to load settings: %v. Using defaults.", err))
		c.setStatus("Settings Error")
		c.snap = settings.DefaultSnapshot()
	} else {
		c.snap = settings.NewSnapshot(s, model.ModeTimer)
	}
	metrics.SmartModeActive.Set(0)
	if c.health != nil {
		c.health.Tracker().SetInactive()
	}

	switch {
	case !c.backend.Available():
		c.setStatus("AI Disabled")
		c.emitLog(render.SeverityError, "AI Backend not available. AI Mode disabled.")
	case err == nil:
		c.setStatus("Timer Mode Active")
		c.emitLog(render.SeverityInfo, "Initialized in Timer Mode.")
	}
	c.Advance(model.PhaseAGreen)
}

// Advance enters phase p, performs its side effects and schedules the phase
// that follows it. An unrecognized phase halts the cycle in all red.
func (c *Controller) Advance(p model.Phase) {
	c.stopPhaseTimer()
	c.stopWatchdog()

	if !p.Valid() {
		c.halt(p)
		return
	}
	if c.halted {
		c.halted = false
		metrics.ControllerHalted.Set(0)
	}

	prev := c.phase
	c.phase = p
	owner := p.Owner()
	c.highlight = owner

	colors := allRed()
	next := p.Next()
	var delay time.Duration
	switch p.Kind() {
	case model.PhaseKindGreen:
		colors[owner] = model.ColorGreen
		delay = c.snap.Green
		c.startCycle(owner)
	case model.PhaseKindYellow:
		colors[owner] = model.ColorYellow
		delay = c.snap.Yellow
	case model.PhaseKindAllRed:
		delay = c.snap.AllRed
		c.finishCycle(owner)
	}

	smart := c.snap.Mode.IsSmart()
	switch p {
	case model.PhaseAGreen:
		if smart {
			decision := c.engine.DecideEntry()
			metrics.SmartEntryDecisions.WithLabelValues(string(decision)).Inc()
			if decision == rules.NoGo {
				c.emitLog(render.SeverityInfo, "No vehicles detected on A, skipping green.")
				colors[owner] = model.ColorYellow
				next = model.PhaseAllRedBeforeB
				delay = c.snap.Yellow
			} else {
				c.emitLog(render.SeverityInfo, "Vehicles detected on A, turning green.")
				c.armWatchdog()
				c.sched.Resume()
				next = ""
			}
		}
	case model.PhaseAYellow:
		if smart {
			c.emitLog(render.SeverityInfo, "Direction A yellow, pausing analysis.")
			c.sched.Pause()
		}
	case model.PhaseDGreen:
		if smart {
			c.emitLog(render.SeverityInfo, "Direction D green, resuming analysis.")
			c.sched.Resume()
		}
	case model.PhaseAllRedBeforeB:
		// A no-go entry skips A_YELLOW, so the pause happens here instead.
		if smart {
			c.sched.Pause()
		}
	}

	if prev != "" {
		metrics.CurrentPhase.WithLabelValues(string(prev)).Set(0)
	}
	metrics.CurrentPhase.WithLabelValues(string(p)).Set(1)
	metrics.PhaseTransitionsTotal.WithLabelValues(string(p), string(c.snap.Mode)).Inc()
	c.logger.Debug("phase entered", "phase", p, "mode", c.snap.Mode, "next", next, "delay", delay)

	c.emit(render.PhaseEvent{
		Phase:     p,
		Mode:      c.snap.Mode,
		Colors:    colors,
		Highlight: owner,
		Halo:      haloFor(c.snap.Mode, p),
	})

	if next != "" {
		c.armPhaseTimer(p, next, delay)
	}
}

func (c *Controller) halt(p model.Phase) {
	c.sched.Pause()
	c.phase = p
	c.halted = true
	c.highlight = ""
	c.resetLabels()

	metrics.ControllerHalted.Set(1)
	c.logger.Error("unrecognized phase, halting in all red", "phase", p)
	c.emitLog(render.SeverityError, fmt.Sprintf("Invalid state encountered: %s. Resetting to all red.", p))
	c.emit(render.PhaseEvent{
		Phase:  p,
		Mode:   c.snap.Mode,
		Colors: allRed(),
		Halo:   model.HaloNone,
		Halted: true,
	})
	c.notify(alert.Alert{
		Type:    alert.AlertTypeControllerHalted,
		Source:  "controller",
		Title:   "Signal cycle halted",
		Message: fmt.Sprintf("Unrecognized phase %q, all directions red until rearmed", p),
		Fields:  map[string]string{"phase": string(p)},
	})
}

// Rearm restarts a halted (or running) cycle at p.
func (c *Controller) Rearm(p model.Phase) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPhase, p)
	}
	c.logger.Info("rearming cycle", "phase", p, "was_halted", c.halted)
	c.emitLog(render.SeverityInfo, fmt.Sprintf("Cycle rearmed at %s.", p))
	c.Advance(p)
	return nil
}

// ForceCycle ends direction A's green early. It does nothing unless A is
// green under smart mode.
func (c *Controller) ForceCycle(reason rules.Trigger) bool {
	if c.phase != model.PhaseAGreen || !c.snap.Mode.IsSmart() {
		return false
	}
	c.stopWatchdog()
	metrics.ForcedCyclesTotal.WithLabelValues(string(reason)).Inc()
	c.logger.Info("forcing cycle of direction A", "reason", reason, "elapsed", c.elapsedA())
	c.Advance(model.PhaseAYellow)
	return true
}

func (c *Controller) armPhaseTimer(from, to model.Phase, d time.Duration) {
	c.stopPhaseTimer()
	c.phaseSeq++
	seq := c.phaseSeq
	c.phaseTimer = c.clock.AfterFunc(d, func() {
		c.post(func() {
			if seq != c.phaseSeq || c.phase != from || c.halted {
				return
			}
			c.phaseTimer = nil
			c.Advance(to)
		})
	})
}

func (c *Controller) stopPhaseTimer() {
	if c.phaseTimer != nil {
		c.phaseTimer.Stop()
		c.phaseTimer = nil
	}
	c.phaseSeq++
}

func (c *Controller) armWatchdog() {
	c.stopWatchdog()
	c.watchdogSeq++
	seq := c.watchdogSeq
	c.watchdog = c.clock.AfterFunc(c.snap.MaxSmartA, func() {
		c.post(func() {
			if seq != c.watchdogSeq {
				return
			}
			c.watchdog = nil
			c.onWatchdog()
		})
	})
}

func (c *Controller) stopWatchdog() {
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	c.watchdogSeq++
}

func (c *Controller) onWatchdog() {
	if c.engine.EvaluateForcedCycle(rules.TriggerMaxTime, c.ruleState()) != rules.Cycle {
		return
	}
	c.emitLog(render.SeverityInfo, "Max time expired for Direction A.")
	c.ForceCycle(rules.TriggerMaxTime)
}

// cancelAll stops every timer and the analysis loop.
func (c *Controller) cancelAll() {
	c.stopPhaseTimer()
	c.stopWatchdog()
	c.sched.Pause()
}

func (c *Controller) ruleState() rules.State {
	return rules.State{
		Phase:   c.phase,
		Mode:    c.snap.Mode,
		Elapsed: c.elapsedA(),
		Green:   c.snap.Green,
	}
}

func (c *Controller) elapsedA() time.Duration {
	start, ok := c.cycleStart[model.DirectionA]
	if !ok {
		return 0
	}
	return c.clock.Now().Sub(start)
}

func (c *Controller) schedulerState() scheduler.State {
	return scheduler.State{
		Mode:             c.snap.Mode,
		Phase:            c.phase,
		BackendAvailable: c.backend.Available(),
		Backoff:          c.snap.AnalysisBackoff(),
	}
}

// ApplySettings replaces the timing snapshot. Running timers keep their
// durations; the new values apply from the next phase entry.
func (c *Controller) ApplySettings(s settings.Settings) {
	c.snap = settings.NewSnapshot(s, c.snap.Mode)
	c.logger.Info("settings applied",
		"green", c.snap.Green, "yellow", c.snap.Yellow,
		"max_smart_a", c.snap.MaxSmartA, "calls_per_minute", c.snap.CallsPerMinute)
	c.emitLog(render.SeverityInfo, "Settings updated.")
}

// StreamError reports a failure of the video stream feeding the detector.
// It carries no analysis data, so presence is left as last observed.
func (c *Controller) StreamError() {
	c.setStatus("Video Error")
	c.gatedErrorCycle(rules.TriggerStreamError, "Video Error")
}

// gatedErrorCycle cycles A on an error only once its standard green time has
// been served.
func (c *Controller) gatedErrorCycle(trigger rules.Trigger, label string) {
	if c.phase != model.PhaseAGreen || !c.snap.Mode.IsSmart() {
		return
	}
	if c.engine.EvaluateForcedCycle(trigger, c.ruleState()) == rules.Cycle {
		c.emitLog(render.SeverityError, label+" during A_GREEN (standard time met), forcing cycle.")
		c.ForceCycle(trigger)
		return
	}
	c.emitLog(render.SeverityError, label+" during A_GREEN (standard time not met).")
}

func (c *Controller) OnAnalysisResult(res model.AnalysisResult) {
	c.emitLog(render.SeveritySuccess, "Analysis result: "+detection.FormatLog(res.Raw))
	c.emit(render.AnalysisEvent{
		RequestID:       res.RequestID,
		VehiclesPresent: res.VehiclesPresent,
		Counts:          res.Counts,
		LatencyMs:       res.Latency.Milliseconds(),
	})
	recordCounts(res.Counts)
	if c.health != nil {
		c.health.Success(res.Latency)
	}
	if c.snap.Mode.IsSmart() {
		c.setStatus("AI Mode Active")
	}

	cleared := c.engine.ApplyResult(res)
	if !cleared || c.phase != model.PhaseAGreen || !c.snap.Mode.IsSmart() {
		return
	}
	if c.engine.EvaluateForcedCycle(rules.TriggerVehiclesCleared, c.ruleState()) == rules.Cycle {
		c.emitLog(render.SeverityInfo, "Vehicles cleared, cycling Direction A.")
		c.ForceCycle(rules.TriggerVehiclesCleared)
	}
}

func (c *Controller) OnAnalysisError(err error) {
	status := "AI Analysis Error"
	msg := err.Error()
	if de, ok := detection.AsError(err); ok {
		status = de.StatusText()
		msg = de.Message
		if de.Raw != "" {
			c.emitLog(render.SeverityError, "Raw response: "+detection.FormatLog(de.Raw))
		}
		if de.Kind == detection.KindCameraStopped {
			c.cameraRunning = false
		}
	}
	c.logger.Warn("analysis failed", "status", status, "error", err)
	c.setStatus(status)
	c.emitLog(render.SeverityError, fmt.Sprintf("%s: %s", status, msg))

	c.engine.Invalidate()
	if c.health != nil {
		c.health.Failure(err)
	}
	c.gatedErrorCycle(rules.TriggerAnalysisError, "API Error")
}

func (c *Controller) OnAnalysisSkipped(reason string) {
	if reason == scheduler.SkipOffline {
		c.setStatus("Offline")
		c.emitLog(render.SeverityError, "Offline - Cannot perform analysis.")
	}
}

func recordCounts(counts model.VehicleCounts) {
	metrics.VehiclesDetected.WithLabelValues("cars").Set(float64(counts.Cars))
	metrics.VehiclesDetected.WithLabelValues("bikes").Set(float64(counts.Bikes))
	metrics.VehiclesDetected.WithLabelValues("trucks").Set(float64(counts.Trucks))
	metrics.VehiclesDetected.WithLabelValues("buses").Set(float64(counts.Buses))
	metrics.VehiclesDetected.WithLabelValues("unknown").Set(float64(counts.Unknown))
}

// SetMode switches between timer and smart mode. Every timer and the analysis
// loop are cancelled first; the cycle restarts at the current phase once the
// camera has been started or stopped.
func (c *Controller) SetMode(m model.Mode) error {
	switch m {
	case model.ModeSmart, model.ModeTimer:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}
	if m.IsSmart() && !c.backend.Available() {
		return ErrSmartUnavailable
	}
	if m == c.snap.Mode && !c.switching {
		return nil
	}

	c.modeSeq++
	seq := c.modeSeq
	c.cancelAll()
	c.resetLabels()
	c.engine.Reset()
	c.snap = c.snap.WithMode(m)
	c.switching = true
	c.logger.Info("switching mode", "mode", m, "phase", c.phase)

	if m.IsSmart() {
		metrics.SmartModeActive.Set(1)
		c.emitLog(render.SeverityInfo, "AI Mode activated. Starting camera...")
		c.setStatus("Starting Camera...")
		c.spawn(func() {
			var s settings.Settings
			var loadErr error
			camErr := c.startCamera()
			if camErr == nil && c.provider != nil {
				s, loadErr = c.provider.Load(c.ctx)
			}
			c.post(func() { c.finishSmart(seq, s, camErr, loadErr) })
		})
		return nil
	}

	metrics.SmartModeActive.Set(0)
	if c.health != nil {
		c.health.Tracker().SetInactive()
	}
	c.emitLog(render.SeverityInfo, "AI Mode deactivated. Stopping camera...")
	c.setStatus("Stopping Camera...")
	c.spawn(func() {
		err := c.stopCamera()
		c.post(func() { c.finishTimer(seq, err) })
	})
	return nil
}

func (c *Controller) startCamera() error {
	if c.camera == nil {
		return nil
	}
	return c.camera.Start(c.ctx)
}

func (c *Controller) stopCamera() error {
	if c.camera == nil {
		return nil
	}
	return c.camera.Stop(c.ctx)
}

func (c *Controller) finishSmart(seq uint64, s settings.Settings, camErr, loadErr error) {
	if seq != c.modeSeq {
		return
	}
	c.switching = false

	if camErr != nil {
		metrics.ModeSwitchFailures.Inc()
		metrics.SmartModeActive.Set(0)
		c.logger.Error("smart mode activation failed, reverting to timer mode", "error", camErr)
		c.setStatus("AI Mode Failed!")
		c.emitLog(render.SeverityError, fmt.Sprintf("ERROR starting AI Mode: %v", camErr))
		c.snap = c.snap.WithMode(model.ModeTimer)
		c.cameraRunning = false
		c.notify(alert.Alert{
			Type:    alert.AlertTypeModeSwitchFailed,
			Source:  "controller",
			Title:   "Smart mode activation failed",
			Message: camErr.Error(),
		})
		c.restart()
		return
	}

	c.cameraRunning = true
	c.emitLog(render.SeveritySuccess, "Camera started successfully.")
	if loadErr != nil {
		c.logger.Warn("settings reload failed, keeping current snapshot", "error", loadErr)
		c.emitLog(render.SeverityError, fmt.Sprintf("Failed to reload settings: %v", loadErr))
	} else if c.provider != nil {
		c.snap = settings.NewSnapshot(s, model.ModeSmart)
	}
	c.setStatus("AI Mode Active")
	c.restart()
	c.sched.Activate()
}

func (c *Controller) finishTimer(seq uint64, err error) {
	if seq != c.modeSeq {
		return
	}
	c.switching = false
	if err != nil {
		c.logger.Warn("camera stop failed", "error", err)
		c.emitLog(render.SeverityError, fmt.Sprintf("Error stopping camera: %v", err))
	} else {
		c.emitLog(render.SeverityInfo, "Camera stopped.")
	}
	c.cameraRunning = false
	c.setStatus("Timer Mode Active")
	c.restart()
}

// restart re-enters the current phase, or A_GREEN when there is none.
func (c *Controller) restart() {
	p := c.phase
	if c.halted || !p.Valid() {
		p = model.PhaseAGreen
	}
	c.Advance(p)
}

// Tick refreshes the elapsed-seconds label of the highlighted direction.
func (c *Controller) Tick() {
	if c.halted || c.highlight == "" {
		return
	}
	start, ok := c.cycleStart[c.highlight]
	if !ok {
		return
	}
	c.setLabel(c.highlight, seconds(c.clock.Now().Sub(start)))
}

func (c *Controller) startCycle(d model.Direction) {
	c.cycleStart[d] = c.clock.Now()
	c.setLabel(d, 0)
}

// finishCycle freezes d's label at its final elapsed time.
func (c *Controller) finishCycle(d model.Direction) {
	start, ok := c.cycleStart[d]
	if !ok {
		return
	}
	c.setLabel(d, seconds(c.clock.Now().Sub(start)))
	delete(c.cycleStart, d)
}

func (c *Controller) resetLabels() {
	for _, d := range model.Directions {
		delete(c.cycleStart, d)
		c.setLabel(d, 0)
	}
}

func (c *Controller) setLabel(d model.Direction, sec int) {
	if c.lastLabel[d] == sec {
		return
	}
	c.lastLabel[d] = sec
	c.emit(render.TimerLabelEvent{Direction: d, Seconds: sec})
}

func seconds(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}

func (c *Controller) setStatus(text string) {
	if text == c.lastStatus {
		return
	}
	c.lastStatus = text
	c.emit(render.StatusEvent{Text: text})
}

func (c *Controller) emitLog(sev render.Severity, msg string) {
	c.emit(render.LogEvent{Severity: sev, Message: msg})
}

func (c *Controller) emit(ev render.Event) {
	c.emitter.Emit(render.NewEnvelope(c.clock.Now(), ev))
}

func (c *Controller) notify(a alert.Alert) {
	if c.health != nil {
		c.health.Notify(a)
	}
}

func allRed() map[model.Direction]model.Color {
	colors := make(map[model.Direction]model.Color, len(model.Directions))
	for _, d := range model.Directions {
		colors[d] = model.ColorRed
	}
	return colors
}

// haloFor is green while A is being served in smart mode and amber while the
// other directions run with A waiting on analysis.
func haloFor(m model.Mode, p model.Phase) model.Halo {
	switch {
	case !m.IsSmart():
		return model.HaloNone
	case p == model.PhaseAGreen:
		return model.HaloGreen
	case !p.ControlledByA():
		return model.HaloAmber
	default:
		return model.HaloNone
	}
}
