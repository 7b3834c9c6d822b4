package controller

import (
	"time"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

// Status is a point-in-time view of the controller (JSON-safe).
type Status struct {
	Phase            model.Phase       `json:"phase"`
	Mode             model.Mode        `json:"mode"`
	Presence         model.Presence    `json:"presence"`
	Halted           bool              `json:"halted"`
	Switching        bool              `json:"switching"`
	CameraRunning    bool              `json:"camera_running"`
	Highlight        model.Direction   `json:"highlight,omitempty"`
	StatusLine       string            `json:"status_line"`
	Backend          model.BackendMode `json:"backend"`
	AnalysisInFlight bool              `json:"analysis_in_flight"`
	AnalysisPending  bool              `json:"analysis_pending"`
	FirstFrameGate   bool              `json:"first_frame_gate"`
	PhaseTimerArmed  bool              `json:"phase_timer_armed"`
	WatchdogArmed    bool              `json:"watchdog_armed"`
	Timing           Timing            `json:"timing"`
}

type Timing struct {
	GreenMs        int64 `json:"green_ms"`
	YellowMs       int64 `json:"yellow_ms"`
	AllRedMs       int64 `json:"all_red_ms"`
	MaxSmartAMs    int64 `json:"max_smart_a_ms"`
	CallsPerMinute int   `json:"calls_per_minute"`
	BackoffMs      int64 `json:"analysis_backoff_ms"`
}

func (c *Controller) Status() Status {
	return Status{
		Phase:            c.phase,
		Mode:             c.snap.Mode,
		Presence:         c.engine.Presence(),
		Halted:           c.halted,
		Switching:        c.switching,
		CameraRunning:    c.cameraRunning,
		Highlight:        c.highlight,
		StatusLine:       c.lastStatus,
		Backend:          c.backend,
		AnalysisInFlight: c.sched.InFlight(),
		AnalysisPending:  c.sched.Pending(),
		FirstFrameGate:   c.sched.Gating(),
		PhaseTimerArmed:  c.phaseTimer != nil,
		WatchdogArmed:    c.watchdog != nil,
		Timing: Timing{
			GreenMs:        ms(c.snap.Green),
			YellowMs:       ms(c.snap.Yellow),
			AllRedMs:       ms(c.snap.AllRed),
			MaxSmartAMs:    ms(c.snap.MaxSmartA),
			CallsPerMinute: c.snap.CallsPerMinute,
			BackoffMs:      ms(c.snap.AnalysisBackoff()),
		},
	}
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}
