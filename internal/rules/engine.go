// Package rules decides when direction A is served in smart mode and when a
// green already in progress must be cut short.
package rules

import (
	"time"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

type Decision string

const (
	Go   Decision = "go"
	NoGo Decision = "no_go"
)

type Verdict string

const (
	Continue Verdict = "continue"
	Cycle    Verdict = "cycle"
)

// Trigger names the event that asks for a forced cycle of direction A.
type Trigger string

const (
	TriggerVehiclesCleared Trigger = "vehicles_cleared"
	TriggerMaxTime         Trigger = "max_time"
	TriggerStreamError     Trigger = "stream_error"
	TriggerAnalysisError   Trigger = "analysis_error"
)

// State is what the engine needs to know about the controller at the moment
// a trigger is evaluated.
type State struct {
	Phase model.Phase
	Mode  model.Mode
	// Elapsed is how long direction A has been in its current cycle.
	Elapsed time.Duration
	Green   time.Duration
}

// Engine holds the vehicle presence estimate for direction A. It is owned by
// the controller's event loop and is not safe for concurrent use.
type Engine struct {
	presence model.Presence
}

func NewEngine() *Engine {
	return &Engine{presence: model.PresenceUnknown}
}

func (e *Engine) Presence() model.Presence {
	return e.presence
}

// DecideEntry is evaluated once, when A_GREEN is entered in smart mode.
func (e *Engine) DecideEntry() Decision {
	if e.presence == model.PresenceTrue {
		return Go
	}
	return NoGo
}

// ApplyResult records a successful analysis and reports whether presence
// flipped from True to False.
func (e *Engine) ApplyResult(r model.AnalysisResult) (cleared bool) {
	prev := e.presence
	e.presence = r.Presence()
	return prev == model.PresenceTrue && e.presence == model.PresenceFalse
}

// Invalidate marks the estimate as absent. Presence becomes False; a drop
// caused by missing data never counts as vehicles clearing.
func (e *Engine) Invalidate() {
	e.presence = model.PresenceFalse
}

// Reset forgets the estimate entirely.
func (e *Engine) Reset() {
	e.presence = model.PresenceUnknown
}

// EvaluateForcedCycle applies the forced-cycle rules. Every rule is inert
// outside A_GREEN in smart mode. Error triggers only cycle once A has had at
// least its standard green time; before that the watchdog stays the backstop.
func (e *Engine) EvaluateForcedCycle(t Trigger, s State) Verdict {
	if s.Phase != model.PhaseAGreen || !s.Mode.IsSmart() {
		return Continue
	}
	switch t {
	case TriggerVehiclesCleared, TriggerMaxTime:
		return Cycle
	case TriggerStreamError, TriggerAnalysisError:
		if s.Elapsed >= s.Green {
			return Cycle
		}
		return Continue
	default:
		return Continue
	}
}
