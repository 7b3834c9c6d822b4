package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

func result(present bool) model.AnalysisResult {
	return model.AnalysisResult{VehiclesPresent: present}
}

func TestDecideEntry(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, model.PresenceUnknown, e.Presence())
	assert.Equal(t, NoGo, e.DecideEntry(), "unknown presence does not serve A")

	e.ApplyResult(result(true))
	assert.Equal(t, Go, e.DecideEntry())

	e.ApplyResult(result(false))
	assert.Equal(t, NoGo, e.DecideEntry())
}

func TestApplyResult_ReportsClearing(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.ApplyResult(result(false)), "unknown to false is not a clearing")
	assert.False(t, e.ApplyResult(result(true)))
	assert.False(t, e.ApplyResult(result(true)))
	assert.True(t, e.ApplyResult(result(false)))
	assert.False(t, e.ApplyResult(result(false)))
}

func TestInvalidate(t *testing.T) {
	e := NewEngine()
	e.ApplyResult(result(true))
	e.Invalidate()
	assert.Equal(t, model.PresenceFalse, e.Presence())
	assert.False(t, e.ApplyResult(result(false)), "invalidation already dropped presence")

	e.Reset()
	assert.Equal(t, model.PresenceUnknown, e.Presence())
}

func TestEvaluateForcedCycle(t *testing.T) {
	green := 3 * time.Second
	smartA := func(elapsed time.Duration) State {
		return State{Phase: model.PhaseAGreen, Mode: model.ModeSmart, Elapsed: elapsed, Green: green}
	}

	tests := []struct {
		name    string
		trigger Trigger
		state   State
		want    Verdict
	}{
		{"cleared cycles immediately", TriggerVehiclesCleared, smartA(0), Cycle},
		{"max time cycles", TriggerMaxTime, smartA(10 * time.Second), Cycle},
		{"analysis error before green", TriggerAnalysisError, smartA(time.Second), Continue},
		{"analysis error at green", TriggerAnalysisError, smartA(3 * time.Second), Cycle},
		{"analysis error after green", TriggerAnalysisError, smartA(3500 * time.Millisecond), Cycle},
		{"stream error before green", TriggerStreamError, smartA(2999 * time.Millisecond), Continue},
		{"stream error after green", TriggerStreamError, smartA(4 * time.Second), Cycle},
		{"timer mode is inert", TriggerVehiclesCleared, State{Phase: model.PhaseAGreen, Mode: model.ModeTimer}, Continue},
		{"other phase is inert", TriggerMaxTime, State{Phase: model.PhaseAYellow, Mode: model.ModeSmart}, Continue},
		{"direction D is inert", TriggerAnalysisError, State{Phase: model.PhaseDGreen, Mode: model.ModeSmart, Elapsed: time.Hour, Green: green}, Continue},
		{"unknown trigger", Trigger("bogus"), smartA(time.Hour), Continue},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.EvaluateForcedCycle(tt.trigger, tt.state))
		})
	}
}
