// Package render carries the controller's presentation events to every
// attached sink (browser SSE stream, MQTT, Redis stream, journal, log).
package render

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

type EventType string

const (
	EventPhase      EventType = "phase"
	EventTimerLabel EventType = "timer_label"
	EventLog        EventType = "log"
	EventStatus     EventType = "status"
	EventAnalysis   EventType = "analysis"
)

// Severity of a log line shown to the operator.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

type Event interface {
	EventType() EventType
}

// PhaseEvent is emitted on every phase entry and on halt.
type PhaseEvent struct {
	Phase     model.Phase                     `json:"phase"`
	Mode      model.Mode                      `json:"mode"`
	Colors    map[model.Direction]model.Color `json:"colors"`
	Highlight model.Direction                 `json:"highlight,omitempty"`
	Halo      model.Halo                      `json:"halo"`
	Halted    bool                            `json:"halted,omitempty"`
}

func (PhaseEvent) EventType() EventType { return EventPhase }

// TimerLabelEvent carries the rounded elapsed seconds shown for a direction.
type TimerLabelEvent struct {
	Direction model.Direction `json:"direction"`
	Seconds   int             `json:"seconds"`
}

func (TimerLabelEvent) EventType() EventType { return EventTimerLabel }

type LogEvent struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (LogEvent) EventType() EventType { return EventLog }

type StatusEvent struct {
	Text string `json:"text"`
}

func (StatusEvent) EventType() EventType { return EventStatus }

type AnalysisEvent struct {
	RequestID       string              `json:"request_id"`
	VehiclesPresent bool                `json:"vehicles_present"`
	Counts          model.VehicleCounts `json:"counts"`
	LatencyMs       int64               `json:"latency_ms"`
}

func (AnalysisEvent) EventType() EventType { return EventAnalysis }

// Envelope is the unit every sink receives.
type Envelope struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data Event     `json:"data"`
}

// NewEnvelope stamps ev with a fresh ID and the given time.
func NewEnvelope(at time.Time, ev Event) Envelope {
	return Envelope{
		ID:   uuid.NewString(),
		Type: ev.EventType(),
		At:   at.UTC(),
		Data: ev,
	}
}

func (e Envelope) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}

// Emitter accepts envelopes from the controller. Emit must not block.
type Emitter interface {
	Emit(env Envelope)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Envelope)

func (f EmitterFunc) Emit(env Envelope) { f(env) }

// Recorder keeps every envelope it receives. It is not safe for concurrent
// use.
type Recorder struct {
	Envelopes []Envelope
}

func (r *Recorder) Emit(env Envelope) {
	r.Envelopes = append(r.Envelopes, env)
}

// Of returns the recorded events of type T in emission order.
func Of[T Event](r *Recorder) []T {
	var out []T
	for _, env := range r.Envelopes {
		if ev, ok := env.Data.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.Envelopes = nil
}
