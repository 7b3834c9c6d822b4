package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/signal-controller/internal/render"
)

func TestEnvelopeValues(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 125_000_000, time.UTC)
	env := render.NewEnvelope(at, render.StatusEvent{Text: "AI Mode Active"})

	values, err := envelopeValues(env)
	require.NoError(t, err)

	assert.Equal(t, env.ID, values["id"])
	assert.Equal(t, "status", values["type"])
	assert.Equal(t, "2026-03-01T09:30:00.125Z", values["at"])
	assert.JSONEq(t, `{"text":"AI Mode Active"}`, values["data"].(string))
}

func TestEntryFromValues_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	env := render.NewEnvelope(at, render.TimerLabelEvent{Seconds: 7})

	values, err := envelopeValues(env)
	require.NoError(t, err)

	e := entryFromValues("1-0", values)
	assert.Equal(t, "1-0", e.StreamID)
	assert.Equal(t, env.ID, e.ID)
	assert.Equal(t, "timer_label", e.Type)
	assert.True(t, at.Equal(e.At))
}

func TestEntryFromValues_MissingFields(t *testing.T) {
	e := entryFromValues("2-0", map[string]any{"type": "log"})
	assert.Equal(t, "log", e.Type)
	assert.Empty(t, e.ID)
	assert.True(t, e.At.IsZero())
}

func TestNewEventStream_InvalidURL(t *testing.T) {
	_, err := NewEventStream("not-a-url", "s", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
