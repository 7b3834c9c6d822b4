package render

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

type chanSink struct {
	name string
	ch   chan Envelope
	err  error
}

func (s *chanSink) Name() string { return s.name }

func (s *chanSink) Write(_ context.Context, env Envelope) error {
	s.ch <- env
	return s.err
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     int
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Write(ctx context.Context, _ Envelope) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.got++
	s.mu.Unlock()
	return nil
}

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))
	env := NewEnvelope(at, StatusEvent{Text: "AI Mode Active"})

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, EventStatus, env.Type)
	assert.Equal(t, time.UTC, env.At.Location())

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"status"`)
	assert.Contains(t, string(raw), `"text":"AI Mode Active"`)
}

func TestRecorderOf(t *testing.T) {
	var rec Recorder
	now := time.Now()
	rec.Emit(NewEnvelope(now, StatusEvent{Text: "one"}))
	rec.Emit(NewEnvelope(now, TimerLabelEvent{Direction: model.DirectionA, Seconds: 3}))
	rec.Emit(NewEnvelope(now, StatusEvent{Text: "two"}))

	statuses := Of[StatusEvent](&rec)
	require.Len(t, statuses, 2)
	assert.Equal(t, "two", statuses[1].Text)
	assert.Len(t, Of[TimerLabelEvent](&rec), 1)

	rec.Reset()
	assert.Empty(t, rec.Envelopes)
}

func TestHub_FansOutToEverySink(t *testing.T) {
	hub := NewHub(slog.Default())
	a := &chanSink{name: "a", ch: make(chan Envelope, 4)}
	b := &chanSink{name: "b", ch: make(chan Envelope, 4), err: errors.New("down")}
	hub.AddSink(a, 4)
	hub.AddSink(b, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	env := NewEnvelope(time.Now(), LogEvent{Severity: SeverityInfo, Message: "hello"})
	hub.Emit(env)

	for _, s := range []*chanSink{a, b} {
		select {
		case got := <-s.ch:
			assert.Equal(t, env.ID, got.ID)
		case <-time.After(2 * time.Second):
			t.Fatalf("sink %s did not receive event", s.name)
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestHub_SlowSinkDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(slog.Default())
	slow := &blockingSink{release: make(chan struct{})}
	hub.AddSink(slow, 1)

	// Run is not started, so the queue holds exactly one envelope.
	emitted := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Emit(NewEnvelope(time.Now(), StatusEvent{Text: "x"}))
		}
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full sink queue")
	}
	assert.Len(t, hub.sinks[0].queue, 1)
}

func TestSSEBroker_StreamsEvents(t *testing.T) {
	broker := NewSSEBroker(8)
	srv := httptest.NewServer(broker)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)
	_, _ = reader.ReadString('\n')
	_, _ = reader.ReadString('\n')
	require.Equal(t, 1, broker.Subscribers())

	env := NewEnvelope(time.Now(), PhaseEvent{
		Phase: model.PhaseAGreen,
		Mode:  model.ModeSmart,
		Colors: map[model.Direction]model.Color{
			model.DirectionA: model.ColorGreen,
		},
		Highlight: model.DirectionA,
		Halo:      model.HaloGreen,
	})
	require.NoError(t, broker.Write(context.Background(), env))

	var lines []string
	for len(lines) < 3 {
		l, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimSuffix(l, "\n"))
	}
	assert.Equal(t, "id: "+env.ID, lines[0])
	assert.Equal(t, "event: phase", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "data: "))
	assert.Contains(t, lines[2], `"phase":"A_GREEN"`)
	assert.Contains(t, lines[2], `"halo":"green"`)
}

func TestSSEBroker_UnsubscribeIsIdempotent(t *testing.T) {
	broker := NewSSEBroker(0)
	ch := broker.Subscribe()
	assert.Equal(t, 1, broker.Subscribers())
	broker.Unsubscribe(ch)
	broker.Unsubscribe(ch)
	assert.Zero(t, broker.Subscribers())
}

func TestMQTTSink_NotConnected(t *testing.T) {
	sink := NewMQTTSink(MQTTConfig{Broker: "localhost:1883", ClientID: "test", TopicPrefix: "signal/"}, slog.Default())

	assert.Equal(t, "signal/phase", sink.Topic(EventPhase))
	err := sink.Write(context.Background(), NewEnvelope(time.Now(), StatusEvent{Text: "x"}))
	assert.ErrorIs(t, err, ErrMQTTNotConnected)
	assert.True(t, retained(EventPhase))
	assert.False(t, retained(EventLog))
}

func TestLogSink_AcceptsEveryEvent(t *testing.T) {
	sink := NewLogSink(slog.Default())
	now := time.Now()
	for _, ev := range []Event{
		LogEvent{Severity: SeverityError, Message: "boom"},
		StatusEvent{Text: "Offline"},
		PhaseEvent{Phase: model.PhaseBGreen},
		AnalysisEvent{RequestID: "r"},
	} {
		assert.NoError(t, sink.Write(context.Background(), NewEnvelope(now, ev)))
	}
}
