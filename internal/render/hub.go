package render

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/signal-controller/internal/metrics"
)

// Sink delivers envelopes to one destination. Write is called from a single
// goroutine per sink.
type Sink interface {
	Name() string
	Write(ctx context.Context, env Envelope) error
}

const defaultSinkBuffer = 256

type sinkQueue struct {
	sink  Sink
	queue chan Envelope
}

// Hub fans envelopes out to its sinks. A slow sink drops its own events and
// never blocks the controller or the other sinks.
type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []*sinkQueue
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger.With("component", "render_hub")}
}

// AddSink registers a sink with a queue of the given size. Sinks must be
// added before Run.
func (h *Hub) AddSink(sink Sink, buffer int) {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, &sinkQueue{sink: sink, queue: make(chan Envelope, buffer)})
	h.mu.Unlock()
}

func (h *Hub) Emit(env Envelope) {
	metrics.RenderEventsTotal.WithLabelValues(string(env.Type)).Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sq := range h.sinks {
		select {
		case sq.queue <- env:
		default:
			metrics.RenderSinkErrors.WithLabelValues(sq.sink.Name()).Inc()
			h.logger.Warn("sink queue full, dropping event",
				"sink", sq.sink.Name(), "type", env.Type, "id", env.ID)
		}
	}
}

// Run drains every sink queue until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.RLock()
	sinks := append([]*sinkQueue(nil), h.sinks...)
	h.mu.RUnlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, sq := range sinks {
		g.Go(func() error {
			h.drain(gCtx, sq)
			return nil
		})
	}
	return g.Wait()
}

func (h *Hub) drain(ctx context.Context, sq *sinkQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sq.queue:
			if err := sq.sink.Write(ctx, env); err != nil {
				metrics.RenderSinkErrors.WithLabelValues(sq.sink.Name()).Inc()
				h.logger.Warn("sink write failed",
					"sink", sq.sink.Name(), "type", env.Type, "error", err)
			}
		}
	}
}
