package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrLoopStopped = errors.New("controller: event loop stopped")

// Loop serializes every mutation of controller state onto one goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger *slog.Logger
}

func NewLoop(buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 64
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger.With("component", "event_loop"),
	}
}

// Post queues fn for execution on the loop. It must not be called from the
// loop goroutine itself. After the loop stops, fn is discarded.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop and waits for it to finish.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted tasks until ctx is cancelled. onTick, if set, runs on
// the loop every tick interval.
func (l *Loop) Run(ctx context.Context, tick time.Duration, onTick func()) error {
	defer close(l.done)

	var tickC <-chan time.Time
	if tick > 0 && onTick != nil {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		tickC = ticker.C
	}

	l.logger.Info("event loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopped")
			return nil
		case fn := <-l.tasks:
			fn()
		case <-tickC:
			onTick()
		}
	}
}
