package controller

import (
	"context"
	"time"

	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/settings"
)

// DisplayTick is the refresh interval of the elapsed-seconds labels.
const DisplayTick = time.Second

// Service runs a Controller on its own event loop and offers a goroutine-safe
// API to the admin server and the settings watcher.
type Service struct {
	loop *Loop
	ctrl *Controller
}

// NewService wires d to a new event loop. d.Post is replaced by the loop's.
func NewService(d Deps) *Service {
	loop := NewLoop(256, d.Logger)
	d.Post = loop.Post
	return &Service{loop: loop, ctrl: New(d)}
}

// Run starts the controller and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.loop.Post(s.ctrl.Start)
	return s.loop.Run(ctx, DisplayTick, s.ctrl.Tick)
}

func (s *Service) SetMode(ctx context.Context, m model.Mode) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = s.ctrl.SetMode(m) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Service) Rearm(ctx context.Context, p model.Phase) error {
	var err error
	if callErr := s.loop.Call(ctx, func() { err = s.ctrl.Rearm(p) }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Service) StreamError(ctx context.Context) error {
	return s.loop.Call(ctx, s.ctrl.StreamError)
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.loop.Call(ctx, func() { st = s.ctrl.Status() })
	return st, err
}

// ApplySettings implements settings.Applier. It does not wait for the loop.
func (s *Service) ApplySettings(v settings.Settings) {
	s.loop.Post(func() { s.ctrl.ApplySettings(v) })
}

var _ settings.Applier = (*Service)(nil)

// Ping reports whether the event loop is processing tasks.
func (s *Service) Ping(ctx context.Context) error {
	return s.loop.Call(ctx, func() {})
}
