package settings

import (
	"context"
	"log/slog"
	"time"

	"github.com/emperorhan/signal-controller/internal/metrics"
)

const watcherDefaultInterval = 5 * time.Second

// Applier receives settings that changed since the last poll.
type Applier interface {
	ApplySettings(s Settings)
}

// Watcher polls a Provider and pushes changed records to the controller
// without a restart.
type Watcher struct {
	provider Provider
	applier  Applier
	interval time.Duration
	logger   *slog.Logger

	lastSeen *Settings
}

func NewWatcher(provider Provider, applier Applier, logger *slog.Logger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = watcherDefaultInterval
	}
	return &Watcher{
		provider: provider,
		applier:  applier,
		interval: interval,
		logger:   logger.With("component", "settings_watcher"),
	}
}

// Seed records s as already applied so the first poll does not re-apply it.
func (w *Watcher) Seed(s Settings) {
	w.lastSeen = &s
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("settings watcher started", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("settings watcher stopping")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	s, err := w.provider.Load(ctx)
	if err != nil {
		w.logger.Warn("settings poll failed", "error", err)
		metrics.SettingsReloadErrors.Inc()
		return
	}
	if w.lastSeen != nil && *w.lastSeen == s {
		return
	}

	w.logger.Info("settings changed",
		"green_ms", s.GreenLightDurationMs,
		"yellow_ms", s.YellowLightDurationMs,
		"max_smart_a_ms", s.MaxTimeSmartAMs,
		"api_calls_per_minute", s.APICallsPerMinute,
	)
	w.applier.ApplySettings(s)
	metrics.SettingsReloads.Inc()
	w.lastSeen = &s
}
