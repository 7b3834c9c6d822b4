package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/signal-controller/internal/admin"
	"github.com/emperorhan/signal-controller/internal/alert"
	"github.com/emperorhan/signal-controller/internal/camera"
	"github.com/emperorhan/signal-controller/internal/circuitbreaker"
	"github.com/emperorhan/signal-controller/internal/clock"
	"github.com/emperorhan/signal-controller/internal/config"
	"github.com/emperorhan/signal-controller/internal/controller"
	"github.com/emperorhan/signal-controller/internal/detection"
	"github.com/emperorhan/signal-controller/internal/health"
	"github.com/emperorhan/signal-controller/internal/ratelimit"
	"github.com/emperorhan/signal-controller/internal/render"
	"github.com/emperorhan/signal-controller/internal/settings"
	"github.com/emperorhan/signal-controller/internal/store/postgres"
	redisstore "github.com/emperorhan/signal-controller/internal/store/redis"
	"github.com/emperorhan/signal-controller/internal/tracing"
)

const (
	sinkBuffer      = 256
	sseClientBuffer = 64
	healthPingLimit = 2 * time.Second
)

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting signal-controller",
		"detection_url", cfg.Detection.URL,
		"camera_url", cfg.Camera.BaseURL,
		"ai_backend", cfg.Backend.Mode,
		"ai_model", cfg.Backend.ModelName,
		"settings_path", cfg.Settings.Path,
		"mqtt", cfg.MQTT.Broker != "",
		"redis", cfg.Redis.URL != "",
		"journal", cfg.Journal.URL != "",
	)

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Render fan-out
	hub := render.NewHub(logger)
	hub.AddSink(render.NewLogSink(logger), sinkBuffer)
	sse := render.NewSSEBroker(sseClientBuffer)
	hub.AddSink(sse, sinkBuffer)

	var journal *postgres.Journal
	var journalDB *postgres.DB
	if cfg.Journal.URL != "" {
		journalDB, err = postgres.New(postgres.Config{
			URL:             cfg.Journal.URL,
			MaxOpenConns:    cfg.Journal.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MaxIdleConns,
			ConnMaxLifetime: cfg.Journal.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer journalDB.Close()
		if err := journalDB.RunMigrations(cfg.Journal.MigrationsDir); err != nil {
			logger.Error("journal migrations failed", "error", err, "dir", cfg.Journal.MigrationsDir)
			os.Exit(1)
		}
		journal = postgres.NewJournal(journalDB, logger)
		hub.AddSink(journal, sinkBuffer)
		logger.Info("event journal enabled")
	}

	if cfg.Redis.URL != "" {
		stream, err := redisstore.NewEventStream(cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.MaxLen)
		if err != nil {
			logger.Error("failed to initialize redis event stream", "error", err)
			os.Exit(1)
		}
		defer stream.Close()
		hub.AddSink(stream, sinkBuffer)
		logger.Info("redis event stream enabled", "stream", cfg.Redis.Stream)
	}

	if cfg.MQTT.Broker != "" {
		mq := render.NewMQTTSink(render.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger)
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		err := mq.Connect(connectCtx)
		connectCancel()
		if err != nil {
			logger.Error("failed to connect to mqtt broker", "error", err, "broker", cfg.MQTT.Broker)
			os.Exit(1)
		}
		defer mq.Disconnect()
		hub.AddSink(mq, sinkBuffer)
	}

	// Detection and camera
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "detection",
		FailureThreshold: cfg.Detection.BreakerFailureThreshold,
		SuccessThreshold: cfg.Detection.BreakerSuccessThreshold,
		OpenTimeout:      cfg.Detection.BreakerOpenTimeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("detection circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	detector := detection.NewClient(cfg.Detection.URL, logger,
		detection.WithHTTPClient(&http.Client{Timeout: cfg.Detection.Timeout}),
		detection.WithBreaker(breaker),
		detection.WithLimiter(ratelimit.NewLimiter(cfg.Detection.MaxRPS, 1)),
	)
	cam := camera.NewClient(camera.Config{
		BaseURL:           cfg.Camera.BaseURL,
		FrameURL:          cfg.Camera.FrameURL,
		FirstFrameTimeout: cfg.Camera.FirstFrameTimeout,
		ProbeInterval:     cfg.Camera.ProbeInterval,
	}, logger)

	store := settings.NewFileStore(cfg.Settings.Path)
	alerter := alert.New(cfg.Alert.SlackWebhookURL, cfg.Alert.WebhookURL, cfg.Alert.Cooldown, logger)
	tracker := health.NewTracker()
	monitor := health.NewMonitor(tracker, alerter, logger)
	defer monitor.Wait()

	var reach *health.Reachability
	var online func() bool
	if cfg.Detection.ReachabilityInterval > 0 {
		reach, err = health.NewReachability(cfg.Detection.URL, cfg.Detection.ReachabilityInterval, logger)
		if err != nil {
			logger.Error("invalid detection url for reachability check", "error", err)
			os.Exit(1)
		}
		online = reach.Online
	}

	svc := controller.NewService(controller.Deps{
		Clock:    clock.Real(),
		Detector: detector,
		Camera:   cam,
		Settings: store,
		Emitter:  hub,
		Backend:  cfg.Backend.Mode,
		Context:  ctx,
		Health:   monitor,
		Online:   online,
		Logger:   logger,
	})

	watcher := settings.NewWatcher(store, svc, logger, cfg.Settings.WatchInterval)
	if initial, err := store.Load(ctx); err == nil {
		watcher.Seed(initial)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, "health", cfg.Server.HealthPort, newHealthMux(svc.Ping), logger)
	})

	if cfg.Admin.Enabled {
		opts := []admin.ServerOption{
			admin.WithBackend(admin.Backend{Mode: cfg.Backend.Mode, ModelName: cfg.Backend.ModelName}),
			admin.WithHealthProvider(tracker),
			admin.WithEventStream(sse),
		}
		if journal != nil {
			opts = append(opts, admin.WithJournal(journal))
		}
		srv := admin.NewServer(svc, store, logger, opts...)
		limiter := admin.NewRateLimitMiddleware(admin.RateLimits{
			RearmPerMinute:       cfg.Admin.RearmPerMinute,
			ModePerMinute:        cfg.Admin.ModePerMinute,
			SettingsPerMinute:    cfg.Admin.SettingsPerMinute,
			StreamErrorPerSecond: cfg.Admin.StreamErrorPerSecond,
			DefaultPerSecond:     cfg.Admin.DefaultPerSecond,
			TrustProxy:           cfg.Admin.TrustProxy,
		}, logger)

		handler := admin.AuditMiddleware(logger, srv.Handler())
		if cfg.Admin.JWTSecret != "" {
			handler = admin.NewAuthMiddleware([]byte(cfg.Admin.JWTSecret), logger).Wrap(handler)
		} else {
			logger.Warn("admin API running without authentication")
		}
		handler = limiter.Wrap(handler)

		g.Go(func() error {
			return runHTTPServer(gCtx, "admin", cfg.Server.AdminPort, handler, logger)
		})
	}

	g.Go(func() error { return hub.Run(gCtx) })
	g.Go(func() error { return svc.Run(gCtx) })
	g.Go(func() error { return watcher.Run(gCtx) })
	if reach != nil {
		g.Go(func() error { return reach.Run(gCtx) })
	}

	if journal != nil {
		g.Go(func() error {
			return journal.RunRetention(gCtx, cfg.Journal.PruneInterval, cfg.Journal.Retention)
		})
		g.Go(func() error { return journalDB.RunPoolStats(gCtx, cfg.Journal.PoolStatsEvery) })
	}

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("controller exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("controller shut down gracefully")
}

// newHealthMux serves /healthz (503 while the controller loop is not
// answering) and /metrics.
func newHealthMux(ping func(context.Context) error) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingLimit)
		defer cancel()
		if err := ping(ctx); err != nil {
			http.Error(w, "controller loop unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func runHTTPServer(ctx context.Context, name string, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived SSE requests end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("server started", "server", name, "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
