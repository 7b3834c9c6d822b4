package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Controller, analysis and supporting-infrastructure collectors.

var (
	// Phase state machine
	PhaseTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "controller",
		Name:      "phase_transitions_total",
		Help:      "Total phase transitions applied",
	}, []string{"phase", "mode"})

	CurrentPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "controller",
		Name:      "current_phase",
		Help:      "1 for the active phase, 0 for every other phase",
	}, []string{"phase"})

	SmartModeActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "controller",
		Name:      "smart_mode_active",
		Help:      "1 while smart mode governs direction A",
	})

	ControllerHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "controller",
		Name:      "halted",
		Help:      "1 after an unrecognized phase stopped the cycle",
	})

	ModeSwitchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "controller",
		Name:      "mode_switch_failures_total",
		Help:      "Total smart mode activations rolled back to timer mode",
	})

	// Rule engine
	ForcedCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "rules",
		Name:      "forced_cycles_total",
		Help:      "Total forced cycles of direction A",
	}, []string{"reason"})

	SmartEntryDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "rules",
		Name:      "entry_decisions_total",
		Help:      "Smart A_GREEN entry decisions",
	}, []string{"decision"})

	// Analysis scheduler / detection client
	AnalysisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "requests_total",
		Help:      "Total detection requests by outcome",
	}, []string{"outcome"})

	AnalysisSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "skipped_total",
		Help:      "Total analysis requests aborted on an unmet precondition",
	}, []string{"reason"})

	AnalysisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "request_duration_seconds",
		Help:      "Detection request round-trip duration",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
	})

	AnalysisInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "in_flight",
		Help:      "1 while a detection request is outstanding",
	})

	AnalysisStaleDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "stale_results_dropped_total",
		Help:      "Results discarded because the scheduler was paused while in flight",
	})

	VehiclesDetected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "analysis",
		Name:      "vehicles_detected",
		Help:      "Vehicle counts from the latest successful analysis",
	}, []string{"class"})

	// Detection rate limiter
	DetectionRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "detection",
		Name:      "rate_limit_waits_total",
		Help:      "Total times detection calls waited for the rate limiter",
	})

	// Circuit breaker
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	BreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "circuit_breaker",
		Name:      "transitions_total",
		Help:      "Total circuit breaker state changes",
	}, []string{"name", "to"})

	// Backend health
	BackendHealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "backend",
		Name:      "health_status",
		Help:      "Detection backend health (0=UNKNOWN, 1=HEALTHY, 2=DEGRADED, 3=UNHEALTHY, 4=INACTIVE)",
	})

	BackendConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "backend",
		Name:      "consecutive_failures",
		Help:      "Number of consecutive failed detection requests",
	})

	BackendReachable = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "backend",
		Name:      "reachable",
		Help:      "Whether the detection host accepted the last TCP dial (1) or not (0)",
	})

	// Settings
	SettingsReloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "settings",
		Name:      "reloads_total",
		Help:      "Total settings records applied without restart",
	})

	SettingsReloadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "settings",
		Name:      "reload_errors_total",
		Help:      "Total failed settings polls",
	})

	// Renderer sinks
	RenderEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "render",
		Name:      "events_total",
		Help:      "Total renderer events emitted",
	}, []string{"type"})

	RenderSinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "render",
		Name:      "sink_errors_total",
		Help:      "Total renderer sink delivery failures",
	}, []string{"sink"})

	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "render",
		Name:      "sse_subscribers",
		Help:      "Connected server-sent event subscribers",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// Journal DB pool
	DBPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "journal_db_pool",
		Name:      "open_connections",
		Help:      "Open connections in the journal pool",
	})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "journal_db_pool",
		Name:      "in_use",
		Help:      "Journal connections currently in use",
	})

	DBPoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "journal_db_pool",
		Name:      "idle",
		Help:      "Idle journal connections",
	})

	DBPoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "signal",
		Subsystem: "journal_db_pool",
		Name:      "wait_count",
		Help:      "Total waits for a journal connection",
	})

	// Admin API
	AdminRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "admin",
		Name:      "rate_limited_total",
		Help:      "Total admin requests rejected by the rate limiter",
	}, []string{"rule"})

	AdminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signal",
		Subsystem: "admin",
		Name:      "requests_total",
		Help:      "Total admin requests",
	}, []string{"method", "path", "status"})
)
