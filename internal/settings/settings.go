// Package settings holds the operator-editable configuration record, its
// validation rules and the immutable timing snapshot the controller runs on.
package settings

import (
	"time"

	"github.com/emperorhan/signal-controller/internal/domain/model"
)

const (
	DefaultGreen          = 3000 * time.Millisecond
	DefaultYellow         = 1000 * time.Millisecond
	AllRed                = 1000 * time.Millisecond
	DefaultMaxSmartA      = 10000 * time.Millisecond
	DefaultCallsPerMinute = 6

	// MinAnalysisBackoff is the hard lower bound on the post-error delay.
	MinAnalysisBackoff = 500 * time.Millisecond

	CaptureModeImage = "Image"
	CaptureModeVideo = "Video"

	ResolutionDefault = "default"
)

type CropArea struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	W float64 `json:"w" yaml:"w"`
	H float64 `json:"h" yaml:"h"`
}

// FullFrame reports whether the crop covers the whole image.
func (c CropArea) FullFrame() bool {
	const eps = 1e-6
	return abs(c.X) < eps && abs(c.Y) < eps && abs(c.W-1) < eps && abs(c.H-1) < eps
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Settings is the stored configuration record. Durations are milliseconds.
type Settings struct {
	CaptureMode           string   `json:"mode" yaml:"mode"`
	APICallsPerMinute     int      `json:"apiCallsPerMinute" yaml:"api_calls_per_minute"`
	Resolution            string   `json:"resolution" yaml:"resolution"`
	CropArea              CropArea `json:"cropArea" yaml:"crop_area"`
	GreenLightDurationMs  int      `json:"greenLightDurationMs" yaml:"green_light_duration_ms"`
	YellowLightDurationMs int      `json:"yellowLightDurationMs" yaml:"yellow_light_duration_ms"`
	MaxTimeSmartAMs       int      `json:"maxTimeSmartA_Ms" yaml:"max_time_smart_a_ms"`
}

func Defaults() Settings {
	return Settings{
		CaptureMode:           CaptureModeImage,
		APICallsPerMinute:     DefaultCallsPerMinute,
		Resolution:            ResolutionDefault,
		CropArea:              CropArea{X: 0, Y: 0, W: 1, H: 1},
		GreenLightDurationMs:  int(DefaultGreen / time.Millisecond),
		YellowLightDurationMs: int(DefaultYellow / time.Millisecond),
		MaxTimeSmartAMs:       int(DefaultMaxSmartA / time.Millisecond),
	}
}

// Snapshot is the immutable view of timing configuration the controller and
// scheduler work from. It is replaced wholesale, never mutated.
type Snapshot struct {
	Mode           model.Mode
	Green          time.Duration
	Yellow         time.Duration
	AllRed         time.Duration
	MaxSmartA      time.Duration
	CallsPerMinute int
}

// NewSnapshot derives a snapshot from s, substituting defaults for missing or
// non-positive values.
func NewSnapshot(s Settings, mode model.Mode) Snapshot {
	if mode != model.ModeSmart {
		mode = model.ModeTimer
	}
	snap := Snapshot{
		Mode:           mode,
		Green:          msOrDefault(s.GreenLightDurationMs, DefaultGreen),
		Yellow:         msOrDefault(s.YellowLightDurationMs, DefaultYellow),
		AllRed:         AllRed,
		MaxSmartA:      msOrDefault(s.MaxTimeSmartAMs, DefaultMaxSmartA),
		CallsPerMinute: s.APICallsPerMinute,
	}
	if snap.CallsPerMinute <= 0 {
		snap.CallsPerMinute = DefaultCallsPerMinute
	}
	return snap
}

// DefaultSnapshot is the snapshot used when no settings could be loaded.
func DefaultSnapshot() Snapshot {
	return NewSnapshot(Settings{}, model.ModeTimer)
}

func msOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// WithMode returns a copy of s running under mode m.
func (s Snapshot) WithMode(m model.Mode) Snapshot {
	s.Mode = m
	return s
}

// AnalysisBackoff is the minimum delay before the next detection request
// after a failed one: max(500ms, 1min/callsPerMinute).
func (s Snapshot) AnalysisBackoff() time.Duration {
	cpm := s.CallsPerMinute
	if cpm <= 0 {
		cpm = DefaultCallsPerMinute
	}
	d := time.Duration(float64(time.Minute) / float64(cpm))
	if d < MinAnalysisBackoff {
		return MinAnalysisBackoff
	}
	return d
}

// CycleLength is the duration of one full fixed-timer cycle.
func (s Snapshot) CycleLength() time.Duration {
	return 4 * (s.Green + s.Yellow + s.AllRed)
}
