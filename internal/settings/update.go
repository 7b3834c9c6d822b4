package settings

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// cropSlack tolerates float rounding when x+w or y+h should equal 1.
const cropSlack = 1.001

// Update is the write form of Settings as submitted by operators. Durations
// are in seconds; every field is required.
type Update struct {
	CaptureMode            *string     `json:"mode"`
	APICallsPerMinute      *float64    `json:"apiCallsPerMinute"`
	Resolution             *string     `json:"resolution"`
	CropArea               *CropUpdate `json:"cropArea"`
	GreenLightDurationSec  *float64    `json:"greenLightDurationSec"`
	YellowLightDurationSec *float64    `json:"yellowLightDurationSec"`
	MaxTimeSmartASec       *float64    `json:"maxTimeSmartA_Sec"`
}

type CropUpdate struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	W *float64 `json:"w"`
	H *float64 `json:"h"`
}

// ValidationError describes why an Update was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err was produced by Update.Validate.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Validate checks presence and ranges of every field.
func (u Update) Validate() error {
	var missing []string
	if u.CaptureMode == nil {
		missing = append(missing, "mode")
	}
	if u.APICallsPerMinute == nil {
		missing = append(missing, "apiCallsPerMinute")
	}
	if u.Resolution == nil {
		missing = append(missing, "resolution")
	}
	if u.CropArea == nil {
		missing = append(missing, "cropArea")
	}
	if u.GreenLightDurationSec == nil {
		missing = append(missing, "greenLightDurationSec")
	}
	if u.YellowLightDurationSec == nil {
		missing = append(missing, "yellowLightDurationSec")
	}
	if u.MaxTimeSmartASec == nil {
		missing = append(missing, "maxTimeSmartA_Sec")
	}
	if len(missing) > 0 {
		return invalid("missing keys: %s", strings.Join(missing, ", "))
	}

	if *u.CaptureMode != CaptureModeImage && *u.CaptureMode != CaptureModeVideo {
		return invalid("invalid 'mode' %q", *u.CaptureMode)
	}

	if rate := *u.APICallsPerMinute; rate < 1 || rate >= 61 {
		return invalid("'API Calls per Minute' must be between 1 and 60")
	}

	if !validResolution(*u.Resolution) {
		return invalid("invalid 'resolution' %q", *u.Resolution)
	}

	if err := u.CropArea.validate(); err != nil {
		return err
	}

	if g := *u.GreenLightDurationSec; g < 1 || g > maxGreenSec {
		return invalid("green light duration must be between 1 and %d seconds", maxGreenSec)
	}
	if y := *u.YellowLightDurationSec; y < 1 || y > maxYellowSec {
		return invalid("yellow light duration must be between 1 and %d seconds", maxYellowSec)
	}
	if maxA := *u.MaxTimeSmartASec; maxA < 5 || maxA > 300 {
		return invalid("'Max Time for Smart A' must be between 5 and 300 seconds")
	}
	return nil
}

// Upper bounds keep every duration well inside int milliseconds.
const (
	maxGreenSec  = 300
	maxYellowSec = 60
)

func (c *CropUpdate) validate() error {
	if c.X == nil || c.Y == nil || c.W == nil || c.H == nil {
		return invalid("missing keys in 'cropArea': required x, y, w, h")
	}
	x, y, w, h := *c.X, *c.Y, *c.W, *c.H
	ok := x >= 0 && x <= 1 &&
		y >= 0 && y <= 1 &&
		w > 0 && w <= 1 &&
		h > 0 && h <= 1 &&
		x+w <= cropSlack && y+h <= cropSlack
	if !ok {
		return invalid("invalid crop range (0-1 for x/y, >0-1 for w/h, must stay within bounds)")
	}
	return nil
}

func validResolution(res string) bool {
	if res == ResolutionDefault {
		return true
	}
	w, h, ok := strings.Cut(res, "x")
	return ok && isDigits(w) && isDigits(h)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Apply returns the Settings produced by a validated update, converting
// seconds to milliseconds.
func (u Update) Apply() Settings {
	return Settings{
		CaptureMode:       *u.CaptureMode,
		APICallsPerMinute: int(*u.APICallsPerMinute),
		Resolution:        *u.Resolution,
		CropArea: CropArea{
			X: *u.CropArea.X,
			Y: *u.CropArea.Y,
			W: *u.CropArea.W,
			H: *u.CropArea.H,
		},
		GreenLightDurationMs:  secToMs(*u.GreenLightDurationSec),
		YellowLightDurationMs: secToMs(*u.YellowLightDurationSec),
		MaxTimeSmartAMs:       secToMs(*u.MaxTimeSmartASec),
	}
}

func secToMs(sec float64) int {
	return int(math.Round(sec * 1000))
}
