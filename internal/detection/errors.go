package detection

import (
	"errors"
	"fmt"
)

// Kind classifies a failed detection request.
type Kind string

const (
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindCameraStopped      Kind = "camera_stopped"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindBackendCallFailed  Kind = "backend_call_failed"
	KindUpstreamResponse   Kind = "upstream_response"
	KindResponseFormat     Kind = "response_format"
	KindNetwork            Kind = "network"
	KindHTTP               Kind = "http"
)

// Error is returned by Detect for every unsuccessful request.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Raw is the backend's raw_response (or body) for operator logs.
	Raw string
	Err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: http status %d: %s", e.StatusText(), e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.StatusText(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusText is the operator-facing status line for the failure.
func (e *Error) StatusText() string {
	switch e.Kind {
	case KindQuotaExceeded:
		return "API Quota Exceeded"
	case KindCameraStopped:
		return "Camera Stopped"
	case KindBackendUnavailable:
		return "AI Backend Error"
	case KindBackendCallFailed:
		return "AI Analysis Error"
	case KindUpstreamResponse:
		return "AI Response Error"
	case KindResponseFormat:
		return "Response Format Error"
	case KindNetwork:
		return "Network Error"
	default:
		return fmt.Sprintf("API Error (%d)", e.Status)
	}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Outcome is the metrics label for a request result.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	if de, ok := AsError(err); ok {
		return string(de.Kind)
	}
	return "error"
}
