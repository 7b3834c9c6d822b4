package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emperorhan/signal-controller/internal/circuitbreaker"
	"github.com/emperorhan/signal-controller/internal/detection"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("camera stopped")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("timeout")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)

	assert.Nil(t, Transient(nil))
	assert.Nil(t, Terminal(nil))
}

func TestClassify_DetectionKinds(t *testing.T) {
	tests := []struct {
		kind detection.Kind
		want Class
	}{
		{detection.KindQuotaExceeded, ClassTransient},
		{detection.KindCameraStopped, ClassTerminal},
		{detection.KindBackendUnavailable, ClassTransient},
		{detection.KindBackendCallFailed, ClassTransient},
		{detection.KindUpstreamResponse, ClassTransient},
		{detection.KindResponseFormat, ClassTransient},
		{detection.KindNetwork, ClassTransient},
		{detection.KindHTTP, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("analyze: %w", &detection.Error{Kind: tt.kind})
			d := Classify(err)
			assert.Equal(t, tt.want, d.Class)
			assert.Equal(t, "detection_"+string(tt.kind), d.Reason)
		})
	}
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
		reason        string
	}{
		{"context canceled terminal", context.Canceled, ClassTerminal, "context_canceled"},
		{"context deadline transient", context.DeadlineExceeded, ClassTransient, "context_deadline_exceeded"},
		{"circuit open transient", circuitbreaker.ErrCircuitOpen, ClassTransient, "circuit_open"},
		{"message camera stopped", errors.New("Analysis stopped: Camera not running."), ClassTerminal, "message_terminal"},
		{"message connection refused", errors.New("dial: connection refused"), ClassTransient, "message_transient"},
		{"unknown defaults transient", errors.New("unexpected failure"), ClassTransient, "unknown_transient_default"},
		{"nil", nil, ClassTerminal, "nil_error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
			assert.Equal(t, tc.reason, decision.Reason)
		})
	}
}
