package camera

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{
		BaseURL:           server.URL + "/",
		FirstFrameTimeout: 200 * time.Millisecond,
		ProbeInterval:     10 * time.Millisecond,
	}, slog.Default())
}

func TestClient_StartStop(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, `{"message":"ok"}`)
	})

	require.NoError(t, client.Start(context.Background()))
	assert.True(t, client.Running())
	require.NoError(t, client.Stop(context.Background()))
	assert.False(t, client.Running())
	assert.Equal(t, []string{"/api/camera/start", "/api/camera/stop"}, paths)
}

func TestClient_StartFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Failed to initialize or start camera device."}`)
	})

	err := client.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http status 500: Failed to initialize")
	assert.False(t, client.Running())
}

func TestClient_WaitFirstFrame(t *testing.T) {
	var probes atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/video_feed", r.URL.Path)
		if probes.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		_, _ = io.WriteString(w, "--frame\r\n")
	})

	require.NoError(t, client.WaitFirstFrame(context.Background()))
	assert.GreaterOrEqual(t, probes.Load(), int32(3))
}

func TestClient_WaitFirstFrameTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := client.WaitFirstFrame(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestClient_WaitFirstFrameCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.WaitFirstFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotReady)
}
