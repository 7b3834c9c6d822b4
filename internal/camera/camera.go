// Package camera controls the frame source behind the detection service.
package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

//go:generate mockgen -destination=mocks/mock_lifecycle.go -package=mocks . Lifecycle

// ErrNotReady is returned by WaitFirstFrame when no frame arrived in time.
var ErrNotReady = errors.New("camera: first frame not available")

// Lifecycle starts and stops the camera and reports first-frame readiness.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	WaitFirstFrame(ctx context.Context) error
}

type Client struct {
	httpClient        *http.Client
	baseURL           string
	frameURL          string
	firstFrameTimeout time.Duration
	probeInterval     time.Duration
	running           atomic.Bool
	logger            *slog.Logger
}

type Config struct {
	BaseURL string
	// FrameURL defaults to BaseURL + "/video_feed".
	FrameURL          string
	FirstFrameTimeout time.Duration
	ProbeInterval     time.Duration
	HTTPClient        *http.Client
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.FrameURL == "" {
		cfg.FrameURL = base + "/video_feed"
	}
	if cfg.FirstFrameTimeout <= 0 {
		cfg.FirstFrameTimeout = 10 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 250 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		httpClient:        cfg.HTTPClient,
		baseURL:           base,
		frameURL:          cfg.FrameURL,
		firstFrameTimeout: cfg.FirstFrameTimeout,
		probeInterval:     cfg.ProbeInterval,
		logger:            logger.With("component", "camera"),
	}
}

// Running reports the last state this client put the camera in.
func (c *Client) Running() bool {
	return c.running.Load()
}

func (c *Client) Start(ctx context.Context) error {
	if err := c.post(ctx, "/api/camera/start"); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	c.running.Store(true)
	c.logger.Info("camera started")
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.running.Store(false)
	if err := c.post(ctx, "/api/camera/stop"); err != nil {
		return fmt.Errorf("stop camera: %w", err)
	}
	c.logger.Info("camera stopped")
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		var eb struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return fmt.Errorf("http status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// WaitFirstFrame polls the frame feed until it yields at least one byte of
// image data. It returns ErrNotReady when the first-frame timeout elapses.
func (c *Client) WaitFirstFrame(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.firstFrameTimeout)
	defer cancel()

	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for {
		err := c.probe(ctx)
		if err == nil {
			return nil
		}
		c.logger.Debug("first frame not ready", "error", err)

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", ErrNotReady, err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.frameURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	var b [1]byte
	if _, err := io.ReadFull(resp.Body, b[:]); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}
