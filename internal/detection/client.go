package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/signal-controller/internal/circuitbreaker"
	"github.com/emperorhan/signal-controller/internal/domain/model"
	"github.com/emperorhan/signal-controller/internal/metrics"
	"github.com/emperorhan/signal-controller/internal/ratelimit"
	"github.com/emperorhan/signal-controller/internal/tracing"
)

const (
	maxResponseBytes = 4 << 20

	backendNotAvailableMarker = "AI backend not available"
)

//go:generate mockgen -destination=mocks/mock_detector.go -package=mocks . Detector

// Detector asks the detection service whether vehicles are present on
// direction A's current frame.
type Detector interface {
	Detect(ctx context.Context) (model.AnalysisResult, error)
}

type Client struct {
	httpClient *http.Client
	url        string
	breaker    *circuitbreaker.Breaker
	limiter    *ratelimit.Limiter
	now        func() time.Time
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

func WithLimiter(l *ratelimit.Limiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(url string, logger *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		url:    url,
		now:    time.Now,
		logger: logger.With("component", "detection_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorBody struct {
	Error       string `json:"error"`
	QuotaError  string `json:"quota_error"`
	RawResponse string `json:"raw_response"`
}

// Detect performs one analysis request. Every failure is a *Error.
func (c *Client) Detect(ctx context.Context) (model.AnalysisResult, error) {
	requestID := uuid.NewString()

	if err := c.limiter.Wait(ctx); err != nil {
		return model.AnalysisResult{}, &Error{Kind: KindNetwork, Message: "rate limiter: " + err.Error(), Err: err}
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			derr := &Error{Kind: KindBackendUnavailable, Message: err.Error(), Err: err}
			metrics.AnalysisRequestsTotal.WithLabelValues(Outcome(derr)).Inc()
			return model.AnalysisResult{}, derr
		}
	}

	spanCtx, span := tracing.Tracer("detection").Start(ctx, "detection.analyze",
		otelTrace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.String("url", c.url),
		),
	)
	defer span.End()

	start := c.now()
	metrics.AnalysisInFlight.Set(1)
	result, err := c.do(spanCtx, requestID)
	metrics.AnalysisInFlight.Set(0)
	latency := c.now().Sub(start)

	metrics.AnalysisLatency.Observe(latency.Seconds())
	metrics.AnalysisRequestsTotal.WithLabelValues(Outcome(err)).Inc()
	c.recordBreaker(err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("analysis request failed",
			"request_id", requestID,
			"latency", latency,
			"error", err,
		)
		return model.AnalysisResult{}, err
	}

	result.RequestID = requestID
	result.Latency = latency
	result.ReceivedAt = c.now()
	span.SetAttributes(attribute.Bool("vehicles_present", result.VehiclesPresent))
	c.logger.Debug("analysis request completed",
		"request_id", requestID,
		"latency", latency,
		"vehicles_present", result.VehiclesPresent,
	)
	return result, nil
}

func (c *Client) do(ctx context.Context, requestID string) (model.AnalysisResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return model.AnalysisResult{}, &Error{Kind: KindNetwork, Message: fmt.Sprintf("create request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.AnalysisResult{}, &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.AnalysisResult{}, &Error{Kind: KindNetwork, Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return model.AnalysisResult{}, classifyStatus(resp.StatusCode, body)
	}
	return decodeSuccess(body)
}

// decodeSuccess accepts any JSON object. A missing or non-"True"
// Vehicles_Present reads as no vehicles, matching how the signal logic
// treats incomplete data, unless the body only carries the model's raw text.
func decodeSuccess(body []byte) (model.AnalysisResult, error) {
	var fields map[string]any
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return model.AnalysisResult{}, &Error{
			Kind:    KindResponseFormat,
			Status:  http.StatusOK,
			Message: "received non-JSON success response from backend",
			Raw:     string(body),
			Err:     err,
		}
	}

	// Backends that only forward the model's text leave parsing to us.
	raw, _ := fields[keyRawResponse].(string)
	if _, ok := fields[keyVehiclesPresent]; !ok && raw != "" {
		p, err := ParseModelText(raw)
		if err != nil {
			return model.AnalysisResult{}, &Error{
				Kind:    KindResponseFormat,
				Status:  http.StatusOK,
				Message: err.Error(),
				Raw:     raw,
				Err:     err,
			}
		}
		return model.AnalysisResult{VehiclesPresent: p.VehiclesPresent, Counts: p.Counts, Raw: raw}, nil
	}

	vp, _ := fields[keyVehiclesPresent].(string)
	result := model.AnalysisResult{
		VehiclesPresent: model.ParsePresence(vp) == model.PresenceTrue,
		Counts: model.VehicleCounts{
			Cars:    countOrZero(fields["Cars"]),
			Bikes:   countOrZero(fields["Bikes"]),
			Trucks:  countOrZero(fields["Trucks"]),
			Buses:   countOrZero(fields["Buses"]),
			Unknown: countOrZero(fields["Unknown"]),
		},
		Raw: string(body),
	}
	if raw != "" {
		result.Raw = raw
	}
	return result, nil
}

func countOrZero(v any) int {
	if v == nil {
		return 0
	}
	n, err := toCount(v)
	if err != nil {
		return 0
	}
	return n
}

func classifyStatus(status int, body []byte) *Error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	raw := eb.RawResponse
	if raw == "" {
		raw = string(body)
	}
	e := &Error{Status: status, Raw: raw}

	switch {
	case status == http.StatusTooManyRequests && eb.QuotaError != "":
		e.Kind = KindQuotaExceeded
		e.Message = eb.QuotaError
	case status == http.StatusConflict:
		e.Kind = KindCameraStopped
		e.Message = orDefault(eb.Error, "camera stopped during analysis request")
	case status == http.StatusServiceUnavailable && strings.Contains(eb.Error, backendNotAvailableMarker):
		e.Kind = KindBackendUnavailable
		e.Message = eb.Error
	case status == http.StatusServiceUnavailable:
		e.Kind = KindBackendCallFailed
		e.Message = orDefault(eb.Error, "AI analysis backend failed")
	case status == http.StatusBadGateway:
		e.Kind = KindUpstreamResponse
		e.Message = orDefault(eb.Error, "invalid response from AI backend")
	default:
		e.Kind = KindHTTP
		e.Message = orDefault(eb.Error, orDefault(strings.TrimSpace(string(body)), http.StatusText(status)))
	}
	return e
}

func orDefault(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// recordBreaker counts backend-side failures only. A stopped camera says
// nothing about backend health.
func (c *Client) recordBreaker(err error) {
	if c.breaker == nil {
		return
	}
	if err == nil {
		c.breaker.RecordSuccess()
		return
	}
	de, ok := AsError(err)
	if !ok {
		c.breaker.RecordFailure()
		return
	}
	switch {
	case de.Kind == KindCameraStopped:
	case de.Kind == KindResponseFormat:
		c.breaker.RecordSuccess()
	case de.Kind == KindHTTP && de.Status < 500:
	default:
		c.breaker.RecordFailure()
	}
}
