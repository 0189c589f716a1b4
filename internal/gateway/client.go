package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/roadfuel/internal/observability/context"
	obslogger "github.com/smallbiznis/roadfuel/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/roadfuel/internal/observability/metrics"
	"github.com/smallbiznis/roadfuel/internal/observability/tracing"
	"github.com/smallbiznis/roadfuel/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TenantPlaceholder     = "{tenant}"
	HeaderIdempotencyKey  = "Idempotency-Key"
	maxErrorBodyBytes     = 512
	maxResponseBodyBytes  = 8 << 20
	defaultRequestTimeout = 15 * time.Second
)

// Credentials supplies the bearer token and tenant of the active session.
type Credentials interface {
	Credentials(ctx context.Context) (token, tenant string, ok bool)
}

// Teardown is invoked once per 401 response.
type Teardown interface {
	Teardown(ctx context.Context, reason string) error
}

// API is what coordinators need from the gateway.
type API interface {
	Do(ctx context.Context, method, path string, body any, headers http.Header) (*Response, error)
}

type Config struct {
	// BaseURL may contain {tenant}, replaced with the session tenant domain.
	BaseURL      string
	Timeout      time.Duration
	TenantHeader string
}

type Params struct {
	fx.In

	Config      Config
	Credentials Credentials
	Teardown    Teardown
	Log         *zap.Logger
	Metrics     *obsmetrics.Metrics `optional:"true"`
	HTTPClient  *http.Client        `optional:"true"`
}

type Client struct {
	cfg      Config
	http     *http.Client
	creds    Credentials
	teardown Teardown
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	tracer   trace.Tracer
}

func New(p Params) *Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		timeout := p.Config.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	cfg := p.Config
	if strings.TrimSpace(cfg.TenantHeader) == "" {
		cfg.TenantHeader = "X-Tenant"
	}
	return &Client{
		cfg:      cfg,
		http:     httpClient,
		creds:    p.Credentials,
		teardown: p.Teardown,
		log:      p.Log.Named("gateway"),
		metrics:  p.Metrics,
		tracer:   otel.Tracer("roadfuel/gateway"),
	}
}

// Do performs one authenticated call. Non-2xx answers come back as
// ErrUnauthorized, *RetryableError or *RejectedError.
func (c *Client) Do(ctx context.Context, method, path string, body any, headers http.Header) (*Response, error) {
	token, tenant, _ := c.creds.Credentials(ctx)
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	if tenant != "" {
		ctx = obscontext.WithTenant(ctx, tenant)
	}
	endpoint := endpointLabel(path)
	log := obslogger.WithContext(ctx, c.log).With(
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	)

	ctx, span := c.tracer.Start(ctx, "gateway "+method+" "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", endpoint),
	)...)

	start := time.Now()
	resp, err := c.do(ctx, method, path, body, headers, token, tenant, cid)
	outcome := Reason(err)
	if outcome == "" {
		outcome = "ok"
	}
	c.metrics.RecordGatewayRequest(ctx, method, endpoint, outcome, time.Since(start))

	if err != nil {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, outcome)
		log.Debug("gateway.request.failed", zap.String("outcome", outcome), zap.Error(err))
	}
	if errors.Is(err, ErrUnauthorized) && c.teardown != nil {
		// Teardown must finish even if the caller gives up on ctx.
		if tdErr := c.teardown.Teardown(context.WithoutCancel(ctx), "unauthorized"); tdErr != nil {
			log.Error("session.teardown.failed", zap.Error(tdErr))
		}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers http.Header, token, tenant, cid string) (*Response, error) {
	target, err := c.url(tenant, path)
	if err != nil {
		return nil, &RetryableError{Kind: KindNetwork, Err: err}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if tenant != "" {
		req.Header.Set(c.cfg.TenantHeader, tenant)
	}
	req.Header.Set(correlation.HeaderName, cid)
	if key := IdempotencyKeyFromContext(ctx); key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	for k, values := range headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(req.Header))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableError{Kind: KindNetwork, Err: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, &RetryableError{Kind: KindNetwork, StatusCode: res.StatusCode, Err: err}
	}

	if err := classify(res.StatusCode, payload); err != nil {
		return nil, err
	}
	return &Response{StatusCode: res.StatusCode, Header: res.Header, Body: payload}, nil
}

func classify(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return &RetryableError{Kind: KindNotFound, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return &RetryableError{Kind: KindThrottled, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status >= 500:
		return &RetryableError{Kind: KindServerError, StatusCode: status, Err: errors.New(http.StatusText(status))}
	default:
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return &RejectedError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	}
}

func (c *Client) url(tenant, path string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		base = "https://" + TenantPlaceholder + "/api"
	}
	if strings.Contains(base, TenantPlaceholder) {
		if tenant == "" {
			return "", errors.New("no tenant resolved for request")
		}
		base = strings.ReplaceAll(base, TenantPlaceholder, tenant)
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"), nil
}

// endpointLabel replaces id segments so the label stays low-cardinality.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, "pending-") || strings.IndexFunc(seg, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}
