package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kartikbazzad/bunview/internal/metrics"
	apperrors "github.com/kartikbazzad/bunview/pkg/errors"
	"github.com/kartikbazzad/bunview/pkg/logger"
)

// Doer executes a Request and returns the decoded JSON response.
type Doer interface {
	Do(ctx context.Context, req Request) (any, error)
}

// TokenGetter returns the bearer token for one request. It is called for
// every request so rotated tokens are picked up immediately.
type TokenGetter func(ctx context.Context) (string, error)

// Config holds the addressing and throttling settings of a transport.
type Config struct {
	Endpoint       string
	OrganizationID string
	ProjectID      string
	// RequestsPerSecond throttles outgoing calls; 0 disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// HTTP is the default Doer: JSON over net/http with bearer auth.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
	token      TokenGetter
	onError    func(error)
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures an HTTP transport.
type Option func(*HTTP)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *HTTP) { t.httpClient = c }
}

// WithTokenGetter sets the bearer token source.
func WithTokenGetter(g TokenGetter) Option {
	return func(t *HTTP) { t.token = g }
}

// WithOnError sets the hook invoked with 401 errors before they are returned.
func WithOnError(f func(error)) Option {
	return func(t *HTTP) { t.onError = f }
}

// WithLogger sets the transport logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *HTTP) { t.logger = l }
}

// New creates an HTTP transport. Each client owns its own transport.
func New(cfg Config, opts ...Option) *HTTP {
	t := &HTTP{
		baseURL:    BaseURL(cfg.Endpoint, cfg.OrganizationID, cfg.ProjectID),
		httpClient: &http.Client{},
		logger:     logger.For("transport"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BaseURL composes endpoint + /v1[/organizations/{org}][/projects/{project}].
func BaseURL(endpoint, organizationID, projectID string) string {
	base := strings.TrimRight(endpoint, "/") + "/v1"
	if organizationID != "" {
		base += "/organizations/" + url.PathEscape(organizationID)
	}
	if projectID != "" {
		base += "/projects/" + url.PathEscape(projectID)
	}
	return base
}

// Base returns the composed base URL.
func (t *HTTP) Base() string {
	return t.baseURL
}

// Do performs req and decodes the JSON body. Non-2xx responses become
// *errors.AppError carrying the status code.
func (t *HTTP) Do(ctx context.Context, req Request) (any, error) {
	log := logger.WithRequestID(ctx, t.logger)

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	target, err := t.resolve(req)
	if err != nil {
		return nil, apperrors.Wrap(err, "invalid request url")
	}

	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.Raw != nil:
		body = bytes.NewReader(req.Raw)
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(payload)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), target, body)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create request")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.Absolute() {
		httpReq.Header.Set("Accept", "application/json")
		if id := logger.RequestID(ctx); id != "" {
			httpReq.Header.Set("X-Request-ID", id)
		}
		if t.token != nil {
			token, err := t.token(ctx)
			if err != nil {
				return nil, apperrors.Wrap(err, "failed to get token")
			}
			if token != "" {
				httpReq.Header.Set("Authorization", "Bearer "+token)
			}
		}
	}

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		metrics.NetworkRequests.WithLabelValues(req.method(), "error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	metrics.NetworkRequests.WithLabelValues(req.method(), strconv.Itoa(resp.StatusCode)).Inc()
	metrics.NetworkDuration.WithLabelValues(req.method()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		appErr := apperrors.Unauthorized(errorDetail(respBody))
		log.Warn("request unauthorized", "method", req.method(), "path", req.Target())
		if t.onError != nil {
			t.onError(appErr)
		}
		return nil, appErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Debug("request failed", "method", req.method(), "path", req.Target(), "status", resp.StatusCode)
		return nil, apperrors.Transport(resp.StatusCode, errorDetail(respBody))
	}

	return decode(respBody)
}

func (t *HTTP) resolve(req Request) (string, error) {
	if req.Absolute() {
		u, err := url.Parse(req.URL)
		if err != nil {
			return "", err
		}
		if len(req.Query) > 0 {
			q := u.Query()
			for k, vs := range req.Query {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := t.baseURL + path
	if q := req.Query.Encode(); q != "" {
		target += "?" + q
	}
	return target, nil
}

func decode(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] != '{' && trimmed[0] != '[' && trimmed[0] != '"' {
		return string(trimmed), nil
	}
	var out any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, apperrors.Wrap(err, "failed to decode response")
	}
	return out, nil
}

// errorDetail extracts a human readable reason from an error body.
func errorDetail(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = fmt.Sprintf("%s...", detail[:200])
	}
	return detail
}
