// Package esclient registers index templates with an Elasticsearch-compatible
// document store over its legacy _template API.
package esclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"idxtmpl/internal/domain"
	"idxtmpl/internal/infra/telemetry"
)

const (
	maxBackoff       = 10 * time.Second
	maxErrorBodySize = 4096
)

type Options struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a domain.IndexStore backed by HTTP.
type Client struct {
	base       *url.URL
	http       *http.Client
	maxRetries int
	retryBase  time.Duration
	logger     *zap.Logger
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		return nil, errors.New("document store url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse document store url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("document store url %q must be http or https", raw)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = time.Duration(domain.DefaultStoreTimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		base:       base,
		http:       client,
		maxRetries: retries,
		retryBase:  opts.RetryBase,
		logger:     logger.Named("esclient"),
	}, nil
}

type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("document store returned %d", e.status)
	}
	return fmt.Sprintf("document store returned %d: %s", e.status, e.body)
}

// PutTemplate stores the template under name, retrying throttled and failed requests
// with exponential backoff or after the store's Retry-After hint. The alias is only logged; the legacy API has no use for it.
func (c *Client) PutTemplate(ctx context.Context, name string, alias string, body domain.TemplateBody) (domain.PutResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.PutResult{}, fmt.Errorf("encode template %s: %w", name, err)
	}
	endpoint := c.base.JoinPath("_template", name)
	result := domain.PutResult{Start: time.Now()}
	schedule := newRetrySchedule(c.retryBase, maxBackoff)

	for {
		status, err := c.put(ctx, endpoint.String(), payload)
		result.Status = status
		if err == nil {
			result.End = time.Now()
			c.logger.Debug("template stored",
				zap.String("name", name),
				zap.String("alias", alias),
				zap.Int("status", status),
				zap.Int("retries", result.Retries),
			)
			return result, nil
		}
		if !retryable(ctx, err) || result.Retries >= c.maxRetries {
			result.End = time.Now()
			return result, fmt.Errorf("put template %s: %w", name, err)
		}
		result.Retries++
		wait := schedule.delay(retryAfter(err))
		c.logger.Warn("template put failed; retrying",
			telemetry.TemplateField(name),
			zap.Int("attempt", result.Retries),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := sleepContext(ctx, wait); err != nil {
			result.End = time.Now()
			return result, fmt.Errorf("put template %s: %w", name, err)
		}
	}
}

func (c *Client) put(ctx context.Context, endpoint string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return resp.StatusCode, &statusError{
		status:     resp.StatusCode,
		body:       strings.TrimSpace(string(data)),
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func retryAfter(err error) time.Duration {
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.retryAfter
	}
	return 0
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.status == http.StatusTooManyRequests || statusErr.status >= 500
	}
	return true
}

var _ domain.IndexStore = (*Client)(nil)
