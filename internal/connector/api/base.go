// Package api implements the HTTP-API-family connectors (generic REST and
// HL7 FHIR R4) on top of klient, with rate limiting, exponential-backoff
// retry, and pluggable authentication (API key, Basic, Bearer, OAuth2
// client-credentials).
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/worldline-go/klient"
	"golang.org/x/time/rate"

	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/connector/api/oauth2"
	"github.com/rakunlabs/ingestcore/internal/ingesterr"
)

// ConnectionError is returned when an HTTP request ultimately fails, after
// retries, for a non-client reason.
type ConnectionError struct {
	ConnectorID string
	StatusCode  int
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("api connector %s: %v", e.ConnectorID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// base is embedded by RESTConnector and FHIRConnector; it owns the HTTP
// client, rate limiter, and retry/auth machinery shared by both.
type base struct {
	connector.Base

	client  *klient.Client
	limiter *rate.Limiter

	maxRetries int
	retryDelay time.Duration

	oauthToken *oauth2.TokenSource
}

func newBase(connectorID, name string, config map[string]any, batchSize int) *base {
	b := &base{Base: connector.NewBase(connectorID, name, config, batchSize)}
	b.maxRetries = b.configInt("max_retries", 3)
	b.retryDelay = time.Duration(b.configInt("retry_delay", 1)) * time.Second
	rps := b.configInt("rate_limit", 10)
	if rps <= 0 {
		rps = 10
	}
	b.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return b
}

func (b *base) configInt(key string, def int) int {
	v, ok := b.Config[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

func (b *base) configString(key, def string) string {
	if s, ok := b.Config[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (b *base) Connect(_ context.Context) error {
	if b.IsConnected() {
		return nil
	}
	baseURL := b.configString("base_url", "")
	if baseURL == "" {
		return &connector.Error{ConnectorID: b.ConnectorID, Op: "connect", Err: fmt.Errorf("base_url is required")}
	}

	opts := []klient.OptionClientFn{
		klient.WithBaseURL(baseURL),
	}
	if v, ok := b.Config["verify_ssl"].(bool); ok && !v {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}

	client, err := klient.New(opts...)
	if err != nil {
		return &connector.Error{ConnectorID: b.ConnectorID, Op: "connect", Err: err}
	}

	b.client = client
	b.MarkConnected(true)
	return nil
}

func (b *base) Disconnect(_ context.Context) error {
	b.client = nil
	b.MarkConnected(false)
	return nil
}

func (b *base) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	start := time.Now()

	baseURL := b.configString("base_url", "")
	if baseURL == "" {
		return &connector.ConnectionTestResult{Success: false, Message: "base_url is required"}, nil
	}

	if err := b.Connect(ctx); err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error()}, nil
	}

	healthEndpoint := b.configString("health_endpoint", "/")
	var statusCode int
	var respBody []byte
	err := b.doRequest(ctx, http.MethodGet, healthEndpoint, nil, nil, func(resp *http.Response) error {
		statusCode = resp.StatusCode
		var readErr error
		respBody, readErr = io.ReadAll(io.LimitReader(resp.Body, 500))
		return readErr
	})
	latency := elapsedMS(start)
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error(), LatencyMS: latency}, nil
	}

	if statusCode >= 400 {
		return &connector.ConnectionTestResult{
			Success:   false,
			Message:   fmt.Sprintf("API returned status %d", statusCode),
			LatencyMS: latency,
			Details:   map[string]any{"status_code": statusCode, "response": string(respBody)},
		}, nil
	}

	return &connector.ConnectionTestResult{
		Success:   true,
		Message:   fmt.Sprintf("successfully connected to API: %s", baseURL),
		LatencyMS: latency,
		Details: map[string]any{
			"base_url":    baseURL,
			"status_code": statusCode,
			"auth_type":   b.configString("auth_type", "none"),
		},
	}, nil
}

// authHeaders returns the headers to attach for the configured auth_type,
// refreshing the cached OAuth2 token if it's expired.
func (b *base) authHeaders(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	switch b.configString("auth_type", "none") {
	case "api_key":
		if key := b.configString("api_key", ""); key != "" {
			headers.Set(b.configString("api_key_header", "X-API-Key"), key)
		}
	case "basic":
		username := b.configString("username", "")
		password := b.configString("password", "")
		creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+creds)
	case "bearer":
		if token := b.configString("bearer_token", ""); token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	case "oauth2":
		token, err := b.oauth2Token(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			headers.Set("Authorization", "Bearer "+token)
		}
	}
	return headers, nil
}

func (b *base) oauth2Token(ctx context.Context) (string, error) {
	if b.oauthToken == nil {
		cfg, _ := b.Config["oauth2_config"].(map[string]any)
		ts, err := oauth2.NewTokenSource(cfg)
		if err != nil {
			return "", err
		}
		b.oauthToken = ts
	}
	return b.oauthToken.Token(ctx)
}

// doRequest issues a single rate-limited, authenticated HTTP request with
// exponential-backoff retry on server errors and transport failures. Client
// errors (4xx other than 429) are returned immediately without retry. handle
// is invoked with the response once a final (non-retried) status is seen.
func (b *base) doRequest(ctx context.Context, method, endpoint string, params url.Values, body []byte, handle func(*http.Response) error) error {
	if b.client == nil {
		if err := b.Connect(ctx); err != nil {
			return err
		}
	}

	headers, err := b.authHeaders(ctx)
	if err != nil {
		return err
	}

	target := endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return err
		}
		req.Header = headers.Clone()
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		var retryStatus int
		var retryAfter string
		var handled bool
		doErr := b.client.Do(req, func(resp *http.Response) error {
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				retryStatus = resp.StatusCode
				retryAfter = resp.Header.Get("Retry-After")
				return nil
			}
			handled = true
			return handle(resp)
		})
		if handled {
			return doErr
		}
		lastStatus = retryStatus
		if doErr != nil {
			lastErr = doErr
		} else if retryStatus == http.StatusTooManyRequests {
			seconds, _ := strconv.Atoi(retryAfter)
			lastErr = fmt.Errorf("rate limit exceeded, retry after %ds", seconds)
		} else if retryStatus >= 500 {
			lastErr = fmt.Errorf("server error: %d", retryStatus)
		} else {
			return nil
		}

		if attempt < b.maxRetries {
			delay := b.retryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	redactedCause := errors.New(ingesterr.Redact(lastErr.Error()))
	connErr := &ConnectionError{ConnectorID: b.ConnectorID, StatusCode: lastStatus, Err: redactedCause}
	message := fmt.Sprintf("api connector %s: request failed after %d attempts", b.ConnectorID, b.maxRetries+1)

	kind := ingesterr.KindConnection
	if lastStatus == http.StatusTooManyRequests {
		kind = ingesterr.KindRateLimit
	}
	return ingesterr.Wrap(kind, message, connErr)
}

// get issues a GET request and returns the raw JSON body, left unparsed so
// callers can use gjson to pull arbitrary dot-path data out of either an
// object or array response root.
func (b *base) get(ctx context.Context, endpoint string, params url.Values) ([]byte, http.Header, error) {
	var data []byte
	var header http.Header
	err := b.doRequest(ctx, http.MethodGet, endpoint, params, nil, func(resp *http.Response) error {
		header = resp.Header
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
			return fmt.Errorf("client error: %d - %s", resp.StatusCode, body)
		}
		var readErr error
		data, readErr = io.ReadAll(resp.Body)
		return readErr
	})
	return data, header, err
}

// CurrentWatermark has no generic API implementation: unlike a database's
// MAX(column), there's no uniform way to ask an arbitrary HTTP API for its
// latest value up front. Concrete connectors track it from the data they
// extract instead, so the base case is simply "unknown".
func (b *base) CurrentWatermark(_ context.Context) (string, error) {
	return "", nil
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
