package infrastructure

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"bitrix24-mcp-server/internal/domain"
)

// maxResponseBytes bounds a single Bitrix24 response body.
const maxResponseBytes = 32 << 20

// Backoff bounds for transport-level retries.
const (
	defaultBaseDelay = 500 * time.Millisecond
	defaultMaxDelay  = 4 * time.Second
)

// BitrixClient handles Bitrix24 REST API interactions.
// It implements domain.Gateway: every call is a JSON POST to
// <base_url>/<method> with the access token attached to the payload.
type BitrixClient struct {
	baseURL     string
	token       string
	includeAuth bool
	retries     int
	baseDelay   time.Duration
	maxDelay    time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewBitrixClient creates a new Bitrix24 API client from configuration.
// The HTTP client honours timeout_seconds and verify_ssl.
func NewBitrixClient(cfg domain.BitrixConfig, logger *zap.Logger) *BitrixClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.VerifySSL != nil && !*cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via bitrix.verify_ssl=false
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout(),
	}
	return NewBitrixClientWithHTTPClient(cfg, httpClient, logger)
}

// NewBitrixClientWithHTTPClient creates a client around a caller-supplied HTTP client.
// This is primarily used for testing.
func NewBitrixClientWithHTTPClient(cfg domain.BitrixConfig, httpClient *http.Client, logger *zap.Logger) *BitrixClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	retries := domain.DefaultRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}
	includeAuth := !domain.IsIncomingWebhookBaseURL(cfg.BaseURL)
	if cfg.IncludeAuth != nil {
		includeAuth = *cfg.IncludeAuth
	}

	return &BitrixClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		includeAuth: includeAuth,
		retries:     retries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// SetBackoff overrides the retry delays.
func (c *BitrixClient) SetBackoff(base, max time.Duration) {
	c.baseDelay = base
	c.maxDelay = max
}

// BaseURL returns the configured base URL.
func (c *BitrixClient) BaseURL() string {
	return c.baseURL
}

// Call invokes a Bitrix24 REST method.
// Transport failures are retried with exponential backoff; HTTP errors and
// business errors are returned as *domain.UpstreamError immediately.
func (c *BitrixClient) Call(ctx context.Context, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}

	body, err := json.Marshal(domain.PayloadWithAuth(payload, c.token, c.includeAuth))
	if err != nil {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("failed to encode payload for %s: %v", method, err)}
	}

	endpoint := fmt.Sprintf("%s/%s", c.baseURL, method)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("retrying bitrix call",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.do(ctx, endpoint, body)
		if err != nil {
			// Cancellation is the caller's decision, not a transient failure
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		return c.parseResponse(method, resp)
	}

	return nil, &domain.UpstreamError{Message: fmt.Sprintf("failed to call %s: %v", method, lastErr)}
}

// backoff returns the delay before the given retry attempt (1-based).
func (c *BitrixClient) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

type rawResponse struct {
	statusCode int
	body       []byte
}

// do executes one POST and returns the raw response.
func (c *BitrixClient) do(ctx context.Context, endpoint string, body []byte) (*rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &rawResponse{statusCode: resp.StatusCode, body: data}, nil
}

// parseResponse validates the Bitrix24 response structure.
func (c *BitrixClient) parseResponse(method string, resp *rawResponse) (map[string]interface{}, error) {
	var decoded interface{}
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return nil, &domain.UpstreamError{
			Message:    "Bitrix returned non-JSON response",
			StatusCode: resp.statusCode,
		}
	}

	if resp.statusCode < 200 || resp.statusCode >= 300 {
		c.logger.Warn("bitrix http error", zap.String("method", method), zap.Int("status", resp.statusCode))
		return nil, &domain.UpstreamError{
			Message:    fmt.Sprintf("Bitrix returned HTTP %d", resp.statusCode),
			StatusCode: resp.statusCode,
			Payload:    decoded,
		}
	}

	data, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, &domain.UpstreamError{
			Message:    "Bitrix response missing 'result' field",
			StatusCode: resp.statusCode,
			Payload:    decoded,
		}
	}

	if errValue, hasError := data["error"]; hasError {
		description := errValue
		if desc, ok := data["error_description"]; ok && desc != nil && desc != "" {
			description = desc
		}
		return nil, &domain.UpstreamError{
			Message:    fmt.Sprintf("Bitrix error: %v", description),
			StatusCode: resp.statusCode,
			Payload:    data,
		}
	}

	if _, ok := data["result"]; !ok {
		return nil, &domain.UpstreamError{
			Message:    "Bitrix response missing 'result' field",
			StatusCode: resp.statusCode,
			Payload:    data,
		}
	}

	return data, nil
}
