package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/winstory-service/pkg/resilience"
)

// HTTPTrigger POSTs a GenerationRequest to the generation endpoint. Calls go
// through a circuit breaker and are bounded by a timeout.
type HTTPTrigger struct {
	client  *http.Client
	url     string
	apiKey  string
	timeout time.Duration
	breaker *resilience.CircuitBreaker
}

// HTTPOptions configure NewHTTPTrigger. A nil Client uses http.DefaultClient.
type HTTPOptions struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
	Breaker *resilience.CircuitBreaker
}

func NewHTTPTrigger(opts HTTPOptions) *HTTPTrigger {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker("generation-trigger", resilience.CircuitBreakerConfig{})
	}
	return &HTTPTrigger{
		client:  opts.Client,
		url:     opts.URL,
		apiKey:  opts.APIKey,
		timeout: opts.Timeout,
		breaker: opts.Breaker,
	}
}

// Breaker exposes the trigger's circuit breaker for health checks.
func (t *HTTPTrigger) Breaker() *resilience.CircuitBreaker {
	return t.breaker
}

func (t *HTTPTrigger) Trigger(ctx context.Context, recordID string) error {
	return t.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.WithTimeout(ctx, t.timeout, "generation trigger", func(ctx context.Context) error {
			return t.post(ctx, recordID)
		})
	})
}

func (t *HTTPTrigger) post(ctx context.Context, recordID string) error {
	requestID := logger.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	body, err := json.Marshal(GenerationRequest{
		RecordID:    recordID,
		RequestID:   requestID,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling generation endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
