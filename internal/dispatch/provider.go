package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/patchwell/courier/internal/config"
)

// Result is a successful provider response.
type Result struct {
	ProviderMessageID string
}

// Provider performs the actual transport call. Its wire protocol is
// opaque to the dispatch engine; implementations must bound their own
// call duration.
type Provider interface {
	Send(ctx context.Context, to, body, from string) (Result, error)
}

// NewProvider builds the provider named by the configuration.
func NewProvider(cfg *config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "http":
		return NewHTTPProvider(cfg.URL, cfg.Timeout, cfg.MaxPerSecond), nil
	case "log":
		return &LogProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %s", cfg.Kind)
	}
}

// HTTPProvider posts messages to a gateway endpoint as JSON. Failed
// calls are not retried here; retry policy belongs to the caller. A
// process-wide throttle caps the request rate toward the gateway
// across all tenants and both dispatch paths.
type HTTPProvider struct {
	url      string
	client   *http.Client
	throttle *rate.Limiter
}

// NewHTTPProvider creates an HTTP provider with a bounded per-call
// timeout. maxPerSecond <= 0 disables the gateway throttle.
func NewHTTPProvider(url string, timeout time.Duration, maxPerSecond int) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if maxPerSecond > 0 {
		limit = rate.Limit(maxPerSecond)
		burst = maxPerSecond
	}

	return &HTTPProvider{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		throttle: rate.NewLimiter(limit, burst),
	}
}

type gatewayRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
	From string `json:"from,omitempty"`
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
}

func (p *HTTPProvider) Send(ctx context.Context, to, body, from string) (Result, error) {
	if err := p.throttle.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("waiting on gateway throttle: %w", err)
	}

	payload, err := json.Marshal(gatewayRequest{To: to, Body: body, From: from})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("building gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Result{}, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, snippet)
	}

	var gr gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		// A 2xx without a parseable body still counts as delivered to
		// the gateway; we just lose the provider message id.
		log.Debug().Err(err).Msg("Gateway response body not parseable")
		return Result{}, nil
	}

	return Result{ProviderMessageID: gr.MessageID}, nil
}

// LogProvider is a dry-run provider that only logs the send. Useful
// in development and as the default when no gateway is configured.
type LogProvider struct{}

func (p *LogProvider) Send(_ context.Context, to, body, from string) (Result, error) {
	log.Info().
		Str("to", to).
		Str("from", from).
		Int("body_len", len(body)).
		Msg("Dry-run send")

	return Result{ProviderMessageID: "dryrun-" + uuid.New().String()}, nil
}
