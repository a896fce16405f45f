package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rockbite/localforge/internal/observability"
	"github.com/rockbite/localforge/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Registry *Registry
	Quirks   *QuirkTable
	// RequestsPerMinute limits calls per driver name; missing or zero means
	// unlimited.
	RequestsPerMinute map[string]int
	// MaxRetries bounds retries of retryable provider errors. Zero disables
	// retrying.
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zerolog.Logger
}

// Gateway routes canonical chat requests to drivers.
type Gateway struct {
	registry     *Registry
	quirks       *QuirkTable
	maxRetries   int
	retryBackoff time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      map[string]int
}

// NewGateway creates a gateway. A nil registry or quirk table falls back to
// the defaults.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Quirks == nil {
		cfg.Quirks = DefaultQuirks()
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Gateway{
		registry:     cfg.Registry,
		quirks:       cfg.Quirks,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger.With().Str("component", "llm.gateway").Logger(),
		limiters:     make(map[string]*rate.Limiter),
		rpm:          cfg.RequestsPerMinute,
	}
}

// Registry returns the driver registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Chat sends req to the named driver. Quirk pre-hooks run on a copy of req;
// post-hooks run on the driver's response before tool calls are sanitized.
func (g *Gateway) Chat(ctx context.Context, driverName string, req Request, creds Credentials) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "localforge.llm", "llm.chat",
		attribute.String("driver", driverName),
		attribute.String("model", req.Model),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, g.logger)

	if ctx.Err() != nil {
		return nil, cancelled(ctx)
	}

	driver, err := g.registry.Get(driverName)
	if err != nil {
		return nil, err
	}

	quirks := g.quirks.Match(driverName, req.Model)
	req = req.Clone()
	for _, q := range quirks {
		if q.Pre != nil {
			q.Pre(&req)
		}
	}

	start := time.Now()
	resp, err := g.callWithRetry(ctx, driver, req, creds, logger)
	if err != nil {
		observability.RecordProviderCall(driverName, time.Since(start), false, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	structured := len(resp.ToolCalls)
	for _, q := range quirks {
		if q.Post != nil {
			q.Post(req, resp)
		}
	}
	resp.Role = RoleAssistant
	sanitizeToolCalls(CallIDSeed(req), resp)
	if structured == 0 && len(resp.ToolCalls) > 0 {
		observability.RecordTextToolCalls(driverName, len(resp.ToolCalls))
	}

	observability.RecordProviderCall(driverName, time.Since(start), true, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	span.SetAttributes(
		attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
		attribute.Int("tool_calls", len(resp.ToolCalls)),
	)

	logger.Debug().
		Str("driver", driverName).
		Str("model", req.Model).
		Str("finishReason", string(resp.FinishReason)).
		Int("toolCalls", len(resp.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("Chat completed")

	return resp, nil
}

func (g *Gateway) callWithRetry(ctx context.Context, driver Driver, req Request, creds Credentials, logger zerolog.Logger) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := g.retryBackoff * time.Duration(1<<uint(attempt-1))
			logger.Warn().
				Str("driver", driver.Name()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying provider call")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, cancelled(ctx)
			case <-timer.C:
			}
		}

		if limiter := g.limiter(driver.Name()); limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, cancelled(ctx)
				}
				return nil, NewProviderError(driver.Name(), 0, err)
			}
		}

		resp, err := driver.Chat(ctx, req, creds)
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, cancelled(ctx)
		}

		var pe *ProviderError
		if !errors.As(err, &pe) {
			pe = NewProviderError(driver.Name(), 0, err)
		}
		lastErr = pe
		if !pe.Retryable {
			break
		}
	}
	return nil, lastErr
}

func (g *Gateway) limiter(driver string) *rate.Limiter {
	rpm := g.rpm[driver]
	if rpm <= 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[driver]; ok {
		return l
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	g.limiters[driver] = l
	return l
}
