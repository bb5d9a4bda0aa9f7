package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloo-solutions/tenderwise/internal/domain"
	"github.com/cloo-solutions/tenderwise/internal/telemetry"
	"github.com/cloo-solutions/tenderwise/internal/tokens"
	"golang.org/x/time/rate"
)

const (
	// MinUserTokens is the smallest user prompt worth sending after truncation.
	MinUserTokens = 500
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 60 * time.Second

	promptSeparator = "\n\n"
)

// GatewayConfig tunes dispatch. Zero values pick defaults; RequestsPerSecond
// of zero disables outbound limiting.
type GatewayConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Gateway selects an adapter, enforces the token-safety check and applies
// per-call timeouts and outbound rate limits.
type Gateway struct {
	adapters []Adapter
	byID     map[string]Adapter
	limiters map[string]*rate.Limiter
	tokens   *tokens.Manager
	timeout  time.Duration
}

// NewGateway keeps adapters in the order given, which is the fallback order.
func NewGateway(tm *tokens.Manager, cfg GatewayConfig, adapters ...Adapter) *Gateway {
	if tm == nil {
		tm = tokens.NewManager(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	g := &Gateway{
		adapters: adapters,
		byID:     make(map[string]Adapter, len(adapters)),
		limiters: make(map[string]*rate.Limiter, len(adapters)),
		tokens:   tm,
		timeout:  cfg.Timeout,
	}
	for _, a := range adapters {
		g.byID[a.ID()] = a
		if cfg.RequestsPerSecond > 0 {
			g.limiters[a.ID()] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		}
	}
	return g
}

// Configured reports whether any adapter has credentials.
func (g *Gateway) Configured() bool {
	for _, a := range g.adapters {
		if a.Configured() {
			return true
		}
	}
	return false
}

// Tokens exposes the budget manager used for pre-flight checks.
func (g *Gateway) Tokens() *tokens.Manager {
	return g.tokens
}

// ModelFor returns the model a call with these ids would use. When no
// provider resolves it returns modelID unchanged.
func (g *Gateway) ModelFor(providerID, modelID string) string {
	_, model, err := g.Resolve(providerID, modelID)
	if err != nil {
		return modelID
	}
	return model
}

// Resolve returns the provider and model a spec would be dispatched to. A
// configured, known providerID is used as asked. Otherwise the first
// configured adapter in priority order that serves modelID wins, and when
// none serves it the model is dropped for the first configured adapter's
// default.
func (g *Gateway) Resolve(providerID, modelID string) (Adapter, string, error) {
	if providerID != "" {
		a, ok := g.byID[providerID]
		switch {
		case !ok:
			log.Printf("provider: unknown provider %q, falling back", providerID)
		case !a.Configured():
			log.Printf("provider: %s has no credentials, falling back", providerID)
		default:
			if modelID == "" {
				modelID = a.DefaultModel()
			}
			return a, modelID, nil
		}
	}

	var first Adapter
	for _, a := range g.adapters {
		if !a.Configured() {
			continue
		}
		if modelID == "" || a.Serves(modelID) {
			if modelID == "" {
				return a, a.DefaultModel(), nil
			}
			return a, modelID, nil
		}
		if first == nil {
			first = a
		}
	}
	if first == nil {
		return nil, "", domain.ErrNoProviderConfigured
	}
	log.Printf("provider: no configured provider serves %q, using %s/%s", modelID, first.ID(), first.DefaultModel())
	return first, first.DefaultModel(), nil
}

// Complete runs the pre-flight check, truncating the user prompt once if
// the combined prompt is over the model's safe limit, then dispatches.
func (g *Gateway) Complete(ctx context.Context, spec CallSpec) (*Completion, error) {
	adapter, model, err := g.Resolve(spec.ProviderID, spec.ModelID)
	if err != nil {
		return nil, err
	}
	spec.ProviderID = adapter.ID()
	spec.ModelID = model

	spec, truncated, err := g.fit(spec, false)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "provider.complete", telemetry.SpanAttributes{
		Provider:  spec.ProviderID,
		Model:     spec.ModelID,
		Operation: "complete",
	})
	defer span.End()

	if lim, ok := g.limiters[adapter.ID()]; ok {
		if err := lim.Wait(ctx); err != nil {
			span.SetError(err)
			return nil, &Error{Provider: adapter.ID(), Err: err}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	text, err := adapter.Complete(callCtx, spec)
	if err != nil {
		span.SetError(err)
		log.Printf("provider: %s/%s failed after %s: %v", spec.ProviderID, spec.ModelID, time.Since(start).Round(time.Millisecond), err)
		return nil, err
	}

	return &Completion{
		Text:         text,
		Provider:     spec.ProviderID,
		Model:        spec.ModelID,
		PromptTokens: g.tokens.Estimate(prompt(spec)),
		Truncated:    truncated,
	}, nil
}

func prompt(spec CallSpec) string {
	return spec.SystemPrompt + promptSeparator + spec.UserPrompt
}

// fit never touches the system prompt. A second overflow after truncation
// is reported as ErrContextTooLarge.
func (g *Gateway) fit(spec CallSpec, retried bool) (CallSpec, bool, error) {
	safety := g.tokens.IsSafe(prompt(spec), spec.ModelID)
	if safety.Safe {
		return spec, retried, nil
	}
	if retried {
		return spec, true, domain.Wrap(domain.ErrContextTooLarge,
			fmt.Errorf("%d tokens over limit %d after truncation", safety.Overflow, safety.Limit))
	}

	available := safety.Limit - g.tokens.Estimate(spec.SystemPrompt) -
		g.tokens.Estimate(promptSeparator) - tokens.MarkerTokens
	if available < MinUserTokens {
		return spec, false, domain.Wrap(domain.ErrContextTooLarge,
			fmt.Errorf("only %d tokens available for the user prompt", available))
	}

	log.Printf("provider: prompt over limit by %d tokens for %s, truncating user prompt to %d tokens",
		safety.Overflow, spec.ModelID, available)
	spec.UserPrompt = tokens.Truncate(spec.UserPrompt, available)
	return g.fit(spec, true)
}
