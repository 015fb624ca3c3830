// Package executor dispatches generic completion requests across a
// priority-ordered registry of backend adapters with sequential failover.
// The registry is rebuilt atomically on refresh and read-only in between.
package executor

import (
	"context"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/store"
	"github.com/requora/reqcore/pkg/llm"
	"github.com/requora/reqcore/pkg/llm/anthropic"
	"github.com/requora/reqcore/pkg/llm/ollama"
	"github.com/requora/reqcore/pkg/llm/openaicompat"
)

// EnvFallbackKey supplies a default cloud credential used when refresh finds
// no active providers.
const EnvFallbackKey = "REQCORE_ANTHROPIC_API_KEY"

// ConfigSource is the slice of the store the executor reads: provider rows on
// refresh and the two global settings on every execute.
type ConfigSource interface {
	ListProviders(ctx context.Context, activeOnly bool) ([]model.ProviderConfig, error)
	GetSetting(ctx context.Context, key string) (string, error)
}

// Factory builds one adapter from a provider row.
type Factory func(cfg model.ProviderConfig) (llm.Adapter, error)

// entry pairs an adapter with the per-provider dispatch parameters.
type entry struct {
	adapter llm.Adapter
	timeout time.Duration
	limiter *rate.Limiter
	breaker *breaker
}

// Executor holds the provider registry and runs the failover loop.
type Executor struct {
	source  ConfigSource
	sink    *LogSink
	factory Factory

	registry atomic.Pointer[[]entry]

	// requestsPerSecond paces calls per adapter; zero disables pacing.
	requestsPerSecond float64
}

// Option configures the executor.
type Option func(*Executor)

// WithFactory overrides adapter construction, primarily for tests.
func WithFactory(f Factory) Option {
	return func(e *Executor) { e.factory = f }
}

// WithRateLimit paces each adapter to n requests per second.
func WithRateLimit(n float64) Option {
	return func(e *Executor) { e.requestsPerSecond = n }
}

// New creates an executor. Call Refresh before the first Execute.
func New(source ConfigSource, sink *LogSink, opts ...Option) *Executor {
	e := &Executor{
		source: source,
		sink:   sink,
	}
	e.factory = defaultFactory
	for _, o := range opts {
		o(e)
	}
	empty := []entry{}
	e.registry.Store(&empty)
	return e
}

// defaultFactory maps a provider row onto its backend adapter.
func defaultFactory(cfg model.ProviderConfig) (llm.Adapter, error) {
	switch llm.Kind(cfg.Kind) {
	case llm.KindCloud:
		opts := []anthropic.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if m := cfg.DefaultModel(); m != "" {
			opts = append(opts, anthropic.WithDefaultModel(m))
		}
		return anthropic.New(cfg.Name, cfg.APIKey, opts...), nil
	case llm.KindOllama:
		opts := []ollama.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(cfg.BaseURL))
		}
		if m := cfg.DefaultModel(); m != "" {
			opts = append(opts, ollama.WithDefaultModel(m))
		}
		return ollama.New(cfg.Name, opts...), nil
	case llm.KindOpenAICompat:
		opts := []openaicompat.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, openaicompat.WithBaseURL(cfg.BaseURL))
		}
		if m := cfg.DefaultModel(); m != "" {
			opts = append(opts, openaicompat.WithDefaultModel(m))
		}
		return openaicompat.New(cfg.Name, cfg.APIKey, opts...), nil
	default:
		return nil, eris.Errorf("executor: unknown provider kind %q", cfg.Kind)
	}
}

// Refresh rebuilds the registry from active provider rows ordered by priority
// descending (stable, so equal priorities keep load order) and swaps it in
// atomically. An empty result falls back to a single cloud adapter built from
// the environment credential, if present.
func (e *Executor) Refresh(ctx context.Context) error {
	configs, err := e.source.ListProviders(ctx, true)
	if err != nil {
		return eris.Wrap(err, "executor: list providers")
	}

	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority > configs[j].Priority
	})

	entries := make([]entry, 0, len(configs))
	for _, cfg := range configs {
		adapter, err := e.factory(cfg)
		if err != nil {
			zap.L().Warn("executor: skipping provider",
				zap.String("provider", cfg.Name),
				zap.String("kind", cfg.Kind),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, e.newEntry(adapter, cfg.Timeout()))
	}

	if len(entries) == 0 {
		if key := os.Getenv(EnvFallbackKey); key != "" {
			entries = append(entries, e.newEntry(anthropic.New("anthropic-default", key), 60*time.Second))
			zap.L().Info("executor: using environment fallback provider")
		}
	}

	e.registry.Store(&entries)
	zap.L().Info("executor: registry refreshed", zap.Int("providers", len(entries)))
	return nil
}

func (e *Executor) newEntry(adapter llm.Adapter, timeout time.Duration) entry {
	var limiter *rate.Limiter
	if e.requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.requestsPerSecond), 1)
	}
	return entry{adapter: adapter, timeout: timeout, limiter: limiter, breaker: &breaker{}}
}

// ActiveProvider returns the highest-priority adapter of the current registry.
func (e *Executor) ActiveProvider() (llm.Adapter, error) {
	entries := *e.registry.Load()
	if len(entries) == 0 {
		return nil, ErrNoProviderAvailable
	}
	return entries[0].adapter, nil
}

// Providers lists the adapters of the current registry in dispatch order.
func (e *Executor) Providers() []llm.Adapter {
	entries := *e.registry.Load()
	out := make([]llm.Adapter, len(entries))
	for i, en := range entries {
		out[i] = en.adapter
	}
	return out
}

// Execute applies setting-inheritance defaults and walks the registry in
// priority order, strictly one adapter at a time. The first success wins and
// no further adapter is tried; each attempt appends one log entry either way.
// Providers with an open circuit are passed over without an attempt and
// without a log entry — that skip is the one relaxation of the ordering
// guarantee: apart from it, no lower-priority adapter is consulted before
// every higher-priority one has been tried in this call.
func (e *Executor) Execute(ctx context.Context, req llm.ExecutionRequest, contextTag string) (*llm.ExecutionResult, error) {
	entries := *e.registry.Load()
	if len(entries) == 0 {
		return nil, ErrNoProviderAvailable
	}

	req = e.applyDefaults(ctx, req)

	var lastErr error
	for _, en := range entries {
		if !en.breaker.allow(time.Now()) {
			zap.L().Debug("executor: skipping open-circuit provider",
				zap.String("adapter", en.adapter.Name()),
			)
			continue
		}
		if en.limiter != nil {
			if err := en.limiter.Wait(ctx); err != nil {
				lastErr = eris.Wrap(err, "executor: rate limit wait")
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, en.timeout)
		result, err := en.adapter.Complete(attemptCtx, req)
		cancel()
		en.breaker.record(err == nil, time.Now())

		if err != nil {
			lastErr = err
			e.sink.Append(model.ExecutionLogEntry{
				Adapter:    en.adapter.Name(),
				Model:      req.Model,
				Status:     model.ExecFailure,
				Error:      err.Error(),
				ContextTag: contextTag,
			})
			zap.L().Warn("executor: adapter failed, trying next",
				zap.String("adapter", en.adapter.Name()),
				zap.String("context", contextTag),
				zap.Error(err),
			)
			continue
		}

		e.sink.Append(model.ExecutionLogEntry{
			Adapter:          en.adapter.Name(),
			Model:            result.Model,
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
			Status:           model.ExecSuccess,
			ContextTag:       contextTag,
		})
		return result, nil
	}

	return nil, &ExhaustedError{Attempts: len(entries), LastErr: lastErr}
}

// applyDefaults fills unset model/temperature from global settings:
// request value wins, then the stored setting, then the adapter default.
// Setting lookups that fail are treated as absent.
func (e *Executor) applyDefaults(ctx context.Context, req llm.ExecutionRequest) llm.ExecutionRequest {
	if req.Model == "" {
		if v, err := e.source.GetSetting(ctx, store.SettingModel); err == nil && v != "" {
			req.Model = v
		}
	}
	if req.Temperature == nil {
		if v, err := e.source.GetSetting(ctx, store.SettingTemperature); err == nil && v != "" {
			if t, parseErr := strconv.ParseFloat(v, 64); parseErr == nil {
				req.Temperature = &t
			}
		}
	}
	return req
}
