package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/store"
	"github.com/requora/reqcore/pkg/llm"
)

// fakeSource serves provider rows and settings without a database.
type fakeSource struct {
	providers []model.ProviderConfig
	settings  map[string]string
}

func (f *fakeSource) ListProviders(context.Context, bool) ([]model.ProviderConfig, error) {
	return f.providers, nil
}

func (f *fakeSource) GetSetting(_ context.Context, key string) (string, error) {
	if v, ok := f.settings[key]; ok {
		return v, nil
	}
	return "", store.ErrNotFound
}

// fakeAdapter scripts per-call outcomes and records the requests it saw.
type fakeAdapter struct {
	name string
	err  error

	mu    sync.Mutex
	calls []llm.ExecutionRequest
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Kind() llm.Kind { return llm.KindCloud }

func (f *fakeAdapter) IsHealthy(context.Context) bool { return f.err == nil }

func (f *fakeAdapter) Complete(_ context.Context, req llm.ExecutionRequest) (*llm.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ExecutionResult{
		Content: "ok from " + f.name,
		Model:   req.Model,
		Usage:   llm.TokenUsage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
	}, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memWriter collects execution log entries in memory.
type memWriter struct {
	mu      sync.Mutex
	entries []model.ExecutionLogEntry
}

func (w *memWriter) AppendExecutionLog(_ context.Context, entry model.ExecutionLogEntry) error {
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	w.mu.Unlock()
	return nil
}

func (w *memWriter) snapshot() []model.ExecutionLogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.ExecutionLogEntry(nil), w.entries...)
}

func provider(name string, priority int) model.ProviderConfig {
	return model.ProviderConfig{ID: name, Name: name, Kind: "cloud", Priority: priority, Active: true}
}

// newTestExecutor wires an executor over fakes. adapters maps provider name
// to its scripted adapter.
func newTestExecutor(t *testing.T, source *fakeSource, adapters map[string]*fakeAdapter) (*Executor, *memWriter) {
	t.Helper()
	writer := &memWriter{}
	sink := NewLogSink(writer, 16)
	t.Cleanup(sink.Close)

	exec := New(source, sink, WithFactory(func(cfg model.ProviderConfig) (llm.Adapter, error) {
		a, ok := adapters[cfg.Name]
		if !ok {
			return nil, errors.New("no fake for " + cfg.Name)
		}
		return a, nil
	}))
	require.NoError(t, exec.Refresh(context.Background()))
	return exec, writer
}

func TestRefresh_PriorityOrder(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("low", 1), provider("high", 3), provider("mid", 2),
	}}
	adapters := map[string]*fakeAdapter{
		"low": {name: "low"}, "high": {name: "high"}, "mid": {name: "mid"},
	}
	exec, _ := newTestExecutor(t, source, adapters)

	var names []string
	for _, a := range exec.Providers() {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"high", "mid", "low"}, names)

	active, err := exec.ActiveProvider()
	require.NoError(t, err)
	assert.Equal(t, "high", active.Name())
}

func TestRefresh_StableForEqualPriorities(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("first", 2), provider("second", 2),
	}}
	adapters := map[string]*fakeAdapter{"first": {name: "first"}, "second": {name: "second"}}
	exec, _ := newTestExecutor(t, source, adapters)

	providers := exec.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "first", providers[0].Name())
	assert.Equal(t, "second", providers[1].Name())
}

func TestRefresh_SkipsBrokenFactory(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("good", 1), provider("broken", 5),
	}}
	adapters := map[string]*fakeAdapter{"good": {name: "good"}}
	exec, _ := newTestExecutor(t, source, adapters)

	providers := exec.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "good", providers[0].Name())
}

func TestRefresh_EnvFallback(t *testing.T) {
	t.Setenv(EnvFallbackKey, "test-key")
	writer := &memWriter{}
	sink := NewLogSink(writer, 16)
	t.Cleanup(sink.Close)

	exec := New(&fakeSource{}, sink)
	require.NoError(t, exec.Refresh(context.Background()))

	providers := exec.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "anthropic-default", providers[0].Name())
}

func TestExecute_EmptyRegistry(t *testing.T) {
	t.Setenv(EnvFallbackKey, "")
	writer := &memWriter{}
	sink := NewLogSink(writer, 16)
	t.Cleanup(sink.Close)

	exec := New(&fakeSource{}, sink)
	require.NoError(t, exec.Refresh(context.Background()))

	_, err := exec.Execute(context.Background(), llm.ExecutionRequest{}, "test")
	assert.ErrorIs(t, err, ErrNoProviderAvailable)
}

func TestExecute_FailoverFirstSuccessWins(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("primary", 3), provider("secondary", 2), provider("tertiary", 1),
	}}
	adapters := map[string]*fakeAdapter{
		"primary":   {name: "primary", err: errors.New("quota exceeded")},
		"secondary": {name: "secondary"},
		"tertiary":  {name: "tertiary"},
	}
	exec, writer := newTestExecutor(t, source, adapters)

	result, err := exec.Execute(context.Background(), llm.ExecutionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	}, "unit")
	require.NoError(t, err)
	assert.Equal(t, "ok from secondary", result.Content)

	// The winner ends the walk: tertiary is never tried.
	assert.Equal(t, 1, adapters["primary"].callCount())
	assert.Equal(t, 1, adapters["secondary"].callCount())
	assert.Zero(t, adapters["tertiary"].callCount())

	exec.sink.Close()
	entries := writer.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "primary", entries[0].Adapter)
	assert.Equal(t, model.ExecFailure, entries[0].Status)
	assert.Equal(t, "quota exceeded", entries[0].Error)
	assert.Equal(t, "unit", entries[0].ContextTag)
	assert.Equal(t, "secondary", entries[1].Adapter)
	assert.Equal(t, model.ExecSuccess, entries[1].Status)
	assert.Equal(t, 12, entries[1].TotalTokens)
}

func TestExecute_AllProvidersExhausted(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("a", 2), provider("b", 1),
	}}
	lastErr := errors.New("model not found")
	adapters := map[string]*fakeAdapter{
		"a": {name: "a", err: errors.New("timeout")},
		"b": {name: "b", err: lastErr},
	}
	exec, writer := newTestExecutor(t, source, adapters)

	_, err := exec.Execute(context.Background(), llm.ExecutionRequest{}, "unit")
	require.Error(t, err)
	assert.True(t, IsProviderExhausted(err))
	assert.ErrorIs(t, err, lastErr)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)

	exec.sink.Close()
	entries := writer.snapshot()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, model.ExecFailure, e.Status)
	}
}

func TestExecute_SettingInheritance(t *testing.T) {
	source := &fakeSource{
		providers: []model.ProviderConfig{provider("only", 1)},
		settings: map[string]string{
			store.SettingModel:       "configured-model",
			store.SettingTemperature: "0.3",
		},
	}
	adapter := &fakeAdapter{name: "only"}
	exec, _ := newTestExecutor(t, source, map[string]*fakeAdapter{"only": adapter})

	_, err := exec.Execute(context.Background(), llm.ExecutionRequest{}, "unit")
	require.NoError(t, err)

	require.Len(t, adapter.calls, 1)
	assert.Equal(t, "configured-model", adapter.calls[0].Model)
	require.NotNil(t, adapter.calls[0].Temperature)
	assert.InDelta(t, 0.3, *adapter.calls[0].Temperature, 1e-9)
}

func TestExecute_RequestOverridesSettings(t *testing.T) {
	source := &fakeSource{
		providers: []model.ProviderConfig{provider("only", 1)},
		settings:  map[string]string{store.SettingModel: "configured-model"},
	}
	adapter := &fakeAdapter{name: "only"}
	exec, _ := newTestExecutor(t, source, map[string]*fakeAdapter{"only": adapter})

	temp := 0.9
	_, err := exec.Execute(context.Background(), llm.ExecutionRequest{
		Model:       "request-model",
		Temperature: &temp,
	}, "unit")
	require.NoError(t, err)

	require.Len(t, adapter.calls, 1)
	assert.Equal(t, "request-model", adapter.calls[0].Model)
	assert.Equal(t, 0.9, *adapter.calls[0].Temperature)
}

func TestExecute_BreakerSkipsAfterThreshold(t *testing.T) {
	source := &fakeSource{providers: []model.ProviderConfig{
		provider("flaky", 2), provider("steady", 1),
	}}
	flaky := &fakeAdapter{name: "flaky", err: errors.New("down")}
	steady := &fakeAdapter{name: "steady"}
	exec, _ := newTestExecutor(t, source, map[string]*fakeAdapter{"flaky": flaky, "steady": steady})

	for i := 0; i < breakerThreshold+2; i++ {
		_, err := exec.Execute(context.Background(), llm.ExecutionRequest{}, "unit")
		require.NoError(t, err)
	}

	// After the threshold the flaky provider is passed over without a call.
	assert.Equal(t, breakerThreshold, flaky.callCount())
	assert.Equal(t, breakerThreshold+2, steady.callCount())
}
