package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/requora/reqcore/internal/agent"
	"github.com/requora/reqcore/internal/executor"
	"github.com/requora/reqcore/internal/orchestrator"
	"github.com/requora/reqcore/internal/scorer"
	"github.com/requora/reqcore/internal/similarity"
	"github.com/requora/reqcore/internal/store"
)

// env holds the initialized store, executor and orchestrator shared by the
// serve/run/score/dedupe commands.
type env struct {
	Store        store.Store
	Sink         *executor.LogSink
	Executor     *executor.Executor
	Detector     *similarity.Detector
	Benchmarks   *scorer.BenchmarkTable
	Orchestrator *orchestrator.Orchestrator
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Sink != nil {
		e.Sink.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store: postgres driver requires store.database_url")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.Path)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}
}

// initEnv sets up the store, the failover executor, the agent registry and
// the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Bootstrap settings from config when unset; runtime updates win later.
	if cfg.AI.Model != "" {
		if _, gerr := st.GetSetting(ctx, store.SettingModel); gerr != nil {
			if serr := st.SetSetting(ctx, store.SettingModel, cfg.AI.Model); serr != nil {
				zap.L().Warn("bootstrap model setting failed", zap.Error(serr))
			}
		}
	}
	if cfg.AI.Temperature != "" {
		if _, gerr := st.GetSetting(ctx, store.SettingTemperature); gerr != nil {
			if serr := st.SetSetting(ctx, store.SettingTemperature, cfg.AI.Temperature); serr != nil {
				zap.L().Warn("bootstrap temperature setting failed", zap.Error(serr))
			}
		}
	}

	sink := executor.NewLogSink(st, cfg.Executor.LogBuffer)

	execOpts := []executor.Option{}
	if cfg.Executor.RequestsPerSecond > 0 {
		execOpts = append(execOpts, executor.WithRateLimit(cfg.Executor.RequestsPerSecond))
	}
	exec := executor.New(st, sink, execOpts...)
	if err := exec.Refresh(ctx); err != nil {
		sink.Close()
		_ = st.Close()
		return nil, eris.Wrap(err, "refresh providers")
	}

	detector := similarity.NewDetector(st,
		similarity.WithThresholds(cfg.Similarity.TitleThreshold, cfg.Similarity.ContentThreshold),
		similarity.WithWindow(cfg.Similarity.ScanWindow),
	)

	benchmarks, err := loadBenchmarks()
	if err != nil {
		sink.Close()
		_ = st.Close()
		return nil, err
	}

	agents := agent.NewRegistry(exec)
	orch := orchestrator.New(st, agents, detector,
		orchestrator.WithMaxSteps(cfg.Pipeline.MaxSteps),
		orchestrator.WithRefineLoop(cfg.Pipeline.MaxRefineIterations, cfg.Pipeline.AcceptScore),
		orchestrator.WithBenchmarks(benchmarks),
	)

	return &env{
		Store:        st,
		Sink:         sink,
		Executor:     exec,
		Detector:     detector,
		Benchmarks:   benchmarks,
		Orchestrator: orch,
	}, nil
}

// loadBenchmarks reads the configured benchmark table, falling back to the
// embedded defaults.
func loadBenchmarks() (*scorer.BenchmarkTable, error) {
	if cfg.Scorer.BenchmarksPath != "" {
		t, err := scorer.LoadTable(cfg.Scorer.BenchmarksPath)
		if err != nil {
			return nil, eris.Wrap(err, "load benchmarks")
		}
		return t, nil
	}
	t, err := scorer.DefaultTable()
	if err != nil {
		return nil, eris.Wrap(err, "load embedded benchmarks")
	}
	return t, nil
}
