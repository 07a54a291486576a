package main

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/monitoring"
	"github.com/sells-group/opportunity-planner/internal/planner"
	"github.com/sells-group/opportunity-planner/internal/store"
	anthropicpkg "github.com/sells-group/opportunity-planner/pkg/anthropic"
)

// plannerEnv holds the store, the planner and the metrics collector needed
// by the serve and plan commands.
type plannerEnv struct {
	Store     store.Store
	Planner   *planner.Planner
	Collector *monitoring.Collector
}

// Close waits for in-flight jobs and releases the store.
func (pe *plannerEnv) Close() {
	if pe.Planner != nil {
		pe.Planner.Wait()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPlanner validates config for mode, opens and migrates the store, and
// builds the Planner. Callers should defer env.Close().
func initPlanner(ctx context.Context, mode string) (*plannerEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var clientOpts []option.RequestOption
	if cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...)

	p := planner.New(client, st, planner.OptionsFromConfig(cfg))
	zap.L().Info("planner initialized",
		zap.String("model", cfg.Anthropic.Model),
		zap.String("store", cfg.Store.Driver),
		zap.Duration("timeout", cfg.Planner.Timeout()),
	)

	return &plannerEnv{
		Store:     st,
		Planner:   p,
		Collector: monitoring.NewCollector(st, p.Breaker()),
	}, nil
}

// openStore creates the configured store and runs its migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
