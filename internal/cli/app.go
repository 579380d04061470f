// Package cli wires the query pipeline behind the queryctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/queryctl/queryctl/internal/cache"
	"github.com/queryctl/queryctl/internal/config"
	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/fetch"
	"github.com/queryctl/queryctl/internal/observability"
	"github.com/queryctl/queryctl/internal/poll"
	"github.com/queryctl/queryctl/internal/run"
	"github.com/queryctl/queryctl/internal/storage/s3"
	"github.com/queryctl/queryctl/internal/validate"
)

// QueryRunner is the invocation surface the query command depends on.
type QueryRunner interface {
	Run(ctx context.Context, req run.Request, opts run.Options) run.Outcome
}

// App holds the wired collaborators shared by the commands.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Catalog exec.Catalog
	Runner  QueryRunner
	Cache   cache.Store
	Stdout  io.Writer
	Stderr  io.Writer
}

// BuildApp constructs the full pipeline from resolved configuration.
func BuildApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) (*App, error) {
	logger := observability.NewLogger(cfg, stderr)
	if invocationID := observability.InvocationIDFromContext(ctx); invocationID != "" {
		logger = logger.With(slog.String("invocation_id", invocationID))
	}

	client, err := exec.NewHTTPClient(exec.HTTPConfig{
		BaseURL: cfg.Remote.Endpoint,
		APIKey:  cfg.Remote.APIKey,
		Timeout: cfg.Remote.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build execution client: %w", err)
	}

	store, err := openCacheStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	provider, err := s3.NewProvider(s3.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		UseSSL:          cfg.ObjectStore.UseSSL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build object store client: %w", err)
	}
	fetcher, err := fetch.New(provider, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build result fetcher: %w", err)
	}

	poller := poll.New(client, poll.Config{
		IntervalFloor:    cfg.Poll.IntervalFloor,
		IntervalCap:      cfg.Poll.IntervalCap,
		TransientRetries: cfg.Poll.TransientRetries,
	}, logger)

	runner, err := run.New(run.Config{
		Validator: validate.New(),
		Client:    client,
		Poller:    poller,
		Cache:     store,
		Fetcher:   fetcher,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build runner: %w", err)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Catalog: client,
		Runner:  runner,
		Cache:   store,
		Stdout:  stdout,
		Stderr:  stderr,
	}, nil
}

func (a *App) Close() error {
	if a.Cache == nil {
		return nil
	}
	return a.Cache.Close()
}

func openCacheStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.Cache.Driver {
	case config.CacheDriverMemory:
		return cache.NewMemoryStore(), nil
	case config.CacheDriverSQLite:
		return cache.OpenSQLite(ctx, cfg.Cache.Path)
	case config.CacheDriverPostgres:
		return cache.OpenPostgres(ctx, cfg.Cache.DSN, cfg.Cache.MaxOpenConns)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
}
