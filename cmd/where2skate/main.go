package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/vbonduro/where2skate/internal/config"
	"github.com/vbonduro/where2skate/internal/db"
	"github.com/vbonduro/where2skate/internal/docstore"
	"github.com/vbonduro/where2skate/internal/docstore/firestore"
	"github.com/vbonduro/where2skate/internal/docstore/sqlite"
	"github.com/vbonduro/where2skate/internal/identity"
	"github.com/vbonduro/where2skate/internal/logging"
	"github.com/vbonduro/where2skate/internal/metrics"
	"github.com/vbonduro/where2skate/internal/repository"
	"github.com/vbonduro/where2skate/internal/store"
	"github.com/vbonduro/where2skate/internal/web"
)

const version = "0.1.0"

const usage = `where2skate: find, add and rate skateparks.

Usage:
    where2skate serve [--config=<path>]
    where2skate watch --email=<email> --password=<password> [--config=<path>]
    where2skate -h | --help
    where2skate --version

Options:
    -h --help              Show this screen.
    --version              Show version.
    --config=<path>        YAML config file. Defaults to $WHERE2SKATE_CONFIG.
    --email=<email>        Account to sign in with.
    --password=<password>  Password of the account.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		log.Fatalf("failed to parse arguments: %v", err)
	}

	configPath, _ := opts.String("--config")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, cleanup, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serve, _ := opts.Bool("serve"); serve {
		err = runServe(ctx, cfg, logger)
	} else if watch, _ := opts.Bool("watch"); watch {
		email, _ := opts.String("--email")
		password, _ := opts.String("--password")
		err = runWatch(ctx, cfg, logger, email, password)
	}
	if err != nil {
		logger.Error("exiting", "error", err)
		cleanup()
		os.Exit(1)
	}
}

// app holds the dependencies shared by every command.
type app struct {
	database *sql.DB
	store    docstore.Store
	provider *identity.Provider
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var docs docstore.Store
	switch cfg.StoreBackend {
	case config.BackendFS:
		logger.Info("using firestore document store", "project", cfg.FirestoreProject)
		docs, err = firestore.New(ctx, cfg.FirestoreProject, logger)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to open firestore: %w", err)
		}
	default:
		logger.Info("using sqlite document store", "path", cfg.DBPath)
		docs = sqlite.New(database, logger)
	}

	provider, err := identity.NewProvider(store.NewUserStore(database), identity.ProviderConfig{
		Secret:              []byte(cfg.TokenSecret),
		TokenTTL:            cfg.TokenTTL,
		RevocationCacheSize: cfg.RevocationCacheBytes(),
		BcryptCost:          cfg.BcryptCost,
	}, logger)
	if err != nil {
		_ = docs.Close()
		_ = database.Close()
		return nil, err
	}

	return &app{database: database, store: docs, provider: provider, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close document store", "error", err)
	}
	if err := a.database.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		m        *metrics.Manager
		repoOpts []repository.Option
	)
	if cfg.MetricsEnabled {
		m = metrics.NewManager(metrics.WithRuntimeCollectors(), metrics.WithHistogramBuckets(cfg.MetricsBuckets))
		repoOpts = append(repoOpts, repository.WithMetrics(m))
	}

	// Requests carry their own sessions; the shared repository has none.
	repo := repository.NewSkateparkRepository(a.store, identity.StaticSession{}, logger, repoOpts...)
	server := web.NewServer(repo, a.provider, m, logger)
	return server.ListenAndServe(ctx, cfg.ListenAddr)
}
