// Command runnerd is the thinnest possible process wrapper around the
// runner core: load config from the environment, wire the concrete
// adapters for whichever backends are configured, and run either an
// AllRunnerRoot or a SingleRunnerRoot until the process is asked to
// stop. It intentionally carries no CLI flags or subcommands beyond
// that — runner behavior itself lives in internal/runner.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/runnerkv/runner/internal/actor"
	"github.com/runnerkv/runner/internal/actor/memactor"
	"github.com/runnerkv/runner/internal/actor/redisgossip"
	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/config"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/errsink/memsink"
	"github.com/runnerkv/runner/internal/errsink/postgres"
	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/kvstore/memkv"
	"github.com/runnerkv/runner/internal/kvstore/redisclient"
	"github.com/runnerkv/runner/internal/observability"
	"github.com/runnerkv/runner/internal/pkg/logger"
	"github.com/runnerkv/runner/internal/platform/db"
	"github.com/runnerkv/runner/internal/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "runnerd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(os.Getenv("LOG_MODE"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	shutdownTracing := observability.Init(ctx, log, observability.Config{
		ServiceName:  config.GetEnv("OTEL_SERVICE_NAME", "runnerd", log),
		Environment:  config.GetEnv("RUNNER_ENV", "development", log),
		OTLPEndpoint: config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "", log),
		SampleRatio:  observability.ParseSampleRatio(config.GetEnv("OTEL_SAMPLE_RATIO", "", log), 0.1),
	})
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	cfg := config.LoadRunnerConfig("RUNNER", log)

	kv, closeKV, err := buildKVStore(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("build kv store: %w", err)
	}
	defer closeKV()

	act, closeActor, err := buildActor(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("build actor: %w", err)
	}
	defer closeActor()

	errs, err := buildErrSink(log)
	if err != nil {
		return fmt.Errorf("build error sink: %w", err)
	}

	codeRegistry := coderegistry.NewMap()
	registerJobs(codeRegistry)

	name := cfg.Name
	if name == "" {
		name = kv.Name()
	}

	switch strings.ToLower(config.GetEnv("RUNNER_VARIANT", "all", log)) {
	case "single":
		root := runner.NewSingleRunnerRoot(name, kv, act, codeRegistry, errs, log, cfg.StartDelay, cfg.NNodes)
		if err := root.SetCores(ctx, cfg.Cores); err != nil {
			log.Warn("runnerd: failed to set initial quorum cores", "error", err)
		}
		if err := seedEntries(ctx, kv, cfg.Path, func(ctx context.Context, path string) error {
			_, err := root.AddEntry(ctx, path, root)
			return err
		}); err != nil {
			return fmt.Errorf("seed entries: %w", err)
		}
		return cleanShutdown(root.Run(ctx))
	default:
		root := runner.NewAllRunnerRoot(name, kv, act, codeRegistry, errs, log, cfg.StartDelay, cfg.CancelOnUntag)
		if err := seedEntries(ctx, kv, cfg.Path, func(ctx context.Context, path string) error {
			_, err := root.AddEntry(ctx, path, root)
			return err
		}); err != nil {
			return fmt.Errorf("seed entries: %w", err)
		}
		return cleanShutdown(root.Run(ctx))
	}
}

// cleanShutdown treats context cancellation (SIGINT/SIGTERM) as a
// normal exit rather than an error worth a non-zero status.
func cleanShutdown(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedEntries subscribes a JobEntry for every path already present
// under the configured root (spec.md §4.3: the rescan pump only ever
// schedules entries it has been told about). New paths discovered at
// runtime should be added via RunnerRoot.AddEntry from job code that
// creates sibling jobs.
func seedEntries(ctx context.Context, kv kvstore.Client, prefix string, addEntry func(ctx context.Context, path string) error) error {
	paths, err := kv.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := addEntry(ctx, p); err != nil {
			return fmt.Errorf("add entry %s: %w", p, err)
		}
	}
	return nil
}

// registerJobs wires the code this deployment knows how to run into the
// registry the runner core resolves JobEntry.Code against (spec.md §2's
// Callable/Registry). Deployments embedding this module register their
// own job code here; the runner core itself ships with none.
func registerJobs(reg *coderegistry.Map) {
	_ = reg
}

func buildKVStore(ctx context.Context, log *logger.Logger, cfg config.RunnerConfig) (kvstore.Client, func(), error) {
	addr := config.GetEnv("REDIS_ADDR", "", log)
	if addr == "" {
		store := memkv.New(cfg.Name)
		return store, func() { _ = store.Close() }, nil
	}

	client, err := redisclient.New(ctx, log, cfg.Name, redisclient.Config{
		Addr:     addr,
		Password: config.GetEnv("REDIS_PASSWORD", "", log),
		DB:       config.GetEnvAsInt("REDIS_DB", 0, log),
		Prefix:   config.GetEnv("REDIS_PREFIX", "runner", log),
	})
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func buildActor(ctx context.Context, log *logger.Logger, cfg config.RunnerConfig) (actor.Actor, func(), error) {
	addr := config.GetEnv("ACTOR_REDIS_ADDR", "", log)
	if addr == "" {
		a := memactor.New(cfg.Actor.CycleTimeMax, cfg.Actor.HistorySize)
		return a, func() { _ = a.Close() }, nil
	}

	gossip, err := redisgossip.New(ctx, log, cfg.Name, redisgossip.Config{
		Addr:        addr,
		Password:    config.GetEnv("ACTOR_REDIS_PASSWORD", "", log),
		DB:          config.GetEnvAsInt("ACTOR_REDIS_DB", 0, log),
		Group:       config.GetEnv("ACTOR_GROUP", "runner", log),
		CycleTime:   cfg.Actor.CycleTimeMax,
		HistorySize: cfg.Actor.HistorySize,
		IsCore:      config.GetEnvAsBool("ACTOR_IS_CORE", false, log),
	})
	if err != nil {
		return nil, nil, err
	}
	return gossip, func() { _ = gossip.Close() }, nil
}

func buildErrSink(log *logger.Logger) (errsink.Sink, error) {
	if !config.GetEnvAsBool("POSTGRES_ENABLED", false, log) {
		return memsink.New(), nil
	}
	gdb, err := db.Open(log)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("migrate error sink: %w", err)
	}
	return postgres.New(gdb, log), nil
}
