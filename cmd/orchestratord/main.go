package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/config"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/orchestrator"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/progress"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/registry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/resilience"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/state"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/telemetry"
	"github.com/fuchsst/auteur-movie-director-sub000/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "", "path to orchestrator.yaml (overrides CONFIG_FILE env)")
	discoverResources := flag.Bool("discover-resources", false, "detect CPU/memory capacity from the host instead of config")
	flag.Parse()

	if trimmed := *configPath; trimmed != "" {
		os.Setenv("CONFIG_FILE", trimmed)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	log := logging.NewFromEnv("orchestratord")
	metrics := telemetry.New(cfg.Metrics.ServiceName)

	store := buildStateStore(cfg)

	reg, err := registry.New(cfg.Registry.CacheSize, cfg.Registry.ValidationTTL)
	if err != nil {
		log.WithError(err).Fatal("build registry")
	}
	for _, dir := range cfg.Registry.Directories {
		if err := reg.Load(dir); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{"dir": dir}).Warn("template directory load failed")
		}
	}
	watcher, err := registry.NewWatcher(reg, cfg.Registry.DebounceInterval)
	if err != nil {
		log.WithError(err).Warn("template watcher unavailable")
	}

	led, err := buildLedger(cfg, *discoverResources)
	if err != nil {
		log.WithError(err).Fatal("build resource ledger")
	}

	history := progress.NewMemoryHistoryStore(cfg.Progress.HistoryCount)
	eta, err := progress.NewETAPredictor(history, 256, cfg.Progress.ETACacheTTL)
	if err != nil {
		log.WithError(err).Fatal("build eta predictor")
	}
	tracker := progress.New(store, eta, nil)

	breakers := resilience.NewSet(func(service string, from, to resilience.State) {
		log.WithFields(map[string]interface{}{"service": service, "from": from, "to": to}).Warn("circuit breaker state change")
	})

	// No out-of-process worker runtime is wired here: ProcessLauncher is an
	// external collaborator the deployment environment supplies.
	pool := workerpool.New(workerpool.Config{
		MinWorkers:          cfg.Pool.MinWorkers,
		MaxWorkers:          cfg.Pool.MaxWorkers,
		ScaleUpThreshold:    cfg.Pool.ScaleUpThreshold,
		ScaleDownThreshold:  cfg.Pool.ScaleDownThreshold,
		IdleTimeout:         cfg.Pool.IdleTimeout,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
		ScalingInterval:     cfg.Pool.ScalingInterval,
	}, led, store, nil, nil, metrics)

	// Worker, take, workspace, notification, and alert collaborators are
	// left nil: each is a remote service contract (ports.go) supplied by
	// the deployment wiring this binary into its surrounding system.
	orch := orchestrator.New(reg, registry.NewPresetResolver(nil), led, pool, nil, breakers, tracker, orchestrator.Collaborators{}, orchestrator.DefaultConfig(), metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		log.WithError(err).Fatal("start orchestrator")
	}
	if watcher != nil {
		go watcher.Run()
	}

	log.Info("orchestratord started")
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	orch.Stop(shutdownCtx)
	if watcher != nil {
		watcher.Stop()
	}
}

func buildStateStore(cfg *config.Config) state.Store {
	if cfg.State.RedisAddr != "" {
		return state.NewRedisStoreFromAddr(cfg.State.RedisAddr, cfg.State.RedisDB)
	}
	return state.NewMemoryStore(time.Minute)
}

func buildLedger(cfg *config.Config, discover bool) (*ledger.Ledger, error) {
	if discover {
		return ledger.Discover(cfg.Ledger.TotalVRAMGB, float64(cfg.Ledger.TotalGPUCount))
	}
	return ledger.New(ledger.Resources{
		CPUCores: float64(cfg.Ledger.TotalCPUCores),
		MemoryGB: cfg.Ledger.TotalMemoryGB,
		VRAMGB:   cfg.Ledger.TotalVRAMGB,
		GPUCount: cfg.Ledger.TotalGPUCount,
	}), nil
}
