package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/deepresearch/engine/internal/artifactstore"
	"github.com/deepresearch/engine/internal/config"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/facade"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/idempotency"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/metrics"
	"github.com/deepresearch/engine/internal/orchestrator"
	"github.com/deepresearch/engine/internal/platform/database"
	"github.com/deepresearch/engine/internal/poller"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage"
	"github.com/deepresearch/engine/internal/storage/memory"
	"github.com/deepresearch/engine/internal/storage/postgres"
	"github.com/deepresearch/engine/internal/storage/postgres/migrations"
	"github.com/deepresearch/engine/internal/system"
	"github.com/deepresearch/engine/internal/worker"
)

// fullStore is every aggregate's storage interface implemented by a single
// concrete Store (memory or postgres), so one backend serves the Queue,
// Ledger, Artifact store, and Campaign store alike.
type fullStore interface {
	storage.JobStore
	storage.ArtifactStore
	storage.CostStore
	storage.CampaignStore
}

func main() {
	addr := flag.String("addr", "", "admin HTTP listen address (defaults to config or :8090)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	flag.Parse()

	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	store, closeStore, err := openStore(rootCtx, dsnVal, *runMigrations, lg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer closeStore()

	l := ledger.New(store, lg)
	gov := governor.New(l, governor.Config{
		PerOpCap:    money.FromFloat(cfg.Budget.PerJobCapUSD),
		PerDayCap:   money.FromFloat(cfg.Budget.DailyCapUSD),
		PerMonthCap: money.FromFloat(cfg.Budget.MonthlyCapUSD),
	}, lg)

	registry := provider.NewRegistry()
	adapters := buildAdapters(cfg.Providers, registry, lg)

	routerCfg := router.DefaultConfig()
	if cfg.Router.ExploreRate > 0 {
		routerCfg.Explore = cfg.Router.ExploreRate
	}
	if cfg.Router.HealthWindow > 0 {
		routerCfg.HealthWindow = cfg.Router.HealthWindow
	}
	rtr := router.New(registry, routerCfg, lg)

	q := queue.New(store)
	bus := eventbus.New(lg)
	defer bus.Close()

	artifactRoot := cfg.Artifact.RootDir
	if strings.TrimSpace(artifactRoot) == "" {
		artifactRoot = "./data/artifacts"
	}
	artifacts := artifactstore.New(store, artifactRoot, lg)

	tokens := idempotency.New(idempotency.DefaultTTL)
	defer tokens.Close()

	// The Facade and Orchestrator need each other (the Orchestrator's
	// Submitter is the Facade; the Facade holds the Orchestrator for
	// PlanCampaign/ExecuteCampaign), so the Facade is built first with no
	// Orchestrator and patched once the Orchestrator exists.
	f := facade.New(q, rtr, adapters, gov, nil, bus, tokens, lg)
	orch := orchestrator.New(store, store, f, bus, lg)
	f.SetOrchestrator(orch)

	submitWorker := worker.New("engine-0", q, rtr, adapters, registry, gov, l, artifacts, bus, lg)
	poll := poller.New("engine-0", q, rtr, adapters, registry, l, artifacts, bus, lg)

	manager := system.NewManager()
	if err := manager.Register(submitWorker); err != nil {
		log.Fatalf("register submit-worker: %v", err)
	}
	if err := manager.Register(poll); err != nil {
		log.Fatalf("register poller: %v", err)
	}

	m := metrics.New(nil)
	admin := metrics.NewAdminRouter(f, nil)

	smp := newSampler(q, l, gov, m, bus, cfg.Budget.DailyCapUSD, cfg.Budget.MonthlyCapUSD)
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", func() { smp.sample(rootCtx) }); err != nil {
		log.Fatalf("schedule sampler: %v", err)
	}
	c.Start()
	defer c.Stop()

	listenAddr := determineAddr(*addr, cfg)
	httpServer := &http.Server{Addr: listenAddr, Handler: admin}

	if err := manager.Start(rootCtx); err != nil {
		log.Fatalf("start services: %v", err)
	}

	go func() {
		log.Printf("engine admin surface listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin server shutdown: %v", err)
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Fatalf("stop services: %v", err)
	}
}

func loadConfigFile(path string) (*config.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func resolveDSN(flagDSN string, cfg *config.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Database.DSN)
}

func determineAddr(flagAddr string, cfg *config.Config) string {
	if addr := strings.TrimSpace(flagAddr); addr != "" {
		return addr
	}
	if cfg != nil && cfg.Server.Port != 0 {
		host := strings.TrimSpace(cfg.Server.Host)
		if host == "" {
			host = "0.0.0.0"
		}
		return host + ":" + strconv.Itoa(cfg.Server.Port)
	}
	return ":8090"
}

// openStore selects the postgres or in-memory storage backend. A non-empty
// dsn connects to postgres and, unless disabled, applies the embedded
// schema; an empty dsn falls back to the in-memory store.
func openStore(ctx context.Context, dsn string, runMigrations bool, lg *logger.Logger) (fullStore, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return memory.New(), func() {}, nil
	}

	db, err := database.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if runMigrations {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	lg.Info("connected to postgres storage backend")
	return postgres.New(db), func() { db.Close() }, nil
}

// buildAdapters wires one provider.Adapter per configured provider entry,
// resolving its API key from the environment and its rate limit from
// config, falling back to the provider package's defaults when unset.
func buildAdapters(providers []config.ProviderConfig, registry *provider.Registry, lg *logger.Logger) provider.Set {
	set := make(provider.Set, len(providers))
	for _, pc := range providers {
		semCfg := provider.DefaultSemaphoreConfig()
		if pc.RateLimit > 0 {
			semCfg.RequestsPerSecond = pc.RateLimit
		}
		if pc.Burst > 0 {
			semCfg.Burst = pc.Burst
		}
		sem := provider.NewSemaphores(semCfg)
		apiKey := os.Getenv(pc.APIKeyEnv)

		var adapter provider.Adapter
		switch strings.ToLower(pc.Kind) {
		case "openai":
			adapter = provider.NewOpenAI(apiKey, registry, sem)
		case "azure":
			adapter = provider.NewAzure(apiKey, pc.BaseURL, registry, sem)
		case "gemini":
			adapter = provider.NewGemini(apiKey, registry, sem)
		case "grok":
			adapter = provider.NewGrok(apiKey, registry, sem)
		case "anthropic":
			adapter = provider.NewAnthropic(apiKey, registry, sem)
		default:
			lg.WithField("provider", pc.Name).WithField("kind", pc.Kind).Warn("unrecognized provider kind, skipping")
			continue
		}
		set[pc.Name] = adapter
	}
	return set
}
