package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crashpilot/api"
	"crashpilot/clock"
	"crashpilot/color"
	"crashpilot/config"
	"crashpilot/crypto"
	"crashpilot/db"
	"crashpilot/events"
	"crashpilot/game"
	"crashpilot/logger"
	"crashpilot/orchestrator"
	"crashpilot/risk"
	sig "crashpilot/signal"
	"crashpilot/state"
	"crashpilot/stats"
	"crashpilot/tracker"
	"crashpilot/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML or JSON config file")
	flag.Parse()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("❌ %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		JSON:       cfg.Logging.JSON,
	}); err != nil {
		logrus.Fatalf("❌ failed to initialize logger: %v", err)
	}
	defer logger.Close()
	log := logger.Component("main")

	if envErr != nil {
		log.Warn("⚠️  .env file not found, using environment variables")
	} else {
		log.Info("✅ Loaded environment variables from .env")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Errorf("❌ %v", err)
		logger.Close()
		os.Exit(1)
	}
	log.Info("👋 shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	clk := clock.Real{}

	// events: log, optional jsonl, websocket hub
	hub := ws.NewHub()
	hub.Retain(ws.ChannelEvents, config.WSHistoryLimit)
	hub.Retain(ws.ChannelCrash, config.WSHistoryLimit)
	bus := events.NewBus(events.LogSubscriber{}, hub)
	if cfg.EventLog != "" {
		jsonl := events.NewJSONL(cfg.EventLog)
		defer jsonl.Close()
		bus.Subscribe(jsonl)
	}

	checks := map[string]api.HealthCheck{}

	// ledgers
	var ledgers db.MultiLedger
	if cfg.Postgres.URL != "" {
		pg, err := db.NewPostgresLedger(ctx, cfg.Postgres.URL)
		if err != nil {
			log.Warnf("⚠️  PostgreSQL initialization failed: %v", err)
			log.Warn("   Rounds will not be stored in PostgreSQL")
		} else {
			ledgers = append(ledgers, pg)
			checks["postgres"] = pg.HealthCheck
		}
	}
	if cfg.SQLite.Path != "" {
		lite, err := db.NewSQLiteLedger(ctx, cfg.SQLite.Path)
		if err != nil {
			return err
		}
		ledgers = append(ledgers, lite)
		checks["sqlite"] = lite.HealthCheck
	}
	var ledger *db.AsyncLedger
	var ledgerReader db.Ledger
	if len(ledgers) > 0 {
		ledger = db.NewAsyncLedger(ledgers)
		ledgerReader = ledgers
		defer ledger.Close()
	}

	// redis: session snapshots, stats, external signals
	rdb, err := db.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warnf("⚠️  Redis initialization failed: %v", err)
		log.Warn("   Session resume and redis signals are disabled")
	}
	var store *db.RedisStore
	if rdb != nil {
		defer rdb.Close()
		store = db.NewRedisStore(rdb)
		checks["redis"] = store.HealthCheck
	}

	session := state.NewSession(decimal.NewFromFloat(cfg.Session.InitialStake), config.RoundHistoryLimit)
	if cfg.Session.Resume {
		resumeSession(ctx, store, session, log)
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := stats.NewPrometheusSink(reg)
	if err != nil {
		return err
	}
	sinks := stats.Multi{prom}
	if rdb != nil {
		sinks = append(sinks, stats.NewRedisSink(rdb, session.ID))
	}

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: int64(cfg.Session.MaxActuationErrors),
	})

	// table-facing ports
	var ports orchestrator.Ports
	var background []func(context.Context) error
	if cfg.Sim.Enabled {
		seed, err := simSeed(cfg)
		if err != nil {
			return err
		}
		table := game.NewTable(game.FromConfig(cfg), seed, clk)
		ports = orchestrator.Ports{
			Multiplier: table,
			Balance:    table.BalanceSensor(),
			Actuator:   table,
			Probe:      color.NewPixelProbe(table),
			Stake:      table,
		}
		feed := ws.NewCrashFeed(table, hub, clk)
		feed.SeedHash = seed.Hash
		background = append(background, feed.Run)
	} else {
		feed := ws.NewFeedSensor(cfg.Feed.URL, clk)
		ports = orchestrator.Ports{Multiplier: feed}
		background = append(background, feed.Run)
	}

	// tracker
	tr := tracker.New(tracker.FromConfig(cfg.Tracker), clk)
	runner := tracker.NewRunner(tr, ports.Multiplier, clk, tracker.RunnerFromConfig(cfg.Tracker), bus)
	runner.OnRound(func(s tracker.RoundSummary) {
		ledger.InsertGameRound(db.GameRoundRow{
			SessionID:       session.ID,
			Round:           s.Round,
			StartedAt:       s.Start,
			EndedAt:         s.End,
			MaxMultiplier:   s.MaxMultiplier,
			CrashMultiplier: s.CrashMultiplier,
			Reason:          s.Reason,
		})
	})
	background = append(background, runner.Run)

	// api
	var srv *api.Server
	if cfg.API.Enabled {
		srv = api.NewServer(cfg.API.Addr, api.Deps{
			Session:  session,
			Ledger:   ledgerReader,
			Tracker:  runner,
			Breaker:  breaker,
			Gatherer: reg,
			Hub:      hub,
			Checks:   checks,
		})
		go func() {
			if err := srv.Start(); err != nil {
				log.Errorf("❌ API server error: %v", err)
			}
		}()
	}

	// registered after ledger.Close, so it runs first: no round write
	// can land on a closed ledger
	bg := newTasks(ctx, log)
	defer bg.Stop()
	bg.Go(func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})
	for _, fn := range background {
		bg.Go(fn)
	}

	if ports.Actuator == nil || ports.Probe == nil {
		log.Warn("⚠️  no actuation port configured, observing only")
		<-ctx.Done()
	} else {
		source, err := signalSource(cfg, rdb, runner)
		if err != nil {
			return err
		}
		orch, _ := orchestrator.Build(cfg, ports, orchestrator.Wiring{
			Session: session,
			Stats:   sinks,
			Ledger:  ledger,
			Store:   store,
			Breaker: breaker,
			Clock:   clk,
			Bus:     bus,
		})
		reason, err := orch.Run(ctx, source)
		if err != nil {
			log.Errorf("❌ betting loop failed: %v", err)
		}
		log.Infof("🛑 betting loop ended: %s", reason)
		if cfg.API.Enabled && ctx.Err() == nil {
			log.Info("📡 API still serving, press Ctrl+C to exit")
			<-ctx.Done()
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("⚠️  API shutdown: %v", err)
		}
	}
	return nil
}

func simSeed(cfg *config.Config) (crypto.Seed, error) {
	if cfg.Sim.Seed != "" {
		return crypto.SeedFrom(cfg.Sim.Seed), nil
	}
	return crypto.NewServerSeed()
}

func signalSource(cfg *config.Config, rdb *redis.Client, history sig.HistoryProvider) (sig.Source, error) {
	switch cfg.Session.SignalSource {
	case "redis":
		if rdb == nil {
			return nil, errors.New("signal_source redis needs redis.addr")
		}
		return sig.NewRedisSource(rdb, time.Second), nil
	default:
		return sig.NewColdStreakSource(sig.ColdStreakFromConfig(cfg), history), nil
	}
}

// resumeSession restores the last saved snapshot so the stake progression
// survives a restart.
func resumeSession(ctx context.Context, store *db.RedisStore, session *state.Session, log *logrus.Entry) {
	if store == nil {
		log.Warn("⚠️  session.resume needs redis, starting fresh")
		return
	}
	id, ok, err := store.LatestSession(ctx)
	if err != nil || !ok {
		if err != nil {
			log.Warnf("⚠️  failed to look up last session: %v", err)
		}
		return
	}
	var snap state.Snapshot
	if ok, err := store.LoadSession(ctx, id, &snap); err != nil || !ok {
		log.Warnf("⚠️  session %s could not be loaded (found=%v err=%v)", id, ok, err)
		return
	}
	session.Restore(snap)
	log.Infof("✅ resumed session %s (stake %s, %d rounds)", snap.ID, snap.CurrentStake, snap.Rounds)
}
