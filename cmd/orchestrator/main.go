// Command orchestrator starts the forge orchestrator process: it loads
// config, wires the Registry, Health Prober, Template Engine, Router,
// Worker Client Pool, Progress Aggregator, Preference Engine, Job
// Executor, and Iteration Controller together, serves the HTTP+WS API,
// and runs the lifecycle Manager's background session sweep, following
// the teacher's signal.Notify/context.WithCancel shutdown shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/client"
	"github.com/pixelgrid/forge-orchestrator/config"
	"github.com/pixelgrid/forge-orchestrator/executor"
	"github.com/pixelgrid/forge-orchestrator/health"
	"github.com/pixelgrid/forge-orchestrator/httpapi"
	"github.com/pixelgrid/forge-orchestrator/iteration"
	"github.com/pixelgrid/forge-orchestrator/lifecycle"
	"github.com/pixelgrid/forge-orchestrator/metrics"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/registry"
	"github.com/pixelgrid/forge-orchestrator/router"
	"github.com/pixelgrid/forge-orchestrator/store"
	"github.com/pixelgrid/forge-orchestrator/store/memory"
	"github.com/pixelgrid/forge-orchestrator/store/sqlstore"
	"github.com/pixelgrid/forge-orchestrator/template"
)

const templateManifestPath = "./config/templates.yaml"

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	reg := registry.New()

	httpClient := client.NewPool(time.Duration(cfg.Nodes.ProbeTimeout) * time.Second)

	prober := health.New(health.Config{
		Registry: reg,
		Pinger:   httpClient,
		Interval: time.Duration(cfg.Nodes.ProbeEvery) * time.Second,
		Timeout:  time.Duration(cfg.Nodes.ProbeTimeout) * time.Second,
		Logger:   log,
	})
	go func() {
		if err := prober.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("health prober stopped")
		}
	}()

	if cfg.Nodes.WatchReload {
		watcher := &registry.FileWatcher{Path: cfg.Nodes.ConfigPath, Log: log}
		go func() {
			if err := reg.AttachWatcher(ctx, watcher); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("node inventory watcher stopped")
			}
		}()
	} else if cfgs, err := registry.LoadFile(cfg.Nodes.ConfigPath); err != nil {
		log.WithError(err).WithField("path", cfg.Nodes.ConfigPath).Error("initial node inventory load failed")
	} else if err := reg.Load(cfgs); err != nil {
		log.WithError(err).Error("loading initial node inventory")
	}

	templates, err := template.LoadFile(templateManifestPath)
	if err != nil {
		log.WithError(err).Fatal("loading template manifest")
	}

	rtr := router.New(reg)

	var aggOpts []aggregator.Option
	if cfg.Messaging.NATSURL != "" {
		relay, err := aggregator.NewRelay(cfg.Messaging.NATSURL, cfg.Messaging.Subject, log)
		if err != nil {
			log.WithError(err).Warn("connecting to NATS, falling back to in-process event fan-out only")
		} else {
			aggOpts = append(aggOpts, aggregator.WithRelay(relay))
			defer relay.Close()
		}
	}
	agg := aggregator.New(log, aggOpts...)
	go func() {
		if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("aggregator relay stopped")
		}
	}()

	prefs := preference.New(log)

	sessionStore, err := newSessionStore(cfg.Preference)
	if err != nil {
		log.WithError(err).Fatal("constructing session store")
	}

	if snapshot, err := sessionStore.LoadLatestPreferenceSnapshot(ctx); err == nil {
		if err := prefs.Import(snapshot); err != nil {
			log.WithError(err).Warn("discarding corrupt preference snapshot")
		}
	}

	exec := executor.New(executor.Deps{
		Router:      rtr,
		Registry:    reg,
		Templates:   templates,
		Clients:     httpClient,
		Aggregator:  agg,
		Preferences: prefs,
		Log:         log,
	})

	iter := iteration.New(prefs, nil, log)

	server := httpapi.New(httpapi.Deps{
		Executor:        exec,
		Iteration:       iter,
		Registry:        reg,
		Preferences:     prefs,
		Aggregator:      agg,
		Sessions:        sessionStore,
		JWTSecret:       cfg.JWT.Secret,
		NodesConfigPath: cfg.Nodes.ConfigPath,
		Log:             log,
	})

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	lifecycleMgr := lifecycle.New(lifecycle.Config{
		Store:    sessionStore,
		RedisOpt: redisOpt,
		Logger:   log,
	}, nil)
	if err := lifecycleMgr.Start(); err != nil {
		log.WithError(err).Error("starting lifecycle manager")
	}

	metricsSrv := metrics.NewServer(":9090")
	metricsSrv.Start()

	go func() {
		addr := ":" + cfg.Server.Port
		log.WithField("addr", addr).Info("starting forge orchestrator")
		if err := server.Listen(addr); err != nil {
			log.WithError(err).Error("http server stopped")
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down")
	if err := server.Shutdown(10 * time.Second); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	lifecycleMgr.Shutdown()
	if err := metricsSrv.Shutdown(context.Background()); err != nil {
		log.WithError(err).Error("metrics server shutdown")
	}

	log.Info("forge orchestrator stopped")
}

// newSessionStore constructs the configured store.SnapshotStore backend.
// "memory" needs nothing further; the SQL-backed drivers open a
// database/sql handle and run the dialect's migration DDL idempotently
// before handing back a ready sqlstore.Store.
func newSessionStore(cfg config.PreferenceConfig) (store.SnapshotStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres", "mysql", "sqlite":
		dialect := sqlstore.Dialect(cfg.Driver)
		driverName := cfg.Driver
		if dialect == sqlstore.DialectPostgres {
			driverName = "postgres"
		} else if dialect == sqlstore.DialectSQLite {
			driverName = "sqlite3"
		}
		db, err := sql.Open(driverName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
		}
		tableCfg := sqlstore.DefaultTableConfig()
		if _, err := db.Exec(sqlstore.MigrationUp(dialect, tableCfg)); err != nil {
			return nil, fmt.Errorf("running %s migrations: %w", cfg.Driver, err)
		}
		return sqlstore.New(db, dialect), nil
	default:
		return nil, fmt.Errorf("unknown preference store driver %q", cfg.Driver)
	}
}
