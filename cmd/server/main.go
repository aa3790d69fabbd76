package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	gatehandler "exeat/internal/gate/handler"
	gatemetrics "exeat/internal/gate/metrics"
	gateservice "exeat/internal/gate/service"
	gatestore "exeat/internal/gate/store"
	"exeat/internal/notify"
	permithandler "exeat/internal/permit/handler"
	permitmetrics "exeat/internal/permit/metrics"
	permitservice "exeat/internal/permit/service"
	permitstore "exeat/internal/permit/store"
	"exeat/internal/platform/config"
	"exeat/internal/platform/database"
	"exeat/internal/platform/health"
	"exeat/internal/platform/logger"
	"exeat/internal/qrtoken"
	"exeat/internal/sweeper"
	httptransport "exeat/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	issuer, err := qrtoken.New(cfg.QRSecret)
	if err != nil {
		return err
	}

	healthHandler := health.New(os.Getenv("ENVIRONMENT"))

	// Backing store selection: postgres when DATABASE_URL is set, sqlite for
	// single-node deployments, in-memory for local development.
	var (
		permits permitstore.Store
		gates   gatestore.Store
	)
	switch {
	case cfg.DatabaseURL != "":
		poolCfg := database.DefaultConfig()
		poolCfg.URL = cfg.DatabaseURL
		pool, err := database.New(ctx, poolCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		healthHandler.RegisterCheck("database", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(checkCtx)
		})
		permits = permitstore.NewPostgres(pool.DB())
		gates = gatestore.NewPostgres(pool.DB())
		log.Info("using postgres store")
	case cfg.SQLitePath != "":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		healthHandler.RegisterCheck("database", sqliteCheck(db))
		permits = permitstore.NewSQLite(db)
		gates = gatestore.NewSQLite(db)
		log.Info("using sqlite store", "path", cfg.SQLitePath)
	default:
		mem := permitstore.NewMemory()
		permits = mem
		gates = gatestore.NewMemory(mem)
		log.Warn("using in-memory store; data will not survive a restart")
	}

	var notifier notify.Notifier = notify.NewLog(log)
	if cfg.NotifyBrokers != "" {
		kafkaNotifier, err := notify.NewKafka(cfg.NotifyBrokers, cfg.NotifyTopic, log)
		if err != nil {
			return err
		}
		defer kafkaNotifier.Close()
		healthHandler.RegisterCheck("kafka", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return kafkaNotifier.Healthy(checkCtx)
		})
		notifier = kafkaNotifier
		log.Info("notifications publishing to kafka", "topic", cfg.NotifyTopic)
	}

	permitSvc := permitservice.NewService(permits, issuer, log,
		permitservice.WithMetrics(permitmetrics.New()),
		permitservice.WithNotifier(notifier),
	)
	gateSvc := gateservice.NewService(gates, log,
		gateservice.WithMetrics(gatemetrics.New()),
	)

	worker := sweeper.New(permitSvc, log,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithTimeout(cfg.SweepTimeout),
	)

	router := httptransport.NewRouter(httptransport.Deps{
		Permits: permithandler.New(permitSvc, log),
		Gate:    gatehandler.New(gateSvc, log),
		Sweep:   sweeper.NewHandler(permitSvc, cfg.SweepSecretHash, cfg.SweepTimeout, log),
		Health:  healthHandler,
	}, []byte(cfg.JWTSigningKey), log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker.Start()
	log.Info("starting http server", "addr", cfg.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := worker.Stop(shutdownCtx); err != nil {
			log.Error("sweep worker shutdown failed", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func sqliteCheck(db *sql.DB) health.CheckFunc {
	return func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(checkCtx)
	}
}
