package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var rides store.RideStore
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgres(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		rides = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory ride store")
		rides = store.NewMemory()
	}

	var pub bus.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := bus.NewKafkaProducer(cfg.KafkaBrokers)
		defer kp.Close()
		pub = kp
	} else {
		logger.Warn("KAFKA_BROKERS not set, events go to an in-process bus with no consumers")
		pub = bus.NewMemory()
	}

	fare := &eta.FareModel{
		Base:     cfg.FareBase,
		PerKm:    cfg.FarePerKm,
		PerMin:   cfg.FarePerMin,
		SpeedMps: cfg.SpeedMps,
	}
	if cfg.OSRMAddr != "" {
		fare.Road = eta.NewOSRMClient(cfg.OSRMAddr)
		fare.Cache = eta.NewCache(5 * time.Minute)
	}

	clk := clock.Real{}
	coord := lifecycle.NewCoordinator(rides, pub, clk, fare, logger)
	api := httpapi.NewServer(coord, rides, pub, clk, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
