package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/availability"
	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/clock"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/store"
)

// The dispatcher consumes the ride and heartbeat topics, maintains the
// availability index, runs the matching engine, and serves the driver-facing
// websocket/respond API.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	clk := clock.Real{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var index availability.Index
	if cfg.RedisAddr != "" {
		index = availability.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, clk, cfg.HeartbeatTimeout)
	} else {
		grid := availability.NewGrid(geo.Haversine, clk, cfg.HeartbeatTimeout)
		go grid.RunSweeper(ctx.Done(), cfg.SweepInterval)
		index = grid
	}

	memBus := bus.NewMemory()
	var pub bus.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := bus.NewKafkaProducer(cfg.KafkaBrokers)
		defer kp.Close()
		pub = kp
	} else {
		logger.Warn("KAFKA_BROKERS not set, running on the in-process bus")
		pub = memBus
	}

	coord := lifecycle.NewCoordinator(rides, pub, clk, nil, logger)

	wsreg := notify.NewWSRegistry()
	notifier := notify.NewPushNotifier(cfg.PushEndpoint, wsreg)

	engine := dispatch.NewEngine(coord, index, notifier, clk, dispatch.Config{
		CandidatesPerRound: cfg.CandidatesPerRound,
		OfferTimeout:       cfg.OfferTimeout,
		BaseRadiusM:        cfg.BaseRadiusM,
		RadiusFactor:       cfg.RadiusFactor,
		MaxRounds:          cfg.MaxRounds,
	}, logger)

	router := dispatch.NewRouter(engine, index, logger)
	processor := payments.NewProcessor(payments.NewStripeClient(), "usd", logger)

	if len(cfg.KafkaBrokers) > 0 {
		dispatchPool := bus.NewPool(cfg.Workers, 256, router.Handle)
		go dispatchPool.Run(ctx)
		dispatchConsumer := bus.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, dispatchPool, logger)
		go dispatchConsumer.Run(ctx, router.Topics()...)

		// payments keep their own consumer group so the dispatch path
		// never waits on the payment provider
		payPool := bus.NewPool(cfg.Workers, 256, processor.Handle)
		go payPool.Run(ctx)
		payConsumer := bus.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroup+"-payments", payPool, logger)
		go payConsumer.Run(ctx, processor.Topics()...)
	} else {
		memBus.Subscribe(router.Handle, router.Topics()...)
		memBus.Subscribe(processor.Handle, processor.Topics()...)
	}

	api := httpapi.NewDriverAPI(engine, wsreg, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("dispatcher listening", "addr", cfg.HTTPAddr,
			"topics", events.RideTopics, "offer_timeout", cfg.OfferTimeout)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	engine.Wait()
}
