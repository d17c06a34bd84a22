package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for both the API server and the
// dispatcher. Values are primarily loaded from environment variables with
// sane defaults so either binary can run locally without excessive setup.
type Config struct {
	HTTPAddr        string
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaGroup   string

	PGDSN string

	CandidatesPerRound int
	OfferTimeout       time.Duration
	BaseRadiusM        float64
	RadiusFactor       float64
	MaxRounds          int

	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	FareBase   float64
	FarePerKm  float64
	FarePerMin float64
	SpeedMps   float64
	OSRMAddr   string

	PushEndpoint string
	Workers      int

	LogLevel      string
	RunMigrations bool
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:           ":8080",
		MetricsAddr:        ":2112",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaGroup:         "ride-dispatch",
		CandidatesPerRound: 5,
		OfferTimeout:       10 * time.Second,
		BaseRadiusM:        2000,
		RadiusFactor:       2,
		MaxRounds:          3,
		HeartbeatTimeout:   30 * time.Second,
		SweepInterval:      10 * time.Second,
		FareBase:           2.5,
		FarePerKm:          1.2,
		FarePerMin:         0.3,
		SpeedMps:           10,
		Workers:            16,
		LogLevel:           "info",
	}
}

func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.CandidatesPerRound, "DISPATCH_CANDIDATES_PER_ROUND", &errs)
	setDurationFromEnv(&cfg.OfferTimeout, "DISPATCH_OFFER_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.BaseRadiusM, "DISPATCH_BASE_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.RadiusFactor, "DISPATCH_RADIUS_FACTOR", &errs)
	setIntFromEnv(&cfg.MaxRounds, "DISPATCH_MAX_ROUNDS", &errs)

	setDurationFromEnv(&cfg.HeartbeatTimeout, "DRIVER_HEARTBEAT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "DRIVER_SWEEP_INTERVAL", &errs)

	setFloatFromEnv(&cfg.FareBase, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.FarePerKm, "FARE_PER_KM", &errs)
	setFloatFromEnv(&cfg.FarePerMin, "FARE_PER_MIN", &errs)
	setFloatFromEnv(&cfg.SpeedMps, "FARE_DEFAULT_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.OSRMAddr, "OSRM_ADDR")

	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	setIntFromEnv(&cfg.Workers, "DISPATCH_WORKERS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.CandidatesPerRound <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CANDIDATES_PER_ROUND must be > 0"))
	}
	if cfg.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_ROUNDS must be > 0"))
	}
	if cfg.RadiusFactor <= 1 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_FACTOR must be > 1"))
	}
	if cfg.Workers <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_WORKERS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
