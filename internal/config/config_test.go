package config

import (
	"testing"
	"time"
)

func TestDefaultsLoadCleanly(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OfferTimeout != 10*time.Second || cfg.MaxRounds != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "3s")
	t.Setenv("DISPATCH_BASE_RADIUS_M", "1500")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,,")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OfferTimeout != 3*time.Second {
		t.Fatalf("offer timeout not overridden: %v", cfg.OfferTimeout)
	}
	if cfg.BaseRadiusM != 1500 {
		t.Fatalf("radius not overridden: %v", cfg.BaseRadiusM)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Fatalf("broker list not trimmed: %v", cfg.KafkaBrokers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not normalized: %s", cfg.LogLevel)
	}
}

func TestInvalidValuesAreJoined(t *testing.T) {
	t.Setenv("DISPATCH_OFFER_TIMEOUT", "soon")
	t.Setenv("DISPATCH_MAX_ROUNDS", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestRadiusFactorMustExpand(t *testing.T) {
	t.Setenv("DISPATCH_RADIUS_FACTOR", "1")
	if _, err := Load(); err == nil {
		t.Fatal("a non-expanding radius factor must be rejected")
	}
}
