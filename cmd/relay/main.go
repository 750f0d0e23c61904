package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"aircast/internal/relay"
	"aircast/internal/signaling/memory"
	"aircast/pkg/config"
	"aircast/pkg/logger"
	"aircast/pkg/tracing"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zl.Sync()
	logg := zl.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "aircast-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logg.Fatalw("failed to initialize tracing", "error", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(memory.New(logg), logg)
	server := relay.NewServer(relay.Config{
		Address:           cfg.Relay.Address,
		ShutdownTimeout:   cfg.Relay.ShutdownTimeout,
		RateLimitEnabled:  cfg.Relay.RateLimiting.Enabled,
		RequestsPerSec:    cfg.Relay.RateLimiting.RequestsPerSecond,
		Burst:             cfg.Relay.RateLimiting.Burst,
		AdminSecret:       cfg.Relay.Auth.AdminSecret,
		TokenTTL:          cfg.Relay.Auth.TokenTTL,
		PrometheusEnabled: cfg.Monitoring.PrometheusEnabled,
	}, hub, logg)

	if err := server.Run(ctx); err != nil {
		logg.Fatalw("relay server failed", "error", err)
	}
}
