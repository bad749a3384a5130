package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/app"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/observability"
)

func main() {
	configPath := flag.String("config", "./mapper_config.txt", "path to configuration file")
	flag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger := observability.MustLogger(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting GPS producer (NMEA → MQTT)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunGPSProducer(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}
