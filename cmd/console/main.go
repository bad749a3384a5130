package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/device_mapper/internal/app"
	"github.com/relabs-tech/device_mapper/internal/config"
)

func main() {
	configPath := flag.String("config", "./mapper_config.txt", "path to configuration file")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("starting device mapper (mock console)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsole(ctx, config.Get(), os.Stdout); err != nil && ctx.Err() == nil {
		log.Fatalf("fatal: %v", err)
	}
}
