package main

import (
	"context"
	"flag"
	"log"
	"os"

	"meterrelay/internal/app"
	"meterrelay/internal/config"
	"meterrelay/internal/logger"
)

func main() {
	envFile := flag.String("env", "", "Path to a .env file (default: ./.env if present)")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	l, err := logger.New(cfg.LogDirectory, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer l.Close()

	application, err := app.New(context.Background(), cfg, l)
	if err != nil {
		l.Error("%v", err)
		l.Close()
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Run(context.Background(), *once); err != nil {
		l.Error("meterrelay stopped: %v", err)
		application.Close()
		l.Close()
		os.Exit(1)
	}
}
