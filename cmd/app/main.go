package main

import (
	"flag"
	"log"
	"os"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/di"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s symbol=%s ticks=%s history=%s",
		cfg.Environment, cfg.Symbol.TickerName(), cfg.Ticks.Backend, cfg.History.Source)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
