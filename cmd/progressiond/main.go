// Package main runs the progression and reward ledger engine: XP deposits,
// level resolution, exactly-once reward crediting, and level-up notifications
// behind a REST API.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/progression_engine/internal/app/runtime"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	skipMigrate := flag.Bool("skip-migrate", false, "Skip schema migrations on startup")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("PROGRESSION_CONFIG", *configPath)
	}

	cfg, err := runtime.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appRuntime, err := runtime.NewApplication(cfg, !*skipMigrate)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting progression engine on %s:%d", cfg.Server.Host, cfg.Server.Port)
	runErr := appRuntime.Run(ctx)

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := appRuntime.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if runErr != nil {
		log.Fatalf("Server error: %v", runErr)
	}
	log.Println("Progression engine stopped")
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[progressiond] ")
}
