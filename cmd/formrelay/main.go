// Package main runs formrelay: an HTTP form front end that relays
// submissions over UDP to an ingestion listener which stores them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/formrelay/internal/app"
	"github.com/R3E-Network/formrelay/internal/config"
	"github.com/R3E-Network/formrelay/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file (optional)")
		envFile    = flag.String("env", ".env", "Path to .env file (ignored if missing)")
	)
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		log.Fatalf("formrelay: %v", err)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	appLog := logger.New("formrelay", logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			appLog.WithError(err).Warn("store close failed")
		}
	}()

	return application.Run(ctx)
}
