package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/persona-voice/backend/internal/app"
	"github.com/zhouzirui/persona-voice/backend/internal/config"
	"github.com/zhouzirui/persona-voice/backend/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.Log)
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	status, err := app.New(cfg, logger).Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	if status == app.StatusAlreadyRunning {
		logger.Info().Msg("another instance holds the lock, nothing to do")
	}
}
