package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mealiemate/internal/app"
	"mealiemate/internal/config"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	envLoaded := godotenv.Load() == nil

	cfg := config.FromEnv()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !envLoaded {
		logger.Warn("No .env file found, using environment variables")
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting MealieMate",
		zap.String("broker", cfg.BrokerAddr()),
		zap.String("discovery_prefix", cfg.DiscoveryPrefix),
		zap.String("mealie_url", cfg.MealieURL),
		zap.Int("api_port", cfg.APIPort))

	application := app.New(cfg, logger)
	application.RegisterService(mealie.ServiceName, mealie.NewClient(cfg.MealieURL, cfg.MealieToken, logger))
	application.RegisterService(gpt.ServiceName, gpt.NewClient("", cfg.OpenAIKey, cfg.OpenAIModel, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Fatal("Application failed", zap.Error(err))
	}

	logger.Info("Goodbye")
}

// newLogger builds a production logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	return zapConfig.Build()
}
