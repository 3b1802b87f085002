package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/propdesk/propdesk/internal/app"
	"github.com/propdesk/propdesk/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	createFor := flag.String("create-challenge", "", "create a challenge for the given user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "propdesk: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "propdesk: invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *createFor != "" {
		ch, err := app.CreateChallenge(ctx, cfg, logger, *createFor)
		if err != nil {
			logger.Error("create challenge failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("challenge created",
			slog.String("challenge_id", ch.ID),
			slog.String("user_id", ch.UserID),
			slog.Float64("starting_balance", ch.StartingBalance),
		)
		return
	}

	if err := app.Run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
