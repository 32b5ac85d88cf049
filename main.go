package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"arenaclash/server/internal/config"
	"arenaclash/server/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "arena:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()
	logging.ReplaceGlobals(logger)

	server, err := NewServer(cfg, logger)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("arena starting",
		logging.Float("tick_hz", cfg.TickHz),
		logging.Bool("server_cooldowns", cfg.ServerCooldowns),
		logging.Bool("projectile_clash", cfg.ProjectileClash),
		logging.Int("bot_population", cfg.BotPopulation),
	)
	if err := server.Run(ctx); err != nil {
		logger.Error("arena stopped", logging.Error(err))
		return err
	}
	logger.Info("arena stopped")
	return nil
}
