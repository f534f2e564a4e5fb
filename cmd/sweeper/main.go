// Command sweeper closes expired attendance sessions on a schedule. Run it
// when the API is deployed with SWEEP_IN_API=false.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/directory"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if cfg.Production() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		logger.Error("schema init failed", "error", err)
		os.Exit(1)
	}

	svc := attendance.NewService(attendance.NewRepository(db), directory.New(db), attendance.Options{
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
	})
	sweeper := attendance.NewSweeper(svc, cfg.SweepSchedule, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("sweeper start failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	select {
	case <-sweeper.Stop().Done():
	case <-time.After(10 * time.Second):
		logger.Warn("sweep still running at exit")
	}
	logger.Info("sweeper stopped")
}
