package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	app.ConfigureLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, app.Run); err != nil {
		log.WithError(err).Fatal("storefront terminated with error")
	}
	log.Info("storefront stopped")
}

// run запускает сервис; отмена контекста считается штатной остановкой.
func run(ctx context.Context, cfg app.Config, runFn func(context.Context, app.Config) error) error {
	log.WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"http_addr":      cfg.HTTPAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("starting storefront")

	if err := runFn(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
