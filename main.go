package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/laster13/rdt-client/cmd/rdtclient"
	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/data", "path to the data folder")
	flag.Parse()

	config.SetConfigPath(configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdtclient.Start(ctx); err != nil {
		log := logger.Default()
		log.Error().Err(err).Msg("failed to start")
		os.Exit(1)
	}
}
