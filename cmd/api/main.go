package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/emilyzhang/revisit/api"
	"github.com/emilyzhang/revisit/config"
	"github.com/emilyzhang/revisit/crawlerdb"
	"github.com/emilyzhang/revisit/logging"
)

func main() {
	// Get configuration.
	configPath := flag.String("config", config.DefaultPath, "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.Env, "revisit-api")
	flush, err := logging.InitSentry(cfg.SentryDSN, cfg.Env)
	if err != nil {
		log.Warn().Err(err).Msg("Error reporting disabled")
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := crawlerdb.OpenWithRetry(ctx, cfg.DBPath, 3)
	if err != nil {
		log.Error().Err(err).Msg("Unable to start API server")
		return
	}
	defer db.Close()

	// Create api server and run it.
	if err := api.New(db, cfg.APIAddr).Start(ctx); err != nil {
		log.Error().Err(err).Msg("API server stopped")
	}
}
