package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/emilyzhang/revisit/config"
	"github.com/emilyzhang/revisit/crawlerdb"
	"github.com/emilyzhang/revisit/graphcrawler"
	"github.com/emilyzhang/revisit/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, metricsAddr string
	cmd := &cobra.Command{
		Use:   "crawler [url] [pattern]",
		Short: "Incrementally crawl a site, keeping its link graph up to date",
		Long: `With no arguments, every stale page on record is queued for a revisit.
With a url, that url is crawled unconditionally. With a url and a pattern, the
pattern is resolved against the url and discovered links containing it are
crawled recursively. The queue is drained before the command exits.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, metricsAddr, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while crawling")
	return cmd
}

func run(ctx context.Context, configPath, metricsAddr string, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, cfg.Env, "revisit-crawler")
	flush, err := logging.InitSentry(cfg.SentryDSN, cfg.Env)
	if err != nil {
		log.Warn().Err(err).Msg("Error reporting disabled")
	}
	defer flush()

	db, err := crawlerdb.OpenWithRetry(ctx, cfg.DBPath, 3)
	if err != nil {
		return fmt.Errorf("Unable to start crawler: %w", err)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	metrics := graphcrawler.NewMetrics(reg)
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg)
		defer srv.Close()
	}

	c := graphcrawler.New(db, cfg.Domain, cfg.ShelfLifeDuration(),
		graphcrawler.WithFetcher(graphcrawler.NewHTTPFetcher(cfg.FetchTimeoutDuration(), cfg.UserAgent)),
		graphcrawler.WithMetrics(metrics),
	)

	start := time.Now()
	if err := enqueueArgs(ctx, c, db, args); err != nil {
		return err
	}
	stats, err := c.Run(ctx)
	log.Info().
		Int("processed", stats.Processed).
		Int("fetched", stats.Fetched).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Dur("runtime", time.Since(start)).
		Msg("Crawl finished")
	return err
}

// enqueueArgs turns the positional arguments into the starting tasks: none
// seeds stale pages, a url queues a forced crawl of it, and a url with a
// pattern queues a forced crawl scoped to the resolved pattern.
func enqueueArgs(ctx context.Context, c *graphcrawler.GraphCrawler, db *crawlerdb.DB, args []string) error {
	switch len(args) {
	case 0:
		_, err := c.Seed(ctx)
		return err
	case 1:
		return db.EnqueueTask(ctx, args[0], "", true)
	default:
		pattern, err := graphcrawler.ResolvePattern(args[0], args[1])
		if err != nil {
			return err
		}
		return db.EnqueueTask(ctx, args[0], pattern, true)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	return srv
}
