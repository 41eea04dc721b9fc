package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emilyzhang/revisit/crawlerdb"
)

// Server represents an API server containing a database client and a logger.
type Server struct {
	Logger   zerolog.Logger
	db       *crawlerdb.DB
	addr     string
	registry *prometheus.Registry
}

// New creates a new API Server listening on addr.
func New(db *crawlerdb.DB, addr string) *Server {
	s := &Server{
		Logger:   log.With().Str("component", "api").Logger(),
		db:       db,
		addr:     addr,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "revisit",
			Name:      "queue_length",
			Help:      "Crawl tasks waiting in the queue.",
		}, s.gauge(s.db.QueueLength)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "revisit",
			Name:      "pages",
			Help:      "Page records in the store.",
		}, s.gauge(s.db.PageCount)),
	)
	return s
}

func (s *Server) gauge(count func(context.Context) (int, error)) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := count(ctx)
		if err != nil {
			s.Logger.Error().Err(err).Msg("Unable to collect gauge")
			return 0
		}
		return float64(n)
	}
}

// Handler returns the http handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.router)
	return mux
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", s.addr).Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
