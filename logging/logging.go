// Package logging configures the global zerolog logger and optional Sentry
// error reporting for the command line entry points.
package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup sets the global log level and output. Development environments get a
// human readable console writer; everything else logs JSON to stdout. An
// unknown level falls back to info.
func Setup(level, env, service string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// InitSentry enables error reporting when dsn is set. The returned function
// flushes buffered events and must be called before exit.
func InitSentry(dsn, env string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return func() {}, fmt.Errorf("failed to initialise sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
