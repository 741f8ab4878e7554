package telemetry

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/pagewize/internal/config"
	"github.com/getsentry/sentry-go"
)

// SetupSentry initialises error reporting when a DSN is configured. The
// returned flush func is safe to call either way.
func SetupSentry(cfg config.SentryConfig, release string, logger *log.Logger) (func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logf(logger, "sentry disabled")
		return func() {}, nil
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	logf(logger, "sentry enabled environment=%s", cfg.Environment)

	return func() { sentry.Flush(2 * time.Second) }, nil
}
