// Package telemetry wires optional Sentry error reporting into the errors package.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kmakela/gearbase/internal/conf"
	"github.com/kmakela/gearbase/internal/errors"
)

var initialized bool

// Init initializes Sentry and registers the telemetry reporter with the
// errors package. Disabled telemetry is a no-op, not an error.
func Init(settings *conf.Settings) error {
	if settings == nil || !settings.Sentry.Enabled {
		errors.SetTelemetryReporter(errors.NewSentryReporter(false))
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // Explicitly clear server name to prevent hostname leakage

		Release: fmt.Sprintf("gearbase@%s", settings.Version),
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true
	return nil
}

// Flush waits for buffered events to be sent, bounded by the given timeout.
func Flush(timeout time.Duration) {
	if initialized {
		sentry.Flush(timeout)
	}
}
