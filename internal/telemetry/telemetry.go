// Package telemetry wires optional, privacy-scrubbed error reporting.
// Reporting is opt-in; interview material never leaves the machine.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/Jegerchristiank/transkriptor/internal/conf"
	"github.com/Jegerchristiank/transkriptor/internal/errors"
	"github.com/Jegerchristiank/transkriptor/internal/logging"
)

// Init initializes the Sentry SDK and registers it as the error reporter.
// With telemetry disabled it clears any previous reporter and returns nil.
func Init(settings *conf.Settings) error {
	if !settings.Telemetry.Enabled {
		errors.SetTelemetryReporter(nil)
		return nil
	}
	if settings.Telemetry.DSN == "" {
		return errors.Newf("telemetry enabled but no DSN configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Telemetry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Events carry only component, category and a scrubbed message.
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",

		Release: fmt.Sprintf("transkriptor@%s", settings.Version),

		BeforeSend: beforeSend,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	logging.Info("Telemetry initialized", "release", settings.Version)
	return nil
}

// beforeSend strips anything that could identify the machine or the
// interview material before an event leaves the process.
func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// Flush drains buffered events before the process exits.
func Flush(timeout time.Duration) {
	settings := conf.GetSettings()
	if settings == nil || !settings.Telemetry.Enabled {
		return
	}
	sentry.Flush(timeout)
}
