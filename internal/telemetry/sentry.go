// Package telemetry forwards enhanced errors to Sentry.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
)

// reportedCategories are forwarded to Sentry. Network failures are the
// normal offline case and validation errors are the caller's fault, so
// neither is reported.
var reportedCategories = map[errors.Category]bool{
	errors.CategoryGeneric:       true,
	errors.CategoryStorage:       true,
	errors.CategoryDatabase:      true,
	errors.CategoryConfiguration: true,
	errors.CategoryLifecycle:     true,
}

// Reporter sends errors to a Sentry hub.
type Reporter struct {
	hub *sentry.Hub
	log logger.Logger
}

// Option configures client options before the client is created.
type Option func(*sentry.ClientOptions)

// WithBeforeSend installs a hook that sees every event before delivery.
// Returning nil drops the event.
func WithBeforeSend(fn func(*sentry.Event, *sentry.EventHint) *sentry.Event) Option {
	return func(o *sentry.ClientOptions) { o.BeforeSend = fn }
}

// Init creates a reporter and installs it as the errors package reporter.
// It returns nil, nil when no DSN is configured.
func Init(settings conf.SentrySettings, release string, log logger.Logger, opts ...Option) (*Reporter, error) {
	if settings.DSN == "" {
		return nil, nil
	}
	if log == nil {
		log = logger.Global().Module("telemetry")
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          release,
		AttachStacktrace: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("key", "sentry.dsn").
			Build()
	}

	r := &Reporter{hub: sentry.NewHub(client, sentry.NewScope()), log: log}
	errors.SetReporter(r.Report)
	log.Info("sentry error reporting enabled", logger.String("environment", settings.Environment))
	return r, nil
}

// Report sends e to Sentry if its category is reportable.
func (r *Reporter) Report(e *errors.EnhancedError) {
	if r == nil || e == nil || !reportedCategories[e.GetCategory()] {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", e.GetComponent())
		scope.SetTag("category", string(e.GetCategory()))
		if ctx := e.GetContext(); len(ctx) > 0 {
			scope.SetContext("error", ctx)
		}
		r.hub.CaptureException(e)
	})
}

// Close uninstalls the reporter and flushes pending events.
func (r *Reporter) Close(timeout time.Duration) {
	if r == nil {
		return
	}
	errors.SetReporter(nil)
	if !r.hub.Flush(timeout) {
		r.log.Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
}
