// Package telemetry records sync failures as analytics events.
// Every event is logged locally. Nothing leaves the device unless telemetry
// was enabled with a DSN; then errors are also reported to Sentry.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

// Error kinds reported by the sync core.
const (
	KindCreateFailed  = "create_failed"
	KindUpdateFailed  = "update_failed"
	KindDeleteFailed  = "delete_failed"
	KindSyncFailed    = "sync_failed"
	KindQueueTerminal = "queue_terminal"
	KindIntegrity     = "integrity"
)

// Config enables remote reporting.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

var (
	mu      sync.RWMutex
	enabled bool

	// beforeSend lets tests observe events without a transport.
	beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
)

// IsEnabled reports whether events are sent to Sentry.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// EnableTelemetry initializes Sentry. Without cfg.Enabled and a DSN it is a
// no-op and telemetry stays local.
func EnableTelemetry(cfg Config) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           cfg.DSN,
		Environment:   cfg.Environment,
		Release:       cfg.Release,
		EnableTracing: false,
		BeforeSend:    beforeSend,
	})
	if err != nil {
		logging.Error("Failed to initialize Sentry", err)
		return err
	}

	mu.Lock()
	enabled = true
	mu.Unlock()
	logging.Info("Telemetry enabled", map[string]interface{}{"environment": cfg.Environment})
	return nil
}

// DisableTelemetry stops remote reporting.
func DisableTelemetry() error {
	mu.Lock()
	wasEnabled := enabled
	enabled = false
	mu.Unlock()
	if wasEnabled {
		sentry.Flush(2 * time.Second)
		sentry.CurrentHub().BindClient(nil)
	}
	return nil
}

// TrackError records an error of the given kind.
func TrackError(kind string, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	logging.ErrorWithCode("Analytics error", kind, err, context)

	if !IsEnabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", kind)
		for k, v := range context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// TrackEvent records a named event.
func TrackEvent(name string, properties map[string]interface{}) {
	logging.Debug("Analytics event", map[string]interface{}{"event": name}, properties)

	if !IsEnabled() {
		return
	}
	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  "sync",
		Message:   name,
		Data:      properties,
		Timestamp: time.Now(),
	})
}

// IdentifyUser attaches a user id to subsequent reports.
func IdentifyUser(userID string) {
	if !IsEnabled() {
		return
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: userID})
	})
}

// Flush waits for queued reports.
func Flush(timeout time.Duration) bool {
	if !IsEnabled() {
		return true
	}
	return sentry.Flush(timeout)
}

// Shutdown flushes and disables reporting.
func Shutdown(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	Flush(timeout)
	return DisableTelemetry()
}
