// Package telemetry tests verify local logging and opt-in reporting.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
)

// TestIsEnabled verifies telemetry is disabled by default.
func TestIsEnabled(t *testing.T) {
	if IsEnabled() {
		t.Error("IsEnabled() should return false by default")
	}
}

// TestEnableTelemetry_optIn verifies a missing DSN or flag keeps it local.
func TestEnableTelemetry_optIn(t *testing.T) {
	if err := EnableTelemetry(Config{Enabled: true}); err != nil {
		t.Errorf("EnableTelemetry() without DSN = %v", err)
	}
	if err := EnableTelemetry(Config{DSN: "https://public@example.com/1"}); err != nil {
		t.Errorf("EnableTelemetry() without flag = %v", err)
	}
	if IsEnabled() {
		t.Error("telemetry must stay disabled without explicit opt-in")
	}
}

// TestTrackError_disabled verifies local-only tracking does not panic.
func TestTrackError_disabled(t *testing.T) {
	TrackError(KindCreateFailed, errors.New("put failed"), map[string]interface{}{"record_id": "m1"})
	TrackError(KindCreateFailed, nil, nil)
	TrackEvent("queue.drained", map[string]interface{}{"applied": 1})
	IdentifyUser("u1")
	if !Flush(0) {
		t.Error("Flush() should report success when disabled")
	}
}

// TestTrackError_enabled verifies events reach Sentry with kind and context.
func TestTrackError_enabled(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	beforeSend = func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil // drop before the transport
	}
	defer func() { beforeSend = nil }()

	if err := EnableTelemetry(Config{Enabled: true, DSN: "https://public@example.com/1", Environment: "test"}); err != nil {
		t.Fatalf("EnableTelemetry() failed: %v", err)
	}
	defer Shutdown(context.Background())

	if !IsEnabled() {
		t.Fatal("telemetry should be enabled")
	}

	TrackError(KindQueueTerminal, errors.New("rejected"), map[string]interface{}{"operation_id": "op-1"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Tags["kind"] != KindQueueTerminal {
		t.Errorf("kind tag = %q", events[0].Tags["kind"])
	}
	if events[0].Extra["operation_id"] != "op-1" {
		t.Errorf("extra = %v", events[0].Extra)
	}
}

// TestShutdown verifies Shutdown disables reporting.
func TestShutdown(t *testing.T) {
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if IsEnabled() {
		t.Error("telemetry should be disabled after Shutdown")
	}
}
