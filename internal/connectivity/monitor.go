// Package connectivity tracks whether the remote store is reachable and runs
// reconnect work when the device comes back online.
package connectivity

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"

	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/metrics"
)

// State is a connectivity state.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// ReconnectHandler runs after an offline to online transition.
type ReconnectHandler func(ctx context.Context)

// ChangeListener observes every state change.
type ChangeListener func(from, to State)

// Monitor is the connectivity state machine. Repeated events in the same
// state are no-ops.
type Monitor struct {
	machine *fsm.FSM

	mu        sync.Mutex
	reconnect []ReconnectHandler
	listeners []ChangeListener
	baseCtx   context.Context
	wg        sync.WaitGroup
}

// NewMonitor creates a Monitor in the unknown state. Reconnect handlers run
// under ctx.
func NewMonitor(ctx context.Context) *Monitor {
	m := &Monitor{baseCtx: context.WithoutCancel(ctx)}
	m.machine = fsm.NewFSM(
		string(StateUnknown),
		fsm.Events{
			{Name: EventConnected, Src: []string{string(StateUnknown), string(StateOffline), string(StateOnline)}, Dst: string(StateOnline)},
			{Name: EventDisconnected, Src: []string{string(StateUnknown), string(StateOnline), string(StateOffline)}, Dst: string(StateOffline)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.entered(State(e.Src), State(e.Dst))
			},
		},
	)
	metrics.SetConnectivity(string(StateUnknown))
	return m
}

// OnReconnect registers h. Handlers run in registration order.
func (m *Monitor) OnReconnect(h ReconnectHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnect = append(m.reconnect, h)
}

// OnChange registers fn for every state change.
func (m *Monitor) OnChange(fn ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// entered runs inside the fsm transition, so reconnect work is started on
// its own goroutine.
func (m *Monitor) entered(from, to State) {
	metrics.SetConnectivity(string(to))
	logging.Info("Connectivity changed", map[string]interface{}{"from": string(from), "to": string(to)})

	m.mu.Lock()
	listeners := append([]ChangeListener(nil), m.listeners...)
	handlers := append([]ReconnectHandler(nil), m.reconnect...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(from, to)
	}

	if from != StateOffline || to != StateOnline || len(handlers) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, h := range handlers {
			h(m.baseCtx)
		}
	}()
}

// SetOnline feeds an observation into the state machine and reports whether
// the state changed.
func (m *Monitor) SetOnline(ctx context.Context, online bool) bool {
	event := EventDisconnected
	if online {
		event = EventConnected
	}
	err := m.machine.Event(ctx, event)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	if !errors.As(err, &noTransition) {
		logging.Warn("Connectivity event rejected", map[string]interface{}{"event": event, "error": err.Error()})
	}
	return false
}

// State returns the current state.
func (m *Monitor) State() State {
	return State(m.machine.Current())
}

// IsOnline reports whether remote calls should be attempted. The unknown
// state counts as online.
func (m *Monitor) IsOnline() bool {
	return m.State() != StateOffline
}

// Wait blocks until running reconnect handlers finish.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
