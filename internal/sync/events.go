package sync

import (
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// EventType names a synchronization event.
type EventType string

const (
	EventSyncStarted   EventType = "sync.started"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"
	EventRecordChanged EventType = "record.changed"
	EventQueueDrained  EventType = "queue.drained"
)

// Event is delivered to the EventHandler.
type Event struct {
	Type      EventType         `json:"type"`
	UserID    string            `json:"userId,omitempty"`
	Kind      models.RecordKind `json:"kind,omitempty"`
	RecordID  string            `json:"recordId,omitempty"`
	Record    *models.Record    `json:"record,omitempty"`
	Result    *SyncResult       `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Data      interface{}       `json:"data,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// EventHandler receives events. It is called synchronously and must not
// block.
type EventHandler func(Event)

// SetEventHandler sets the event handler for sync notifications.
func (s *Synchronizer) SetEventHandler(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Emit delivers ev to the handler, if any.
func (s *Synchronizer) Emit(ev Event) {
	s.emit(ev)
}

func (s *Synchronizer) emit(ev Event) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = s.now()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("Event handler panicked", map[string]interface{}{
				"event": string(ev.Type),
				"panic": r,
			})
		}
	}()
	handler(ev)
}
