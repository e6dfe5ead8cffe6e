package remote

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Subscriptions keeps at most one live subscription per document.
// Subscribing to a document again cancels the previous subscription first.
type Subscriptions struct {
	store Store

	mu   sync.Mutex
	subs map[string]func()
}

// NewSubscriptions creates a registry over store.
func NewSubscriptions(store Store) *Subscriptions {
	return &Subscriptions{store: store, subs: make(map[string]func())}
}

func subKey(userID string, kind models.RecordKind, id string) string {
	return fmt.Sprintf("%s/%s/%s", userID, kind, id)
}

// Subscribe replaces any existing subscription for the document.
func (s *Subscriptions) Subscribe(ctx context.Context, userID string, kind models.RecordKind, id string, fn SnapshotFunc) error {
	key := subKey(userID, kind, id)
	s.Cancel(userID, kind, id)

	unsubscribe, err := s.store.Subscribe(ctx, userID, kind, id, fn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.subs[key]
	s.subs[key] = unsubscribe
	s.mu.Unlock()

	// a concurrent Subscribe for the same key lost the race
	if prev != nil {
		prev()
	}
	return nil
}

// Cancel ends the subscription for a document, if any.
func (s *Subscriptions) Cancel(userID string, kind models.RecordKind, id string) {
	key := subKey(userID, kind, id)
	s.mu.Lock()
	unsubscribe := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// CancelAll ends every subscription.
func (s *Subscriptions) CancelAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func())
	s.mu.Unlock()
	for _, unsubscribe := range subs {
		unsubscribe()
	}
}

// Len returns the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// PollingWatcher delivers document changes by reading every watched document
// on each Poll. It works against any Store and is fully deterministic.
type PollingWatcher struct {
	store Store

	mu      sync.Mutex
	watches map[string]*watch
}

type watch struct {
	userID string
	kind   models.RecordKind
	id     string
	fn     SnapshotFunc
	last   models.Fields
	seen   bool
}

// NewPollingWatcher creates a watcher over store.
func NewPollingWatcher(store Store) *PollingWatcher {
	return &PollingWatcher{store: store, watches: make(map[string]*watch)}
}

// Watch registers fn for a document, replacing an earlier watch of it.
// The first Poll delivers the current state.
func (w *PollingWatcher) Watch(userID string, kind models.RecordKind, id string, fn SnapshotFunc) (unwatch func()) {
	key := subKey(userID, kind, id)
	wt := &watch{userID: userID, kind: kind, id: id, fn: fn}

	w.mu.Lock()
	w.watches[key] = wt
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		if w.watches[key] == wt {
			delete(w.watches, key)
		}
		w.mu.Unlock()
	}
}

// Poll reads every watched document and calls back where the state changed
// since the last delivery. Documents are visited in key order.
func (w *PollingWatcher) Poll(ctx context.Context) error {
	w.mu.Lock()
	keys := make([]string, 0, len(w.watches))
	for k := range w.watches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	watches := make([]*watch, 0, len(keys))
	for _, k := range keys {
		watches = append(watches, w.watches[k])
	}
	w.mu.Unlock()

	for _, wt := range watches {
		fields, err := w.store.Get(ctx, wt.userID, wt.kind, wt.id)
		if err != nil && !apperrors.IsNotFound(err) {
			return err
		}
		if wt.seen && reflect.DeepEqual(fields, wt.last) {
			continue
		}
		wt.seen = true
		wt.last = fields
		wt.fn(fields)
	}
	return nil
}

// Len returns the number of watched documents.
func (w *PollingWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}
