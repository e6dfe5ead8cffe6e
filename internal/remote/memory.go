package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Operation names used for scripted failures and call counters.
const (
	OpPut    = "put"
	OpGet    = "get"
	OpDelete = "delete"
	OpQuery  = "query"
	OpList   = "list"
)

// MemoryStore is a deterministic in-process Store with fault injection.
// Subscribers are notified synchronously on every write.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]models.Fields
	subs    map[string]map[int]SnapshotFunc
	nextSub int

	offline       bool
	indexNotReady bool
	loseWrites    bool
	scripted      map[string][]error
	calls         map[string]int

	// ListHook may rewrite List results, e.g. to inject duplicates.
	ListHook func([]Document) []Document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]models.Fields),
		subs:     make(map[string]map[int]SnapshotFunc),
		scripted: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func docPath(userID string, kind models.RecordKind, id string) string {
	return fmt.Sprintf("users/%s/%s/%s", userID, kind.Collection(), id)
}

func collectionPrefix(userID string, kind models.RecordKind) string {
	return fmt.Sprintf("users/%s/%s/", userID, kind.Collection())
}

func cloneFields(f models.Fields) models.Fields {
	if f == nil {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		panic(fmt.Sprintf("clone fields: %v", err))
	}
	var out models.Fields
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("clone fields: %v", err))
	}
	return out
}

// mergeFields merges src into dst, recursing into nested maps.
func mergeFields(dst, src map[string]interface{}) {
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				mergeFields(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// SetOffline makes every call fail with a connectivity error.
func (m *MemoryStore) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// SetIndexNotReady makes QueryRange fail with INDEX_NOT_READY.
func (m *MemoryStore) SetIndexNotReady(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexNotReady = v
}

// SetLoseWrites makes Put acknowledge without storing.
func (m *MemoryStore) SetLoseWrites(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loseWrites = v
}

// FailNext scripts the next len(errs) calls of op to fail with errs in order.
func (m *MemoryStore) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[op] = append(m.scripted[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Seed writes a document directly, bypassing faults and counters, and
// notifies subscribers. Tests use it to simulate edits from another device.
func (m *MemoryStore) Seed(userID string, kind models.RecordKind, id string, fields models.Fields) {
	m.mu.Lock()
	path := docPath(userID, kind, id)
	m.docs[path] = cloneFields(fields)
	notify := m.snapshotCallbacks(path)
	m.mu.Unlock()
	notify()
}

// Remove deletes a document directly, bypassing faults and counters.
func (m *MemoryStore) Remove(userID string, kind models.RecordKind, id string) {
	m.mu.Lock()
	path := docPath(userID, kind, id)
	delete(m.docs, path)
	notify := m.snapshotCallbacks(path)
	m.mu.Unlock()
	notify()
}

// Doc returns a copy of a stored document, or nil.
func (m *MemoryStore) Doc(userID string, kind models.RecordKind, id string) models.Fields {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneFields(m.docs[docPath(userID, kind, id)])
}

// Len returns the number of stored documents in a collection.
func (m *MemoryStore) Len(userID string, kind models.RecordKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := collectionPrefix(userID, kind)
	n := 0
	for p := range m.docs {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// begin counts the call and returns an injected failure, if any.
// Must be called with mu held.
func (m *MemoryStore) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrConnectivity, op+" canceled", err)
	}
	if m.offline {
		return apperrors.New(apperrors.ErrConnectivity, "backend unreachable")
	}
	if queued := m.scripted[op]; len(queued) > 0 {
		err := queued[0]
		m.scripted[op] = queued[1:]
		return err
	}
	return nil
}

// snapshotCallbacks captures the subscribers of path with the current state.
// Must be called with mu held; the returned func runs them without it.
func (m *MemoryStore) snapshotCallbacks(path string) func() {
	subs := m.subs[path]
	if len(subs) == 0 {
		return func() {}
	}
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]SnapshotFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	current := m.docs[path]
	return func() {
		for _, fn := range fns {
			fn(cloneFields(current))
		}
	}
}

func (m *MemoryStore) Put(ctx context.Context, userID string, kind models.RecordKind, id string, fields models.Fields, merge bool) error {
	m.mu.Lock()
	if err := m.begin(ctx, OpPut); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.loseWrites {
		m.mu.Unlock()
		return nil
	}
	path := docPath(userID, kind, id)
	incoming := cloneFields(fields)
	if existing, ok := m.docs[path]; ok && merge {
		mergeFields(existing, incoming)
	} else {
		m.docs[path] = incoming
	}
	notify := m.snapshotCallbacks(path)
	m.mu.Unlock()
	notify()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string, kind models.RecordKind, id string) (models.Fields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpGet); err != nil {
		return nil, err
	}
	doc, ok := m.docs[docPath(userID, kind, id)]
	if !ok {
		return nil, notFound(kind, id)
	}
	return cloneFields(doc), nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string, kind models.RecordKind, id string) error {
	m.mu.Lock()
	if err := m.begin(ctx, OpDelete); err != nil {
		m.mu.Unlock()
		return err
	}
	path := docPath(userID, kind, id)
	delete(m.docs, path)
	notify := m.snapshotCallbacks(path)
	m.mu.Unlock()
	notify()
	return nil
}

func (m *MemoryStore) collection(userID string, kind models.RecordKind) []Document {
	prefix := collectionPrefix(userID, kind)
	var docs []Document
	for p, f := range m.docs {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			docs = append(docs, Document{ID: p[len(prefix):], Fields: cloneFields(f)})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func (m *MemoryStore) QueryRange(ctx context.Context, userID string, kind models.RecordKind, start, end int64) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpQuery); err != nil {
		return nil, err
	}
	if m.indexNotReady {
		return nil, apperrors.New(apperrors.ErrIndexNotReady, "the query requires an index")
	}
	return FilterRange(m.collection(userID, kind), start, end), nil
}

func (m *MemoryStore) List(ctx context.Context, userID string, kind models.RecordKind) ([]Document, error) {
	m.mu.Lock()
	if err := m.begin(ctx, OpList); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	docs := m.collection(userID, kind)
	hook := m.ListHook
	m.mu.Unlock()
	if hook != nil {
		docs = hook(docs)
	}
	return docs, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, userID string, kind models.RecordKind, id string, fn SnapshotFunc) (func(), error) {
	m.mu.Lock()
	if m.offline {
		m.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrConnectivity, "backend unreachable")
	}
	path := docPath(userID, kind, id)
	m.nextSub++
	subID := m.nextSub
	if m.subs[path] == nil {
		m.subs[path] = make(map[int]SnapshotFunc)
	}
	m.subs[path][subID] = fn
	current := cloneFields(m.docs[path])
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[path], subID)
			m.mu.Unlock()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions on a document.
func (m *MemoryStore) Subscribers(userID string, kind models.RecordKind, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[docPath(userID, kind, id)])
}

var _ Store = (*MemoryStore)(nil)
