package remote

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// FirestoreConfig selects the Firestore project.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	// EmulatorHost is honoured through FIRESTORE_EMULATOR_HOST by the client
	// library; it is only recorded here for logging.
	EmulatorHost string `yaml:"emulator_host"`
}

// FirestoreStore is the production Store.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore dials Firestore.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "firestore project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConnectivity, "failed to create firestore client", err)
	}
	logging.Info("Firestore client ready",
		map[string]interface{}{"project_id": cfg.ProjectID, "emulator": cfg.EmulatorHost})
	return &FirestoreStore{client: client}, nil
}

// NewFirestoreStoreWithClient wraps an existing client.
func NewFirestoreStoreWithClient(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) collection(userID string, kind models.RecordKind) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection(kind.Collection())
}

func (s *FirestoreStore) doc(userID string, kind models.RecordKind, id string) *firestore.DocumentRef {
	return s.collection(userID, kind).Doc(id)
}

// classify maps Firestore and transport errors onto the error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Wrap(apperrors.ErrConnectivity, op+" timed out", err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return apperrors.Wrap(apperrors.ErrNotFound, op+": document not found", err)
	case codes.FailedPrecondition:
		return apperrors.Wrap(apperrors.ErrIndexNotReady, op+": index not ready", err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.ResourceExhausted:
		return apperrors.Wrap(apperrors.ErrConnectivity, op+": backend unreachable", err)
	case codes.InvalidArgument:
		return apperrors.Wrap(apperrors.ErrValidation, op+": rejected document", err)
	default:
		return apperrors.Wrap(apperrors.ErrSyncFailed, op+" failed", err)
	}
}

func (s *FirestoreStore) Put(ctx context.Context, userID string, kind models.RecordKind, id string, fields models.Fields, merge bool) error {
	data := map[string]interface{}(fields)
	var err error
	if merge {
		_, err = s.doc(userID, kind, id).Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = s.doc(userID, kind, id).Set(ctx, data)
	}
	return classify("put", err)
}

func (s *FirestoreStore) Get(ctx context.Context, userID string, kind models.RecordKind, id string) (models.Fields, error) {
	snap, err := s.doc(userID, kind, id).Get(ctx)
	if err != nil {
		return nil, classify("get", err)
	}
	if !snap.Exists() {
		return nil, notFound(kind, id)
	}
	return models.Fields(snap.Data()), nil
}

// Delete is idempotent: Firestore does not fail on a missing document.
func (s *FirestoreStore) Delete(ctx context.Context, userID string, kind models.RecordKind, id string) error {
	_, err := s.doc(userID, kind, id).Delete(ctx)
	if apperrors.IsNotFound(classify("delete", err)) {
		return nil
	}
	return classify("delete", err)
}

func collect(op string, iter *firestore.DocumentIterator) ([]Document, error) {
	defer iter.Stop()
	var docs []Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return docs, nil
		}
		if err != nil {
			return nil, classify(op, err)
		}
		docs = append(docs, Document{ID: snap.Ref.ID, Fields: models.Fields(snap.Data())})
	}
}

func (s *FirestoreStore) QueryRange(ctx context.Context, userID string, kind models.RecordKind, start, end int64) ([]Document, error) {
	q := s.collection(userID, kind).
		Where("timestamp", ">=", start).
		Where("timestamp", "<=", end).
		OrderBy("timestamp", firestore.Asc)
	return collect("query", q.Documents(ctx))
}

func (s *FirestoreStore) List(ctx context.Context, userID string, kind models.RecordKind) ([]Document, error) {
	return collect("list", s.collection(userID, kind).Documents(ctx))
}

// Subscribe streams snapshots of one document until unsubscribed.
func (s *FirestoreStore) Subscribe(ctx context.Context, userID string, kind models.RecordKind, id string, fn SnapshotFunc) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	iter := s.doc(userID, kind, id).Snapshots(subCtx)

	go func() {
		for {
			snap, err := iter.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && subCtx.Err() == nil {
					logging.Error("Document subscription ended", err,
						map[string]interface{}{"user_id": userID, "record_id": id})
				}
				return
			}
			if !snap.Exists() {
				fn(nil)
				continue
			}
			fn(models.Fields(snap.Data()))
		}
	}()

	return func() {
		cancel()
		iter.Stop()
	}, nil
}

var _ Store = (*FirestoreStore)(nil)
