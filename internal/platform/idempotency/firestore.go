package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/ticketgate/api/internal/platform/firestore"
)

const (
	defaultCollection   = "idempotencyKeys"
	defaultCleanupLimit = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collectionName = name
		}
	}
}

// WithMaxAttempts configures transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.txOpts = append(store.txOpts, pfirestore.WithTxAttempts(attempts))
		}
	}
}

// FirestoreStore shares idempotency records between instances through Firestore.
type FirestoreStore struct {
	provider       *pfirestore.Provider
	collectionName string
	records        *pfirestore.Collection[firestoreRecord]
	txOpts         []pfirestore.TxOption
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a store on top of provider.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{provider: provider, collectionName: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.records = pfirestore.NewCollection[firestoreRecord](provider, store.collectionName)
	return store, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.records.Ref(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := s.load(tx, ref)
		if err != nil {
			return err
		}
		reservation, write, err := reserve(existing, found, key, fingerprint, now, ttl)
		if err != nil {
			return err
		}
		if write {
			if err := tx.Set(ref, fromRecord(reservation.Record)); err != nil {
				return err
			}
		}
		result = reservation
		return nil
	}, s.txOptions("idempotency.reserve")...)
	if err != nil {
		return Reservation{}, unwrapMismatch(err)
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.records.Ref(ctx, documentID(key))
	if err != nil {
		return err
	}

	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := s.load(tx, ref)
		if err != nil {
			return err
		}
		record, err := complete(existing, found, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, fromRecord(record))
	}, s.txOptions("idempotency.save_response")...)
	return unwrapMismatch(err)
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	err := s.records.Delete(ctx, documentID(key))
	if pfirestore.IsNotFound(err) {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit records whose retention window has passed.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}
	docs, err := s.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now.UTC()).Limit(limit)
	})
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	batch := client.Batch()
	for _, doc := range docs {
		batch.Delete(client.Collection(s.collectionName).Doc(doc.ID))
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, pfirestore.WrapError(s.collectionName+".cleanup", err)
	}
	return len(docs), nil
}

func (s *FirestoreStore) load(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	doc, err := s.records.GetTx(tx, ref)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return doc.Data.toRecord(), true, nil
}

// Transaction errors are wrapped by the platform layer; callers match on the sentinel.
func unwrapMismatch(err error) error {
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

type firestoreRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func fromRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (s *FirestoreStore) txOptions(op string) []pfirestore.TxOption {
	opts := make([]pfirestore.TxOption, 0, len(s.txOpts)+1)
	opts = append(opts, s.txOpts...)
	return append(opts, pfirestore.WithTxOp(op))
}
