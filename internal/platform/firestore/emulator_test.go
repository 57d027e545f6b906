package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ticketgate/api/internal/platform/config"
)

type sampleEntity struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

// Runs only when a Firestore emulator is reachable through FIRESTORE_EMULATOR_HOST.
func TestCollectionAgainstEmulator(t *testing.T) {
	host := os.Getenv(envEmulatorHost)
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := NewProvider(config.FirestoreConfig{ProjectID: "test-project", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	samples := NewCollection[sampleEntity](provider, "samples")
	if err := samples.Set(ctx, "sample-1", sampleEntity{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	doc, err := samples.Get(ctx, "sample-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "sample-1" || doc.Data.Name != "alpha" || doc.UpdateTime.IsZero() {
		t.Fatalf("unexpected document %#v", doc)
	}

	if _, err := samples.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := samples.Ref(ctx, "sample-1")
		if err != nil {
			return err
		}
		current, err := samples.GetTx(tx, ref)
		if err != nil {
			return err
		}
		current.Data.Count++
		return tx.Set(ref, current.Data)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	docs, err := samples.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("count", "==", 2)
	})
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one document with count 2, got %d (%v)", len(docs), err)
	}

	if err := samples.Delete(ctx, "sample-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestProviderClosed(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "p"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	if _, err := provider.Client(context.Background()); err != ErrProviderClosed {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
}
