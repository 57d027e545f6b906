package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestMemoryStoreReserveLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := ScopedKey("key-1", "session-a")

	res, err := store.Reserve(ctx, key, "fp", fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", res.State)
	}

	res, err = store.Reserve(ctx, key, "fp", fixedTime.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v", res.State)
	}

	if _, err := store.Reserve(ctx, key, "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusOK, Headers: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"success":true}`)}
	if err := store.SaveResponse(ctx, key, "fp", resp, fixedTime.Add(2*time.Second), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, key, "fp", fixedTime.Add(3*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("reserve after save: %v", err)
	}
	if res.State != ReservationStateCompleted || string(res.Record.ResponseBody) != `{"success":true}` {
		t.Fatalf("expected completed record, got %+v", res)
	}

	res, err = store.Reserve(ctx, key, "fp", fixedTime.Add(2*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired record to be replaced, got %v", res.State)
	}
}

func TestMemoryStoreRelease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestSweeperRemovesExpiredRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	sweeper := NewSweeper(store, time.Minute, 2, nil)
	sweeper.clock = func() time.Time { return fixedTime.Add(time.Hour) }

	if removed := sweeper.Sweep(ctx); removed != 2 {
		t.Fatalf("expected batch of 2 removed, got %d", removed)
	}
	if removed := sweeper.Sweep(ctx); removed != 1 {
		t.Fatalf("expected remaining expired record removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected only the fresh record to remain, got %d", store.Len())
	}
}

func TestSweeperStartStop(t *testing.T) {
	sweeper := NewSweeper(NewMemoryStore(), 0, 10, nil)
	sweeper.Start(context.Background())
	sweeper.Stop()

	running := NewSweeper(NewMemoryStore(), time.Hour, 10, nil)
	running.Start(context.Background())
	running.Stop()
}
