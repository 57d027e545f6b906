package firestore

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/ticketgate/api/internal/domain"
	"github.com/ticketgate/api/internal/platform/config"
	pfirestore "github.com/ticketgate/api/internal/platform/firestore"
	"github.com/ticketgate/api/internal/platform/sealing"
	"github.com/ticketgate/api/internal/repositories"
)

func newEmulatorSessionRepository(t *testing.T) *SessionRepository {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "ticketgate-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	sealer, err := sealing.NewSealer("test-sealing-secret")
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	repo, err := NewSessionRepository(provider, sealer)
	if err != nil {
		t.Fatalf("NewSessionRepository: %v", err)
	}
	return repo
}

func TestSessionRepositoryRoundTrip(t *testing.T) {
	repo := newEmulatorSessionRepository(t)
	ctx := context.Background()
	id := "round-trip-" + time.Now().Format("150405.000000")

	if _, err := repo.Get(ctx, id); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.Save(ctx, domain.BackendSession{ID: id, Token: "tok", Cookies: "a=1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Token != "tok" || got.Cookies != "a=1" {
		t.Fatalf("unexpected session %#v", got)
	}

	doc, err := repo.sessions.Get(ctx, id)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if doc.Data.TokenSealed == "tok" || doc.Data.CookiesSealed == "a=1" {
		t.Fatalf("expected sealed values at rest")
	}

	if err := repo.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, id); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestSessionRepositoryConcurrentMerge(t *testing.T) {
	repo := newEmulatorSessionRepository(t)
	ctx := context.Background()
	id := "merge-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = repo.Delete(context.Background(), id) })

	var wg sync.WaitGroup
	for _, pair := range []string{"a=1", "b=2", "c=3"} {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.MergeCookies(ctx, id, []string{pair}); err != nil {
				t.Errorf("MergeCookies: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, want := range []string{"a=1", "b=2", "c=3"} {
		found := false
		for _, entry := range strings.Split(got.Cookies, "; ") {
			if entry == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %s in %q", want, got.Cookies)
		}
	}
}

func TestNewSessionRepositoryValidation(t *testing.T) {
	if _, err := NewSessionRepository(nil, nil); err == nil {
		t.Fatalf("expected error without provider")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "p"})
	if _, err := NewSessionRepository(provider, nil); err == nil {
		t.Fatalf("expected error without sealer")
	}
}
