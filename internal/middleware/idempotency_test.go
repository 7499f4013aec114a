package middleware_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/LaunchLoop/internal/middleware"
)

// memCache is an in-memory cache.Cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTestHandler(counter *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(handler http.Handler, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, http.NoBody)
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	store := newMemCache()
	handler := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	post(handler, "/api/v1/graph/mutations", "")
	post(handler, "/api/v1/graph/mutations", "")
	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
	if store.len() != 0 {
		t.Fatal("nothing should be stored without a key")
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Hour)(makeTestHandler(&counter, http.StatusCreated))

	first := post(handler, "/api/v1/graph/mutations", "key-2")
	second := post(handler, "/api/v1/graph/mutations", "key-2")

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay differs: %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}
}

func TestIdempotency_KeyScopedToRoute(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Hour)(makeTestHandler(&counter, http.StatusOK))

	post(handler, "/api/v1/proposals/a/decision", "same")
	post(handler, "/api/v1/proposals/b/decision", "same")
	if counter != 2 {
		t.Fatalf("the same key on another route must not replay, got %d calls", counter)
	}
}

func TestIdempotency_ServerErrorsNotStored(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMemCache(), time.Hour)(makeTestHandler(&counter, http.StatusInternalServerError))

	post(handler, "/api/v1/plan/import", "retry-me")
	post(handler, "/api/v1/plan/import", "retry-me")
	if counter != 2 {
		t.Fatalf("expected the retry to reach the handler, got %d calls", counter)
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	store := newMemCache()
	handler := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter, http.StatusOK))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/graph", http.NoBody)
	req.Header.Set("Idempotency-Key", "key-get")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if counter != 1 || store.len() != 0 {
		t.Fatalf("GET must pass through untouched (calls %d, stored %d)", counter, store.len())
	}
}
