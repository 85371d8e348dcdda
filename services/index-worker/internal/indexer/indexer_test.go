package indexer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
)

type fakeSearchBackend struct {
	mu           sync.Mutex
	existing     map[string]bool
	created      map[string]string // index -> mapping body
	docs         map[string]string // "index/docID" -> body
	refreshes    []string
	createStatus int
	createBody   string
}

func newFakeSearchBackend() *fakeSearchBackend {
	return &fakeSearchBackend{
		existing: map[string]bool{},
		created:  map[string]string{},
		docs:     map[string]string{},
	}
}

func (f *fakeSearchBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/")
		switch {
		case r.Method == http.MethodHead:
			if f.existing[path] {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && !strings.Contains(path, "/"):
			if f.createStatus != 0 {
				w.WriteHeader(f.createStatus)
				_, _ = w.Write([]byte(f.createBody))
				return
			}
			body, _ := io.ReadAll(r.Body)
			f.created[path] = string(body)
			f.existing[path] = true
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		case r.Method == http.MethodPut && strings.Contains(path, "/_doc/"):
			parts := strings.SplitN(path, "/_doc/", 2)
			body, _ := io.ReadAll(r.Body)
			f.docs[parts[0]+"/"+parts[1]] = string(body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"result":"created"}`))
		case strings.HasSuffix(path, "/_refresh"):
			f.refreshes = append(f.refreshes, strings.TrimSuffix(path, "/_refresh"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"_shards":{"failed":0}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
}

func testIndexer(t *testing.T, backend *fakeSearchBackend) (*Indexer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("opensearch client: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, logger), srv
}

func TestEnsureIndex_CreatesWithMapping(t *testing.T) {
	backend := newFakeSearchBackend()
	ix, _ := testIndexer(t, backend)

	if err := ix.EnsureIndex(context.Background(), "ingredients_v1", IngredientMapping); err != nil {
		t.Fatalf("EnsureIndex failed: %v", err)
	}

	body, ok := backend.created["ingredients_v1"]
	if !ok {
		t.Fatal("index was not created")
	}
	var mapping struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(body), &mapping); err != nil {
		t.Fatalf("mapping body is not valid JSON: %v", err)
	}
	props := mapping.Mappings.Properties
	for field, want := range map[string]string{
		"tenant_id":     "keyword",
		"internal_code": "keyword",
		"tags":          "keyword",
		"name":          "text",
		"synonyms":      "text",
		"updated_at":    "date",
	} {
		if props[field].Type != want {
			t.Fatalf("field %s mapped as %q, want %q", field, props[field].Type, want)
		}
	}
}

func TestEnsureIndex_IdempotentWhenExists(t *testing.T) {
	backend := newFakeSearchBackend()
	backend.existing["ingredients_v1"] = true
	ix, _ := testIndexer(t, backend)

	if err := ix.EnsureIndex(context.Background(), "ingredients_v1", IngredientMapping); err != nil {
		t.Fatalf("EnsureIndex failed: %v", err)
	}
	if len(backend.created) != 0 {
		t.Fatal("existing index must not be created again")
	}
}

func TestEnsureIndex_ToleratesCreateRace(t *testing.T) {
	// Another worker instance won the existence-check race and created the
	// index first; the create call answers resource_already_exists_exception.
	backend := newFakeSearchBackend()
	backend.createStatus = http.StatusBadRequest
	backend.createBody = `{"error":{"type":"resource_already_exists_exception","reason":"index [ingredients_v1] already exists"}}`
	ix, _ := testIndexer(t, backend)

	if err := ix.EnsureIndex(context.Background(), "ingredients_v1", IngredientMapping); err != nil {
		t.Fatalf("benign create race must not be an error: %v", err)
	}
}

func TestUpsert_WritesDocumentByID(t *testing.T) {
	backend := newFakeSearchBackend()
	ix, _ := testIndexer(t, backend)

	payload := `{"id":"ing-1","name":"Sea Salt"}`
	if err := ix.Upsert(context.Background(), "ingredients_v1", "ing-1", []byte(payload)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got := backend.docs["ingredients_v1/ing-1"]; got != payload {
		t.Fatalf("unexpected document body: %q", got)
	}

	// Re-applying the same payload converges to the same document.
	if err := ix.Upsert(context.Background(), "ingredients_v1", "ing-1", []byte(payload)); err != nil {
		t.Fatalf("repeat Upsert failed: %v", err)
	}
	if got := backend.docs["ingredients_v1/ing-1"]; got != payload {
		t.Fatalf("document diverged after replay: %q", got)
	}
}

func TestRefresh_TargetsTouchedIndices(t *testing.T) {
	backend := newFakeSearchBackend()
	ix, _ := testIndexer(t, backend)

	if err := ix.Refresh(context.Background(), []string{"ingredients_v1", "recipes_v1"}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(backend.refreshes) != 1 || backend.refreshes[0] != "ingredients_v1,recipes_v1" {
		t.Fatalf("unexpected refresh targets: %v", backend.refreshes)
	}

	if err := ix.Refresh(context.Background(), nil); err != nil {
		t.Fatalf("empty refresh must be a no-op: %v", err)
	}
	if len(backend.refreshes) != 1 {
		t.Fatal("empty refresh must not hit the backend")
	}
}
