package query

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
)

func testTypes() map[string]TypeConfig {
	return map[string]TypeConfig{
		"ingredient": {Index: "ingredients_v1", Fields: IngredientFields()},
		"recipe":     {Index: "recipes_v1", Fields: RecipeFields()},
	}
}

func newTestSearcher(t *testing.T, handler http.Handler) *Searcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{srv.URL}})
	if err != nil {
		t.Fatalf("opensearch client: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSearcher(client, testTypes(), 20, logger)
}

func hitsResponse(hits ...string) string {
	return `{"hits":{"hits":[` + strings.Join(hits, ",") + `]}}`
}

func TestSearch_BuildsTenantScopedBoostedQuery(t *testing.T) {
	var captured map[string]any
	s := newTestSearcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ingredients_v1/_search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode query body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(hitsResponse()))
	}))

	if _, err := s.Search(context.Background(), "salt", "t1", []string{"ingredient"}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	boolQuery, ok := captured["query"].(map[string]any)["bool"].(map[string]any)
	if !ok {
		t.Fatalf("no bool query in body: %v", captured)
	}
	filters := boolQuery["filter"].([]any)
	term := filters[0].(map[string]any)["term"].(map[string]any)
	if term["tenant_id"] != "t1" {
		t.Fatalf("missing tenant filter, got %v", term)
	}

	should := boolQuery["should"].([]any)
	boosts := map[string]float64{}
	fuzzy := map[string]bool{}
	for _, clause := range should {
		match := clause.(map[string]any)["match"].(map[string]any)
		for field, raw := range match {
			params := raw.(map[string]any)
			boosts[field] = params["boost"].(float64)
			_, fuzzy[field] = params["fuzziness"]
			if params["query"] != "salt" {
				t.Fatalf("field %s queried with %v", field, params["query"])
			}
		}
	}
	want := map[string]float64{"name": 4, "internal_code": 3, "synonyms": 2, "tags": 1}
	for field, boost := range want {
		if boosts[field] != boost {
			t.Fatalf("field %s boosted %v, want %v", field, boosts[field], boost)
		}
	}
	if !fuzzy["name"] || !fuzzy["synonyms"] || fuzzy["internal_code"] || fuzzy["tags"] {
		t.Fatalf("unexpected fuzziness flags: %v", fuzzy)
	}
	if boolQuery["minimum_should_match"] != float64(1) {
		t.Fatalf("minimum_should_match = %v", boolQuery["minimum_should_match"])
	}
}

func TestSearch_MergesTypesSortedByScore(t *testing.T) {
	s := newTestSearcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/ingredients_v1/") {
			_, _ = w.Write([]byte(hitsResponse(
				`{"_score":2.5,"_source":{"id":"ing-1","name":"Sea Salt"}}`,
				`{"_score":0.5,"_source":{"id":"ing-2","name":"Salted Butter"}}`,
			)))
			return
		}
		_, _ = w.Write([]byte(hitsResponse(
			`{"_score":1.5,"_source":{"id":"rec-1","name":"Salt Crust Fish"}}`,
		)))
	}))

	items, err := s.Search(context.Background(), "salt", "t1", []string{"ingredient", "recipe"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 merged items, got %d", len(items))
	}
	wantOrder := []string{"ing-1", "rec-1", "ing-2"}
	for i, id := range wantOrder {
		if items[i]["id"] != id {
			t.Fatalf("position %d: got %v, want %s", i, items[i]["id"], id)
		}
	}
	if items[0]["type"] != "ingredient" || items[1]["type"] != "recipe" {
		t.Fatalf("type tags wrong: %v %v", items[0]["type"], items[1]["type"])
	}
	if items[0]["score"] != 2.5 {
		t.Fatalf("score not carried over: %v", items[0]["score"])
	}
}

func TestSearch_UnknownTypeSkipped(t *testing.T) {
	s := newTestSearcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(hitsResponse(`{"_score":1,"_source":{"id":"ing-1"}}`)))
	}))

	items, err := s.Search(context.Background(), "salt", "t1", []string{"supplier", "ingredient"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(items) != 1 || items[0]["id"] != "ing-1" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestSearch_BackendErrorIsUnavailable(t *testing.T) {
	s := newTestSearcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := s.Search(context.Background(), "salt", "t1", []string{"ingredient"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSearch_MissingIndexIsEmptyNotError(t *testing.T) {
	s := newTestSearcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	items, err := s.Search(context.Background(), "salt", "t1", []string{"recipe"})
	if err != nil {
		t.Fatalf("missing index must not error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %v", items)
	}
}
