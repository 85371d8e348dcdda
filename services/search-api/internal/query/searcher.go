// Package query runs the tenant-scoped boosted searches against OpenSearch
// and merges hits across entity types into one ranked result list.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// ErrUnavailable distinguishes a degraded search backend from an empty
// result set. Callers surface it as a 503, never as an empty 200.
var ErrUnavailable = errors.New("search backend unavailable")

// BoostField is one should-clause in the per-type bool query.
type BoostField struct {
	Name  string
	Boost float64
	Fuzzy bool
}

// TypeConfig describes how one entity type is queried: which index holds its
// documents and which fields match with which weight.
type TypeConfig struct {
	Index  string
	Fields []BoostField
}

// IngredientFields ranks exact-ish identifiers above free text: name above
// internal code above org synonyms above functional tags.
func IngredientFields() []BoostField {
	return []BoostField{
		{Name: "name", Boost: 4, Fuzzy: true},
		{Name: "internal_code", Boost: 3},
		{Name: "synonyms", Boost: 2, Fuzzy: true},
		{Name: "tags", Boost: 1},
	}
}

func RecipeFields() []BoostField {
	return []BoostField{
		{Name: "name", Boost: 4, Fuzzy: true},
		{Name: "tags", Boost: 1},
	}
}

// Item is the uniform result variant merged across entity types: the document
// source plus "type" and "score" keys.
type Item map[string]any

type Searcher struct {
	client *opensearch.Client
	types  map[string]TypeConfig
	size   int
	logger *slog.Logger
}

func NewSearcher(client *opensearch.Client, types map[string]TypeConfig, size int, logger *slog.Logger) *Searcher {
	if size <= 0 {
		size = 20
	}
	return &Searcher{client: client, types: types, size: size, logger: logger}
}

// KnownType reports whether the searcher has a config for the entity type.
func (s *Searcher) KnownType(entityType string) bool {
	_, ok := s.types[entityType]
	return ok
}

// Search queries each requested entity type's index and merges the hits,
// sorted by relevance score descending. The sort is stable so a fixed input
// always produces the same order.
func (s *Searcher) Search(ctx context.Context, q string, tenantID string, types []string) ([]Item, error) {
	var items []Item
	for _, entityType := range types {
		cfg, ok := s.types[entityType]
		if !ok {
			continue
		}
		hits, err := s.searchType(ctx, cfg, entityType, q, tenantID)
		if err != nil {
			return nil, err
		}
		items = append(items, hits...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score() > items[j].score()
	})
	return items, nil
}

func (s *Searcher) searchType(ctx context.Context, cfg TypeConfig, entityType string, q string, tenantID string) ([]Item, error) {
	body, err := json.Marshal(buildQuery(cfg, q, tenantID, s.size))
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{cfg.Index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// Index not created yet (worker has not bootstrapped this type).
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s %s", ErrUnavailable, cfg.Index, res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}

	items := make([]Item, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		item := Item{}
		if err := json.Unmarshal(hit.Source, &item); err != nil {
			if s.logger != nil {
				s.logger.Warn("skipping malformed search hit", "index", cfg.Index, "err", err)
			}
			continue
		}
		item["type"] = entityType
		item["score"] = hit.Score
		items = append(items, item)
	}
	return items, nil
}

func buildQuery(cfg TypeConfig, q string, tenantID string, size int) map[string]any {
	should := make([]any, 0, len(cfg.Fields))
	for _, field := range cfg.Fields {
		match := map[string]any{
			"query": q,
			"boost": field.Boost,
		}
		if field.Fuzzy {
			match["fuzziness"] = "AUTO"
		}
		should = append(should, map[string]any{
			"match": map[string]any{field.Name: match},
		})
	}
	return map[string]any{
		"size": size,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"tenant_id": tenantID}},
				},
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	}
}

func (it Item) score() float64 {
	switch v := it["score"].(type) {
	case float64:
		return v
	default:
		return 0
	}
}
