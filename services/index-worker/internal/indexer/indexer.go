package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Indexer owns every write the relay makes against OpenSearch.
type Indexer struct {
	client *opensearch.Client
	logger *slog.Logger
}

func New(client *opensearch.Client, logger *slog.Logger) *Indexer {
	return &Indexer{client: client, logger: logger}
}

// EnsureIndex creates the index with its mapping if it does not exist yet.
// Safe to call from multiple worker instances at startup: losing the
// existence-check race surfaces as resource_already_exists_exception from the
// create call, which is not an error.
func (ix *Indexer) EnsureIndex(ctx context.Context, name string, mapping string) error {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, ix.client)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("index exists check %s: %s", name, res.Status())
	}

	createRes, err := opensearchapi.IndicesCreateRequest{
		Index: name,
		Body:  strings.NewReader(mapping),
	}.Do(ctx, ix.client)
	if err != nil {
		return err
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		body, _ := io.ReadAll(createRes.Body)
		if bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return nil
		}
		return fmt.Errorf("create index %s: %s: %s", name, createRes.Status(), body)
	}
	ix.logger.Info("index created", "index", name)
	return nil
}

// Upsert writes the document keyed by docID. Last write wins by relay order;
// repeating the same write converges to the same document.
func (ix *Indexer) Upsert(ctx context.Context, index string, docID string, payload []byte) error {
	res, err := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: docID,
		Body:       bytes.NewReader(payload),
	}.Do(ctx, ix.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index %s doc %s: %s: %s", index, docID, res.Status(), body)
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// Refresh makes documents written earlier in the cycle visible to search.
// One explicit refresh per batch trades indexing throughput for read
// freshness; typeahead depends on it.
func (ix *Indexer) Refresh(ctx context.Context, indices []string) error {
	if len(indices) == 0 {
		return nil
	}
	res, err := opensearchapi.IndicesRefreshRequest{Index: indices}.Do(ctx, ix.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("refresh %s: %s", strings.Join(indices, ","), res.Status())
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}
