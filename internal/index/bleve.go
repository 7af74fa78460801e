package index

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve"
)

// BleveIndex is a local BM25 knowledge index. It is the default backend when
// no remote vector service is configured, and backs the ingestion CLI.
type BleveIndex struct {
	idx    bleve.Index
	logger *log.Logger
}

// NewBleveIndex opens the index at path, creating it if missing.
func NewBleveIndex(path string) (*BleveIndex, error) {
	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("opening bleve index at %s: %w", path, err)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating bleve index at %s: %w", path, err)
		}
	}
	return &BleveIndex{
		idx:    idx,
		logger: log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
	}, nil
}

// NewBleveMem creates an in-memory index, used by tests and ad-hoc runs.
func NewBleveMem() (*BleveIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating in-memory bleve index: %w", err)
	}
	return &BleveIndex{
		idx:    idx,
		logger: log.New(log.Writer(), "[INDEX] ", log.LstdFlags),
	}, nil
}

// Add indexes the given documents in one batch.
func (b *BleveIndex) Add(ctx context.Context, docs []Document) error {
	batch := b.idx.NewBatch()
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d", i)
		}
		if err := batch.Index(id, map[string]interface{}{
			"content": doc.Content,
			"source":  doc.Source,
			"title":   doc.Title,
		}); err != nil {
			return fmt.Errorf("indexing document %s: %w", id, err)
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// SimilaritySearch runs a BM25 match query and returns up to k documents
// ordered best-first.
func (b *BleveIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = 5
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)
	req.Fields = []string{"content", "source", "title"}

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	out := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, documentFromFields(hit.ID, hit.Fields))
	}
	return out, nil
}

// List returns up to limit indexed documents in arbitrary order.
func (b *BleveIndex) List(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, 0, false)
	req.Fields = []string{"content", "source", "title"}

	res, err := b.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	out := make([]Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, documentFromFields(hit.ID, hit.Fields))
	}
	return out, nil
}

// Count returns the number of indexed documents.
func (b *BleveIndex) Count() (uint64, error) {
	return b.idx.DocCount()
}

// Close releases the underlying index.
func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

func documentFromFields(id string, fields map[string]interface{}) Document {
	doc := Document{ID: id}
	if v, ok := fields["content"].(string); ok {
		doc.Content = v
	}
	if v, ok := fields["source"].(string); ok {
		doc.Source = v
	}
	if v, ok := fields["title"].(string); ok {
		doc.Title = v
	}
	return doc
}
