package index

import "context"

// Document is one retrievable knowledge passage.
type Document struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
	Title   string `json:"title,omitempty"`
}

// KnowledgeIndex is the similarity-search surface the retrieval pipeline
// depends on. Backends return up to k documents ordered best-first.
type KnowledgeIndex interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)
}

// Writable is implemented by backends that accept local ingestion.
type Writable interface {
	Add(ctx context.Context, docs []Document) error
	List(ctx context.Context, limit int) ([]Document, error)
	Count() (uint64, error)
}
