package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hieutrtr/ragforge/config"
)

// Embedder turns text into dense vectors for the remote index.
type Embedder interface {
	Embed(ctx context.Context, input []string) ([][]float32, error)
}

// PineconeIndex queries a Pinecone serverless index over its REST API.
// Queries are embedded first, then matched against the index namespace.
type PineconeIndex struct {
	cfg        config.PineconeConfig
	embedder   Embedder
	httpClient *http.Client
}

// NewPineconeIndex creates a Pinecone-backed knowledge index.
func NewPineconeIndex(cfg config.PineconeConfig, embedder Embedder) (*PineconeIndex, error) {
	if cfg.IndexHost == "" {
		return nil, fmt.Errorf("pinecone index host is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PineconeIndex{
		cfg:        cfg,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type pineconeQuery struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	Namespace       string    `json:"namespace,omitempty"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type pineconeResponse struct {
	Matches []struct {
		ID       string                 `json:"id"`
		Score    float64                `json:"score"`
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"matches"`
}

// SimilaritySearch embeds the query and returns up to k matching passages.
func (p *PineconeIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		k = 5
	}

	vecs, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	body, err := json.Marshal(pineconeQuery{
		Vector:          vecs[0],
		TopK:            k,
		Namespace:       p.cfg.Namespace,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	host := p.cfg.IndexHost
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query pinecone: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pinecone returned %s: %s", resp.Status, string(b))
	}

	var parsed pineconeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := make([]Document, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		doc := Document{ID: m.ID}
		if v, ok := m.Metadata["text"].(string); ok {
			doc.Content = v
		}
		if v, ok := m.Metadata["source"].(string); ok {
			doc.Source = v
		}
		if v, ok := m.Metadata["title"].(string); ok {
			doc.Title = v
		}
		out = append(out, doc)
	}
	return out, nil
}
