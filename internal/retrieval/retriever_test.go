package retrieval

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/index"
)

type funcLLM func(ctx context.Context, prompt string) (string, error)

func (f funcLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type stubIndex struct {
	docs    map[string][]index.Document
	failOn  map[string]bool
	queries []string
}

func (s *stubIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]index.Document, error) {
	s.queries = append(s.queries, query)
	if s.failOn[query] {
		return nil, fmt.Errorf("index unavailable")
	}
	return s.docs[query], nil
}

func testRetrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopKPerQuery:       5,
		FusionK:            60.0,
		FusionTopK:         10,
		RelevanceThreshold: 0.5,
		ExpansionCount:     2,
		OriginalWeight:     2.0,
	}
}

func TestRetrieveEndToEnd(t *testing.T) {
	llm := funcLLM(func(ctx context.Context, prompt string) (string, error) {
		return "everest height meters", nil
	})
	idx := &stubIndex{docs: map[string][]index.Document{
		"how tall is everest":   {{Content: "Everest is 8849 m"}, {Content: "K2 is 8611 m"}},
		"everest height meters": {{Content: "Everest is 8849 m"}, {Content: "Everest was surveyed in 1955"}},
	}}
	scorer := &stubScorer{scores: []float64{0.95, 0.2, 0.7}}

	r := NewRetriever(llm, idx, scorer, testRetrievalConfig(), nil)
	result, err := r.Retrieve(context.Background(), "how tall is everest", nil)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}

	if result.EffectiveQuery != "how tall is everest" {
		t.Fatalf("effective query = %q, want the original without history", result.EffectiveQuery)
	}
	if result.Stats.RetrievedCount != 4 {
		t.Fatalf("retrieved count = %d, want 4", result.Stats.RetrievedCount)
	}
	if result.Stats.FusedCount != 3 {
		t.Fatalf("fused count = %d, want 3 after dedup", result.Stats.FusedCount)
	}
	if result.Stats.FinalCount != len(result.Passages) {
		t.Fatalf("final count %d does not match %d passages", result.Stats.FinalCount, len(result.Passages))
	}
	if result.Degraded {
		t.Fatal("unexpected degraded flag")
	}
	if len(result.Passages) == 0 {
		t.Fatal("expected passages")
	}
	if result.Passages[0].Content != "Everest is 8849 m" {
		t.Fatalf("top passage = %q", result.Passages[0].Content)
	}
	for i, p := range result.Passages {
		if p.Rank != i {
			t.Fatalf("passage %d has rank %d", i, p.Rank)
		}
	}
}

func TestRetrieveContextualizesWithHistory(t *testing.T) {
	llm := funcLLM(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "rewrite the final question") {
			return "how tall is Mount Everest", nil
		}
		return "", fmt.Errorf("no expansion")
	})
	idx := &stubIndex{docs: map[string][]index.Document{
		"how tall is Mount Everest": {{Content: "Everest is 8849 m"}},
	}}

	r := NewRetriever(llm, idx, nil, testRetrievalConfig(), nil)
	history := []Message{
		{Role: "human", Content: "tell me about Mount Everest"},
		{Role: "ai", Content: "Mount Everest is the highest mountain."},
	}
	result, err := r.Retrieve(context.Background(), "how tall is it?", history)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if result.EffectiveQuery != "how tall is Mount Everest" {
		t.Fatalf("effective query = %q, want the rewritten question", result.EffectiveQuery)
	}
	if !result.Degraded {
		t.Fatal("nil scorer should mark the result degraded")
	}
	if len(result.Passages) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(result.Passages))
	}
}

func TestRetrieveSkipsFailedQuery(t *testing.T) {
	llm := funcLLM(func(ctx context.Context, prompt string) (string, error) {
		return "variant query", nil
	})
	idx := &stubIndex{
		docs: map[string][]index.Document{
			"base query": {{Content: "doc from base"}},
		},
		failOn: map[string]bool{"variant query": true},
	}
	scorer := &stubScorer{scores: []float64{0.9}}

	r := NewRetriever(llm, idx, scorer, testRetrievalConfig(), nil)
	result, err := r.Retrieve(context.Background(), "base query", nil)
	if err != nil {
		t.Fatalf("one failing query must not be fatal: %v", err)
	}
	if len(result.Passages) != 1 || result.Passages[0].Content != "doc from base" {
		t.Fatalf("unexpected passages: %+v", result.Passages)
	}
}

func TestRetrieveOriginalQueryFailureDropsItsBoost(t *testing.T) {
	llm := funcLLM(func(ctx context.Context, prompt string) (string, error) {
		return "variant query", nil
	})
	idx := &stubIndex{
		docs:   map[string][]index.Document{"variant query": {{Content: "doc from variant"}}},
		failOn: map[string]bool{"base query": true},
	}

	// Nil scorer: the reranker passes fused scores through, so the weight
	// applied during fusion is observable on the result.
	r := NewRetriever(llm, idx, nil, testRetrievalConfig(), nil)
	result, err := r.Retrieve(context.Background(), "base query", nil)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(result.Passages) != 1 {
		t.Fatalf("expected 1 passage, got %d", len(result.Passages))
	}

	// The surviving list came from an expansion, so it gets weight 1.0, not
	// the original-query boost.
	want := 1.0 / 60.0
	if math.Abs(result.Passages[0].Score-want) > 1e-12 {
		t.Fatalf("passage score = %v, want %v without the original-query weight", result.Passages[0].Score, want)
	}
}

func TestRetrieveAllQueriesFail(t *testing.T) {
	llm := funcLLM(func(ctx context.Context, prompt string) (string, error) {
		return "variant query", nil
	})
	idx := &stubIndex{failOn: map[string]bool{
		"base query":    true,
		"variant query": true,
	}}

	r := NewRetriever(llm, idx, nil, testRetrievalConfig(), nil)
	if _, err := r.Retrieve(context.Background(), "base query", nil); err == nil {
		t.Fatal("expected error when every query fails")
	}
}

func TestProvisionalScore(t *testing.T) {
	if got := provisionalScore(0); got != 1.0 {
		t.Fatalf("rank 0 score = %v", got)
	}
	if got := provisionalScore(3); math.Abs(got-0.7) > 1e-9 {
		t.Fatalf("rank 3 score = %v", got)
	}
	if got := provisionalScore(15); got != 0 {
		t.Fatalf("deep ranks must clamp at 0, got %v", got)
	}
}
