package retrieval

import (
	"context"
	"log"
	"sort"
)

// Scorer produces query-passage relevance scores, one per passage, aligned
// with the input order.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Reranker reorders fused documents with a cross-encoder. Cross-encoder
// scores live on their own scale, so they replace fusion scores outright
// instead of blending with them.
type Reranker struct {
	scorer    Scorer
	threshold float64
	topK      int
	logger    *log.Logger
}

// NewReranker creates a reranker. A nil scorer is allowed and turns every
// rerank into a degraded pass-through.
func NewReranker(scorer Scorer, threshold float64, topK int) *Reranker {
	if topK < 1 {
		topK = 10
	}
	return &Reranker{
		scorer:    scorer,
		threshold: threshold,
		topK:      topK,
		logger:    log.New(log.Writer(), "[RERANK] ", log.LstdFlags),
	}
}

// Rerank scores docs against query, sorts by descending relevance and keeps
// documents at or above the threshold. If the threshold would discard
// everything, the top-K documents are kept unfiltered so a non-empty input
// never produces an empty output. When the scorer is missing or fails, the
// top-K documents pass through in their existing order and the second return
// value reports the degradation.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []FusedDocument) ([]FusedDocument, bool) {
	if len(docs) == 0 {
		return nil, false
	}

	if r.scorer == nil {
		return r.passthrough(docs), true
	}

	passages := make([]string, len(docs))
	for i, d := range docs {
		passages[i] = d.Content
	}

	scores, err := r.scorer.Score(ctx, query, passages)
	if err != nil || len(scores) != len(docs) {
		if err != nil {
			r.logger.Printf("scorer unavailable, passing results through: %v", err)
		} else {
			r.logger.Printf("scorer returned %d scores for %d documents, passing results through", len(scores), len(docs))
		}
		return r.passthrough(docs), true
	}

	scored := make([]FusedDocument, len(docs))
	copy(scored, docs)
	for i := range scored {
		scored[i].FusedScore = scores[i]
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FusedScore > scored[j].FusedScore
	})

	kept := scored[:0:0]
	for _, d := range scored {
		if d.FusedScore >= r.threshold {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		r.logger.Printf("threshold %.2f filtered out all %d documents, keeping top %d", r.threshold, len(scored), r.topK)
		kept = scored
	}
	if len(kept) > r.topK {
		kept = kept[:r.topK]
	}
	for i := range kept {
		kept[i].Rank = i
	}
	return kept, false
}

func (r *Reranker) passthrough(docs []FusedDocument) []FusedDocument {
	out := make([]FusedDocument, len(docs))
	copy(out, docs)
	if len(out) > r.topK {
		out = out[:r.topK]
	}
	for i := range out {
		out[i].Rank = i
	}
	return out
}
