package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/agent/telemetry"
	"github.com/hieutrtr/ragforge/internal/index"
)

// Message is one prior conversation turn used for query contextualization.
type Message struct {
	Role    string `json:"role"` // human or ai
	Content string `json:"content"`
}

// Stats reports how many documents flowed through each pipeline stage.
type Stats struct {
	ExpandedQueries []string `json:"expanded_queries"`
	RetrievedCount  int      `json:"retrieved_docs_count"`
	FusedCount      int      `json:"fused_docs_count"`
	FinalCount      int      `json:"final_docs_count"`
}

// Result is the outcome of one retrieval pass.
type Result struct {
	Passages       []PassageScore `json:"passages"`
	EffectiveQuery string         `json:"effective_query"`
	Degraded       bool           `json:"degraded"`
	Stats          Stats          `json:"stats"`
}

// Retriever runs the full retrieval pipeline: contextualize the question
// against history, expand it into multiple queries, search each query
// concurrently, fuse the result lists and rerank the fused set.
type Retriever struct {
	llm       TextCompletion
	index     index.KnowledgeIndex
	expander  *Expander
	reranker  *Reranker
	cfg       config.RetrievalConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewRetriever wires the pipeline together. telem may be nil.
func NewRetriever(llm TextCompletion, idx index.KnowledgeIndex, scorer Scorer, cfg config.RetrievalConfig, telem *telemetry.Telemetry) *Retriever {
	return &Retriever{
		llm:       llm,
		index:     idx,
		expander:  NewExpander(llm, cfg.ExpansionCount),
		reranker:  NewReranker(scorer, cfg.RelevanceThreshold, cfg.FusionTopK),
		cfg:       cfg,
		telemetry: telem,
		logger:    log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags),
	}
}

const contextualizePromptTemplate = `Given the conversation below, rewrite the final question so it can be
understood on its own, resolving pronouns and references to earlier turns.
Output only the rewritten question. If the question already stands alone,
output it unchanged.

Conversation:
%s

Final question: %s`

// Retrieve answers the question with evidence from the knowledge index.
// Individual query failures are logged and skipped; the only hard failure
// is the index rejecting every query.
func (r *Retriever) Retrieve(ctx context.Context, question string, history []Message) (Result, error) {
	tracer := otel.Tracer("ragforge/retrieval")
	ctx, span := tracer.Start(ctx, "retrieve")
	defer span.End()

	started := time.Now()

	effective := r.contextualize(ctx, question, history)
	span.SetAttributes(attribute.String("retrieval.effective_query", effective))

	queries := r.expander.Expand(ctx, effective)
	span.SetAttributes(attribute.Int("retrieval.query_count", len(queries)))

	lists, retrieved := r.searchAll(ctx, queries)
	if retrieved == 0 && len(lists) == 0 {
		return Result{}, fmt.Errorf("all %d queries failed against the index", len(queries))
	}

	// The boost belongs to the original query's list. When that query failed
	// and was dropped, no surviving expansion inherits it.
	weights := make([]float64, len(lists))
	for i, list := range lists {
		if list.Query == queries[0] {
			weights[i] = r.cfg.OriginalWeight
		} else {
			weights[i] = 1.0
		}
	}
	fused, err := FuseWeightedRRF(lists, weights, r.cfg.FusionK)
	if err != nil {
		return Result{}, fmt.Errorf("fusing result lists: %w", err)
	}

	final, degraded := r.reranker.Rerank(ctx, effective, fused)

	passages := make([]PassageScore, len(final))
	for i, d := range final {
		passages[i] = PassageScore{
			Content: d.Content,
			Score:   d.FusedScore,
			Rank:    d.Rank,
			Source:  d.Source,
		}
	}

	result := Result{
		Passages:       passages,
		EffectiveQuery: effective,
		Degraded:       degraded,
		Stats: Stats{
			ExpandedQueries: queries,
			RetrievedCount:  retrieved,
			FusedCount:      len(fused),
			FinalCount:      len(passages),
		},
	}

	if r.telemetry != nil {
		r.telemetry.RecordRetrievalEvent(ctx, telemetry.RetrievalEvent{
			ID:             uuid.NewString(),
			Query:          effective,
			ExpandedCount:  len(queries),
			RetrievedCount: retrieved,
			FusedCount:     len(fused),
			FinalCount:     len(passages),
			Degraded:       degraded,
			Duration:       time.Since(started),
		})
	}

	r.logger.Printf("retrieved %d docs across %d queries, fused to %d, final %d (degraded=%t)",
		retrieved, len(queries), len(fused), len(passages), degraded)
	return result, nil
}

// contextualize rewrites the question against history. Any failure falls
// back to the original question.
func (r *Retriever) contextualize(ctx context.Context, question string, history []Message) string {
	if len(history) == 0 {
		return question
	}

	var sb strings.Builder
	for _, m := range history {
		role := "Human"
		if m.Role == "ai" {
			role = "AI"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, m.Content)
	}

	rewritten, err := r.llm.Generate(ctx, fmt.Sprintf(contextualizePromptTemplate, sb.String(), question))
	if err != nil {
		r.logger.Printf("contextualization failed, using original question: %v", err)
		return question
	}
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return question
	}
	return rewritten
}

// searchAll runs one index search per query concurrently and waits for all
// of them before returning. Failed queries are dropped from the result set.
func (r *Retriever) searchAll(ctx context.Context, queries []string) ([]RankedList, int) {
	type searchOutcome struct {
		idx  int
		list RankedList
		err  error
	}

	results := make([]searchOutcome, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			docs, err := r.index.SimilaritySearch(ctx, q, r.cfg.TopKPerQuery)
			if err != nil {
				results[i] = searchOutcome{idx: i, err: err}
				return
			}
			passages := make([]PassageScore, len(docs))
			for rank, doc := range docs {
				passages[rank] = PassageScore{
					Content: doc.Content,
					Score:   provisionalScore(rank),
					Rank:    rank,
					Source:  doc.Source,
				}
			}
			results[i] = searchOutcome{idx: i, list: RankedList{Query: q, Passages: passages}}
		}(i, q)
	}
	wg.Wait()

	var lists []RankedList
	retrieved := 0
	for i, res := range results {
		if res.err != nil {
			r.logger.Printf("query %q failed, skipping: %v", queries[i], res.err)
			continue
		}
		lists = append(lists, res.list)
		retrieved += len(res.list.Passages)
	}
	return lists, retrieved
}

// provisionalScore approximates relevance from list position until fusion
// and reranking produce real scores.
func provisionalScore(rank int) float64 {
	s := 1.0 - float64(rank)*0.1
	if s < 0 {
		s = 0
	}
	return s
}
