package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// TextCompletion is the single-prompt generation surface used across the
// retrieval pipeline.
type TextCompletion interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Expander rewrites one question into several alternative search queries so
// retrieval covers more phrasings of the same information need.
type Expander struct {
	llm    TextCompletion
	count  int
	logger *log.Logger
}

// NewExpander creates a query expander that produces up to count alternative
// queries in addition to the original.
func NewExpander(llm TextCompletion, count int) *Expander {
	if count < 1 {
		count = 3
	}
	return &Expander{
		llm:    llm,
		count:  count,
		logger: log.New(log.Writer(), "[EXPAND] ", log.LstdFlags),
	}
}

const expandPromptTemplate = `You are helping a search system find relevant documents.
Rewrite the following question as %d alternative search queries that use
different wording but target the same information. Output one query per line,
with no numbering and no commentary.

Question: %s`

// Expand returns the original question followed by deduplicated alternative
// phrasings. The original is always first, and the result is never empty:
// if generation fails the original question is returned alone.
func (e *Expander) Expand(ctx context.Context, question string) []string {
	queries := []string{question}

	raw, err := e.llm.Generate(ctx, fmt.Sprintf(expandPromptTemplate, e.count, question))
	if err != nil {
		e.logger.Printf("expansion failed, using original query only: %v", err)
		return queries
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(question)): true}
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimSpace(line)
		q = strings.TrimLeft(q, "-*0123456789. ")
		q = strings.Trim(q, `"`)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		queries = append(queries, q)
		if len(queries) > e.count {
			break
		}
	}
	return queries
}
