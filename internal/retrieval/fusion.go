package retrieval

import (
	"fmt"
	"sort"
)

// DefaultFusionK is the standard RRF smoothing constant.
const DefaultFusionK = 60.0

// PassageScore is one retrieved passage with its score and 0-based rank
// within a single result list.
type PassageScore struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Source  string  `json:"source,omitempty"`
}

// RankedList is one retrieval result list together with the query that
// produced it.
type RankedList struct {
	Query    string
	Passages []PassageScore
}

// FusedDocument is one deduplicated passage after rank fusion.
type FusedDocument struct {
	Content       string   `json:"content"`
	FusedScore    float64  `json:"fused_score"`
	Rank          int      `json:"rank"`
	Appearances   int      `json:"appearances"`
	SourceQueries []string `json:"source_queries"`
	Source        string   `json:"source,omitempty"`
}

// FuseRRF merges result lists with reciprocal rank fusion: each occurrence
// of a passage contributes 1/(k+rank) to its fused score. Passages are
// deduplicated on the first 100 characters of content and the output is
// sorted by descending score with fresh 0-based ranks. Fusing no lists, or
// only empty lists, yields an empty result.
func FuseRRF(lists []RankedList, k float64) []FusedDocument {
	weights := make([]float64, len(lists))
	for i := range weights {
		weights[i] = 1.0
	}
	fused, _ := fuse(lists, weights, k)
	return fused
}

// FuseWeightedRRF is FuseRRF with one weight per list scaling its
// contributions. A nil weights slice uses the default of 2.0 for the first
// list (the original query) and 1.0 for the rest. An explicit weights slice
// whose length differs from the number of lists is an input error.
func FuseWeightedRRF(lists []RankedList, weights []float64, k float64) ([]FusedDocument, error) {
	if weights == nil {
		weights = make([]float64, len(lists))
		for i := range weights {
			if i == 0 {
				weights[i] = 2.0
			} else {
				weights[i] = 1.0
			}
		}
	}
	if len(weights) != len(lists) {
		return nil, fmt.Errorf("got %d weights for %d result lists", len(weights), len(lists))
	}
	return fuse(lists, weights, k)
}

type fusionEntry struct {
	doc      FusedDocument
	firstIdx int
}

func fuse(lists []RankedList, weights []float64, k float64) ([]FusedDocument, error) {
	if k <= 0 {
		k = DefaultFusionK
	}

	entries := make(map[string]*fusionEntry)
	order := 0
	for listIdx, list := range lists {
		seenQueries := make(map[string]bool)
		for rank, passage := range list.Passages {
			key := dedupKey(passage.Content, listIdx, rank)
			contribution := weights[listIdx] / (k + float64(rank))

			entry, ok := entries[key]
			if !ok {
				entry = &fusionEntry{
					doc: FusedDocument{
						Content: passage.Content,
						Source:  passage.Source,
					},
					firstIdx: order,
				}
				entries[key] = entry
				order++
			}
			entry.doc.FusedScore += contribution
			entry.doc.Appearances++
			if list.Query != "" && !seenQueries[key] {
				entry.doc.SourceQueries = append(entry.doc.SourceQueries, list.Query)
				seenQueries[key] = true
			}
		}
	}

	out := make([]*fusionEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	// Ties keep first-seen order so fusion output is deterministic.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].doc.FusedScore != out[j].doc.FusedScore {
			return out[i].doc.FusedScore > out[j].doc.FusedScore
		}
		return out[i].firstIdx < out[j].firstIdx
	})

	fused := make([]FusedDocument, len(out))
	for i, e := range out {
		e.doc.Rank = i
		fused[i] = e.doc
	}
	return fused, nil
}

// dedupKey identifies a passage by its first 100 characters, counted in
// runes so multibyte content never truncates mid-character. Passages with
// empty content get a synthetic key so they never collapse into each other.
func dedupKey(content string, listIdx, rank int) string {
	if content == "" {
		return fmt.Sprintf("doc_%d_%d", listIdx, rank)
	}
	runes := []rune(content)
	if len(runes) > 100 {
		return string(runes[:100])
	}
	return content
}
