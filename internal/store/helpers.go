// Package store provides storage backends for ClinicFlow.
//
// Shared helpers for the SQL-backed stores.
package store

import (
	"sort"
	"strings"
)

// rankChunks scores chunks by the number of query terms they contain and
// returns up to limit non-zero matches, best first. Ties keep insertion
// order so retrieval stays deterministic.
func rankChunks(chunks []string, query string, limit int) []string {
	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		content string
		score   int
		index   int
	}
	var matches []scored
	for i, c := range chunks {
		lower := strings.ToLower(c)
		score := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{content: c, score: score, index: i})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].index < matches[j].index
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.content)
	}
	return out
}
