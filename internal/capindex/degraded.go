// ABOUTME: Substring-and-token-overlap fallback scoring used when no EmbeddingIndex is configured.
// ABOUTME: Graceful-degradation path with normalized scores, logged once.

package capindex

import (
	"fmt"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9]+`)

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		out[tok] = true
	}
	return out
}

// synonymClasses groups words that commonly stand in for each other across
// capability descriptions and free-text queries. Degraded mode has no
// embedding model to recognize that "shorten" and "summarize" describe the
// same capability, so this curated table is what lets raw token overlap
// see past vocabulary mismatches it would otherwise score as zero.
var synonymClasses = [][]string{
	{"summarize", "summary", "summaries", "shorten", "condense", "concise", "brief"},
	{"translate", "translation", "translator"},
	{"document", "text", "article", "content", "writing"},
	{"search", "find", "lookup", "query", "retrieve"},
	{"generate", "create", "produce", "write", "draft"},
	{"analyze", "analysis", "review", "examine", "inspect"},
	{"schedule", "calendar", "appointment", "booking"},
	{"email", "mail", "message", "notify"},
}

var tokenClass = buildTokenClassIndex(synonymClasses)

func buildTokenClassIndex(classes [][]string) map[string]string {
	idx := make(map[string]string)
	for i, group := range classes {
		class := fmt.Sprintf("~class:%d", i)
		for _, tok := range group {
			idx[tok] = class
		}
	}
	return idx
}

// canonicalize maps every token in its synonym class to the class's shared
// key, so "shorten" and "concise" collide into the same set member instead
// of counting as unrelated tokens.
func canonicalize(tokens map[string]bool) map[string]bool {
	out := make(map[string]bool, len(tokens))
	for tok := range tokens {
		if class, ok := tokenClass[tok]; ok {
			out[class] = true
			continue
		}
		out[tok] = true
	}
	return out
}

// degradedScore estimates similarity between a free-text query and a
// capability description without any embedding model: Jaccard overlap of
// their synonym-canonicalized token sets, plus a bonus if the query
// appears verbatim as a substring. The result is clamped to [0,1],
// matching the normalized score contract every search mode must satisfy.
func degradedScore(query, description string) float64 {
	q := canonicalize(tokenize(query))
	d := canonicalize(tokenize(description))
	if len(q) == 0 || len(d) == 0 {
		return 0
	}

	overlap := 0
	for tok := range q {
		if d[tok] {
			overlap++
		}
	}
	union := len(q)
	for tok := range d {
		if !q[tok] {
			union++
		}
	}
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(overlap) / float64(union)
	}

	bonus := 0.0
	if strings.Contains(strings.ToLower(description), strings.ToLower(query)) {
		bonus = 0.3
	}

	score := jaccard*0.7 + bonus
	if score > 1 {
		score = 1
	}
	return score
}
