// ABOUTME: Shared capability and embedding-backend types for the capability index.
// ABOUTME: EmbeddingIndex is the dependency-injection seam for semantic capability search.

package capindex

import "context"

// Capability is a named, described unit of functionality an agent
// advertises for discovery. Metadata is opaque to the index — it is
// stored and returned verbatim (e.g. a "cost" entry).
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema any            `json:"inputSchema,omitempty"`
	OutputSchema any           `json:"outputSchema,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScoredKey is one hit returned by an EmbeddingIndex query, carrying the
// backend's raw (not yet normalized) similarity score.
type ScoredKey struct {
	Key      string
	RawScore float64
}

// EmbeddingIndex is the dependency-injection point for semantic capability
// search. Implementations own their own embedding model and nearest
// neighbor structure; the capindex package only normalizes and sorts.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, key, text string) error
	Remove(ctx context.Context, key string) error
	Query(ctx context.Context, text string, k int) ([]ScoredKey, error)
	Persist(path string) error
	Restore(path string) error
}

// Result is one hit from FindByCapabilityDescription: the capability's
// owning agent, the matched capability, and its normalized [0,1] score.
type Result struct {
	AgentID    string
	Capability Capability
	Score      float64
}
