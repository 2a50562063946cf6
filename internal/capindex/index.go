// ABOUTME: Exact and semantic capability lookup, backed by an optional EmbeddingIndex.
// ABOUTME: Embeddings are shared by hash(description) so identical descriptions are embedded once.

package capindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type record struct {
	agentID string
	cap     Capability
	seq     int64
	removed bool
}

// Index provides O(1) exact-name lookup and semantic description search
// over registered capabilities, delegating the embedding/nearest-neighbor
// work to an injected EmbeddingIndex. With none configured, it degrades to
// substring/token-overlap scoring and logs that fact exactly once.
type Index struct {
	mu sync.RWMutex

	byName      map[string]map[string]*record // capability name -> agentID -> record
	byNameOrder map[string][]*record           // capability name -> records in registration order

	keyToRecords map[string][]*record // embeddingKey -> records sharing that description
	recordKey    map[*record]string   // record -> its current embeddingKey

	embedding EmbeddingIndex
	logger    *slog.Logger
	seq       int64

	warnDegradedOnce sync.Once
}

// New builds an Index. embedding may be nil, in which case search degrades
// gracefully to substring-and-token-overlap scoring.
func New(embedding EmbeddingIndex, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		byName:       make(map[string]map[string]*record),
		byNameOrder:  make(map[string][]*record),
		keyToRecords: make(map[string][]*record),
		recordKey:    make(map[*record]string),
		embedding:    embedding,
		logger:       logger.With("component", "capindex"),
	}
}

func descriptionKey(description string) string {
	sum := sha256.Sum256([]byte(description))
	return hex.EncodeToString(sum[:])
}

// Register adds or updates one agent's capability entry. Re-registering
// the same (agentID, capability name) updates the stored Capability and,
// only if the description text actually changed, re-embeds it — sharing
// a single embedding per distinct description text across agents.
func (idx *Index) Register(ctx context.Context, agentID string, cap Capability) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.byName[cap.Name] == nil {
		idx.byName[cap.Name] = make(map[string]*record)
	}

	if existing, ok := idx.byName[cap.Name][agentID]; ok {
		oldKey := idx.recordKey[existing]
		newKey := descriptionKey(cap.Description)
		existing.cap = cap
		if oldKey != newKey {
			if err := idx.rekeyLocked(ctx, existing, oldKey, newKey, cap.Description); err != nil {
				return err
			}
		}
		return nil
	}

	idx.seq++
	rec := &record{agentID: agentID, cap: cap, seq: idx.seq}
	idx.byName[cap.Name][agentID] = rec
	idx.byNameOrder[cap.Name] = append(idx.byNameOrder[cap.Name], rec)

	key := descriptionKey(cap.Description)
	return idx.rekeyLocked(ctx, rec, "", key, cap.Description)
}

// rekeyLocked moves rec from oldKey to newKey in the embedding backend,
// upserting newKey only if it has no other members yet and removing
// oldKey once it has none left. Must be called with idx.mu held.
func (idx *Index) rekeyLocked(ctx context.Context, rec *record, oldKey, newKey, description string) error {
	if oldKey != "" {
		members := idx.keyToRecords[oldKey]
		for i, m := range members {
			if m == rec {
				members = append(members[:i], members[i+1:]...)
				break
			}
		}
		if len(members) == 0 {
			delete(idx.keyToRecords, oldKey)
			if idx.embedding != nil {
				if err := idx.embedding.Remove(ctx, oldKey); err != nil {
					return fmt.Errorf("capindex: removing stale embedding: %w", err)
				}
			}
		} else {
			idx.keyToRecords[oldKey] = members
		}
	}

	_, existed := idx.keyToRecords[newKey]
	idx.keyToRecords[newKey] = append(idx.keyToRecords[newKey], rec)
	idx.recordKey[rec] = newKey

	if !existed && idx.embedding != nil {
		if err := idx.embedding.Upsert(ctx, newKey, description); err != nil {
			return fmt.Errorf("capindex: upserting embedding: %w", err)
		}
	}
	return nil
}

// Unregister removes one agent's capability entry. Idempotent: removing
// an entry that doesn't exist is a no-op.
func (idx *Index) Unregister(ctx context.Context, agentID, capName string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	byAgent, ok := idx.byName[capName]
	if !ok {
		return nil
	}
	rec, ok := byAgent[agentID]
	if !ok {
		return nil
	}

	delete(byAgent, agentID)
	if len(byAgent) == 0 {
		delete(idx.byName, capName)
	}
	rec.removed = true

	key := idx.recordKey[rec]
	delete(idx.recordKey, rec)
	members := idx.keyToRecords[key]
	for i, m := range members {
		if m == rec {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(idx.keyToRecords, key)
		if idx.embedding != nil {
			if err := idx.embedding.Remove(ctx, key); err != nil {
				return fmt.Errorf("capindex: removing embedding: %w", err)
			}
		}
	} else {
		idx.keyToRecords[key] = members
	}
	return nil
}

// FindByCapabilityName returns the agent ids registered with the exact
// capability name, in registration order.
func (idx *Index) FindByCapabilityName(name string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	records := idx.byNameOrder[name]
	out := make([]string, 0, len(records))
	for _, r := range records {
		if !r.removed {
			out = append(out, r.agentID)
		}
	}
	return out
}

// FindByCapabilityDescription performs semantic search against capability
// descriptions, returning up to limit results with score >= minScore,
// sorted descending by score with insertion order as the tiebreak.
func (idx *Index) FindByCapabilityDescription(ctx context.Context, query string, limit int, minScore float64) ([]Result, error) {
	if idx.embedding != nil {
		return idx.searchEmbedded(ctx, query, limit, minScore)
	}
	return idx.searchDegraded(query, limit, minScore), nil
}

func (idx *Index) searchEmbedded(ctx context.Context, query string, limit int, minScore float64) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	// Over-fetch since one embedding key can fan out to several records.
	hits, err := idx.embedding.Query(ctx, query, limit*4+8)
	if err != nil {
		return nil, fmt.Errorf("capindex: embedding query: %w", err)
	}

	var results []Result
	for _, hit := range hits {
		score := normalizeScore(hit.RawScore)
		if score < minScore {
			continue
		}
		for _, rec := range idx.keyToRecords[hit.Key] {
			if rec.removed {
				continue
			}
			results = append(results, Result{AgentID: rec.agentID, Capability: rec.cap, Score: score})
		}
	}
	return sortAndLimit(results, idx.recordSeq, limit), nil
}

func (idx *Index) searchDegraded(query string, limit int, minScore float64) []Result {
	idx.warnDegradedOnce.Do(func() {
		idx.logger.Warn("no EmbeddingIndex configured; semantic capability search is running in degraded substring/token-overlap mode")
	})

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []Result
	for _, byAgent := range idx.byName {
		for _, rec := range byAgent {
			if rec.removed {
				continue
			}
			score := degradedScore(query, rec.cap.Description)
			if score < minScore {
				continue
			}
			results = append(results, Result{AgentID: rec.agentID, Capability: rec.cap, Score: score})
		}
	}
	return sortAndLimit(results, idx.recordSeq, limit)
}

// recordSeq looks up the insertion sequence for a (agentID, capability
// name) pair, used only to break score ties deterministically.
func (idx *Index) recordSeq(agentID, capName string) int64 {
	if byAgent, ok := idx.byName[capName]; ok {
		if rec, ok := byAgent[agentID]; ok {
			return rec.seq
		}
	}
	return 0
}

func normalizeScore(raw float64) float64 {
	// Cosine similarity backends report [-1,1]; clamp anything already
	// within [0,1] (e.g. a dot-product-normalized backend) unchanged.
	if raw >= 0 && raw <= 1 {
		return raw
	}
	score := (raw + 1) / 2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func sortAndLimit(results []Result, seqOf func(agentID, capName string) int64, limit int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return seqOf(results[i].AgentID, results[i].Capability.Name) < seqOf(results[j].AgentID, results[j].Capability.Name)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Persist saves the embedding backend's state to path. A no-op when no
// EmbeddingIndex is configured (degraded mode has nothing to persist).
func (idx *Index) Persist(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.embedding == nil {
		return nil
	}
	return idx.embedding.Persist(path)
}

// Restore loads the embedding backend's state from path. A no-op when no
// EmbeddingIndex is configured.
func (idx *Index) Restore(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.embedding == nil {
		return nil
	}
	return idx.embedding.Restore(path)
}
