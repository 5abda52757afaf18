// Package capability implements the Capability Index (C3): the in-memory
// forward index from capability name to advertising agents, plus an
// optional semantic layer over capability descriptions that degrades
// gracefully to Jaccard token-overlap when no embedding backend is wired.
package capability

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/olserra/agent-semantic-protocol/core"
)

// Embedder turns text into a dense vector. The embedding model itself is
// out of scope for this core (see SPEC_FULL.md §4.3): production callers
// wire a real client; NullEmbedder is the zero-value default and drives the
// Jaccard degradation path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NullEmbedder always reports that no embedding backend is configured.
type NullEmbedder struct{}

func (NullEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, core.ErrNoEmbedder
}

// Match is one exact-name hit: an agent and the matching capability record.
type Match struct {
	AgentID    string
	Capability core.Capability
}

// SemanticMatch is one semantic-search hit, carrying the ORIGINAL raw cosine
// (or Jaccard) score, never the normalized value used internally for
// threshold comparison.
type SemanticMatch struct {
	AgentID    string
	Capability core.Capability
	Score      float64
}

type entry struct {
	capability core.Capability
	embedding  []float32 // nil if no embedder configured, or Embed failed
}

// Index is the Capability Index. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	byAgent  map[string]map[string]*entry // agentID -> capability name -> entry
	byName   map[string]map[string]bool  // capability name -> set of agentIDs
	embedder Embedder

	readyMu sync.Mutex
	ready   chan struct{}
}

// NewIndex creates an empty Index. embedder may be nil, which is equivalent
// to passing NullEmbedder{}.
func NewIndex(embedder Embedder) *Index {
	if embedder == nil {
		embedder = NullEmbedder{}
	}
	ready := make(chan struct{})
	close(ready) // nothing to wait for until a snapshot load is in flight
	return &Index{
		byAgent:  make(map[string]map[string]*entry),
		byName:   make(map[string]map[string]bool),
		embedder: embedder,
		ready:    ready,
	}
}

// waitReady blocks until the ready signal is raised, up to a 10s bound or
// until ctx is done, then returns regardless. NewIndex raises the signal at
// construction and nothing lowers it, so in practice it returns at once.
// Callers go on with their own lookup either way; there is no separate
// exact-name fallback after a timed-out wait.
func (idx *Index) waitReady(ctx context.Context) {
	idx.readyMu.Lock()
	ch := idx.ready
	idx.readyMu.Unlock()

	select {
	case <-ch:
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
	}
}

// Add registers one agent's capabilities, computing embeddings best-effort
// (a failed or unconfigured Embed leaves that capability's embedding nil,
// driving the Jaccard fallback at query time).
func (idx *Index) Add(ctx context.Context, agentID string, caps []core.Capability) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addLocked(ctx, agentID, caps)
}

func (idx *Index) addLocked(ctx context.Context, agentID string, caps []core.Capability) {
	if idx.byAgent[agentID] == nil {
		idx.byAgent[agentID] = make(map[string]*entry)
	}
	for _, c := range caps {
		emb, _ := idx.embedder.Embed(ctx, c.Name+" "+c.Description)
		idx.byAgent[agentID][c.Name] = &entry{capability: c, embedding: emb}
		if idx.byName[c.Name] == nil {
			idx.byName[c.Name] = make(map[string]bool)
		}
		idx.byName[c.Name][agentID] = true
	}
}

// Remove drops every capability entry belonging to agentID.
func (idx *Index) Remove(agentID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(agentID)
}

func (idx *Index) removeLocked(agentID string) {
	caps := idx.byAgent[agentID]
	for name := range caps {
		if set := idx.byName[name]; set != nil {
			delete(set, agentID)
			if len(set) == 0 {
				delete(idx.byName, name)
			}
		}
	}
	delete(idx.byAgent, agentID)
}

// Update atomically replaces agentID's capability set.
func (idx *Index) Update(ctx context.Context, agentID string, caps []core.Capability) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(agentID)
	idx.addLocked(ctx, agentID, caps)
}

// FindByName returns exact-name hits first; if none exist, falls back to a
// semantic search using name as the query (description distance).
func (idx *Index) FindByName(ctx context.Context, name string, limit int, threshold float64) ([]Match, error) {
	idx.waitReady(ctx)

	idx.mu.RLock()
	agentIDs := make([]string, 0, len(idx.byName[name]))
	for agentID := range idx.byName[name] {
		agentIDs = append(agentIDs, agentID)
	}
	var exact []Match
	for _, agentID := range agentIDs {
		if e := idx.byAgent[agentID][name]; e != nil {
			exact = append(exact, Match{AgentID: agentID, Capability: e.capability})
		}
	}
	idx.mu.RUnlock()

	if len(exact) > 0 {
		sort.Slice(exact, func(i, j int) bool { return exact[i].AgentID < exact[j].AgentID })
		if limit > 0 && len(exact) > limit {
			exact = exact[:limit]
		}
		return exact, nil
	}

	semantic, err := idx.FindSemantic(ctx, name, limit, threshold)
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(semantic))
	for i, s := range semantic {
		out[i] = Match{AgentID: s.AgentID, Capability: s.Capability}
	}
	return out, nil
}

// FindSemantic returns capability matches ranked by similarity to query,
// best first, carrying each match's ORIGINAL raw score. See SPEC_FULL.md
// §4.3 for the exact normalization-vs-threshold rule this implements.
func (idx *Index) FindSemantic(ctx context.Context, query string, limit int, threshold float64) ([]SemanticMatch, error) {
	idx.waitReady(ctx)

	queryEmbedding, err := idx.embedder.Embed(ctx, query)
	useVectors := err == nil && len(queryEmbedding) > 0

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var results []SemanticMatch
	for agentID, caps := range idx.byAgent {
		for _, e := range caps {
			if useVectors && len(e.embedding) == len(queryEmbedding) {
				raw := cosineSimilarity(queryEmbedding, e.embedding)
				if raw <= 0 {
					continue
				}
				normalized := (raw + 1.0) / 2.0
				if normalized < threshold {
					continue
				}
				results = append(results, SemanticMatch{AgentID: agentID, Capability: e.capability, Score: raw})
				continue
			}

			// Jaccard fallback: threshold applies directly to the raw [0,1] score.
			raw := jaccardSimilarity(query, e.capability.Name+" "+e.capability.Description)
			if raw < threshold {
				continue
			}
			results = append(results, SemanticMatch{AgentID: agentID, Capability: e.capability, Score: raw})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func jaccardSimilarity(text1, text2 string) float64 {
	words1 := tokenSet(text1)
	words2 := tokenSet(text2)
	if len(words1) == 0 || len(words2) == 0 {
		return 0
	}
	intersection := 0
	for w := range words1 {
		if words2[w] {
			intersection++
		}
	}
	union := len(words1) + len(words2) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// AllCapabilityNames returns every distinct capability name currently indexed.
func (idx *Index) AllCapabilityNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.byName))
	for name := range idx.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of every indexed entry, for persistence via
// core.CapabilitySnapshotEntry.
func (idx *Index) Snapshot() []core.CapabilitySnapshotEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []core.CapabilitySnapshotEntry
	for agentID, caps := range idx.byAgent {
		for _, e := range caps {
			out = append(out, core.CapabilitySnapshotEntry{
				AgentID:        agentID,
				CapabilityName: e.capability.Name,
				Description:    e.capability.Description,
				Embedding:      e.embedding,
			})
		}
	}
	return out
}

// LoadSnapshot replaces the index's embeddings for the given entries without
// touching capabilities that have no corresponding entry. It holds the
// index's write lock while it copies embeddings, so concurrent
// Add/Remove/Update calls wait for it to finish. Entries whose agent or
// capability is not indexed yet are skipped, so callers should load a
// snapshot after registering agents and before serving traffic.
func (idx *Index) LoadSnapshot(entries []core.CapabilitySnapshotEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range entries {
		agentCaps := idx.byAgent[e.AgentID]
		if agentCaps == nil {
			continue
		}
		if existing := agentCaps[e.CapabilityName]; existing != nil {
			existing.embedding = e.Embedding
		}
	}
	return nil
}
