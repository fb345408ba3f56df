package memory

import (
	"context"
	"sort"
	"time"

	"github.com/mohitmishra786/aurora-dev-sub001/internal/memory/persist"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/embed"
	"github.com/mohitmishra786/aurora-dev-sub001/pkg/rerank"
)

// DefaultDecayRate is the weekly decay rate applied by ApplyDecay.
const DefaultDecayRate = 0.10

// DefaultPruneThreshold is the relevance floor below which items are
// pruned.
const DefaultPruneThreshold = 0.2

// DefaultRetrievalMultiplier is how many extra candidates are fetched
// before an optional reranking pass narrows back to limit.
const DefaultRetrievalMultiplier = 3

// RelevanceBoost is the multiplicative access boost applied on retrieval,
// capped at 1.0.
const RelevanceBoost = 1.05

// Store is the hierarchical memory store: three independently-serialized
// partitions plus optional embedding/reranking collaborators.
type Store struct {
	partitions map[Type]*partition
	embedder   embed.Embedder
	reranker   rerank.Reranker
	backend    persist.Backend
}

// Option configures a Store at construction.
type Option func(*Store)

func WithEmbedder(e embed.Embedder) Option  { return func(s *Store) { s.embedder = e } }
func WithReranker(r rerank.Reranker) Option { return func(s *Store) { s.reranker = r } }

// WithBackend wires durable storage: every Store call upserts to backend,
// and New restores every previously-saved item from it before returning.
func WithBackend(b persist.Backend) Option { return func(s *Store) { s.backend = b } }

func New(opts ...Option) *Store {
	s := &Store{
		partitions: map[Type]*partition{
			TypeShortTerm: newPartition(),
			TypeLongTerm:  newPartition(),
			TypeEpisodic:  newPartition(),
		},
		embedder: embed.Fallback{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.backend != nil {
		s.restore(context.Background())
	}
	return s
}

// restore loads every record the backend holds back into their partitions.
// Load errors are swallowed (a fresh/unreachable backend just starts empty)
// since New has no error return and durability is a best-effort layer over
// the in-process store.
func (s *Store) restore(ctx context.Context) {
	records, err := s.backend.LoadAll(ctx)
	if err != nil {
		return
	}
	for _, r := range records {
		typ := Type(r.Type)
		p, ok := s.partitions[typ]
		if !ok {
			continue
		}
		p.mu.Lock()
		p.items[r.ID] = &Item{
			ID: r.ID, Content: r.Content, Type: typ, CreatedAt: r.CreatedAt,
			Tags: r.Tags, Relevance: r.Relevance, AccessCount: r.AccessCount,
			LastAccessed: r.LastAccessed, ExpiresAt: r.ExpiresAt, Embedding: r.Embedding,
		}
		p.mu.Unlock()
	}
}

// Store generates a content-hash id, embeds (for long-term/episodic), and
// inserts the item into its partition.
func (s *Store) Store(ctx context.Context, content string, typ Type, tags []string) (*Item, error) {
	now := time.Now()
	item := &Item{
		ID:        idFor(content, now),
		Content:   content,
		Type:      typ,
		CreatedAt: now,
		Tags:      tags,
		Relevance: 1.0,
	}
	if typ == TypeShortTerm {
		item.ExpiresAt = now.Add(DefaultShortTermTTL)
	} else {
		vec, err := s.embedder.Embed(ctx, content)
		if err == nil {
			item.Embedding = vec
		}
	}

	p := s.partitions[typ]
	p.mu.Lock()
	p.items[item.ID] = item
	p.mu.Unlock()

	if s.backend != nil {
		_ = s.backend.Save(ctx, toRecord(item))
	}
	return item, nil
}

func toRecord(it *Item) *persist.Record {
	return &persist.Record{
		ID: it.ID, Content: it.Content, Type: string(it.Type), CreatedAt: it.CreatedAt,
		Tags: it.Tags, Relevance: it.Relevance, AccessCount: it.AccessCount,
		LastAccessed: it.LastAccessed, ExpiresAt: it.ExpiresAt, Embedding: it.Embedding,
	}
}

type scored struct {
	item  *Item
	score float64
}

// Retrieve scores every live item in the requested partitions (or all
// partitions when typ is nil) as similarity*relevance, returning the top
// `limit` items scoring >= minRelevance. On return, each returned item's
// access count/last-accessed/relevance are updated.
func (s *Store) Retrieve(ctx context.Context, query string, typ *Type, limit int, minRelevance float64) ([]*Item, error) {
	queryEmb, _ := s.embedder.Embed(ctx, query)
	semantic := embed.IsSemantic(s.embedder)
	now := time.Now()

	fetchLimit := limit * DefaultRetrievalMultiplier
	if fetchLimit <= 0 {
		fetchLimit = limit
	}

	var candidates []scored
	for t, p := range s.partitions {
		if typ != nil && t != *typ {
			continue
		}
		p.mu.RLock()
		for _, it := range p.items {
			if it.expired(now) {
				continue
			}
			sc := similarity(query, queryEmb, it, semantic) * it.Relevance
			if sc >= minRelevance {
				candidates = append(candidates, scored{item: it, score: sc})
			}
		}
		p.mu.RUnlock()
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > fetchLimit {
		candidates = candidates[:fetchLimit]
	}

	if s.reranker != nil && len(candidates) > 0 {
		rcands := make([]rerank.Candidate, len(candidates))
		for i, c := range candidates {
			rcands[i] = rerank.Candidate{ID: c.item.ID, Content: c.item.Content, Score: c.score}
		}
		reranked, err := s.reranker.Rerank(ctx, query, rcands)
		if err == nil {
			byID := make(map[string]*Item, len(candidates))
			for _, c := range candidates {
				byID[c.item.ID] = c.item
			}
			candidates = candidates[:0]
			for _, rc := range reranked {
				if it, ok := byID[rc.ID]; ok {
					candidates = append(candidates, scored{item: it, score: rc.Score})
				}
			}
		}
		// On reranker error, initial ordering is preserved.
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*Item, 0, len(candidates))
	for _, c := range candidates {
		p := s.partitions[c.item.Type]
		p.mu.Lock()
		c.item.AccessCount++
		c.item.LastAccessed = now
		c.item.Relevance = minFloat(1.0, c.item.Relevance*RelevanceBoost)
		p.mu.Unlock()
		if s.backend != nil {
			_ = s.backend.Save(ctx, toRecord(c.item))
		}
		out = append(out, c.item)
	}
	return out, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ApplyDecay iterates every item with a set last-accessed time and applies
// relevance *= (1-rate)^weeks for items idle >= 7 days. It returns the
// number of items whose relevance was reduced; monotone non-increasing
// for any rate > 0.
func (s *Store) ApplyDecay(rate float64) int {
	now := time.Now()
	affected := 0
	for _, p := range s.partitions {
		p.mu.Lock()
		for _, it := range p.items {
			if it.LastAccessed.IsZero() {
				continue
			}
			idle := now.Sub(it.LastAccessed)
			weeks := int(idle.Hours() / (24 * 7))
			if weeks < 1 {
				continue
			}
			factor := 1.0
			for i := 0; i < weeks; i++ {
				factor *= 1 - rate
			}
			it.Relevance *= factor
			affected++
		}
		p.mu.Unlock()
	}
	return affected
}

// Prune removes every item with relevance < threshold across all
// partitions, returning the removed count.
func (s *Store) Prune(threshold float64) int {
	removed := 0
	for _, p := range s.partitions {
		p.mu.Lock()
		for id, it := range p.items {
			if it.Relevance < threshold {
				delete(p.items, id)
				removed++
				if s.backend != nil {
					_ = s.backend.Delete(context.Background(), id)
				}
			}
		}
		p.mu.Unlock()
	}
	return removed
}

// Get returns an item by id across all partitions, for tests/diagnostics.
func (s *Store) Get(id string) (*Item, bool) {
	for _, p := range s.partitions {
		p.mu.RLock()
		it, ok := p.items[id]
		p.mu.RUnlock()
		if ok {
			return it, true
		}
	}
	return nil, false
}
