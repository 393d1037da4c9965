package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"profai-backend/logger"
	"profai-backend/models"
)

// PassageStore is the persistent side of PgVectorIndex.
type PassageStore interface {
	Upsert(ctx context.Context, passages []models.Passage) error
	Search(ctx context.Context, embedding []float32, limit int) ([]models.Passage, error)
	Count(ctx context.Context) (int, error)
}

type indexSettings struct {
	topK int
	log  logger.Logger
}

// IndexOption configures MemoryIndex and PgVectorIndex.
type IndexOption func(*indexSettings)

// IndexWithTopK sets how many passages Retrieve returns.
func IndexWithTopK(k int) IndexOption {
	return func(s *indexSettings) {
		if k > 0 {
			s.topK = k
		}
	}
}

func IndexWithLogger(l logger.Logger) IndexOption {
	return func(s *indexSettings) { s.log = l }
}

func newIndexSettings(opts []IndexOption) indexSettings {
	s := indexSettings{topK: 4}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.Default()
	}
	return s
}

// embedPassages returns copies of passages with unit-length embeddings.
func embedPassages(ctx context.Context, embedder Embedder, passages []models.Passage) ([]models.Passage, error) {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed passages: %w", err)
	}
	if len(vectors) != len(passages) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d passages", len(vectors), len(passages))
	}

	out := make([]models.Passage, len(passages))
	for i, p := range passages {
		p.Embedding = normalize(vectors[i])
		out[i] = p
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func toRetrievalResult(passages []models.Passage) RetrievalResult {
	res := RetrievalResult{Passages: make([]RetrievedPassage, 0, len(passages))}
	for _, p := range passages {
		res.Passages = append(res.Passages, RetrievedPassage{Text: p.Text, SourceLabel: p.Source()})
	}
	return res
}

type memorySnapshot struct {
	passages []models.Passage
	byID     map[string]int
}

// MemoryIndex keeps passages in process. Readers work on an immutable
// snapshot; each AddPassages builds a new snapshot and swaps it in whole.
type MemoryIndex struct {
	embedder Embedder
	settings indexSettings

	writeMu  sync.Mutex
	snapshot atomic.Pointer[memorySnapshot]
}

func NewMemoryIndex(embedder Embedder, opts ...IndexOption) *MemoryIndex {
	idx := &MemoryIndex{embedder: embedder, settings: newIndexSettings(opts)}
	idx.snapshot.Store(&memorySnapshot{byID: map[string]int{}})
	return idx
}

// AddPassages embeds passages and publishes a snapshot containing them.
// Passages with a known id replace the stored version.
func (m *MemoryIndex) AddPassages(ctx context.Context, passages []models.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	embedded, err := embedPassages(ctx, m.embedder, passages)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	old := m.snapshot.Load()
	next := &memorySnapshot{
		passages: make([]models.Passage, len(old.passages), len(old.passages)+len(embedded)),
		byID:     make(map[string]int, len(old.byID)+len(embedded)),
	}
	copy(next.passages, old.passages)
	for id, i := range old.byID {
		next.byID[id] = i
	}
	for _, p := range embedded {
		if i, ok := next.byID[p.ID]; ok {
			next.passages[i] = p
			continue
		}
		next.byID[p.ID] = len(next.passages)
		next.passages = append(next.passages, p)
	}
	m.snapshot.Store(next)
	m.settings.log.Debug("Memory index updated", "passages", len(next.passages))
	return nil
}

// Retrieve ranks the current snapshot by cosine similarity to query.
func (m *MemoryIndex) Retrieve(ctx context.Context, query string) (RetrievalResult, error) {
	snap := m.snapshot.Load()
	if len(snap.passages) == 0 {
		return RetrievalResult{}, nil
	}

	q, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("failed to embed query: %w", err)
	}
	q = normalize(q)

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, 0, len(snap.passages))
	for i, p := range snap.passages {
		if len(p.Embedding) != len(q) {
			continue
		}
		var dot float64
		for j := range q {
			dot += float64(q[j]) * float64(p.Embedding[j])
		}
		scores = append(scores, scored{idx: i, score: dot})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	k := min(m.settings.topK, len(scores))
	top := make([]models.Passage, 0, k)
	for _, s := range scores[:k] {
		p := snap.passages[s.idx]
		p.Distance = 1 - s.score
		top = append(top, p)
	}
	return toRetrievalResult(top), nil
}

// Count returns the passages in the current snapshot.
func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	return len(m.snapshot.Load().passages), nil
}

// PgVectorIndex keeps passages in Postgres. AddPassages commits in one
// transaction, so readers see all of a batch or none of it.
type PgVectorIndex struct {
	store    PassageStore
	embedder Embedder
	settings indexSettings
}

func NewPgVectorIndex(store PassageStore, embedder Embedder, opts ...IndexOption) *PgVectorIndex {
	return &PgVectorIndex{store: store, embedder: embedder, settings: newIndexSettings(opts)}
}

func (p *PgVectorIndex) AddPassages(ctx context.Context, passages []models.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	embedded, err := embedPassages(ctx, p.embedder, passages)
	if err != nil {
		return err
	}
	if err := p.store.Upsert(ctx, embedded); err != nil {
		return fmt.Errorf("failed to store passages: %w", err)
	}
	p.settings.log.Debug("Passages committed", "count", len(embedded))
	return nil
}

func (p *PgVectorIndex) Retrieve(ctx context.Context, query string) (RetrievalResult, error) {
	q, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return RetrievalResult{}, fmt.Errorf("failed to embed query: %w", err)
	}
	passages, err := p.store.Search(ctx, normalize(q), p.settings.topK)
	if err != nil {
		return RetrievalResult{}, err
	}
	return toRetrievalResult(passages), nil
}

func (p *PgVectorIndex) Count(ctx context.Context) (int, error) {
	return p.store.Count(ctx)
}
