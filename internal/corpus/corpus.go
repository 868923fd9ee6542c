// Package corpus provides an in-memory hybrid index over the evidence
// collections, used when running without Postgres (tests, demos, small
// corpora). Keyword and vector rankings are fused with reciprocal-rank
// fusion so behavior stays close to the pgvector backend.
package corpus

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/ebcs/coach/internal/repository"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// Doc is one indexed corpus entry.
type Doc struct {
	ID      string
	Text    string
	Payload map[string]string
	Vector  []float32
}

type collection struct {
	index bleve.Index
	docs  map[string]Doc
	order []string // insertion order, for deterministic vector scans
}

// Index holds every collection behind one Searcher implementation.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewIndex() *Index {
	return &Index{collections: make(map[string]*collection)}
}

// Add indexes a document into a collection, creating the collection on
// first use.
func (ix *Index) Add(collectionName string, doc Doc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	coll, ok := ix.collections[collectionName]
	if !ok {
		bi, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return err
		}
		coll = &collection{index: bi, docs: make(map[string]Doc)}
		ix.collections[collectionName] = coll
	}
	if _, exists := coll.docs[doc.ID]; !exists {
		coll.order = append(coll.order, doc.ID)
	}
	coll.docs[doc.ID] = doc
	return coll.index.Index(doc.ID, map[string]string{"text": doc.Text})
}

// Count returns the number of documents in a collection.
func (ix *Index) Count(collectionName string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	coll, ok := ix.collections[collectionName]
	if !ok {
		return 0
	}
	return len(coll.docs)
}

type rankedID struct {
	id    string
	score float64
	rank  int
}

// Search implements the repository.Searcher contract: BM25 over the query
// text and cosine over the query vector, fused via RRF. The reported score
// is the cosine similarity of the stored vector (matching the pgvector
// backend); RRF only decides ordering.
func (ix *Index) Search(ctx context.Context, collectionName string, queryVector []float32, queryText string, limit int) ([]repository.Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	coll, ok := ix.collections[collectionName]
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = 60
	}

	keyword, err := coll.bm25(queryText, limit)
	if err != nil {
		return nil, err
	}
	vector := coll.vectorScan(queryVector, limit)

	fusedOrder := fuseRRF(keyword, vector, limit)

	hits := make([]repository.Hit, 0, len(fusedOrder))
	for _, r := range fusedOrder {
		doc := coll.docs[r.id]
		hits = append(hits, repository.Hit{
			ID:      doc.ID,
			Score:   cosine(queryVector, doc.Vector),
			Vector:  doc.Vector,
			Payload: doc.Payload,
		})
	}
	return hits, nil
}

func (c *collection) bm25(q string, k int) ([]rankedID, error) {
	if q == "" {
		return nil, nil
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := c.index.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]rankedID, 0, len(res.Hits))
	for i, hit := range res.Hits {
		out = append(out, rankedID{id: hit.ID, score: hit.Score, rank: i + 1})
	}
	return out, nil
}

func (c *collection) vectorScan(q []float32, k int) []rankedID {
	if len(q) == 0 {
		return nil
	}
	scored := make([]rankedID, 0, len(c.order))
	for _, id := range c.order {
		scored = append(scored, rankedID{id: id, score: cosine(q, c.docs[id].Vector)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].rank = i + 1
	}
	return scored
}

func fuseRRF(a, b []rankedID, k int) []rankedID {
	fused := map[string]float64{}
	add := func(list []rankedID) {
		for _, h := range list {
			fused[h.id] += 1.0 / float64(rrfK+h.rank)
		}
	}
	add(a)
	add(b)

	out := make([]rankedID, 0, len(fused))
	for id, score := range fused {
		out = append(out, rankedID{id: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].rank = i + 1
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
