package retrieval

import (
	"sort"
	"sync"
)

// Hit is one scored index entry.
type Hit struct {
	DocumentID int64
	Score      float64
}

// Index is an in-memory brute-force vector index. Searches take a read lock
// so they run concurrently; Replace takes the write lock and swaps the whole
// index atomically.
type Index struct {
	ids  []int64
	vecs [][]float32
	mu   sync.RWMutex
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{}
}

// Replace swaps the index contents wholesale.
func (idx *Index) Replace(ids []int64, vecs [][]float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ids = ids
	idx.vecs = vecs
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Search returns the topK nearest documents by inner product, best first.
// Vectors are normalized at embedding time, so the inner product is cosine
// similarity. Ties break on ascending document ID so results are stable.
func (idx *Index) Search(query []float32, topK int) []Hit {
	if topK <= 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]Hit, 0, len(idx.ids))
	for i, id := range idx.ids {
		hits = append(hits, Hit{DocumentID: id, Score: dot(query, idx.vecs[i])})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].DocumentID < hits[b].DocumentID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
