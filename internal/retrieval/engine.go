package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
)

// embedConcurrency bounds the parallel embedding workers during a rebuild.
const embedConcurrency = 4

// Candidate is one retrieval outcome for a query, tagged with how it was
// produced. Fallback candidates carry a zero score.
type Candidate struct {
	Provenance model.RetrievalProvenance
	Score      float64
	DocumentID int64
}

// Engine serves nearest-neighbor lookups over the prior-art corpus. Vectors
// are persisted so subsequent processes load instead of re-embedding; the
// in-memory index is rebuilt whenever the persisted set no longer covers the
// corpus.
type Engine struct {
	store    service.Storage
	embedder *Embedder
	index    *Index
}

// NewEngine creates a retrieval engine over the given storage.
func NewEngine(store service.Storage, embedder *Embedder) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		index:    NewIndex(),
	}
}

// EnsureIndex makes the in-memory index serve the current corpus. Persisted
// vectors are loaded when they cover every document; otherwise the corpus is
// re-embedded and the vectors persisted for the next process. With force set,
// persisted vectors are dropped first.
func (e *Engine) EnsureIndex(ctx context.Context, force bool) error {
	tag := e.embedder.ModelTag()

	if force {
		deleted, err := e.store.DeleteDocumentVectors(ctx, tag)
		if err != nil {
			return fmt.Errorf("failed to drop persisted vectors: %w", err)
		}
		slog.Info("dropped persisted vectors for rebuild", "model_tag", tag, "deleted", deleted)
	}

	docCount, err := e.store.CountDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to count corpus: %w", err)
	}
	if docCount == 0 {
		e.index.Replace(nil, nil)
		slog.Warn("prior-art corpus is empty; retrieval will degrade to fallback")
		return nil
	}

	vecs, err := e.store.GetDocumentVectors(ctx, tag)
	if err != nil {
		return fmt.Errorf("failed to load persisted vectors: %w", err)
	}
	if len(vecs) == docCount {
		ids := make([]int64, len(vecs))
		vectors := make([][]float32, len(vecs))
		for i, v := range vecs {
			ids[i] = v.DocumentID
			vectors[i] = v.Vector
		}
		e.index.Replace(ids, vectors)
		slog.Info("loaded persisted retrieval index", "model_tag", tag, "documents", len(ids))
		return nil
	}

	return e.rebuild(ctx, tag)
}

func (e *Engine) rebuild(ctx context.Context, tag string) error {
	docs, err := e.store.GetDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	var mu sync.Mutex
	ids := make([]int64, 0, len(docs))
	vectors := make([][]float32, 0, len(docs))
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for _, doc := range docs {
		g.Go(func() error {
			vec, embErr := e.embedder.Embed(doc.EmbedText())
			if errors.Is(embErr, common.ErrCannotEmbed) {
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if embErr != nil {
				return fmt.Errorf("document %s: %w", doc.PublicationNumber, embErr)
			}
			mu.Lock()
			ids = append(ids, doc.ID)
			vectors = append(vectors, vec)
			mu.Unlock()
			return e.store.SaveDocumentVector(gctx, &model.DocumentVector{
				DocumentID: doc.ID,
				ModelTag:   tag,
				Vector:     vec,
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}

	e.index.Replace(ids, vectors)
	slog.Info("rebuilt retrieval index",
		"model_tag", tag, "documents", len(ids), "skipped", skipped)
	return nil
}

// Size reports how many documents the index currently serves.
func (e *Engine) Size() int {
	return e.index.Size()
}

// Retrieve returns up to topK candidates for the query text. When the index
// is empty or the query cannot be embedded, it degrades to a corpus sample
// tagged as fallback instead of failing the stage. The fallback reads through
// the supplied store so callers inside a transaction stay on their own
// connection.
func (e *Engine) Retrieve(ctx context.Context, store service.Storage, query string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}

	if e.index.Size() > 0 {
		vec, err := e.embedder.Embed(query)
		if err == nil {
			hits := e.index.Search(vec, topK)
			out := make([]Candidate, len(hits))
			for i, h := range hits {
				out[i] = Candidate{
					DocumentID: h.DocumentID,
					Score:      h.Score,
					Provenance: model.ProvenanceSimilarity,
				}
			}
			return out, nil
		}
		if !errors.Is(err, common.ErrCannotEmbed) {
			return nil, err
		}
		slog.Warn("query produced no embeddable tokens; serving fallback sample")
	}

	sample, err := store.GetDocumentSample(ctx, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to load fallback sample: %w", err)
	}
	out := make([]Candidate, len(sample))
	for i, doc := range sample {
		out[i] = Candidate{
			DocumentID: doc.ID,
			Score:      0,
			Provenance: model.ProvenanceFallbackSample,
		}
	}
	return out, nil
}
