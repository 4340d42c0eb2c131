package retrieval

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/storage"
)

func createTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEmbedder_Deterministic(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDim, e.Dim())
	assert.Equal(t, "hash-v1-256", e.ModelTag())

	a, err := e.Embed("KrF露光装置 semiconductor lithography")
	require.NoError(t, err)
	b, err := e.Embed("KrF露光装置 semiconductor lithography")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDim)
}

func TestEmbedder_Normalized(t *testing.T) {
	e := NewEmbedder(64)
	vec, err := e.Embed("exposure system for fine patterning")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestEmbedder_CannotEmbed(t *testing.T) {
	e := NewEmbedder(64)
	_, err := e.Embed("!!! ???")
	assert.ErrorIs(t, err, common.ErrCannotEmbed)
}

func TestIndex_SearchOrdering(t *testing.T) {
	idx := NewIndex()
	idx.Replace(
		[]int64{1, 2, 3},
		[][]float32{
			{1, 0},
			{0, 1},
			{1, 0},
		},
	)

	hits := idx.Search([]float32{1, 0}, 10)
	require.Len(t, hits, 3)
	// Equal scores break ties on ascending document ID.
	assert.Equal(t, int64(1), hits[0].DocumentID)
	assert.Equal(t, int64(3), hits[1].DocumentID)
	assert.Equal(t, int64(2), hits[2].DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-9)

	hits = idx.Search([]float32{1, 0}, 1)
	assert.Len(t, hits, 1)
	assert.Empty(t, idx.Search([]float32{1, 0}, 0))
}

func TestEngine_RetrieveSimilar(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	docs := []*model.Document{
		{PublicationNumber: "JP1", Title: "KrF露光装置", UsageText: "半導体リソグラフィ用の露光装置"},
		{PublicationNumber: "JP2", Title: "農業用トラクター", UsageText: "圃場の耕うん作業"},
		{PublicationNumber: "JP3", Title: "露光方法", UsageText: "微細パターン形成のための露光"},
	}
	for _, d := range docs {
		_, err := store.UpsertDocument(ctx, d)
		require.NoError(t, err)
	}

	engine := NewEngine(store, NewEmbedder(DefaultDim))
	require.NoError(t, engine.EnsureIndex(ctx, false))
	assert.Equal(t, 3, engine.Size())

	cands, err := engine.Retrieve(ctx, store, "KrF露光に使用する装置", 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.Equal(t, model.ProvenanceSimilarity, c.Provenance)
		assert.False(t, math.IsNaN(c.Score))
	}
	// The tractor document must not outrank both lithography documents.
	assert.NotEqual(t, docs[1].ID, cands[0].DocumentID)
}

func TestEngine_PersistedVectorsSurviveRestart(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertDocument(ctx, &model.Document{PublicationNumber: "JP1", Title: "露光装置"})
	require.NoError(t, err)

	embedder := NewEmbedder(64)
	engine := NewEngine(store, embedder)
	require.NoError(t, engine.EnsureIndex(ctx, false))

	vecs, err := store.GetDocumentVectors(ctx, embedder.ModelTag())
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	// A fresh engine loads the persisted vectors without re-embedding.
	engine2 := NewEngine(store, NewEmbedder(64))
	require.NoError(t, engine2.EnsureIndex(ctx, false))
	assert.Equal(t, 1, engine2.Size())

	// Force rebuild drops and re-persists.
	require.NoError(t, engine2.EnsureIndex(ctx, true))
	vecs, err = store.GetDocumentVectors(ctx, embedder.ModelTag())
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 1, engine2.Size())
}

func TestEngine_FallbackSample(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, pn := range []string{"JP1", "JP2", "JP3"} {
		_, err := store.UpsertDocument(ctx, &model.Document{PublicationNumber: pn, Title: "doc " + pn})
		require.NoError(t, err)
	}

	engine := NewEngine(store, NewEmbedder(64))
	require.NoError(t, engine.EnsureIndex(ctx, false))

	// An unembeddable query degrades to a sampled fallback, never an error.
	cands, err := engine.Retrieve(ctx, store, "???", 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.Equal(t, model.ProvenanceFallbackSample, c.Provenance)
		assert.Zero(t, c.Score)
	}
}

func TestEngine_EmptyCorpus(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	engine := NewEngine(store, NewEmbedder(64))
	require.NoError(t, engine.EnsureIndex(ctx, false))
	assert.Zero(t, engine.Size())

	cands, err := engine.Retrieve(ctx, store, "露光装置", 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.False(t, errors.Is(err, common.ErrIndexEmpty))
}
