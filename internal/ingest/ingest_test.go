package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmoriya/tradegate/internal/storage"
)

const catalogJSON = `{
	"schema_version": "0.2-normalized",
	"source": {"sheet": "別表第1"},
	"export_items": [
		{
			"export_order_ref": {"id": "e-2-12", "norm": "第2条12項"},
			"export_order_item": "露光装置",
			"intro_meti_order_text": "半導体製造装置に関する規定",
			"cargo_rules": [
				{
					"meti_order_ref": {"id": "m-12-1", "norm": "12の1"},
					"meti_order_text": "波長248nm以下の光を用いる露光装置",
					"term": "KrF露光",
					"term_meaning": "KrFエキシマレーザーを光源とする露光",
					"notes_or_exclusions": "研究用途を除く",
					"eccn": "3B001",
					"substances": [{"text": "KrF"}]
				},
				{
					"meti_order_ref": {"id": "m-12-2", "raw": "12の2"},
					"meti_order_text": "電子ビーム描画装置"
				}
			]
		},
		{
			"export_order_ref": {"id": "e-3-1", "norm": "第3条1項"},
			"export_order_item": "工作機械",
			"cargo_rules": []
		}
	]
}`

func createIngestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIngestCatalog(t *testing.T) {
	store := createIngestStore(t)
	ctx := context.Background()

	ticks := 0
	summary, err := IngestCatalog(ctx, store, strings.NewReader(catalogJSON), "JP_FX", func() { ticks++ })
	require.NoError(t, err)

	// Two cargo rules plus one rule-less item.
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Inserted)
	assert.Equal(t, 3, ticks)

	rules, err := store.GetActiveRules(ctx, "JP_FX")
	require.NoError(t, err)
	require.Len(t, rules, 3)

	first := rules[0]
	assert.Equal(t, "第2条12項 (e-2-12) / 12の1 (m-12-1)", first.ItemNo)
	assert.Equal(t, "露光装置", first.Title)
	assert.Equal(t, "別表第1", first.ListName)
	assert.Equal(t, "0.2-normalized", first.Version)
	assert.Contains(t, first.RequirementText, "KrF露光")
	assert.Contains(t, first.RequirementText, "ECCN:3B001")
	assert.Contains(t, first.RequirementText, "研究用途を除く")

	// A cargo rule without a norm falls back to the raw reference.
	assert.Equal(t, "第2条12項 (e-2-12) / 12の2 (m-12-2)", rules[1].ItemNo)

	// Item without cargo rules still yields one entry.
	assert.Equal(t, "第3条1項 (e-3-1)", rules[2].ItemNo)

	// Re-ingesting updates in place.
	summary, err = IngestCatalog(ctx, store, strings.NewReader(catalogJSON), "JP_FX", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 3, summary.Updated)
}

func TestIngestCorpus_ListForm(t *testing.T) {
	store := createIngestStore(t)
	ctx := context.Background()

	corpus := `[
		{"publication_number": "JP2020-1", "title": "露光装置", "applicant": "A社", "usage_detail": "半導体製造", "ipc_codes": ["H01L", "G03F"]},
		{"pub_number": "JP2020-2", "title": "レーザー加工機", "assignee": "B社", "abstract": "金属の精密加工", "ipc": "B23K"},
		{"title": "番号なし"}
	]`

	summary, err := IngestCorpus(ctx, store, strings.NewReader(corpus), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 1, summary.Skipped)

	docs, err := store.GetDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "JP2020-1", docs[0].PublicationNumber)
	assert.Equal(t, "A社", docs[0].Assignee)
	assert.Equal(t, "半導体製造", docs[0].UsageText)
	assert.Equal(t, "H01L;G03F", docs[0].IPCCodes)

	// Key variants resolve to the same fields.
	assert.Equal(t, "JP2020-2", docs[1].PublicationNumber)
	assert.Equal(t, "B社", docs[1].Assignee)
	assert.Equal(t, "金属の精密加工", docs[1].UsageText)
	assert.Equal(t, "B23K", docs[1].IPCCodes)
}

func TestIngestCorpus_ItemsWrapper(t *testing.T) {
	store := createIngestStore(t)
	ctx := context.Background()

	corpus := `{"items": [{"publication_number": "JP2021-9", "title": "x"}]}`
	summary, err := IngestCorpus(ctx, store, strings.NewReader(corpus), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)
}

func TestIngestCorpus_MalformedDocument(t *testing.T) {
	store := createIngestStore(t)

	_, err := IngestCorpus(context.Background(), store, strings.NewReader(`{"not_items": true}`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list or {items:[...]}")
}
