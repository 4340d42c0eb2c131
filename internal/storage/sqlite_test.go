package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func createTestTransaction(t *testing.T, store *SQLiteStorage, caseNo string) *model.Transaction {
	t.Helper()
	txn := &model.Transaction{CaseNo: caseNo, Title: "Test case " + caseNo}
	if err := store.CreateTransaction(context.Background(), txn); err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}
	return txn
}

func TestMigrate_Idempotent(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	// A second migrate on an up-to-date database must be a no-op.
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("Second migrate failed: %v", err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-001")
	if txn.ID == 0 {
		t.Fatal("Expected transaction ID to be assigned")
	}
	if txn.Status != model.TransactionDraft {
		t.Errorf("Expected default status draft, got %s", txn.Status)
	}

	item := &model.TransactionItem{
		TransactionID: txn.ID,
		ItemName:      "Excimer laser",
		ItemModel:     "XL-200",
		SpecText:      "KrF 248nm lithography light source",
	}
	if err := store.CreateTransactionItem(ctx, item); err != nil {
		t.Fatalf("Failed to create item: %v", err)
	}

	got, err := store.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Failed to get transaction: %v", err)
	}
	if got.CaseNo != "CASE-001" {
		t.Errorf("Expected case CASE-001, got %s", got.CaseNo)
	}

	items, err := store.GetTransactionItems(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Failed to get items: %v", err)
	}
	if len(items) != 1 || items[0].ItemName != "Excimer laser" {
		t.Errorf("Unexpected items: %+v", items)
	}

	_, err = store.GetTransaction(ctx, 9999)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing transaction, got %v", err)
	}
}

func TestUsageRequirements_CreateAndDelete(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-002")
	conf := 0.9

	reqs := []*model.UsageRequirement{
		{TransactionID: txn.ID, Source: model.SourceCore, Text: "KrF露光に使用", CreatedBy: "stage:usage_extract"},
		{TransactionID: txn.ID, Source: model.SourceExpanded, Text: "微細加工向け露光装置", CreatedBy: "stage:usage_expand", RiskTags: []string{"litho"}, Confidence: &conf},
		{TransactionID: txn.ID, Source: model.SourceAnalystAdded, Text: "analyst note", CreatedBy: "analyst:kim"},
	}
	for _, r := range reqs {
		if err := store.CreateUsageRequirement(ctx, r); err != nil {
			t.Fatalf("Failed to create requirement: %v", err)
		}
	}

	all, err := store.GetUsageRequirements(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Failed to get requirements: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 requirements, got %d", len(all))
	}
	if len(all[1].RiskTags) != 1 || all[1].RiskTags[0] != "litho" {
		t.Errorf("Risk tags not persisted: %+v", all[1].RiskTags)
	}
	if all[1].Confidence == nil || *all[1].Confidence != 0.9 {
		t.Errorf("Confidence not persisted: %+v", all[1].Confidence)
	}

	// Stage-owned replacement deletes only the stage's own rows.
	deleted, err := store.DeleteUsageRequirements(ctx, txn.ID, model.SourceExpanded, "stage:usage_expand")
	if err != nil {
		t.Fatalf("Failed to delete requirements: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}

	remaining, err := store.GetUsageRequirements(ctx, txn.ID)
	if err != nil {
		t.Fatalf("Failed to get requirements: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("Expected 2 remaining, got %d", len(remaining))
	}
	for _, r := range remaining {
		if r.Source == model.SourceExpanded && r.CreatedBy == "stage:usage_expand" {
			t.Errorf("Stage-owned row survived deletion: %+v", r)
		}
	}
}

func TestRuleCatalog_Upsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	entry := &model.RuleCatalogEntry{
		Regime:          "JP_FX",
		ListName:        "export",
		ItemNo:          "2-12",
		Title:           "Lithography equipment",
		RequirementText: "Exposure systems for semiconductor manufacturing",
		Version:         "2025",
		Active:          true,
	}
	inserted, err := store.UpsertRuleCatalogEntry(ctx, entry)
	if err != nil {
		t.Fatalf("Failed to upsert rule: %v", err)
	}
	if !inserted {
		t.Error("Expected first upsert to insert")
	}

	entry.Title = "Lithography / exposure equipment"
	inserted, err = store.UpsertRuleCatalogEntry(ctx, entry)
	if err != nil {
		t.Fatalf("Failed to re-upsert rule: %v", err)
	}
	if inserted {
		t.Error("Expected second upsert to update")
	}

	inactive := &model.RuleCatalogEntry{
		Regime: "JP_FX", ItemNo: "2-13", Version: "2025", RequirementText: "x", Active: false,
	}
	if _, err := store.UpsertRuleCatalogEntry(ctx, inactive); err != nil {
		t.Fatalf("Failed to upsert inactive rule: %v", err)
	}

	active, err := store.GetActiveRules(ctx, "JP_FX")
	if err != nil {
		t.Fatalf("Failed to get active rules: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active rule, got %d", len(active))
	}
	if active[0].Title != "Lithography / exposure equipment" {
		t.Errorf("Update not persisted: %s", active[0].Title)
	}

	count, err := store.CountRules(ctx, "JP_FX")
	if err != nil {
		t.Fatalf("Failed to count rules: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 rules total, got %d", count)
	}
}

func TestRunLedger(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-003")

	run := &model.Run{
		TransactionID: txn.ID,
		Stage:         model.StageRuleMatch,
		Params:        map[string]any{"threshold": 0.75},
		ModelName:     "local",
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if run.Status != model.RunRunning {
		t.Errorf("Expected running status, got %s", run.Status)
	}

	if err := store.FinalizeRun(ctx, run.ID, model.RunSuccess, ""); err != nil {
		t.Fatalf("Failed to finalize run: %v", err)
	}

	// Terminal states cannot transition again.
	if err := store.FinalizeRun(ctx, run.ID, model.RunFailed, "late failure"); err == nil {
		t.Error("Expected error finalizing an already-terminal run")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if got.Status != model.RunSuccess {
		t.Errorf("Expected success, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished timestamp")
	}
	if got.Params["threshold"] != 0.75 {
		t.Errorf("Params not round-tripped: %+v", got.Params)
	}

	failed := &model.Run{TransactionID: txn.ID, Stage: model.StageRuleMatch}
	if err := store.CreateRun(ctx, failed); err != nil {
		t.Fatalf("Failed to create second run: %v", err)
	}
	if err := store.FinalizeRun(ctx, failed.ID, model.RunFailed, "boom"); err != nil {
		t.Fatalf("Failed to finalize failed run: %v", err)
	}

	latest, err := store.GetLatestRun(ctx, txn.ID, model.StageRuleMatch, false)
	if err != nil {
		t.Fatalf("Failed to get latest run: %v", err)
	}
	if latest.ID != failed.ID {
		t.Errorf("Expected latest run %d, got %d", failed.ID, latest.ID)
	}

	latestOK, err := store.GetLatestRun(ctx, txn.ID, model.StageRuleMatch, true)
	if err != nil {
		t.Fatalf("Failed to get latest successful run: %v", err)
	}
	if latestOK.ID != run.ID {
		t.Errorf("Expected latest successful run %d, got %d", run.ID, latestOK.ID)
	}

	_, err = store.GetLatestRun(ctx, txn.ID, model.StageUsageExtract, false)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for absent stage, got %v", err)
	}
}

func TestRunLedger_ErrorTruncation(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-004")
	run := &model.Run{TransactionID: txn.ID, Stage: model.StageUsageExtract}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	long := make([]byte, errorColumnLimit+500)
	for i := range long {
		long[i] = 'x'
	}
	if err := store.FinalizeRun(ctx, run.ID, model.RunFailed, string(long)); err != nil {
		t.Fatalf("Failed to finalize run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if len(got.Error) != errorColumnLimit {
		t.Errorf("Expected error truncated to %d chars, got %d", errorColumnLimit, len(got.Error))
	}
}

func TestRunLedger_ErrorTruncationMultibyte(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-004B")
	run := &model.Run{TransactionID: txn.ID, Stage: model.StageUsageExtract}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	long := strings.Repeat("露", errorColumnLimit+500)
	if err := store.FinalizeRun(ctx, run.ID, model.RunFailed, long); err != nil {
		t.Fatalf("Failed to finalize run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	if !utf8.ValidString(got.Error) {
		t.Error("Persisted error is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got.Error); n != errorColumnLimit {
		t.Errorf("Expected error truncated to %d chars, got %d", errorColumnLimit, n)
	}
}

func TestMatchResults_ReplaceOnRecompute(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-005")
	req := &model.UsageRequirement{TransactionID: txn.ID, Source: model.SourceCore, Text: "usage"}
	if err := store.CreateUsageRequirement(ctx, req); err != nil {
		t.Fatalf("Failed to create requirement: %v", err)
	}
	rule := &model.RuleCatalogEntry{Regime: "JP_FX", ItemNo: "2-12", Version: "2025", RequirementText: "r", Active: true}
	if _, err := store.UpsertRuleCatalogEntry(ctx, rule); err != nil {
		t.Fatalf("Failed to upsert rule: %v", err)
	}
	run := &model.Run{TransactionID: txn.ID, Stage: model.StageRuleMatch}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	result := &model.MatchResult{
		RunID:         run.ID,
		RequirementID: req.ID,
		RuleID:        rule.ID,
		Score:         0.82,
		Source:        model.MatchFromCore,
		Decision:      model.DecisionHit,
		Evidence: &model.Evidence{
			MatchedTokens: []string{"露光", "krf"},
			UsageSource:   model.SourceCore,
			Decision:      model.DecisionHit,
			Scoring:       model.ScoringParams{Method: "binary_cosine", Threshold: 0.75, TopK: 10},
		},
	}
	if err := store.SaveMatchResult(ctx, result); err != nil {
		t.Fatalf("Failed to save match: %v", err)
	}

	bad := &model.MatchResult{RunID: run.ID, RequirementID: req.ID, RuleID: rule.ID, Score: 1.5}
	if err := store.SaveMatchResult(ctx, bad); err == nil {
		t.Error("Expected out-of-range score to be rejected")
	}

	matches, err := store.GetRunMatches(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.Rule.ItemNo != "2-12" {
		t.Errorf("Rule join wrong: %+v", m.Rule)
	}
	if m.Match.Evidence == nil || len(m.Match.Evidence.MatchedTokens) != 2 {
		t.Errorf("Evidence not round-tripped: %+v", m.Match.Evidence)
	}

	deleted, err := store.DeleteMatchResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to delete matches: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
	matches, err = store.GetRunMatches(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get matches after delete: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("Expected empty result set, got %d", len(matches))
	}
}

func TestDocuments_UpsertAndVectors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	doc := &model.Document{
		PublicationNumber: "JP2020-123456A",
		Title:             "露光装置",
		Assignee:          "Example KK",
		UsageText:         "半導体製造向け",
	}
	inserted, err := store.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("Failed to upsert document: %v", err)
	}
	if !inserted {
		t.Error("Expected insert on first upsert")
	}

	doc.Title = "露光装置および方法"
	inserted, err = store.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("Failed to re-upsert document: %v", err)
	}
	if inserted {
		t.Error("Expected update on second upsert")
	}

	count, err := store.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("Failed to count documents: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 document, got %d", count)
	}

	vec := &model.DocumentVector{
		DocumentID: doc.ID,
		ModelTag:   "hash-v1-256",
		Vector:     []float32{0.1, -0.5, 0.25},
	}
	if err := store.SaveDocumentVector(ctx, vec); err != nil {
		t.Fatalf("Failed to save vector: %v", err)
	}

	vecs, err := store.GetDocumentVectors(ctx, "hash-v1-256")
	if err != nil {
		t.Fatalf("Failed to load vectors: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("Expected 1 vector, got %d", len(vecs))
	}
	if len(vecs[0].Vector) != 3 || vecs[0].Vector[1] != -0.5 {
		t.Errorf("Vector not round-tripped: %+v", vecs[0].Vector)
	}

	deleted, err := store.DeleteDocumentVectors(ctx, "hash-v1-256")
	if err != nil {
		t.Fatalf("Failed to delete vectors: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 vector deleted, got %d", deleted)
	}
}

func TestGetDocumentSample(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	for _, pn := range []string{"JP1", "JP2", "JP3"} {
		if _, err := store.UpsertDocument(ctx, &model.Document{PublicationNumber: pn, Title: pn}); err != nil {
			t.Fatalf("Failed to upsert document: %v", err)
		}
	}

	sample, err := store.GetDocumentSample(ctx, 2)
	if err != nil {
		t.Fatalf("Failed to sample documents: %v", err)
	}
	if len(sample) != 2 {
		t.Errorf("Expected sample of 2, got %d", len(sample))
	}

	none, err := store.GetDocumentSample(ctx, 0)
	if err != nil {
		t.Fatalf("Failed on zero limit: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected empty sample for zero limit, got %d", len(none))
	}
}

func TestRetrievalResults(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txn := createTestTransaction(t, store, "CASE-006")
	req := &model.UsageRequirement{TransactionID: txn.ID, Source: model.SourceCore, Text: "usage"}
	if err := store.CreateUsageRequirement(ctx, req); err != nil {
		t.Fatalf("Failed to create requirement: %v", err)
	}
	run := &model.Run{TransactionID: txn.ID, Stage: model.StagePriorArtRetrieve}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	doc := &model.Document{PublicationNumber: "JP9", Title: "doc"}
	if _, err := store.UpsertDocument(ctx, doc); err != nil {
		t.Fatalf("Failed to upsert document: %v", err)
	}

	result := &model.RetrievalResult{
		RunID:         run.ID,
		RequirementID: req.ID,
		DocumentID:    doc.ID,
		Score:         0.42,
	}
	if err := store.SaveRetrievalResult(ctx, result); err != nil {
		t.Fatalf("Failed to save retrieval result: %v", err)
	}
	if result.Provenance != model.ProvenanceSimilarity {
		t.Errorf("Expected similarity default provenance, got %s", result.Provenance)
	}

	hits, err := store.GetRunRetrievals(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to get retrievals: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Expected 1 retrieval hit, got %d", len(hits))
	}
	if hits[0].Document.PublicationNumber != "JP9" {
		t.Errorf("Document join wrong: %+v", hits[0].Document)
	}

	deleted, err := store.DeleteRetrievalResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("Failed to delete retrievals: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}

func TestScreeningRequests(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	req := &model.ScreeningRequest{
		RequestID:   "screq_abc",
		SubjectID:   42,
		CallbackURL: "https://example.com/hook",
		PayloadIn:   `{"subjectId":42}`,
	}
	if err := store.CreateScreeningRequest(ctx, req); err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if req.Status != model.RequestQueued {
		t.Errorf("Expected queued default, got %s", req.Status)
	}

	txn := createTestTransaction(t, store, "EXT-42")
	req.Status = model.RequestCompleted
	req.TransactionID = &txn.ID
	req.PayloadOut = `{"status":"non-controlled"}`
	if err := store.UpdateScreeningRequest(ctx, req); err != nil {
		t.Fatalf("Failed to update request: %v", err)
	}

	got, err := store.GetScreeningRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("Failed to get request: %v", err)
	}
	if got.Status != model.RequestCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}
	if got.TransactionID == nil || *got.TransactionID != txn.ID {
		t.Errorf("Transaction link not persisted: %+v", got.TransactionID)
	}
	if got.PayloadOut == "" {
		t.Error("Expected outbound payload to be persisted")
	}

	missing := &model.ScreeningRequest{ID: 9999, RequestID: "screq_x", CallbackURL: "u", Status: model.RequestError}
	if err := store.UpdateScreeningRequest(ctx, missing); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating missing request, got %v", err)
	}
}

func TestBeginTx_CommitAndRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin tx: %v", err)
	}
	txn := &model.Transaction{CaseNo: "CASE-RB", Title: "rollback"}
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("Failed to create in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}
	if _, err := store.GetTransaction(ctx, txn.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected rolled-back transaction to be absent, got %v", err)
	}

	tx, err = store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin tx: %v", err)
	}
	txn2 := &model.Transaction{CaseNo: "CASE-CM", Title: "commit"}
	if err := tx.CreateTransaction(ctx, txn2); err != nil {
		t.Fatalf("Failed to create in tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
	got, err := store.GetTransaction(ctx, txn2.ID)
	if err != nil {
		t.Fatalf("Expected committed transaction, got %v", err)
	}
	if got.CaseNo != "CASE-CM" {
		t.Errorf("Unexpected transaction: %+v", got)
	}
}
