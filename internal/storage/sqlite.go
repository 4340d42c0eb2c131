// Package storage provides the SQLite persistence layer for the screening
// pipeline.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Tx, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTx{tx: tx, storage: s}, nil
}

// sqliteTx wraps sql.Tx to implement service.Tx. Every storage method
// delegates to the shared implementation with the transaction as executor.
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	return t.storage.createTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTx) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return t.storage.getTransactionTx(ctx, t.tx, id)
}

func (t *sqliteTx) CreateTransactionItem(ctx context.Context, item *model.TransactionItem) error {
	return t.storage.createTransactionItemTx(ctx, t.tx, item)
}

func (t *sqliteTx) GetTransactionItems(ctx context.Context, transactionID int64) ([]model.TransactionItem, error) {
	return t.storage.getTransactionItemsTx(ctx, t.tx, transactionID)
}

func (t *sqliteTx) CreateUsageRequirement(ctx context.Context, req *model.UsageRequirement) error {
	return t.storage.createUsageRequirementTx(ctx, t.tx, req)
}

func (t *sqliteTx) GetUsageRequirements(ctx context.Context, transactionID int64) ([]model.UsageRequirement, error) {
	return t.storage.getUsageRequirementsTx(ctx, t.tx, transactionID)
}

func (t *sqliteTx) DeleteUsageRequirements(ctx context.Context, transactionID int64, source model.UsageSource, createdBy string) (int64, error) {
	return t.storage.deleteUsageRequirementsTx(ctx, t.tx, transactionID, source, createdBy)
}

func (t *sqliteTx) UpsertRuleCatalogEntry(ctx context.Context, entry *model.RuleCatalogEntry) (bool, error) {
	return t.storage.upsertRuleCatalogEntryTx(ctx, t.tx, entry)
}

func (t *sqliteTx) GetActiveRules(ctx context.Context, regime string) ([]model.RuleCatalogEntry, error) {
	return t.storage.getActiveRulesTx(ctx, t.tx, regime)
}

func (t *sqliteTx) CountRules(ctx context.Context, regime string) (int, error) {
	return t.storage.countRulesTx(ctx, t.tx, regime)
}

func (t *sqliteTx) CreateRun(ctx context.Context, run *model.Run) error {
	return t.storage.createRunTx(ctx, t.tx, run)
}

func (t *sqliteTx) FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, errMsg string) error {
	return t.storage.finalizeRunTx(ctx, t.tx, runID, status, errMsg)
}

func (t *sqliteTx) GetRun(ctx context.Context, runID int64) (*model.Run, error) {
	return t.storage.getRunTx(ctx, t.tx, runID)
}

func (t *sqliteTx) GetLatestRun(ctx context.Context, transactionID int64, stage model.StageKind, successOnly bool) (*model.Run, error) {
	return t.storage.getLatestRunTx(ctx, t.tx, transactionID, stage, successOnly)
}

func (t *sqliteTx) DeleteMatchResults(ctx context.Context, runID int64) (int64, error) {
	return t.storage.deleteMatchResultsTx(ctx, t.tx, runID)
}

func (t *sqliteTx) SaveMatchResult(ctx context.Context, result *model.MatchResult) error {
	return t.storage.saveMatchResultTx(ctx, t.tx, result)
}

func (t *sqliteTx) GetRunMatches(ctx context.Context, runID int64) ([]model.RunMatch, error) {
	return t.storage.getRunMatchesTx(ctx, t.tx, runID)
}

func (t *sqliteTx) DeleteRetrievalResults(ctx context.Context, runID int64) (int64, error) {
	return t.storage.deleteRetrievalResultsTx(ctx, t.tx, runID)
}

func (t *sqliteTx) SaveRetrievalResult(ctx context.Context, result *model.RetrievalResult) error {
	return t.storage.saveRetrievalResultTx(ctx, t.tx, result)
}

func (t *sqliteTx) GetRunRetrievals(ctx context.Context, runID int64) ([]model.RetrievalHit, error) {
	return t.storage.getRunRetrievalsTx(ctx, t.tx, runID)
}

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *model.Document) (bool, error) {
	return t.storage.upsertDocumentTx(ctx, t.tx, doc)
}

func (t *sqliteTx) GetDocuments(ctx context.Context) ([]model.Document, error) {
	return t.storage.getDocumentsTx(ctx, t.tx)
}

func (t *sqliteTx) CountDocuments(ctx context.Context) (int, error) {
	return t.storage.countDocumentsTx(ctx, t.tx)
}

func (t *sqliteTx) GetDocumentSample(ctx context.Context, limit int) ([]model.Document, error) {
	return t.storage.getDocumentSampleTx(ctx, t.tx, limit)
}

func (t *sqliteTx) SaveDocumentVector(ctx context.Context, vec *model.DocumentVector) error {
	return t.storage.saveDocumentVectorTx(ctx, t.tx, vec)
}

func (t *sqliteTx) GetDocumentVectors(ctx context.Context, modelTag string) ([]model.DocumentVector, error) {
	return t.storage.getDocumentVectorsTx(ctx, t.tx, modelTag)
}

func (t *sqliteTx) DeleteDocumentVectors(ctx context.Context, modelTag string) (int64, error) {
	return t.storage.deleteDocumentVectorsTx(ctx, t.tx, modelTag)
}

func (t *sqliteTx) CreateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error {
	return t.storage.createScreeningRequestTx(ctx, t.tx, req)
}

func (t *sqliteTx) GetScreeningRequest(ctx context.Context, id int64) (*model.ScreeningRequest, error) {
	return t.storage.getScreeningRequestTx(ctx, t.tx, id)
}

func (t *sqliteTx) UpdateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error {
	return t.storage.updateScreeningRequestTx(ctx, t.tx, req)
}

func (t *sqliteTx) Migrate(_ context.Context) error {
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTx) BeginTx(_ context.Context) (service.Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTx) Close() error {
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
