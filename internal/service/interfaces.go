// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// Storage defines the contract for our persistence layer. Engines receive a
// Storage explicitly (usually the Tx of the stage they run inside); nothing
// reaches for a process-wide handle.
type Storage interface {
	// Transaction (trade case) operations
	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	CreateTransactionItem(ctx context.Context, item *model.TransactionItem) error
	GetTransactionItems(ctx context.Context, transactionID int64) ([]model.TransactionItem, error)

	// Usage requirement operations
	CreateUsageRequirement(ctx context.Context, req *model.UsageRequirement) error
	GetUsageRequirements(ctx context.Context, transactionID int64) ([]model.UsageRequirement, error)
	DeleteUsageRequirements(ctx context.Context, transactionID int64, source model.UsageSource, createdBy string) (int64, error)

	// Rule catalog operations
	UpsertRuleCatalogEntry(ctx context.Context, entry *model.RuleCatalogEntry) (bool, error)
	GetActiveRules(ctx context.Context, regime string) ([]model.RuleCatalogEntry, error)
	CountRules(ctx context.Context, regime string) (int, error)

	// Run ledger operations
	CreateRun(ctx context.Context, run *model.Run) error
	FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID int64) (*model.Run, error)
	GetLatestRun(ctx context.Context, transactionID int64, stage model.StageKind, successOnly bool) (*model.Run, error)

	// Match result operations
	DeleteMatchResults(ctx context.Context, runID int64) (int64, error)
	SaveMatchResult(ctx context.Context, result *model.MatchResult) error
	GetRunMatches(ctx context.Context, runID int64) ([]model.RunMatch, error)

	// Retrieval result operations
	DeleteRetrievalResults(ctx context.Context, runID int64) (int64, error)
	SaveRetrievalResult(ctx context.Context, result *model.RetrievalResult) error
	GetRunRetrievals(ctx context.Context, runID int64) ([]model.RetrievalHit, error)

	// Prior-art corpus operations
	UpsertDocument(ctx context.Context, doc *model.Document) (bool, error)
	GetDocuments(ctx context.Context) ([]model.Document, error)
	CountDocuments(ctx context.Context) (int, error)
	GetDocumentSample(ctx context.Context, limit int) ([]model.Document, error)
	SaveDocumentVector(ctx context.Context, vec *model.DocumentVector) error
	GetDocumentVectors(ctx context.Context, modelTag string) ([]model.DocumentVector, error)
	DeleteDocumentVectors(ctx context.Context, modelTag string) (int64, error)

	// Screening request ledger operations
	CreateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error
	GetScreeningRequest(ctx context.Context, id int64) (*model.ScreeningRequest, error)
	UpdateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction. It carries the full Storage method
// set so stage functions run against the same contract inside or outside a
// transactional boundary.
type Tx interface {
	Commit() error
	Rollback() error
	Storage
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// StageFunc is the contract every pipeline stage implements. The orchestrator
// owns the Run record; a stage only performs its own reads and writes through
// the supplied storage handle.
type StageFunc func(ctx context.Context, store Storage, transactionID, runID int64, params map[string]any) (map[string]any, error)
