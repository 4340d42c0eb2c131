package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// DeleteRetrievalResults removes every retrieval row of a run, mirroring the
// replace-on-recompute invariant of match results.
func (s *SQLiteStorage) DeleteRetrievalResults(ctx context.Context, runID int64) (int64, error) {
	return s.deleteRetrievalResultsTx(ctx, s.db, runID)
}

func (s *SQLiteStorage) deleteRetrievalResultsTx(ctx context.Context, q dbtx, runID int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateID(runID, "runID"); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM retrieval_results WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete retrieval results: %w", err)
	}
	return res.RowsAffected()
}

// SaveRetrievalResult persists one nearest-neighbor row.
func (s *SQLiteStorage) SaveRetrievalResult(ctx context.Context, result *model.RetrievalResult) error {
	return s.saveRetrievalResultTx(ctx, s.db, result)
}

func (s *SQLiteStorage) saveRetrievalResultTx(ctx context.Context, q dbtx, result *model.RetrievalResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if err := validateID(result.RunID, "result.RunID"); err != nil {
		return err
	}
	if err := validateID(result.RequirementID, "result.RequirementID"); err != nil {
		return err
	}
	if err := validateID(result.DocumentID, "result.DocumentID"); err != nil {
		return err
	}
	if result.Provenance == "" {
		result.Provenance = model.ProvenanceSimilarity
	}

	result.CreatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO retrieval_results (run_id, usage_requirement_id, document_id, score, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.RunID, result.RequirementID, result.DocumentID, result.Score,
		string(result.Provenance), result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save retrieval result: %w", err)
	}

	result.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read retrieval id: %w", err)
	}
	return nil
}

// GetRunRetrievals loads every retrieval row of a run joined with its
// document, best scores first within each requirement.
func (s *SQLiteStorage) GetRunRetrievals(ctx context.Context, runID int64) ([]model.RetrievalHit, error) {
	return s.getRunRetrievalsTx(ctx, s.db, runID)
}

func (s *SQLiteStorage) getRunRetrievalsTx(ctx context.Context, q dbtx, runID int64) ([]model.RetrievalHit, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT rr.id, rr.run_id, rr.usage_requirement_id, rr.document_id, rr.score, rr.provenance, rr.created_at,
		       d.id, d.publication_number, d.title, d.assignee, d.usage_text, d.ipc_codes, d.created_at, d.updated_at
		FROM retrieval_results rr
		JOIN documents d ON d.id = rr.document_id
		WHERE rr.run_id = ?
		ORDER BY rr.usage_requirement_id, rr.score DESC, d.id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run retrievals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []model.RetrievalHit
	for rows.Next() {
		var h model.RetrievalHit
		var title, assignee, usage, ipc sql.NullString
		if err := rows.Scan(&h.Result.ID, &h.Result.RunID, &h.Result.RequirementID, &h.Result.DocumentID,
			&h.Result.Score, &h.Result.Provenance, &h.Result.CreatedAt,
			&h.Document.ID, &h.Document.PublicationNumber, &title, &assignee, &usage, &ipc,
			&h.Document.CreatedAt, &h.Document.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retrieval hit: %w", err)
		}
		h.Document.Title = title.String
		h.Document.Assignee = assignee.String
		h.Document.UsageText = usage.String
		h.Document.IPCCodes = ipc.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
