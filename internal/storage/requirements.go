package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// CreateUsageRequirement persists a usage requirement and assigns its ID.
func (s *SQLiteStorage) CreateUsageRequirement(ctx context.Context, req *model.UsageRequirement) error {
	return s.createUsageRequirementTx(ctx, s.db, req)
}

func (s *SQLiteStorage) createUsageRequirementTx(ctx context.Context, q dbtx, req *model.UsageRequirement) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: requirement", ErrNilParameter)
	}
	if err := validateID(req.TransactionID, "requirement.TransactionID"); err != nil {
		return err
	}
	if err := validateString(req.Text, "requirement.Text"); err != nil {
		return err
	}
	if req.Source == "" {
		req.Source = model.SourceCore
	}

	tags := req.RiskTags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode risk tags: %w", err)
	}

	req.CreatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO usage_requirements
			(transaction_id, source, text, normalized_text, risk_tags, confidence, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, req.TransactionID, string(req.Source), req.Text, nullIfEmpty(req.NormalizedText),
		string(tagsJSON), req.Confidence, nullIfEmpty(req.CreatedBy), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create usage requirement: %w", err)
	}

	req.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read requirement id: %w", err)
	}
	return nil
}

// GetUsageRequirements lists every usage requirement of a transaction in
// insertion order.
func (s *SQLiteStorage) GetUsageRequirements(ctx context.Context, transactionID int64) ([]model.UsageRequirement, error) {
	return s.getUsageRequirementsTx(ctx, s.db, transactionID)
}

func (s *SQLiteStorage) getUsageRequirementsTx(ctx context.Context, q dbtx, transactionID int64) ([]model.UsageRequirement, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, source, text, normalized_text, risk_tags, confidence, created_by, created_at
		FROM usage_requirements WHERE transaction_id = ? ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage requirements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reqs []model.UsageRequirement
	for rows.Next() {
		req, err := scanUsageRequirement(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func scanUsageRequirement(rows *sql.Rows) (*model.UsageRequirement, error) {
	var req model.UsageRequirement
	var normalized, createdBy sql.NullString
	var confidence sql.NullFloat64
	var tagsJSON string
	if err := rows.Scan(&req.ID, &req.TransactionID, &req.Source, &req.Text,
		&normalized, &tagsJSON, &confidence, &createdBy, &req.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan usage requirement: %w", err)
	}
	req.NormalizedText = normalized.String
	req.CreatedBy = createdBy.String
	if confidence.Valid {
		v := confidence.Float64
		req.Confidence = &v
	}
	if err := json.Unmarshal([]byte(tagsJSON), &req.RiskTags); err != nil {
		// Risk tags are advisory; a corrupt row should not sink the query.
		req.RiskTags = nil
	}
	return &req, nil
}

// DeleteUsageRequirements removes requirements matching source and creator.
// An empty source or createdBy matches everything, so the extract/expand
// stages can replace exactly the rows they own.
func (s *SQLiteStorage) DeleteUsageRequirements(ctx context.Context, transactionID int64, source model.UsageSource, createdBy string) (int64, error) {
	return s.deleteUsageRequirementsTx(ctx, s.db, transactionID, source, createdBy)
}

func (s *SQLiteStorage) deleteUsageRequirementsTx(ctx context.Context, q dbtx, transactionID int64, source model.UsageSource, createdBy string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateID(transactionID, "transactionID"); err != nil {
		return 0, err
	}

	query := `DELETE FROM usage_requirements WHERE transaction_id = ?`
	args := []any{transactionID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	if createdBy != "" {
		query += ` AND created_by = ?`
		args = append(args, createdBy)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage requirements: %w", err)
	}
	return res.RowsAffected()
}
