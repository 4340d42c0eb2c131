package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// UpsertRuleCatalogEntry inserts or updates a catalog entry keyed by
// (regime, item number, version). It reports whether a new row was inserted.
func (s *SQLiteStorage) UpsertRuleCatalogEntry(ctx context.Context, entry *model.RuleCatalogEntry) (bool, error) {
	return s.upsertRuleCatalogEntryTx(ctx, s.db, entry)
}

func (s *SQLiteStorage) upsertRuleCatalogEntryTx(ctx context.Context, q dbtx, entry *model.RuleCatalogEntry) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if entry == nil {
		return false, fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := validateString(entry.Regime, "entry.Regime"); err != nil {
		return false, err
	}
	if err := validateString(entry.ItemNo, "entry.ItemNo"); err != nil {
		return false, err
	}

	now := time.Now().UTC()

	var existingID int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM rule_catalog WHERE regime = ? AND item_no = ? AND version = ?
	`, entry.Regime, entry.ItemNo, entry.Version).Scan(&existingID)

	switch {
	case err == nil:
		_, err = q.ExecContext(ctx, `
			UPDATE rule_catalog SET
				list_name = ?, title = ?, requirement_text = ?,
				usage_criteria_text = ?, tech_criteria_text = ?, notes = ?,
				effective_date = ?, active = ?, updated_at = ?
			WHERE id = ?
		`, entry.ListName, entry.Title, entry.RequirementText,
			nullIfEmpty(entry.UsageCriteria), nullIfEmpty(entry.TechCriteria), nullIfEmpty(entry.Notes),
			entry.EffectiveDate, entry.Active, now, existingID)
		if err != nil {
			return false, fmt.Errorf("failed to update rule catalog entry: %w", err)
		}
		entry.ID = existingID
		entry.UpdatedAt = now
		return false, nil

	case err == sql.ErrNoRows:
		entry.CreatedAt = now
		entry.UpdatedAt = now
		res, insErr := q.ExecContext(ctx, `
			INSERT INTO rule_catalog
				(regime, list_name, item_no, title, requirement_text,
				 usage_criteria_text, tech_criteria_text, notes, version,
				 effective_date, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.Regime, entry.ListName, entry.ItemNo, entry.Title, entry.RequirementText,
			nullIfEmpty(entry.UsageCriteria), nullIfEmpty(entry.TechCriteria), nullIfEmpty(entry.Notes),
			entry.Version, entry.EffectiveDate, entry.Active, entry.CreatedAt, entry.UpdatedAt)
		if insErr != nil {
			return false, fmt.Errorf("failed to insert rule catalog entry: %w", insErr)
		}
		entry.ID, insErr = res.LastInsertId()
		if insErr != nil {
			return false, fmt.Errorf("failed to read rule id: %w", insErr)
		}
		return true, nil

	default:
		return false, fmt.Errorf("failed to look up rule catalog entry: %w", err)
	}
}

// GetActiveRules lists every active catalog entry for a regime in stable
// catalog order (by id). Matching iterates this order, which also decides
// score ties.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context, regime string) ([]model.RuleCatalogEntry, error) {
	return s.getActiveRulesTx(ctx, s.db, regime)
}

func (s *SQLiteStorage) getActiveRulesTx(ctx context.Context, q dbtx, regime string) ([]model.RuleCatalogEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(regime, "regime"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, regime, list_name, item_no, title, requirement_text,
		       usage_criteria_text, tech_criteria_text, notes, version,
		       effective_date, active, created_at, updated_at
		FROM rule_catalog WHERE regime = ? AND active = 1 ORDER BY id
	`, regime)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.RuleCatalogEntry
	for rows.Next() {
		var e model.RuleCatalogEntry
		var listName, title, usage, tech, notes sql.NullString
		var effective sql.NullTime
		if err := rows.Scan(&e.ID, &e.Regime, &listName, &e.ItemNo, &title, &e.RequirementText,
			&usage, &tech, &notes, &e.Version, &effective, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule catalog entry: %w", err)
		}
		e.ListName = listName.String
		e.Title = title.String
		e.UsageCriteria = usage.String
		e.TechCriteria = tech.String
		e.Notes = notes.String
		if effective.Valid {
			v := effective.Time
			e.EffectiveDate = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountRules counts catalog entries for a regime, active or not.
func (s *SQLiteStorage) CountRules(ctx context.Context, regime string) (int, error) {
	return s.countRulesTx(ctx, s.db, regime)
}

func (s *SQLiteStorage) countRulesTx(ctx context.Context, q dbtx, regime string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(regime, "regime"); err != nil {
		return 0, err
	}

	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_catalog WHERE regime = ?`, regime).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}
