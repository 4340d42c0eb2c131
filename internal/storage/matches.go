package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// DeleteMatchResults removes every match row of a run. The matching engine
// calls this before persisting so a recompute fully replaces prior output.
func (s *SQLiteStorage) DeleteMatchResults(ctx context.Context, runID int64) (int64, error) {
	return s.deleteMatchResultsTx(ctx, s.db, runID)
}

func (s *SQLiteStorage) deleteMatchResultsTx(ctx context.Context, q dbtx, runID int64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateID(runID, "runID"); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM match_results WHERE run_id = ?`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete match results: %w", err)
	}
	return res.RowsAffected()
}

// SaveMatchResult persists one match row with its evidence.
func (s *SQLiteStorage) SaveMatchResult(ctx context.Context, result *model.MatchResult) error {
	return s.saveMatchResultTx(ctx, s.db, result)
}

func (s *SQLiteStorage) saveMatchResultTx(ctx context.Context, q dbtx, result *model.MatchResult) error {
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
	if err := validateID(result.RuleID, "result.RuleID"); err != nil {
		return err
	}
	if result.Score < 0 || result.Score > 1 {
		return fmt.Errorf("match score %f out of range [0,1]", result.Score)
	}

	var evidenceJSON any
	if result.Evidence != nil {
		b, err := json.Marshal(result.Evidence)
		if err != nil {
			return fmt.Errorf("failed to encode evidence: %w", err)
		}
		evidenceJSON = string(b)
	}

	result.CreatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO match_results
			(run_id, usage_requirement_id, rule_id, score, match_source, decision, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, result.RunID, result.RequirementID, result.RuleID, result.Score,
		string(result.Source), string(result.Decision), evidenceJSON, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save match result: %w", err)
	}

	result.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read match id: %w", err)
	}
	return nil
}

// GetRunMatches loads every match row of a run joined with its catalog rule,
// ordered by insertion.
func (s *SQLiteStorage) GetRunMatches(ctx context.Context, runID int64) ([]model.RunMatch, error) {
	return s.getRunMatchesTx(ctx, s.db, runID)
}

func (s *SQLiteStorage) getRunMatchesTx(ctx context.Context, q dbtx, runID int64) ([]model.RunMatch, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT m.id, m.run_id, m.usage_requirement_id, m.rule_id, m.score,
		       m.match_source, m.decision, m.evidence, m.created_at,
		       r.id, r.regime, r.list_name, r.item_no, r.title, r.requirement_text, r.version
		FROM match_results m
		JOIN rule_catalog r ON r.id = m.rule_id
		WHERE m.run_id = ?
		ORDER BY m.id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run matches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []model.RunMatch
	for rows.Next() {
		var rm model.RunMatch
		var evidenceJSON, listName, title sql.NullString
		if err := rows.Scan(&rm.Match.ID, &rm.Match.RunID, &rm.Match.RequirementID, &rm.Match.RuleID,
			&rm.Match.Score, &rm.Match.Source, &rm.Match.Decision, &evidenceJSON, &rm.Match.CreatedAt,
			&rm.Rule.ID, &rm.Rule.Regime, &listName, &rm.Rule.ItemNo, &title,
			&rm.Rule.RequirementText, &rm.Rule.Version); err != nil {
			return nil, fmt.Errorf("failed to scan run match: %w", err)
		}
		rm.Rule.ListName = listName.String
		rm.Rule.Title = title.String
		if evidenceJSON.Valid && evidenceJSON.String != "" {
			var ev model.Evidence
			if err := json.Unmarshal([]byte(evidenceJSON.String), &ev); err == nil {
				rm.Match.Evidence = &ev
			}
			// Corrupt evidence degrades to a match without evidence.
		}
		matches = append(matches, rm)
	}
	return matches, rows.Err()
}
