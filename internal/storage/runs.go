package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
)

// errorColumnLimit bounds persisted stage error messages.
const errorColumnLimit = 8000

// CreateRun persists a new run in state running and assigns its ID. Callers
// invoke this outside the stage transaction so the ledger entry survives a
// stage crash.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *model.Run) error {
	return s.createRunTx(ctx, s.db, run)
}

func (s *SQLiteStorage) createRunTx(ctx context.Context, q dbtx, run *model.Run) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("%w: run", ErrNilParameter)
	}
	if err := validateID(run.TransactionID, "run.TransactionID"); err != nil {
		return err
	}
	if run.Stage == "" {
		return fmt.Errorf("%w: run.Stage", ErrEmptyString)
	}

	if run.Status == "" {
		run.Status = model.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	params := run.Params
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode run params: %w", err)
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO runs (transaction_id, stage, status, model_name, stage_version, params, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.TransactionID, string(run.Stage), string(run.Status),
		nullIfEmpty(run.ModelName), nullIfEmpty(run.StageVersion), string(paramsJSON), run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	run.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read run id: %w", err)
	}
	return nil
}

// FinalizeRun moves a run out of the running state exactly once. Finalizing
// an already-terminal run is an error: the state machine has no further
// transitions.
func (s *SQLiteStorage) FinalizeRun(ctx context.Context, runID int64, status model.RunStatus, errMsg string) error {
	return s.finalizeRunTx(ctx, s.db, runID, status, errMsg)
}

func (s *SQLiteStorage) finalizeRunTx(ctx context.Context, q dbtx, runID int64, status model.RunStatus, errMsg string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateID(runID, "runID"); err != nil {
		return err
	}
	if status != model.RunSuccess && status != model.RunFailed {
		return fmt.Errorf("invalid terminal run status: %s", status)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, error = ?
		WHERE id = ? AND status = ?
	`, string(status), time.Now().UTC(), nullIfEmpty(common.Truncate(errMsg, errorColumnLimit)),
		runID, string(model.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run finalization: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %d is not running; terminal states cannot transition", runID)
	}
	return nil
}

// GetRun loads one run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID int64) (*model.Run, error) {
	return s.getRunTx(ctx, s.db, runID)
}

func (s *SQLiteStorage) getRunTx(ctx context.Context, q dbtx, runID int64) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(runID, "runID"); err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx, `
		SELECT id, transaction_id, stage, status, model_name, stage_version, params, started_at, finished_at, error
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", runID, common.ErrNotFound)
	}
	return run, err
}

// GetLatestRun returns the most recent run of a stage for a transaction,
// optionally restricted to successful runs. Absence maps to common.ErrNotFound.
func (s *SQLiteStorage) GetLatestRun(ctx context.Context, transactionID int64, stage model.StageKind, successOnly bool) (*model.Run, error) {
	return s.getLatestRunTx(ctx, s.db, transactionID, stage, successOnly)
}

func (s *SQLiteStorage) getLatestRunTx(ctx context.Context, q dbtx, transactionID int64, stage model.StageKind, successOnly bool) (*model.Run, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, transaction_id, stage, status, model_name, stage_version, params, started_at, finished_at, error
		FROM runs WHERE transaction_id = ? AND stage = ?`
	args := []any{transactionID, string(stage)}
	if successOnly {
		query += ` AND status = ?`
		args = append(args, string(model.RunSuccess))
	}
	query += ` ORDER BY id DESC LIMIT 1`

	run, err := scanRun(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s run for transaction %d: %w", stage, transactionID, common.ErrNotFound)
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var modelName, stageVersion, errMsg sql.NullString
	var finished sql.NullTime
	var paramsJSON string
	if err := row.Scan(&run.ID, &run.TransactionID, &run.Stage, &run.Status,
		&modelName, &stageVersion, &paramsJSON, &run.StartedAt, &finished, &errMsg); err != nil {
		return nil, err
	}
	run.ModelName = modelName.String
	run.StageVersion = stageVersion.String
	run.Error = errMsg.String
	if finished.Valid {
		v := finished.Time
		run.FinishedAt = &v
	}
	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to decode run params: %w", err)
	}
	return &run, nil
}
