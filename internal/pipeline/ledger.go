// Package pipeline runs the screening stages under the tracked run ledger.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
)

// StageOutcome is what ExecuteStage reports for one completed stage.
type StageOutcome struct {
	Result map[string]any
	RunID  int64
}

// StageSpec names and configures one stage execution.
type StageSpec struct {
	Params       map[string]any
	Fn           service.StageFunc
	Stage        model.StageKind
	ModelName    string
	StageVersion string
}

// ExecuteStage runs one stage under the ledger protocol. The Run row is
// committed on its own before the stage starts, so a crashed stage still
// leaves a running entry behind. The stage body and its success marker commit
// atomically; on failure the stage's writes roll back and the failure marker
// commits separately, with the original error re-raised to the caller.
func ExecuteStage(ctx context.Context, store service.Storage, transactionID int64, spec StageSpec) (*StageOutcome, error) {
	params := spec.Params
	if params == nil {
		params = map[string]any{}
	}

	run := &model.Run{
		TransactionID: transactionID,
		Stage:         spec.Stage,
		ModelName:     spec.ModelName,
		StageVersion:  spec.StageVersion,
		Params:        params,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run for stage %s: %w", spec.Stage, err)
	}

	slog.Info("stage started", "stage", spec.Stage, "transaction_id", transactionID, "run_id", run.ID)

	tx, err := store.BeginTx(ctx)
	if err != nil {
		finalizeFailed(ctx, store, run.ID, spec.Stage, err)
		return nil, fmt.Errorf("failed to begin stage transaction: %w", err)
	}

	result, stageErr := spec.Fn(ctx, tx, transactionID, run.ID, params)
	if stageErr == nil {
		stageErr = tx.FinalizeRun(ctx, run.ID, model.RunSuccess, "")
	}
	if stageErr == nil {
		stageErr = tx.Commit()
	}
	if stageErr != nil {
		_ = tx.Rollback()
		finalizeFailed(ctx, store, run.ID, spec.Stage, stageErr)
		return nil, fmt.Errorf("stage %s (run %d): %w: %w", spec.Stage, run.ID, common.ErrStageFailed, stageErr)
	}

	slog.Info("stage succeeded", "stage", spec.Stage, "run_id", run.ID)
	return &StageOutcome{RunID: run.ID, Result: result}, nil
}

// finalizeFailed records the failure marker outside the rolled-back stage
// transaction. A marker write failure is logged, not surfaced; the stage error
// is the one the caller needs.
func finalizeFailed(ctx context.Context, store service.Storage, runID int64, stage model.StageKind, cause error) {
	if err := store.FinalizeRun(ctx, runID, model.RunFailed, cause.Error()); err != nil {
		slog.Error("failed to record stage failure", "stage", stage, "run_id", runID, "error", err)
	}
	slog.Error("stage failed", "stage", stage, "run_id", runID, "error", cause)
}
