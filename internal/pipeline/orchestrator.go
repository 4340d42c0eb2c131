package pipeline

import (
	"context"
	"fmt"

	"github.com/hmoriya/tradegate/internal/match"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/retrieval"
	"github.com/hmoriya/tradegate/internal/service"
)

// Defaults mirrors the standard pipeline parameters.
type Defaults struct {
	Regime          string
	Threshold       float64
	TopK            int
	MaxRequirements int
}

// DefaultPipeline returns the standard configuration.
func DefaultPipeline() Defaults {
	return Defaults{
		Regime:          "JP_FX",
		Threshold:       0.75,
		TopK:            10,
		MaxRequirements: 10,
	}
}

// modelLabel tags runs with which model family produced them.
const modelLabel = "local"

// Orchestrator sequences the four screening stages for one transaction.
type Orchestrator struct {
	store     service.Storage
	retriever *retrieval.Engine
	defaults  Defaults
}

// NewOrchestrator builds an orchestrator over the given storage and retrieval
// engine.
func NewOrchestrator(store service.Storage, retriever *retrieval.Engine, defaults Defaults) *Orchestrator {
	return &Orchestrator{store: store, retriever: retriever, defaults: defaults}
}

// Result collects the per-stage outcomes of a full pipeline pass, keyed by
// stage kind.
type Result struct {
	Stages     map[model.StageKind]*StageOutcome
	MatchRunID int64
}

// Run executes usage_extract, prior_art_retrieve, usage_expand and rule_match
// in order. Each stage commits or rolls back on its own; the first failure
// stops the sequence and is returned to the caller.
func (o *Orchestrator) Run(ctx context.Context, transactionID int64) (*Result, error) {
	if err := o.retriever.EnsureIndex(ctx, false); err != nil {
		return nil, fmt.Errorf("failed to prepare retrieval index: %w", err)
	}

	specs := []StageSpec{
		{
			Stage:        model.StageUsageExtract,
			Fn:           StageUsageExtract,
			Params:       map[string]any{"max_requirements": o.defaults.MaxRequirements},
			ModelName:    modelLabel,
			StageVersion: "usage_extract_v1",
		},
		{
			Stage:        model.StagePriorArtRetrieve,
			Fn:           StagePriorArtRetrieve(o.retriever),
			Params:       map[string]any{"top_k": o.defaults.TopK},
			ModelName:    modelLabel,
			StageVersion: "prior_art_retrieve_v1",
		},
		{
			Stage:        model.StageUsageExpand,
			Fn:           StageUsageExpand,
			Params:       map[string]any{"max_requirements": o.defaults.MaxRequirements},
			ModelName:    modelLabel,
			StageVersion: "usage_expand_v1",
		},
		{
			Stage: model.StageRuleMatch,
			Fn:    StageRuleMatch,
			Params: map[string]any{
				"threshold":       o.defaults.Threshold,
				"regime":          o.defaults.Regime,
				"top_k_per_usage": o.defaults.TopK,
			},
			ModelName:    modelLabel,
			StageVersion: "rule_match_v2",
		},
	}

	result := &Result{Stages: make(map[model.StageKind]*StageOutcome, len(specs))}
	for _, spec := range specs {
		outcome, err := ExecuteStage(ctx, o.store, transactionID, spec)
		if err != nil {
			return nil, err
		}
		result.Stages[spec.Stage] = outcome
		if spec.Stage == model.StageRuleMatch {
			result.MatchRunID = outcome.RunID
		}
	}
	return result, nil
}

// StageRuleMatch adapts the matching engine to the stage contract.
func StageRuleMatch(ctx context.Context, store service.Storage, transactionID, runID int64, params map[string]any) (map[string]any, error) {
	p := match.DefaultParams()
	p.Regime = paramString(params, "regime", p.Regime)
	p.Threshold = paramFloat(params, "threshold", p.Threshold)
	p.TopK = paramInt(params, "top_k_per_usage", p.TopK)

	summary, err := match.Run(ctx, store, transactionID, runID, p)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"stage":           string(model.StageRuleMatch),
		"transaction_id":  transactionID,
		"run_id":          runID,
		"threshold":       p.Threshold,
		"regime":          p.Regime,
		"top_k_per_usage": p.TopK,
		"inserted":        summary.Inserted,
		"usage_count":     summary.UsageCount,
		"rule_count":      summary.RuleCount,
	}
	if summary.Note != "" {
		result["note"] = summary.Note
	}
	return result, nil
}
