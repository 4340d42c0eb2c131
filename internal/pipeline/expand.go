package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
	"github.com/hmoriya/tradegate/internal/token"
)

// expandCreatedBy marks requirement rows owned by the expand stage.
const expandCreatedBy = "stage:usage_expand"

// StageUsageExpand derives expanded usage requirements from the latest
// successful retrieval run. Each distinct similarity-matched document becomes
// one expanded requirement carrying the retrieval score as confidence.
// Fallback-sampled rows carry no similarity signal and are not expanded from.
func StageUsageExpand(ctx context.Context, store service.Storage, transactionID, runID int64, params map[string]any) (map[string]any, error) {
	maxReqs := paramInt(params, "max_requirements", defaultMaxRequirements)

	result := map[string]any{
		"stage":          string(model.StageUsageExpand),
		"transaction_id": transactionID,
		"run_id":         runID,
	}

	retrieveRun, err := store.GetLatestRun(ctx, transactionID, model.StagePriorArtRetrieve, true)
	if errors.Is(err, common.ErrNotFound) {
		result["created"] = 0
		result["note"] = "no successful retrieval run; nothing to expand"
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve retrieval run: %w", err)
	}

	hits, err := store.GetRunRetrievals(ctx, retrieveRun.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load retrievals: %w", err)
	}

	deleted, err := store.DeleteUsageRequirements(ctx, transactionID, model.SourceExpanded, expandCreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to clear prior expanded requirements: %w", err)
	}

	created := 0
	seenDocs := make(map[int64]struct{})
	for _, h := range hits {
		if created >= maxReqs {
			break
		}
		if h.Result.Provenance != model.ProvenanceSimilarity {
			continue
		}
		if _, dup := seenDocs[h.Result.DocumentID]; dup {
			continue
		}
		seenDocs[h.Result.DocumentID] = struct{}{}

		text := h.Document.Title
		if h.Document.UsageText != "" {
			if text != "" {
				text += "\n"
			}
			text += h.Document.UsageText
		}
		norm := token.Normalize(text)
		if norm == "" {
			continue
		}

		confidence := h.Result.Score
		req := &model.UsageRequirement{
			TransactionID:  transactionID,
			Source:         model.SourceExpanded,
			Text:           text,
			NormalizedText: norm,
			CreatedBy:      expandCreatedBy,
			Confidence:     &confidence,
		}
		if err := store.CreateUsageRequirement(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to create expanded requirement: %w", err)
		}
		created++
	}

	result["retrieval_run_id"] = retrieveRun.ID
	result["replaced"] = deleted
	result["created"] = created
	if created == 0 {
		result["note"] = "no similarity neighbors to expand from"
	}
	return result, nil
}
