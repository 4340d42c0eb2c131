package pipeline

import (
	"context"
	"fmt"

	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/retrieval"
	"github.com/hmoriya/tradegate/internal/service"
)

const defaultRetrieveTopK = 10

// StagePriorArtRetrieve returns the retrieve stage bound to a retrieval
// engine. For every usage requirement of the transaction it stores the topK
// nearest corpus documents; an unsearchable engine degrades to the tagged
// fallback sample instead of failing the stage.
func StagePriorArtRetrieve(engine *retrieval.Engine) service.StageFunc {
	return func(ctx context.Context, store service.Storage, transactionID, runID int64, params map[string]any) (map[string]any, error) {
		topK := paramInt(params, "top_k", defaultRetrieveTopK)

		reqs, err := store.GetUsageRequirements(ctx, transactionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load usage requirements: %w", err)
		}

		replaced, err := store.DeleteRetrievalResults(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to clear prior retrievals: %w", err)
		}

		saved := 0
		fallbacks := 0
		for i := range reqs {
			candidates, retErr := engine.Retrieve(ctx, store, reqs[i].Text, topK)
			if retErr != nil {
				return nil, fmt.Errorf("retrieval for requirement %d: %w", reqs[i].ID, retErr)
			}
			for _, c := range candidates {
				result := &model.RetrievalResult{
					RunID:         runID,
					RequirementID: reqs[i].ID,
					DocumentID:    c.DocumentID,
					Score:         c.Score,
					Provenance:    c.Provenance,
				}
				if err := store.SaveRetrievalResult(ctx, result); err != nil {
					return nil, fmt.Errorf("failed to save retrieval: %w", err)
				}
				saved++
				if c.Provenance == model.ProvenanceFallbackSample {
					fallbacks++
				}
			}
		}

		result := map[string]any{
			"stage":          string(model.StagePriorArtRetrieve),
			"transaction_id": transactionID,
			"run_id":         runID,
			"top_k":          topK,
			"requirements":   len(reqs),
			"replaced":       replaced,
			"saved":          saved,
		}
		if fallbacks > 0 {
			result["fallback_rows"] = fallbacks
			result["note"] = "index unavailable for some queries; served corpus sample"
		}
		return result, nil
	}
}
