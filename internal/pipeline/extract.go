package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
	"github.com/hmoriya/tradegate/internal/token"
)

// extractCreatedBy marks requirement rows owned by the extract stage, so a
// re-run replaces only its own output and never analyst rows.
const extractCreatedBy = "stage:usage_extract"

const defaultMaxRequirements = 10

// StageUsageExtract derives core usage requirements from the transaction's
// item spec text. Each sentence of each item becomes one candidate, prefixed
// with the item name for context, capped at max_requirements.
func StageUsageExtract(ctx context.Context, store service.Storage, transactionID, runID int64, params map[string]any) (map[string]any, error) {
	maxReqs := paramInt(params, "max_requirements", defaultMaxRequirements)

	items, err := store.GetTransactionItems(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction items: %w", err)
	}

	deleted, err := store.DeleteUsageRequirements(ctx, transactionID, model.SourceCore, extractCreatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to clear prior core requirements: %w", err)
	}

	created := 0
	seen := make(map[string]struct{})
	for _, item := range items {
		if created >= maxReqs {
			break
		}
		for _, sentence := range splitSentences(item.SpecText) {
			if created >= maxReqs {
				break
			}
			text := sentence
			if item.ItemName != "" {
				text = item.ItemName + ": " + sentence
			}
			norm := token.Normalize(text)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}

			req := &model.UsageRequirement{
				TransactionID:  transactionID,
				Source:         model.SourceCore,
				Text:           text,
				NormalizedText: norm,
				CreatedBy:      extractCreatedBy,
			}
			if err := store.CreateUsageRequirement(ctx, req); err != nil {
				return nil, fmt.Errorf("failed to create requirement: %w", err)
			}
			created++
		}
	}

	result := map[string]any{
		"stage":          string(model.StageUsageExtract),
		"transaction_id": transactionID,
		"run_id":         runID,
		"items":          len(items),
		"replaced":       deleted,
		"created":        created,
	}
	if created == 0 {
		result["note"] = "no spec text yielded usage requirements"
	}
	return result, nil
}

// splitSentences breaks spec text on sentence punctuation and newlines,
// handling both Japanese and Latin terminators.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '．', '\n', '\r', '；', ';':
			return true
		case '.', '!', '?':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
