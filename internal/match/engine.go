// Package match implements the rule-matching engine: it scores every usage
// requirement of a transaction against the active rule catalog and persists
// the surviving matches with reviewer-facing evidence.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
	"github.com/hmoriya/tradegate/internal/token"
)

// ScoringMethod tags persisted evidence with how the score was produced.
const ScoringMethod = "binary_cosine(cjk_2gram_3gram + latin_words)"

// Evidence text bounds, in runes.
const (
	maxUsageTextLen   = 500
	maxRuleItemNoLen  = 300
	maxRuleTitleLen   = 200
	maxRuleSnippetLen = 900
)

// Params configures one matching pass.
type Params struct {
	Regime    string
	Threshold float64
	TopK      int
}

// DefaultParams returns the standard matching configuration.
func DefaultParams() Params {
	return Params{
		Regime:    "JP_FX",
		Threshold: 0.75,
		TopK:      10,
	}
}

// Summary reports what one matching pass did.
type Summary struct {
	Note       string
	UsageCount int
	RuleCount  int
	Inserted   int
	Replaced   int64
}

type rulePack struct {
	rule   *model.RuleCatalogEntry
	text   string
	tokens []string
}

type scoredRule struct {
	pack    *rulePack
	matched []string
	score   float64
}

// Run executes one matching pass for a transaction under the given run ID.
// Any previous results for the run are replaced wholesale, so a recompute on
// the same run ID is idempotent. Requirements or rules that tokenize to
// nothing are skipped rather than scored at zero.
func Run(ctx context.Context, store service.Storage, transactionID, runID int64, p Params) (*Summary, error) {
	replaced, err := store.DeleteMatchResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear previous matches: %w", err)
	}

	usages, err := store.GetUsageRequirements(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage requirements: %w", err)
	}
	if len(usages) == 0 {
		return &Summary{Note: "no usage requirements; nothing to match", Replaced: replaced}, nil
	}

	rules, err := store.GetActiveRules(ctx, p.Regime)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}
	if len(rules) == 0 {
		return &Summary{
			Note:       fmt.Sprintf("no active rules for regime %s; nothing to match", p.Regime),
			UsageCount: len(usages),
			Replaced:   replaced,
		}, nil
	}

	// Tokenize each rule once, up front.
	packs := make([]rulePack, 0, len(rules))
	for i := range rules {
		text := rules[i].MatchText()
		tokens := token.Tokenize(text)
		if len(tokens) == 0 {
			continue
		}
		packs = append(packs, rulePack{rule: &rules[i], text: text, tokens: tokens})
	}

	summary := &Summary{UsageCount: len(usages), RuleCount: len(rules), Replaced: replaced}
	for i := range usages {
		u := &usages[i]
		utokens := token.Tokenize(u.Text)
		if len(utokens) == 0 {
			continue
		}

		scored := make([]scoredRule, 0, len(packs))
		for j := range packs {
			score, matched := token.Score(utokens, packs[j].tokens)
			scored = append(scored, scoredRule{pack: &packs[j], score: score, matched: matched})
		}
		// Stable sort keeps catalog order on tied scores.
		sort.SliceStable(scored, func(a, b int) bool {
			return scored[a].score > scored[b].score
		})
		if len(scored) > p.TopK {
			scored = scored[:p.TopK]
		}

		for _, sr := range scored {
			if sr.score <= 0 {
				continue
			}
			decision := model.DecisionMaybe
			if sr.score >= p.Threshold {
				decision = model.DecisionHit
			}

			result := &model.MatchResult{
				RunID:         runID,
				RequirementID: u.ID,
				RuleID:        sr.pack.rule.ID,
				Score:         sr.score,
				Source:        model.MatchSourceFor(u.Source),
				Decision:      decision,
				Evidence: &model.Evidence{
					MatchedTokens: sr.matched,
					UsageSource:   u.Source,
					UsageText:     common.Truncate(u.Text, maxUsageTextLen),
					RuleItemNo:    common.Truncate(sr.pack.rule.ItemNo, maxRuleItemNoLen),
					RuleTitle:     common.Truncate(sr.pack.rule.Title, maxRuleTitleLen),
					RuleSnippet:   common.Truncate(sr.pack.text, maxRuleSnippetLen),
					Scoring: model.ScoringParams{
						Method:    ScoringMethod,
						Threshold: p.Threshold,
						TopK:      p.TopK,
					},
					Decision: decision,
				},
			}
			if err := store.SaveMatchResult(ctx, result); err != nil {
				return nil, fmt.Errorf("failed to save match: %w", err)
			}
			summary.Inserted++
		}
	}

	slog.Info("matching pass complete",
		"transaction_id", transactionID,
		"run_id", runID,
		"regime", p.Regime,
		"usages", summary.UsageCount,
		"rules", summary.RuleCount,
		"inserted", summary.Inserted)
	return summary, nil
}
