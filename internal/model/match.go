package model

import "time"

// MatchSource is the source family a match was derived from, carried on the
// match row so the two-list aggregator can still classify a match whose
// requirement row can no longer be resolved.
type MatchSource string

// Match source families.
const (
	MatchFromCore     MatchSource = "core_hit"
	MatchFromExpanded MatchSource = "expanded_hit"
)

// MatchSourceFor maps a requirement source onto its match source family.
func MatchSourceFor(s UsageSource) MatchSource {
	if s == SourceCore {
		return MatchFromCore
	}
	return MatchFromExpanded
}

// MatchDecision is the threshold comparison outcome for one match.
type MatchDecision string

// Match decisions. A score at or above the threshold is a hit; everything
// kept below it is a maybe.
const (
	DecisionHit   MatchDecision = "hit"
	DecisionMaybe MatchDecision = "maybe"
)

// ScoringParams records how a match score was produced.
type ScoringParams struct {
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
	TopK      int     `json:"kept_top_k_per_requirement"`
}

// Evidence justifies one match score to a human reviewer.
type Evidence struct {
	MatchedTokens []string      `json:"matched_tokens"`
	UsageSource   UsageSource   `json:"usage_source"`
	UsageText     string        `json:"usage_text"`
	RuleItemNo    string        `json:"rule_item_no"`
	RuleTitle     string        `json:"rule_title"`
	RuleSnippet   string        `json:"rule_snippet"`
	Scoring       ScoringParams `json:"scoring"`
	Decision      MatchDecision `json:"decision"`
}

// MatchResult is the matching engine's output for one
// (run, usage requirement, rule) triple. The full result set for a run id is
// replaced wholesale on recompute, never patched.
type MatchResult struct {
	CreatedAt     time.Time
	Source        MatchSource
	Decision      MatchDecision
	Evidence      *Evidence
	Score         float64
	ID            int64
	RunID         int64
	RequirementID int64
	RuleID        int64
}

// RunMatch is a match row joined with the rule it points at, as loaded for
// two-list aggregation.
type RunMatch struct {
	Match MatchResult
	Rule  RuleCatalogEntry
}
