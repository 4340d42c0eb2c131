// Package twolist converts persisted match rows into the reviewer-facing
// two-list structure: rules hit by both core and expanded usage sources
// (intersection) versus rules only the expanded sources reached.
package twolist

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
	"github.com/hmoriya/tradegate/internal/service"
)

// HitRecord is one contributing match inside a group.
type HitRecord struct {
	Evidence      *model.Evidence   `json:"evidence,omitempty"`
	UsageSource   model.UsageSource `json:"usageSource,omitempty"`
	UsageText     string            `json:"usageText,omitempty"`
	MatchSource   model.MatchSource `json:"matchSource"`
	MatchID       int64             `json:"matchId"`
	RequirementID int64             `json:"usageRequirementId"`
	Score         float64           `json:"matchScore"`
}

// Group aggregates every match pointing at one rule identity.
type Group struct {
	Key          string      `json:"key"`
	Regime       string      `json:"regime"`
	ItemNo       string      `json:"itemNo"`
	Version      string      `json:"version"`
	Title        string      `json:"title"`
	CoreHits     []HitRecord `json:"coreHits"`
	ExpandedHits []HitRecord `json:"expandedHits"`
	RuleID       int64       `json:"ruleId"`
	MaxScore     float64     `json:"maxScore"`
}

// Counts summarizes the report.
type Counts struct {
	Intersection     int `json:"intersection"`
	ExpandedOnly     int `json:"expandedOnly"`
	TotalUniqueItems int `json:"totalUniqueItems"`
}

// Report is the two-list output structure.
type Report struct {
	Note          string  `json:"note,omitempty"`
	Intersection  []Group `json:"intersection"`
	ExpandedOnly  []Group `json:"expandedOnly"`
	Counts        Counts  `json:"counts"`
	TransactionID int64   `json:"transactionId"`
	RunID         int64   `json:"runId"`
}

// Compute builds the two-list report for a transaction. runID zero resolves to
// the most recent rule-matching run regardless of its status; having no such
// run at all is a usage error. A resolved run with zero matches yields an
// empty report with a note, never an error.
func Compute(ctx context.Context, store service.Storage, transactionID, runID int64) (*Report, error) {
	if runID == 0 {
		run, err := store.GetLatestRun(ctx, transactionID, model.StageRuleMatch, false)
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewUserError(
				"no rule-matching run exists for this transaction; run the pipeline first",
				common.ErrNoMatchRun)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve match run: %w", err)
		}
		runID = run.ID
	} else {
		run, err := store.GetRun(ctx, runID)
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewUserError(
				fmt.Sprintf("run %d does not exist", runID), common.ErrNoMatchRun)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
		}
		if run.TransactionID != transactionID {
			return nil, common.NewUserError(
				fmt.Sprintf("run %d belongs to transaction %d, not %d",
					runID, run.TransactionID, transactionID), common.ErrNoMatchRun)
		}
		if run.Stage != model.StageRuleMatch {
			return nil, common.NewUserError(
				fmt.Sprintf("run %d is a %s run, not %s",
					runID, run.Stage, model.StageRuleMatch), common.ErrNoMatchRun)
		}
	}

	matches, err := store.GetRunMatches(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load matches: %w", err)
	}

	report := &Report{
		TransactionID: transactionID,
		RunID:         runID,
		Intersection:  []Group{},
		ExpandedOnly:  []Group{},
	}
	if len(matches) == 0 {
		report.Note = "no match rows for this run; usage requirements and catalog vocabulary may not overlap"
		return report, nil
	}

	reqs, err := store.GetUsageRequirements(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage requirements: %w", err)
	}
	reqByID := make(map[int64]*model.UsageRequirement, len(reqs))
	for i := range reqs {
		reqByID[reqs[i].ID] = &reqs[i]
	}

	grouped := make(map[string]*Group)
	order := make([]string, 0)
	for _, rm := range matches {
		key := rm.Rule.IdentityKey()
		g, ok := grouped[key]
		if !ok {
			g = &Group{
				Key:     key,
				Regime:  rm.Rule.Regime,
				ItemNo:  rm.Rule.ItemNo,
				Version: rm.Rule.Version,
				Title:   rm.Rule.Title,
				RuleID:  rm.Rule.ID,
			}
			grouped[key] = g
			order = append(order, key)
		}

		rec := HitRecord{
			MatchID:       rm.Match.ID,
			RequirementID: rm.Match.RequirementID,
			Score:         rm.Match.Score,
			MatchSource:   rm.Match.Source,
			Evidence:      rm.Match.Evidence,
		}

		// The requirement's own source tag is ground truth; the match's
		// source family covers requirements that no longer resolve.
		core := rm.Match.Source == model.MatchFromCore
		if req, found := reqByID[rm.Match.RequirementID]; found {
			rec.UsageSource = req.Source
			rec.UsageText = req.Text
			core = req.Source == model.SourceCore
		}

		if rm.Match.Score > g.MaxScore {
			g.MaxScore = rm.Match.Score
		}
		if core {
			g.CoreHits = append(g.CoreHits, rec)
		} else {
			g.ExpandedHits = append(g.ExpandedHits, rec)
		}
	}

	for _, key := range order {
		g := grouped[key]
		switch {
		case len(g.CoreHits) > 0 && len(g.ExpandedHits) > 0:
			report.Intersection = append(report.Intersection, *g)
		case len(g.CoreHits) == 0 && len(g.ExpandedHits) > 0:
			report.ExpandedOnly = append(report.ExpandedOnly, *g)
		}
		// Core-only groups are excluded from both lists.
	}

	sortGroups(report.Intersection)
	sortGroups(report.ExpandedOnly)

	report.Counts = Counts{
		Intersection:     len(report.Intersection),
		ExpandedOnly:     len(report.ExpandedOnly),
		TotalUniqueItems: len(grouped),
	}
	return report, nil
}

func sortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].MaxScore != groups[j].MaxScore {
			return groups[i].MaxScore > groups[j].MaxScore
		}
		return groups[i].ItemNo < groups[j].ItemNo
	})
}
