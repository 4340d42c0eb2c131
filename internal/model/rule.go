package model

import "time"

// RuleCatalogEntry is one regulatory control-list item used as a matching
// target. Entries are unique on (regime, item number, version).
type RuleCatalogEntry struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EffectiveDate   *time.Time
	Regime          string
	ListName        string
	ItemNo          string
	Title           string
	RequirementText string
	UsageCriteria   string
	TechCriteria    string
	Notes           string
	Version         string
	ID              int64
	Active          bool
}

// IdentityKey returns the rule grouping key used by the two-list aggregator.
func (r *RuleCatalogEntry) IdentityKey() string {
	return r.Regime + "::" + r.ItemNo + "::" + r.Version
}

// MatchText concatenates every text field the matching engine scores against.
func (r *RuleCatalogEntry) MatchText() string {
	parts := []string{
		r.Title,
		r.RequirementText,
		r.UsageCriteria,
		r.TechCriteria,
		r.Notes,
		r.ItemNo,
		r.ListName,
	}
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p
	}
	return out
}
