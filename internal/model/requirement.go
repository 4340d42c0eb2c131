package model

import "time"

// UsageSource tags the provenance of a usage requirement.
type UsageSource string

// Usage requirement sources.
const (
	SourceCore         UsageSource = "core"
	SourceExpanded     UsageSource = "expanded"
	SourceAnalystAdded UsageSource = "analyst_added"
)

// IsExpandedFamily reports whether the source belongs to the expanded/derived
// family for two-list purposes. Analyst additions count as expanded.
func (s UsageSource) IsExpandedFamily() bool {
	return s == SourceExpanded || s == SourceAnalystAdded
}

// UsageRequirement is a free-text statement of how an item is used.
// Requirements are created by the extract/expand stages (or an analyst) and
// are read-only to the matching and retrieval engines.
type UsageRequirement struct {
	CreatedAt      time.Time
	Source         UsageSource
	Text           string
	NormalizedText string
	CreatedBy      string
	RiskTags       []string
	Confidence     *float64
	ID             int64
	TransactionID  int64
}
