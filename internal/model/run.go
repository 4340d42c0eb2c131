package model

import "time"

// StageKind identifies one pipeline stage.
type StageKind string

// Pipeline stages, in execution order.
const (
	StageUsageExtract     StageKind = "usage_extract"
	StagePriorArtRetrieve StageKind = "prior_art_retrieve"
	StageUsageExpand      StageKind = "usage_expand"
	StageRuleMatch        StageKind = "rule_match"
)

// RunStatus is the lifecycle state of a run. Transitions are
// running -> success or running -> failed; both end states are terminal.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Run records one tracked execution of one pipeline stage for one transaction.
type Run struct {
	StartedAt     time.Time
	FinishedAt    *time.Time
	Params        map[string]any
	Stage         StageKind
	Status        RunStatus
	ModelName     string
	StageVersion  string
	Error         string
	ID            int64
	TransactionID int64
}
