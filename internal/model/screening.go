package model

import "time"

// RequestStatus is the lifecycle state of an external screening request.
type RequestStatus string

// Screening request statuses.
const (
	RequestQueued    RequestStatus = "queued"
	RequestRunning   RequestStatus = "running"
	RequestCompleted RequestStatus = "completed"
	RequestError     RequestStatus = "error"
)

// ScreeningRequest tracks one external evaluation request from intake through
// webhook callback. The raw inbound and outbound payloads are retained for
// auditing.
type ScreeningRequest struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	RequestID     string
	CallbackURL   string
	PayloadIn     string
	PayloadOut    string
	Status        RequestStatus
	Reason        string
	SubjectID     int64
	TransactionID *int64
	ID            int64
}

// ScreeningStatus is the reviewer-facing outcome reported back to the caller.
type ScreeningStatus string

// Screening outcome statuses.
const (
	StatusHitConfirmed  ScreeningStatus = "hit-confirmed"
	StatusNonControlled ScreeningStatus = "non-controlled"
	StatusNeedsReview   ScreeningStatus = "needs-review"
	StatusNeedsMoreInfo ScreeningStatus = "needs-more-info"
	StatusError         ScreeningStatus = "error"
)

// Notification is the outbound webhook body delivered when a screening
// request finishes.
type Notification struct {
	SubjectID int64           `json:"subjectId"`
	RequestID string          `json:"requestId"`
	Status    ScreeningStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Payload   map[string]any  `json:"payload"`
}
