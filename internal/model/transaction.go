// Package model defines the core domain models used throughout the application.
package model

import "time"

// TransactionStatus tracks where a trade case sits in the review workflow.
type TransactionStatus string

// Transaction status constants.
const (
	TransactionDraft    TransactionStatus = "draft"
	TransactionInReview TransactionStatus = "in_review"
	TransactionApproved TransactionStatus = "approved"
	TransactionRejected TransactionStatus = "rejected"
)

// Transaction represents one export/trade case under review.
type Transaction struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	CaseNo    string
	Title     string
	Status    TransactionStatus
	ID        int64
}

// TransactionItem is one shipped good belonging to a transaction.
type TransactionItem struct {
	CreatedAt     time.Time
	ItemName      string
	ItemModel     string
	SpecText      string
	ID            int64
	TransactionID int64
}
