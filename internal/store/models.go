package store

import "time"

const (
	SourceDocument = "document"
	SourceSheet    = "sheet"

	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeDeleted  = "deleted"
)

// Submission is a live record in the document store.
type Submission struct {
	ID          string
	Content     string
	Images      []string
	Source      string
	Status      string
	PublicID    *int
	PostRef     *string
	SubmittedAt time.Time
	ApprovedAt  *time.Time
	ApprovedBy  *string
}

// ProcessedRecord is a ledger row: the durable terminal outcome of one item,
// keyed by the item id of whichever source it came from.
type ProcessedRecord struct {
	ItemID      string
	Source      string
	Outcome     string
	PublicID    *int
	PostRef     *string
	ProcessedBy *string
	ProcessedAt time.Time
	Content     string
}

type Admin struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}
