package moderation

import (
	"errors"
	"fmt"
)

// ErrSourceDisabled is returned when the requested source is not
// configured in this deployment.
var ErrSourceDisabled = errors.New("source is not configured")

type NotFoundError struct {
	ItemID     string
	SourceType SourceType
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s item %s not found", e.SourceType, e.ItemID)
}

// AlreadyProcessedError means the item already reached a terminal state.
// For approvals it carries the identifiers assigned the first time.
type AlreadyProcessedError struct {
	ItemID     string
	SourceType SourceType
	Outcome    string
	PublicID   *int
	PostRef    string
}

func (e *AlreadyProcessedError) Error() string {
	if e.PublicID != nil {
		return fmt.Sprintf("%s item %s already %s as #%d", e.SourceType, e.ItemID, e.Outcome, *e.PublicID)
	}
	return fmt.Sprintf("%s item %s already %s", e.SourceType, e.ItemID, e.Outcome)
}

// CollaboratorError wraps a failure of an external dependency: the
// publisher, an image service, or a store.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PartialDegradation records a non-fatal problem: the operation went ahead
// with reduced effect (no images, archival deferred to backfill).
type PartialDegradation struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

const (
	DegradeImagesUnavailable = "images_unavailable"
	DegradeTextOnly          = "published_text_only"
	DegradeArchiveDeferred   = "archive_deferred"
	DegradeRowNotRemoved     = "sheet_row_not_removed"
	DegradePublishLog        = "publish_log_not_updated"
	DegradeSourceUnavailable = "source_unavailable"
)

func degrade(kind string, err error) PartialDegradation {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return PartialDegradation{Kind: kind, Detail: detail}
}
