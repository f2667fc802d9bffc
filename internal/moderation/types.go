package moderation

import (
	"fmt"
	"strings"
	"time"
)

type SourceType string

const (
	SourceDocument SourceType = "document"
	SourceSheet    SourceType = "sheet"
)

// SourceFilter selects one source or both.
type SourceFilter string

const (
	FilterAll      SourceFilter = "all"
	FilterDocument SourceFilter = SourceFilter(SourceDocument)
	FilterSheet    SourceFilter = SourceFilter(SourceSheet)
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// ParseSourceType accepts the canonical names and the legacy aliases used
// by older admin clients ("website", "google_sheets").
func ParseSourceType(raw string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "document", "website", "web":
		return SourceDocument, nil
	case "sheet", "sheets", "google_sheets", "google_form", "form":
		return SourceSheet, nil
	default:
		return "", &ValidationError{Field: "sourceType", Message: fmt.Sprintf("unknown source %q", raw)}
	}
}

func ParseSourceFilter(raw string) (SourceFilter, error) {
	if strings.TrimSpace(raw) == "" || strings.EqualFold(strings.TrimSpace(raw), string(FilterAll)) {
		return FilterAll, nil
	}
	st, err := ParseSourceType(raw)
	if err != nil {
		return "", &ValidationError{Field: "sourceFilter", Message: fmt.Sprintf("unknown source filter %q", raw)}
	}
	return SourceFilter(st), nil
}

func (f SourceFilter) Includes(st SourceType) bool {
	return f == FilterAll || f == SourceFilter(st)
}

// PendingItem is one submission awaiting a decision, from either source.
type PendingItem struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Images      []string   `json:"images"`
	SourceType  SourceType `json:"sourceType"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`

	// sheet rows only: the original upload links
	sourceLinks []string
}

// Page is one slice of the pending queue. Approximate is set for the merged
// view, whose page boundaries and total are estimates.
type Page struct {
	Items        []PendingItem        `json:"items"`
	Total        int                  `json:"total"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"pageSize"`
	Approximate  bool                 `json:"approximate"`
	Degradations []PartialDegradation `json:"degradations,omitempty"`
}

type ApprovalResult struct {
	ItemID       string               `json:"itemId"`
	SourceType   SourceType           `json:"sourceType"`
	PublicID     int                  `json:"publicId"`
	Tag          string               `json:"tag"`
	PostRef      string               `json:"postRef"`
	Degradations []PartialDegradation `json:"degradations,omitempty"`
}

type BulkItemResult struct {
	ItemID     string     `json:"itemId"`
	SourceType SourceType `json:"sourceType"`
	Success    bool       `json:"success"`
	PublicID   *int       `json:"publicId,omitempty"`
	PostRef    string     `json:"postRef,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type BulkResult struct {
	RunID          string           `json:"runId"`
	SuccessCount   int              `json:"successCount"`
	FailCount      int              `json:"failCount"`
	PerItemResults []BulkItemResult `json:"perItemResults"`
}

type BackfillReport struct {
	Scanned          int              `json:"scanned"`
	Migrated         int              `json:"migrated"`
	Failed           int              `json:"failed"`
	SheetRowsRemoved int              `json:"sheetRowsRemoved"`
	Failures         []BulkItemResult `json:"failures,omitempty"`
}

type SourceStats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Deleted  int `json:"deleted"`
}

type Stats struct {
	Pending         int                        `json:"pending"`
	Approved        int                        `json:"approved"`
	Rejected        int                        `json:"rejected"`
	Deleted         int                        `json:"deleted"`
	Total           int                        `json:"total"`
	BySource        map[SourceType]SourceStats `json:"bySource"`
	PublishLogCount *int                       `json:"publishLogCount,omitempty"`
	Degradations    []PartialDegradation       `json:"degradations,omitempty"`
}
