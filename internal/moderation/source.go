package moderation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"confessional/api/internal/drive"
	"confessional/api/internal/media"
	"confessional/api/internal/sheets"
	"confessional/api/internal/store"
)

// source is the per-origin half of the state machine. The engine owns the
// flow (allocate, publish, archive); a source knows how to find, show,
// remove and mark its own records.
type source interface {
	Type() SourceType
	// ListPending returns pending items and the total pending count. A limit
	// of zero or less returns everything.
	ListPending(ctx context.Context, offset, limit int) ([]PendingItem, int, error)
	// Lookup returns the live pending item, or NotFoundError /
	// AlreadyProcessedError.
	Lookup(ctx context.Context, id string) (PendingItem, error)
	Media(ctx context.Context, item PendingItem) ([]media.File, []PartialDegradation)
	RemoveLive(ctx context.Context, item PendingItem) error
	// MarkApproved leaves an approval marker on the live record when
	// archival could not complete.
	MarkApproved(ctx context.Context, item PendingItem, publicID int, postRef, actor string) error
	Reject(ctx context.Context, id, actor string) error
	Delete(ctx context.Context, id, actor string) error
}

// guardProcessed turns an existing ledger record into AlreadyProcessedError.
// It returns nil when the item has never been processed.
func (e *Engine) guardProcessed(ctx context.Context, id string, st SourceType) error {
	rec, err := e.ledger.GetProcessed(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return &CollaboratorError{Collaborator: "ledger", Op: "lookup", Err: err}
	}
	return alreadyProcessed(rec, st)
}

func alreadyProcessed(rec store.ProcessedRecord, st SourceType) *AlreadyProcessedError {
	out := &AlreadyProcessedError{ItemID: rec.ItemID, SourceType: st, Outcome: rec.Outcome, PublicID: rec.PublicID}
	if rec.PostRef != nil {
		out.PostRef = *rec.PostRef
	}
	return out
}

type documentSource struct {
	e *Engine
}

func (s *documentSource) Type() SourceType { return SourceDocument }

func (s *documentSource) ListPending(ctx context.Context, offset, limit int) ([]PendingItem, int, error) {
	var (
		subs []store.Submission
		err  error
	)
	if limit <= 0 {
		subs, err = s.e.documents.ListSubmissionsByStatus(ctx, store.StatusPending)
	} else {
		subs, err = s.e.documents.ListPendingSubmissions(ctx, offset, limit)
	}
	if err != nil {
		return nil, 0, &CollaboratorError{Collaborator: "document store", Op: "list pending", Err: err}
	}
	counts, err := s.e.documents.CountSubmissionsByStatus(ctx)
	if err != nil {
		return nil, 0, &CollaboratorError{Collaborator: "document store", Op: "count", Err: err}
	}
	items := make([]PendingItem, 0, len(subs))
	for _, sub := range subs {
		items = append(items, documentItem(sub))
	}
	return items, counts[store.StatusPending], nil
}

func (s *documentSource) Lookup(ctx context.Context, id string) (PendingItem, error) {
	if err := s.e.guardProcessed(ctx, id, SourceDocument); err != nil {
		return PendingItem{}, err
	}
	sub, err := s.e.documents.GetSubmission(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingItem{}, &NotFoundError{ItemID: id, SourceType: SourceDocument}
	}
	if err != nil {
		return PendingItem{}, &CollaboratorError{Collaborator: "document store", Op: "lookup", Err: err}
	}
	if sub.Status != store.StatusPending {
		out := &AlreadyProcessedError{ItemID: id, SourceType: SourceDocument, Outcome: sub.Status, PublicID: sub.PublicID}
		if sub.PostRef != nil {
			out.PostRef = *sub.PostRef
		}
		return PendingItem{}, out
	}
	return documentItem(sub), nil
}

func (s *documentSource) Media(ctx context.Context, item PendingItem) ([]media.File, []PartialDegradation) {
	files := make([]media.File, 0, len(item.Images))
	for _, u := range item.Images {
		if strings.TrimSpace(u) != "" {
			files = append(files, media.File{URL: u})
		}
	}
	return files, nil
}

func (s *documentSource) RemoveLive(ctx context.Context, item PendingItem) error {
	_, err := s.e.documents.DeleteSubmission(ctx, item.ID)
	return err
}

func (s *documentSource) MarkApproved(ctx context.Context, item PendingItem, publicID int, postRef, actor string) error {
	return s.e.documents.MarkSubmissionApproved(ctx, item.ID, publicID, postRef, actor, s.e.now().UTC())
}

// Reject hard-deletes the live record. Document rejections leave no ledger
// entry.
func (s *documentSource) Reject(ctx context.Context, id, actor string) error {
	if _, err := s.Lookup(ctx, id); err != nil {
		return err
	}
	removed, err := s.e.documents.DeleteSubmission(ctx, id)
	if err != nil {
		return &CollaboratorError{Collaborator: "document store", Op: "delete", Err: err}
	}
	if !removed {
		return &NotFoundError{ItemID: id, SourceType: SourceDocument}
	}
	return nil
}

func (s *documentSource) Delete(ctx context.Context, id, actor string) error {
	removed, err := s.e.documents.DeleteSubmission(ctx, id)
	if err != nil {
		return &CollaboratorError{Collaborator: "document store", Op: "delete", Err: err}
	}
	if !removed {
		return &NotFoundError{ItemID: id, SourceType: SourceDocument}
	}
	return nil
}

func documentItem(sub store.Submission) PendingItem {
	images := sub.Images
	if images == nil {
		images = []string{}
	}
	return PendingItem{
		ID:          sub.ID,
		Content:     sub.Content,
		Images:      images,
		SourceType:  SourceDocument,
		Status:      sub.Status,
		SubmittedAt: sub.SubmittedAt,
	}
}

type sheetSource struct {
	e *Engine
}

func (s *sheetSource) Type() SourceType { return SourceSheet }

// ListPending scans the whole sheet; the source has no native paging.
// Rows known to the ledger, or carrying a terminal status marker, are
// excluded.
func (s *sheetSource) ListPending(ctx context.Context, offset, limit int) ([]PendingItem, int, error) {
	responses, err := s.e.sheets.FormResponses(ctx)
	if err != nil {
		return nil, 0, &CollaboratorError{Collaborator: "sheet store", Op: "scan", Err: err}
	}
	processed, err := s.e.ledger.ListProcessedKeys(ctx, store.SourceSheet)
	if err != nil {
		return nil, 0, &CollaboratorError{Collaborator: "ledger", Op: "list keys", Err: err}
	}

	items := make([]PendingItem, 0, len(responses))
	for _, resp := range responses {
		if _, done := processed[resp.Key]; done {
			continue
		}
		if terminalMarker(resp.Status) {
			continue
		}
		items = append(items, sheetItem(resp))
	}
	sortNewestFirst(items)
	total := len(items)
	if limit > 0 {
		if offset >= len(items) {
			return []PendingItem{}, total, nil
		}
		items = items[offset:min(offset+limit, len(items))]
	}
	return items, total, nil
}

func (s *sheetSource) Lookup(ctx context.Context, id string) (PendingItem, error) {
	if err := s.e.guardProcessed(ctx, id, SourceSheet); err != nil {
		return PendingItem{}, err
	}
	resp, err := s.e.sheets.Find(ctx, id)
	if errors.Is(err, sheets.ErrRowNotFound) {
		return PendingItem{}, &NotFoundError{ItemID: id, SourceType: SourceSheet}
	}
	if err != nil {
		return PendingItem{}, &CollaboratorError{Collaborator: "sheet store", Op: "lookup", Err: err}
	}
	if terminalMarker(resp.Status) {
		return PendingItem{}, &AlreadyProcessedError{ItemID: id, SourceType: SourceSheet, Outcome: resp.Status}
	}
	return sheetItem(resp), nil
}

// Media fetches the original uploads rather than the preview thumbnails.
// Any shortfall degrades the post instead of failing it.
func (s *sheetSource) Media(ctx context.Context, item PendingItem) ([]media.File, []PartialDegradation) {
	if len(item.sourceLinks) == 0 {
		return nil, nil
	}
	if s.e.acquirer == nil {
		return nil, []PartialDegradation{degrade(DegradeImagesUnavailable, errors.New("image acquisition is not configured"))}
	}
	files, err := s.e.acquirer.FetchMany(ctx, item.sourceLinks)
	if err != nil {
		s.e.logger.WithError(err).WithField("item_id", item.ID).Warn("image acquisition failed, publishing text only")
		return nil, []PartialDegradation{degrade(DegradeImagesUnavailable, err)}
	}
	if len(files) < len(item.sourceLinks) {
		return files, []PartialDegradation{degrade(DegradeImagesUnavailable, fmt.Errorf("fetched %d of %d images", len(files), len(item.sourceLinks)))}
	}
	return files, nil
}

func (s *sheetSource) RemoveLive(ctx context.Context, item PendingItem) error {
	err := s.e.sheets.DeleteRow(ctx, item.ID)
	if errors.Is(err, sheets.ErrRowNotFound) {
		return nil
	}
	return err
}

func (s *sheetSource) MarkApproved(ctx context.Context, item PendingItem, publicID int, postRef, actor string) error {
	return s.e.sheets.WriteStatus(ctx, item.ID, StatusApproved)
}

// Reject records the outcome before removing the row so the aggregator
// never resurfaces it. A previously deleted row is promoted to rejected
// without touching the sheet again.
func (s *sheetSource) Reject(ctx context.Context, id, actor string) error {
	rec, err := s.e.ledger.GetProcessed(ctx, id)
	switch {
	case err == nil && rec.Outcome == store.OutcomeDeleted:
		return s.record(ctx, PendingItem{ID: id, SourceType: SourceSheet, Content: rec.Content}, store.OutcomeRejected, actor)
	case err == nil:
		return alreadyProcessed(rec, SourceSheet)
	case !errors.Is(err, sql.ErrNoRows):
		return &CollaboratorError{Collaborator: "ledger", Op: "lookup", Err: err}
	}

	item, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if err := s.record(ctx, item, store.OutcomeRejected, actor); err != nil {
		return err
	}
	s.removeRow(ctx, item, StatusRejected)
	return nil
}

// Delete removes the row whatever its state and records it as deleted.
func (s *sheetSource) Delete(ctx context.Context, id, actor string) error {
	resp, err := s.e.sheets.Find(ctx, id)
	if errors.Is(err, sheets.ErrRowNotFound) {
		if guardErr := s.e.guardProcessed(ctx, id, SourceSheet); guardErr != nil {
			var already *AlreadyProcessedError
			if errors.As(guardErr, &already) {
				return nil
			}
			return guardErr
		}
		return &NotFoundError{ItemID: id, SourceType: SourceSheet}
	}
	if err != nil {
		return &CollaboratorError{Collaborator: "sheet store", Op: "lookup", Err: err}
	}
	item := sheetItem(resp)
	if err := s.record(ctx, item, store.OutcomeDeleted, actor); err != nil {
		return err
	}
	if err := s.e.sheets.DeleteRow(ctx, id); err != nil && !errors.Is(err, sheets.ErrRowNotFound) {
		return &CollaboratorError{Collaborator: "sheet store", Op: "delete row", Err: err}
	}
	return nil
}

func (s *sheetSource) record(ctx context.Context, item PendingItem, outcome, actor string) error {
	rec := ledgerRecord(item, outcome, nil, "", actor, s.e.now())
	if _, err := s.e.ledger.UpsertProcessed(ctx, rec); err != nil {
		return &CollaboratorError{Collaborator: "ledger", Op: "upsert", Err: err}
	}
	return nil
}

// removeRow marks then deletes a row whose outcome is already in the
// ledger. Both steps are best-effort: the ledger keeps the row hidden.
func (s *sheetSource) removeRow(ctx context.Context, item PendingItem, status string) {
	if err := s.e.sheets.WriteStatus(ctx, item.ID, status); err != nil {
		s.e.logger.WithError(err).WithField("item_id", item.ID).Debug("status overwrite rejected")
	}
	if err := s.e.sheets.DeleteRow(ctx, item.ID); err != nil && !errors.Is(err, sheets.ErrRowNotFound) {
		s.e.logger.WithError(err).WithField("item_id", item.ID).Warn("sheet row not removed; backfill will retry")
	}
}

func sheetItem(resp sheets.FormResponse) PendingItem {
	images := make([]string, 0, len(resp.ImageLinks))
	for _, link := range resp.ImageLinks {
		images = append(images, drive.ThumbnailURL(link))
	}
	return PendingItem{
		ID:          resp.Key,
		Content:     resp.Content,
		Images:      images,
		SourceType:  SourceSheet,
		Status:      StatusPending,
		SubmittedAt: resp.SubmittedAt,
		sourceLinks: resp.ImageLinks,
	}
}

func terminalMarker(status string) bool {
	switch status {
	case StatusApproved, StatusRejected, store.OutcomeDeleted:
		return true
	default:
		return false
	}
}
