package moderation

import (
	"context"
	"errors"
	"time"

	"confessional/api/internal/facebook"
	"confessional/api/internal/sheets"
	"confessional/api/internal/store"
	"confessional/api/internal/tag"
)

// Approve publishes one pending item under the next public id and archives
// it. An item that already reached a terminal state yields
// AlreadyProcessedError and publishes nothing.
func (e *Engine) Approve(ctx context.Context, itemID string, st SourceType, actor string) (ApprovalResult, error) {
	src, err := e.source(st)
	if err != nil {
		return ApprovalResult{}, err
	}
	if err := e.lockApprovals(ctx); err != nil {
		return ApprovalResult{}, err
	}
	defer e.unlockApprovals()

	item, err := src.Lookup(ctx, itemID)
	if err != nil {
		e.metrics.Approval(string(st), approvalOutcome(err))
		return ApprovalResult{}, err
	}
	publicID := e.NextPublicID(ctx)
	return e.approveItem(ctx, src, item, publicID, actor)
}

// approveItem runs publish and archival for an item already looked up.
// Only a publisher failure is fatal; everything after the post exists is
// best-effort and reported as degradations.
func (e *Engine) approveItem(ctx context.Context, src source, item PendingItem, publicID int, actor string) (ApprovalResult, error) {
	log := e.logger.WithField("item_id", item.ID).WithField("source", item.SourceType).WithField("public_id", publicID)
	if e.publisher == nil {
		e.metrics.Approval(string(item.SourceType), "failed")
		return ApprovalResult{}, &CollaboratorError{Collaborator: "publisher", Op: "publish", Err: errors.New("publisher is not configured")}
	}

	files, degradations := src.Media(ctx, item)

	started := e.now()
	published, err := e.publisher.Publish(ctx, facebook.PublishRequest{
		Message: tag.Message(e.opts.TagPrefix, publicID, item.Content),
		Images:  files,
	})
	if err != nil {
		log.WithError(err).Error("publish failed")
		e.metrics.Approval(string(item.SourceType), "failed")
		return ApprovalResult{}, &CollaboratorError{Collaborator: "publisher", Op: "publish", Err: err}
	}
	e.metrics.Published(publicID, e.now().Sub(started))
	if published.Degraded {
		degradations = append(degradations, PartialDegradation{Kind: DegradeTextOnly, Detail: published.DegradeReason})
	}

	rec := ledgerRecord(item, store.OutcomeApproved, &publicID, published.PostID, actor, e.now())
	if err := e.migrate(ctx, src, item, rec); err != nil {
		log.WithError(err).Error("archival failed after publish")
		var ce *CollaboratorError
		kind := DegradeArchiveDeferred
		if errors.As(err, &ce) && ce.Collaborator != "ledger" && item.SourceType == SourceSheet {
			// ledger holds the outcome, the row only lingers
			kind = DegradeRowNotRemoved
		} else if markErr := src.MarkApproved(ctx, item, publicID, published.PostID, actor); markErr != nil {
			log.WithError(markErr).Warn("approval marker not written")
		}
		degradations = append(degradations, degrade(kind, err))
	}

	if e.publishLog != nil {
		entry := sheets.PublishedEntry{
			PublicID:    publicID,
			Content:     item.Content,
			PublishedAt: e.now(),
			PostRef:     published.PostID,
			Source:      string(item.SourceType),
		}
		if err := e.publishLog.AppendPublished(ctx, entry); err != nil {
			log.WithError(err).Warn("publish log not updated")
			degradations = append(degradations, degrade(DegradePublishLog, err))
		}
	}
	if e.indexer != nil {
		e.indexer.IndexPublished(rec)
	}

	for _, d := range degradations {
		e.metrics.Degradation(d.Kind)
	}
	e.metrics.Approval(string(item.SourceType), "approved")
	log.WithField("post_ref", published.PostID).WithField("degradations", len(degradations)).Info("item approved")

	return ApprovalResult{
		ItemID:       item.ID,
		SourceType:   item.SourceType,
		PublicID:     publicID,
		Tag:          tag.Format(e.opts.TagPrefix, publicID),
		PostRef:      published.PostID,
		Degradations: degradations,
	}, nil
}

// Reject moves a pending item to rejected. Sheet rejections are recorded
// in the ledger so the row never resurfaces.
func (e *Engine) Reject(ctx context.Context, itemID string, st SourceType, actor string) error {
	src, err := e.source(st)
	if err != nil {
		return err
	}
	if err := src.Reject(ctx, itemID, actor); err != nil {
		e.metrics.Rejection(string(st), approvalOutcome(err))
		return err
	}
	e.metrics.Rejection(string(st), store.OutcomeRejected)
	e.logger.WithField("item_id", itemID).WithField("source", st).WithField("actor", actor).Info("item rejected")
	return nil
}

// Delete removes an item whatever its state.
func (e *Engine) Delete(ctx context.Context, itemID string, st SourceType, actor string) error {
	src, err := e.source(st)
	if err != nil {
		return err
	}
	if err := src.Delete(ctx, itemID, actor); err != nil {
		return err
	}
	e.metrics.Rejection(string(st), store.OutcomeDeleted)
	e.logger.WithField("item_id", itemID).WithField("source", st).WithField("actor", actor).Info("item deleted")
	return nil
}

func approvalOutcome(err error) string {
	var (
		notFound *NotFoundError
		already  *AlreadyProcessedError
	)
	switch {
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &already):
		return "already_processed"
	default:
		return "failed"
	}
}

func ledgerRecord(item PendingItem, outcome string, publicID *int, postRef, actor string, at time.Time) store.ProcessedRecord {
	rec := store.ProcessedRecord{
		ItemID:      item.ID,
		Source:      string(item.SourceType),
		Outcome:     outcome,
		PublicID:    publicID,
		ProcessedAt: at.UTC(),
		Content:     item.Content,
	}
	if postRef != "" {
		rec.PostRef = &postRef
	}
	if actor != "" {
		rec.ProcessedBy = &actor
	}
	return rec
}
