package moderation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"confessional/api/internal/store"
	"confessional/api/internal/tag"
)

// ApproveAll approves every pending item the filter selects, in submission
// order. Ids are allocated once and advance only on success, so failed
// items leave no gaps. Items are paced to stay under publisher rate limits.
func (e *Engine) ApproveAll(ctx context.Context, filter SourceFilter, actor string) (BulkResult, error) {
	srcs, err := e.sources(filter)
	if err != nil {
		return BulkResult{}, err
	}
	if err := e.lockApprovals(ctx); err != nil {
		return BulkResult{}, err
	}
	defer e.unlockApprovals()

	bySource := make(map[SourceType]source, len(srcs))
	var batch []PendingItem
	for _, src := range srcs {
		items, _, err := src.ListPending(ctx, 0, 0)
		if err != nil {
			if filter != FilterAll {
				return BulkResult{}, err
			}
			e.logger.WithError(err).WithField("source", src.Type()).Warn("bulk approval skipping unavailable source")
			continue
		}
		bySource[src.Type()] = src
		batch = append(batch, items...)
	}
	sortOldestFirst(batch)

	result := BulkResult{RunID: uuid.NewString(), PerItemResults: make([]BulkItemResult, 0, len(batch))}
	log := e.logger.WithField("run_id", result.RunID).WithField("actor", actor)
	if len(batch) == 0 {
		log.Info("bulk approval found nothing pending")
		return result, nil
	}

	counter := e.NextPublicID(ctx)
	log.WithField("items", len(batch)).WithField("first_public_id", counter).Info("bulk approval started")

	for i, item := range batch {
		if i > 0 {
			if err := e.sleep(ctx, e.opts.Pacing); err != nil {
				result.failRemaining(batch[i:], err)
				break
			}
		}
		counter = tag.Wrap(counter)
		res, err := e.approveItem(ctx, bySource[item.SourceType], item, counter, actor)
		if err != nil {
			log.WithError(err).WithField("item_id", item.ID).Warn("bulk item failed")
			e.metrics.BulkItem("failed")
			result.FailCount++
			result.PerItemResults = append(result.PerItemResults, BulkItemResult{ItemID: item.ID, SourceType: item.SourceType, Error: err.Error()})
			continue
		}
		e.metrics.BulkItem("approved")
		id := res.PublicID
		result.SuccessCount++
		result.PerItemResults = append(result.PerItemResults, BulkItemResult{
			ItemID:     item.ID,
			SourceType: item.SourceType,
			Success:    true,
			PublicID:   &id,
			PostRef:    res.PostRef,
		})
		counter++
	}

	log.WithField("succeeded", result.SuccessCount).WithField("failed", result.FailCount).Info("bulk approval finished")
	return result, nil
}

func (r *BulkResult) failRemaining(items []PendingItem, err error) {
	for _, item := range items {
		r.FailCount++
		r.PerItemResults = append(r.PerItemResults, BulkItemResult{ItemID: item.ID, SourceType: item.SourceType, Error: err.Error()})
	}
}

// DeleteAll clears live documents in one terminal status. Rejected records
// are hard-deleted; approved records are archived to the ledger first so
// their ids are not lost. Sheet rows never sit live in a terminal status,
// so the sheet filter has nothing to clear.
func (e *Engine) DeleteAll(ctx context.Context, filter SourceFilter, status, actor string) (BulkResult, error) {
	if status != store.StatusApproved && status != store.StatusRejected {
		return BulkResult{}, &ValidationError{Field: "statusFilter", Message: fmt.Sprintf("status must be %q or %q", store.StatusApproved, store.StatusRejected)}
	}
	if !filter.Includes(SourceDocument) {
		return BulkResult{RunID: uuid.NewString(), PerItemResults: []BulkItemResult{}}, nil
	}
	subs, err := e.documents.ListSubmissionsByStatus(ctx, status)
	if err != nil {
		return BulkResult{}, &CollaboratorError{Collaborator: "document store", Op: "list " + status, Err: err}
	}

	result := BulkResult{RunID: uuid.NewString(), PerItemResults: make([]BulkItemResult, 0, len(subs))}
	docs := &documentSource{e: e}
	for _, sub := range subs {
		item := documentItem(sub)
		var err error
		if status == store.StatusApproved {
			rec := ledgerRecord(item, store.OutcomeApproved, sub.PublicID, deref(sub.PostRef), firstNonEmpty(deref(sub.ApprovedBy), actor), approvedAt(sub, e.now()))
			err = e.migrate(ctx, docs, item, rec)
		} else {
			_, err = e.documents.DeleteSubmission(ctx, sub.ID)
		}
		if err != nil {
			result.FailCount++
			result.PerItemResults = append(result.PerItemResults, BulkItemResult{ItemID: sub.ID, SourceType: SourceDocument, Error: err.Error()})
			continue
		}
		result.SuccessCount++
		result.PerItemResults = append(result.PerItemResults, BulkItemResult{ItemID: sub.ID, SourceType: SourceDocument, Success: true, PublicID: sub.PublicID})
	}
	e.logger.WithField("status", status).WithField("actor", actor).WithField("deleted", result.SuccessCount).Info("bulk delete finished")
	return result, nil
}
