package moderation

import (
	"context"
	"time"

	"confessional/api/internal/store"
)

// MigrateApproved archives an approved item: the ledger record is written
// first, then the live record is removed. Safe to repeat.
func (e *Engine) MigrateApproved(ctx context.Context, item PendingItem, publicID int, postRef, actor string) error {
	src, err := e.source(item.SourceType)
	if err != nil {
		return err
	}
	return e.migrate(ctx, src, item, ledgerRecord(item, store.OutcomeApproved, &publicID, postRef, actor, e.now()))
}

func (e *Engine) migrate(ctx context.Context, src source, item PendingItem, rec store.ProcessedRecord) error {
	if _, err := e.ledger.UpsertProcessed(ctx, rec); err != nil {
		return &CollaboratorError{Collaborator: "ledger", Op: "upsert", Err: err}
	}
	if err := src.RemoveLive(ctx, item); err != nil {
		return &CollaboratorError{Collaborator: string(src.Type()) + " store", Op: "remove", Err: err}
	}
	return nil
}

// CleanupBackfill repairs archival that failed after publish. Approved
// documents still in the live store are migrated; sheet rows whose outcome
// is already settled are removed. One failure never stops the sweep.
func (e *Engine) CleanupBackfill(ctx context.Context) (BackfillReport, error) {
	const actor = "backfill"
	report := BackfillReport{}
	docs := &documentSource{e: e}

	approved, err := e.documents.ListSubmissionsByStatus(ctx, store.StatusApproved)
	if err != nil {
		return report, &CollaboratorError{Collaborator: "document store", Op: "list approved", Err: err}
	}
	for _, sub := range approved {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		item := documentItem(sub)
		rec := ledgerRecord(item, store.OutcomeApproved, sub.PublicID, deref(sub.PostRef), firstNonEmpty(deref(sub.ApprovedBy), actor), approvedAt(sub, e.now()))
		if err := e.migrate(ctx, docs, item, rec); err != nil {
			e.logger.WithError(err).WithField("item_id", sub.ID).Warn("backfill migration failed")
			report.Failed++
			report.Failures = append(report.Failures, BulkItemResult{ItemID: sub.ID, SourceType: SourceDocument, Error: err.Error()})
			continue
		}
		report.Migrated++
	}

	if e.sheets != nil {
		e.sweepSheet(ctx, actor, &report)
	}

	e.logger.WithField("scanned", report.Scanned).
		WithField("migrated", report.Migrated).
		WithField("failed", report.Failed).
		WithField("sheet_rows_removed", report.SheetRowsRemoved).
		Info("backfill finished")
	return report, nil
}

// sweepSheet removes rows that are settled but still present: rows already
// in the ledger, and rows carrying a terminal status marker (recorded in
// the ledger first).
func (e *Engine) sweepSheet(ctx context.Context, actor string, report *BackfillReport) {
	responses, err := e.sheets.FormResponses(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("backfill skipped sheet source")
		return
	}
	processed, err := e.ledger.ListProcessedKeys(ctx, store.SourceSheet)
	if err != nil {
		e.logger.WithError(err).Warn("backfill skipped sheet source")
		return
	}
	rows := &sheetSource{e: e}
	for _, resp := range responses {
		if ctx.Err() != nil {
			return
		}
		_, settled := processed[resp.Key]
		if !settled && !terminalMarker(resp.Status) {
			continue
		}
		item := sheetItem(resp)
		if !settled {
			if err := rows.record(ctx, item, resp.Status, actor); err != nil {
				report.Failed++
				report.Failures = append(report.Failures, BulkItemResult{ItemID: resp.Key, SourceType: SourceSheet, Error: err.Error()})
				continue
			}
		}
		if err := rows.RemoveLive(ctx, item); err != nil {
			e.logger.WithError(err).WithField("item_id", resp.Key).Warn("backfill could not remove sheet row")
			report.Failed++
			report.Failures = append(report.Failures, BulkItemResult{ItemID: resp.Key, SourceType: SourceSheet, Error: err.Error()})
			continue
		}
		report.SheetRowsRemoved++
	}
}

func approvedAt(sub store.Submission, fallback time.Time) time.Time {
	if sub.ApprovedAt != nil {
		return *sub.ApprovedAt
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
