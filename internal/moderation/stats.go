package moderation

import (
	"context"

	"confessional/api/internal/store"
)

// Stats counts items per source and outcome. Live counts come from each
// source, terminal counts from the ledger plus documents not yet migrated.
// An unavailable sheet is reported as a degradation.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	live, err := e.documents.CountSubmissionsByStatus(ctx)
	if err != nil {
		return Stats{}, &CollaboratorError{Collaborator: "document store", Op: "count", Err: err}
	}
	ledger, err := e.ledger.CountProcessedByOutcome(ctx)
	if err != nil {
		return Stats{}, &CollaboratorError{Collaborator: "ledger", Op: "count", Err: err}
	}

	out := Stats{BySource: map[SourceType]SourceStats{}}
	docLedger := ledger[store.SourceDocument]
	out.BySource[SourceDocument] = SourceStats{
		Pending:  live[store.StatusPending],
		Approved: live[store.StatusApproved] + docLedger[store.OutcomeApproved],
		Rejected: live[store.StatusRejected] + docLedger[store.OutcomeRejected],
		Deleted:  docLedger[store.OutcomeDeleted],
	}

	if e.sheets != nil {
		_, pending, err := (&sheetSource{e: e}).ListPending(ctx, 0, 0)
		if err != nil {
			e.logger.WithError(err).Warn("sheet source unavailable for stats")
			out.Degradations = append(out.Degradations, degrade(DegradeSourceUnavailable, err))
		}
		sheetLedger := ledger[store.SourceSheet]
		out.BySource[SourceSheet] = SourceStats{
			Pending:  pending,
			Approved: sheetLedger[store.OutcomeApproved],
			Rejected: sheetLedger[store.OutcomeRejected],
			Deleted:  sheetLedger[store.OutcomeDeleted],
		}
	}

	if e.publishLog != nil {
		if n, err := e.publishLog.PublishedCount(ctx); err != nil {
			e.logger.WithError(err).Warn("publish log unavailable for stats")
			out.Degradations = append(out.Degradations, degrade(DegradePublishLog, err))
		} else {
			out.PublishLogCount = &n
		}
	}

	for _, s := range out.BySource {
		out.Pending += s.Pending
		out.Approved += s.Approved
		out.Rejected += s.Rejected
		out.Deleted += s.Deleted
	}
	out.Total = out.Pending + out.Approved + out.Rejected + out.Deleted
	return out, nil
}
