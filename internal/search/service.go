package search

import (
	"context"

	"confessional/api/internal/logging"
	"confessional/api/internal/store"
)

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	prefix string
	logger logging.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, prefix string, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{meili: meili, pgfts: pgfts, prefix: prefix, logger: logger.WithField("component", "search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPublished pushes one approved ledger row to Meilisearch without
// blocking the caller. Postgres needs no push: its vector is generated.
func (s *Service) IndexPublished(rec store.ProcessedRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record, ok := RecordFromProcessed(s.prefix, rec)
	if !ok {
		return
	}
	go func() {
		if err := s.meili.IndexPublished(record); err != nil {
			s.logger.WithError(err).WithField("item_id", record.ID).Warn("index published confession")
		}
	}()
}

// ReindexAllFromPG reloads every approved confession into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx, s.prefix)
	if err != nil {
		s.logger.WithError(err).Error("reindex load failed")
		return
	}
	if err := s.meili.IndexAll(records); err != nil {
		s.logger.WithError(err).Error("reindex failed")
		return
	}
	s.logger.WithField("records", len(records)).Info("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
