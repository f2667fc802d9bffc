package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"confessional/api/internal/tag"
)

// PgFTS searches the ledger with PostgreSQL full-text search. It is the
// fallback when Meilisearch is down or not configured.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search ranks approved ledger rows with plainto_tsquery over the
// generated search_vector column. The simple configuration is used since
// confessions are not English.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := clampLimit(q.Limit)
	offset := max(q.Offset, 0)

	where := "outcome = 'approved' AND search_vector @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.Source != "" {
		where += " AND source = $2"
		args = append(args, q.Source)
	}

	var total int
	countSQL := "SELECT count(*) FROM processed_submissions WHERE " + where
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT item_id, public_id, post_ref, source, processed_at,
			ts_headline('simple', content, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>')
		FROM processed_submissions
		WHERE %s
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC, processed_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			publicID sql.NullInt64
			postRef  sql.NullString
		)
		if err := rows.Scan(&r.ID, &publicID, &postRef, &r.Source, &r.PublishedAt, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		if publicID.Valid {
			id := int(publicID.Int64)
			r.PublicID = &id
		}
		r.PostRef = postRef.String
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every approved ledger row for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context, prefix string) ([]PublishedRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT item_id, public_id, post_ref, source, processed_at, content
		FROM processed_submissions
		WHERE outcome = 'approved'
	`)
	if err != nil {
		return nil, fmt.Errorf("load published: %w", err)
	}
	defer rows.Close()

	records := make([]PublishedRecord, 0)
	for rows.Next() {
		var (
			rec         PublishedRecord
			publicID    sql.NullInt64
			postRef     sql.NullString
			processedAt time.Time
		)
		if err := rows.Scan(&rec.ID, &publicID, &postRef, &rec.Source, &processedAt, &rec.Content); err != nil {
			return nil, fmt.Errorf("scan published: %w", err)
		}
		if publicID.Valid {
			id := int(publicID.Int64)
			rec.PublicID = &id
			rec.Tag = tag.Format(prefix, id)
		}
		rec.PostRef = postRef.String
		rec.PublishedAt = processedAt.Unix()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published: %w", err)
	}
	return records, nil
}
