package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const submissionColumns = `id, content, images, source, status, public_id, post_ref, submitted_at, approved_at, approved_by`

func scanSubmission(row rowScanner) (Submission, error) {
	var (
		sub        Submission
		images     pq.StringArray
		publicID   sql.NullInt64
		postRef    sql.NullString
		approvedAt sql.NullTime
		approvedBy sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.Content, &images, &sub.Source, &sub.Status, &publicID, &postRef, &sub.SubmittedAt, &approvedAt, &approvedBy); err != nil {
		return Submission{}, err
	}
	sub.Images = []string(images)
	if sub.Images == nil {
		sub.Images = []string{}
	}
	sub.PublicID = nullableInt(publicID)
	sub.PostRef = nullableString(postRef)
	sub.ApprovedBy = nullableString(approvedBy)
	if approvedAt.Valid {
		at := approvedAt.Time
		sub.ApprovedAt = &at
	}
	return sub, nil
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, sub Submission) (Submission, error) {
	if sub.Source == "" {
		sub.Source = SourceDocument
	}
	if sub.Status == "" {
		sub.Status = StatusPending
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	if sub.Images == nil {
		sub.Images = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, content, images, source, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.Content, pq.Array(sub.Images), sub.Source, sub.Status, sub.SubmittedAt)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	return sub, nil
}

// GetSubmission returns sql.ErrNoRows unwrapped when the id is unknown.
func (s *PostgresStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, err
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListPendingSubmissions(ctx context.Context, offset, limit int) ([]Submission, error) {
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = 'pending'
		ORDER BY submitted_at DESC, id
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	return collectSubmissions(rows)
}

func (s *PostgresStore) ListSubmissionsByStatus(ctx context.Context, status string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = $1
		ORDER BY submitted_at DESC, id
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list submissions by status: %w", err)
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows *sql.Rows) ([]Submission, error) {
	defer rows.Close()
	items := make([]Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountSubmissionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{StatusPending: 0, StatusApproved: 0, StatusRejected: 0}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission counts: %w", err)
	}
	return counts, nil
}

// DeleteSubmission reports whether a row was removed.
func (s *PostgresStore) DeleteSubmission(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete submission rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkSubmissionApproved records an approval on the live row. It is the
// fallback when the ledger write fails, leaving the row for backfill.
func (s *PostgresStore) MarkSubmissionApproved(ctx context.Context, id string, publicID int, postRef, approvedBy string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = 'approved', public_id = $2, post_ref = $3, approved_by = $4, approved_at = $5
		WHERE id = $1
	`, id, publicID, postRef, approvedBy, at)
	if err != nil {
		return fmt.Errorf("mark submission approved: %w", err)
	}
	return nil
}

// RecentApprovedPublicIDs lists ids of live records that were approved in
// place, newest approval first.
func (s *PostgresStore) RecentApprovedPublicIDs(ctx context.Context, limit int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_id
		FROM submissions
		WHERE status = 'approved' AND public_id IS NOT NULL
		ORDER BY approved_at DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent approved public ids: %w", err)
	}
	return collectInts(rows)
}

const processedColumns = `item_id, source, outcome, public_id, post_ref, processed_by, processed_at, content`

func scanProcessed(row rowScanner) (ProcessedRecord, error) {
	var (
		rec         ProcessedRecord
		publicID    sql.NullInt64
		postRef     sql.NullString
		processedBy sql.NullString
	)
	if err := row.Scan(&rec.ItemID, &rec.Source, &rec.Outcome, &publicID, &postRef, &processedBy, &rec.ProcessedAt, &rec.Content); err != nil {
		return ProcessedRecord{}, err
	}
	rec.PublicID = nullableInt(publicID)
	rec.PostRef = nullableString(postRef)
	rec.ProcessedBy = nullableString(processedBy)
	return rec, nil
}

// UpsertProcessed writes a ledger record. An existing record is left alone
// except that a deleted outcome may be promoted to rejected. The returned
// bool reports whether anything was written.
func (s *PostgresStore) UpsertProcessed(ctx context.Context, rec ProcessedRecord) (bool, error) {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	var itemID string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO processed_submissions (item_id, source, outcome, public_id, post_ref, processed_by, processed_at, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id) DO UPDATE
		SET outcome = EXCLUDED.outcome,
		    processed_by = COALESCE(EXCLUDED.processed_by, processed_submissions.processed_by),
		    processed_at = EXCLUDED.processed_at
		WHERE processed_submissions.outcome = 'deleted' AND EXCLUDED.outcome = 'rejected'
		RETURNING item_id
	`, rec.ItemID, rec.Source, rec.Outcome, intArg(rec.PublicID), stringArg(rec.PostRef), stringArg(rec.ProcessedBy), rec.ProcessedAt, rec.Content).Scan(&itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("upsert processed record: %w", err)
	}
	return true, nil
}

// GetProcessed returns sql.ErrNoRows unwrapped when the item was never
// processed.
func (s *PostgresStore) GetProcessed(ctx context.Context, itemID string) (ProcessedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processedColumns+` FROM processed_submissions WHERE item_id = $1`, itemID)
	rec, err := scanProcessed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessedRecord{}, err
	}
	if err != nil {
		return ProcessedRecord{}, fmt.Errorf("get processed record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListProcessedKeys(ctx context.Context, source string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id FROM processed_submissions WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("list processed keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan processed key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed keys: %w", err)
	}
	return keys, nil
}

// RecentProcessedPublicIDs lists ids of approved ledger records, newest first.
func (s *PostgresStore) RecentProcessedPublicIDs(ctx context.Context, limit int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT public_id
		FROM processed_submissions
		WHERE outcome = 'approved' AND public_id IS NOT NULL
		ORDER BY processed_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent processed public ids: %w", err)
	}
	return collectInts(rows)
}

// CountProcessedByOutcome groups ledger records by source, then outcome.
func (s *PostgresStore) CountProcessedByOutcome(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, outcome, COUNT(*)
		FROM processed_submissions
		GROUP BY source, outcome
	`)
	if err != nil {
		return nil, fmt.Errorf("count processed records: %w", err)
	}
	defer rows.Close()

	counts := map[string]map[string]int{}
	for rows.Next() {
		var (
			source, outcome string
			count           int
		)
		if err := rows.Scan(&source, &outcome, &count); err != nil {
			return nil, fmt.Errorf("scan processed count: %w", err)
		}
		if counts[source] == nil {
			counts[source] = map[string]int{}
		}
		counts[source][outcome] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processed counts: %w", err)
	}
	return counts, nil
}

// ListPublished returns approved ledger records, newest first. A limit of
// zero or less returns all of them.
func (s *PostgresStore) ListPublished(ctx context.Context, limit int) ([]ProcessedRecord, error) {
	query := `SELECT ` + processedColumns + ` FROM processed_submissions WHERE outcome = 'approved' ORDER BY processed_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list published records: %w", err)
	}
	defer rows.Close()

	records := make([]ProcessedRecord, 0)
	for rows.Next() {
		rec, err := scanProcessed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) CreateAdmin(ctx context.Context, admin Admin) (Admin, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO admins (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, admin.ID, admin.Username, admin.PasswordHash, admin.Role).Scan(&admin.CreatedAt)
	if err != nil {
		return Admin{}, fmt.Errorf("insert admin: %w", err)
	}
	return admin, nil
}

func (s *PostgresStore) GetAdminByUsername(ctx context.Context, username string) (Admin, error) {
	return s.getAdmin(ctx, `SELECT id, username, password_hash, role, last_login_at, created_at FROM admins WHERE username = $1`, username)
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, id string) (Admin, error) {
	return s.getAdmin(ctx, `SELECT id, username, password_hash, role, last_login_at, created_at FROM admins WHERE id = $1`, id)
}

func (s *PostgresStore) getAdmin(ctx context.Context, query string, arg string) (Admin, error) {
	var (
		admin     Admin
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&admin.ID, &admin.Username, &admin.PasswordHash, &admin.Role, &lastLogin, &admin.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	if lastLogin.Valid {
		at := lastLogin.Time
		admin.LastLoginAt = &at
	}
	return admin, nil
}

func (s *PostgresStore) TouchAdminLogin(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE admins SET last_login_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("touch admin login: %w", err)
	}
	return nil
}

func collectInts(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	values := make([]int, 0)
	for rows.Next() {
		var value int
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan int: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ints: %w", err)
	}
	return values, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	out := int(v.Int64)
	return &out
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	out := v.String
	return &out
}

func intArg(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringArg(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
