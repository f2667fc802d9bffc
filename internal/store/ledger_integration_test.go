package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("CONFESSIONAL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CONFESSIONAL_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := Open(ctx, dsn, DefaultPoolConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `TRUNCATE processed_submissions, submissions`)
	require.NoError(t, err)
	return NewPostgresStore(db)
}

func TestLedgerUpsertIsIdempotentPostgres(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()
	publicID := 42

	rec := ProcessedRecord{ItemID: "form_abc", Source: SourceSheet, Outcome: OutcomeApproved, PublicID: &publicID, Content: "xin chao"}
	written, err := s.UpsertProcessed(ctx, rec)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.UpsertProcessed(ctx, rec)
	require.NoError(t, err)
	assert.False(t, written)

	keys, err := s.ListProcessedKeys(ctx, SourceSheet)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestLedgerPromotesDeletedToRejectedOnlyPostgres(t *testing.T) {
	s := openIntegrationStore(t)
	ctx := context.Background()

	_, err := s.UpsertProcessed(ctx, ProcessedRecord{ItemID: "form_del", Source: SourceSheet, Outcome: OutcomeDeleted})
	require.NoError(t, err)

	written, err := s.UpsertProcessed(ctx, ProcessedRecord{ItemID: "form_del", Source: SourceSheet, Outcome: OutcomeRejected})
	require.NoError(t, err)
	assert.True(t, written)

	written, err = s.UpsertProcessed(ctx, ProcessedRecord{ItemID: "form_del", Source: SourceSheet, Outcome: OutcomeApproved})
	require.NoError(t, err)
	assert.False(t, written)

	rec, err := s.GetProcessed(ctx, "form_del")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, rec.Outcome)
}
