package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	_ "github.com/jackc/pgx/v5/stdlib"

	"confessional/api/internal/logging"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ConnectAttempts bounds the startup ping; the database container is
	// often still booting when the API starts.
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnectAttempts: 5,
		ConnectBackoff:  time.Second,
	}
}

// Open connects through pgx and waits for the first successful ping.
func Open(ctx context.Context, databaseURL string, pool PoolConfig, logger logging.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetMaxOpenConns(pool.MaxOpenConns)

	attempts := max(pool.ConnectAttempts, 1)
	backoff := max(pool.ConnectBackoff, 10*time.Millisecond)
	retry := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(attempts).
		WithBackoff(backoff, 8*backoff).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			logger.WithError(e.LastError()).WithField("attempt", e.Attempts()).Warn("database not ready, retrying")
		}).
		ReturnLastFailure().
		Build()

	err = failsafe.With[any](retry).WithContext(ctx).Run(func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
