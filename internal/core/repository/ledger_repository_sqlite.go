package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/duynhne/trial-service/internal/core/domain"
)

const sqliteLedgerSchema = `
	CREATE TABLE IF NOT EXISTS invite_usage (
		code            TEXT    NOT NULL,
		user_key        TEXT    NOT NULL,
		last_granted_at INTEGER NOT NULL,
		PRIMARY KEY (code, user_key)
	)
`

// SQLiteLedgerRepository implements domain.UsageLedger on a SQLite database.
type SQLiteLedgerRepository struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository creates the ledger table if needed and returns the repository.
func NewSQLiteLedgerRepository(ctx context.Context, db *sql.DB) (*SQLiteLedgerRepository, error) {
	if _, err := db.ExecContext(ctx, sqliteLedgerSchema); err != nil {
		return nil, fmt.Errorf("create invite_usage table: %w", err)
	}
	return &SQLiteLedgerRepository{db: db}, nil
}

// Get returns the entry for (code, userKey), or (nil, nil) when absent.
func (r *SQLiteLedgerRepository) Get(ctx context.Context, code, userKey string) (*domain.LedgerEntry, error) {
	query := `SELECT last_granted_at FROM invite_usage WHERE code = ? AND user_key = ?`

	var ms int64
	err := r.db.QueryRowContext(ctx, query, code, userKey).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}

	return &domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: time.UnixMilli(ms)}, nil
}

// CompareAndSet grants a fresh trial with a single UPSERT. SQLite serializes
// writers, so the WHERE guard and the write cannot interleave with another
// caller.
func (r *SQLiteLedgerRepository) CompareAndSet(ctx context.Context, code, userKey string, now time.Time, cooldown time.Duration) (domain.LedgerEntry, bool, error) {
	query := `
		INSERT INTO invite_usage (code, user_key, last_granted_at)
		VALUES (?, ?, ?)
		ON CONFLICT (code, user_key) DO UPDATE
			SET last_granted_at = excluded.last_granted_at
			WHERE invite_usage.last_granted_at <= ?
		RETURNING last_granted_at
	`

	var ms int64
	err := r.db.QueryRowContext(ctx, query, code, userKey, now.UnixMilli(), now.Add(-cooldown).UnixMilli()).Scan(&ms)
	if err == nil {
		return domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: time.UnixMilli(ms)}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEntry{}, false, fmt.Errorf("upsert ledger entry: %w", err)
	}

	existing, err := r.Get(ctx, code, userKey)
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if existing == nil {
		return domain.LedgerEntry{}, false, errors.New("ledger entry vanished after conflict")
	}
	return *existing, false, nil
}

// Purge deletes entries last granted before the given time.
func (r *SQLiteLedgerRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM invite_usage WHERE last_granted_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}
