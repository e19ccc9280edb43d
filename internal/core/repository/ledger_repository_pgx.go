package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duynhne/trial-service/internal/core/domain"
)

const pgLedgerSchema = `
	CREATE TABLE IF NOT EXISTS invite_usage (
		code            TEXT   NOT NULL,
		user_key        TEXT   NOT NULL,
		last_granted_at BIGINT NOT NULL,
		PRIMARY KEY (code, user_key)
	)
`

// PgxLedgerRepository implements domain.UsageLedger using pgxpool.
type PgxLedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new PgxLedgerRepository.
func NewLedgerRepository(pool *pgxpool.Pool) *PgxLedgerRepository {
	return &PgxLedgerRepository{pool: pool}
}

// EnsureSchema creates the invite_usage table when it does not exist.
func (r *PgxLedgerRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, pgLedgerSchema)
	return err
}

// Get returns the entry for (code, userKey).
// Returns (nil, nil) when the pair has never been granted.
func (r *PgxLedgerRepository) Get(ctx context.Context, code, userKey string) (*domain.LedgerEntry, error) {
	query := `SELECT last_granted_at FROM invite_usage WHERE code = $1 AND user_key = $2`

	var ms int64
	err := r.pool.QueryRow(ctx, query, code, userKey).Scan(&ms)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: time.UnixMilli(ms)}, nil
}

// CompareAndSet grants a fresh trial in a single statement. A concurrent
// upsert on the same key blocks on the row lock and then re-evaluates the
// WHERE clause against the committed value, so only one caller can win.
func (r *PgxLedgerRepository) CompareAndSet(ctx context.Context, code, userKey string, now time.Time, cooldown time.Duration) (domain.LedgerEntry, bool, error) {
	query := `
		INSERT INTO invite_usage (code, user_key, last_granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (code, user_key) DO UPDATE
			SET last_granted_at = EXCLUDED.last_granted_at
			WHERE invite_usage.last_granted_at <= $4
		RETURNING last_granted_at
	`

	var ms int64
	err := r.pool.QueryRow(ctx, query, code, userKey, now.UnixMilli(), now.Add(-cooldown).UnixMilli()).Scan(&ms)
	if err == nil {
		return domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: time.UnixMilli(ms)}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerEntry{}, false, err
	}

	// Conflict without update: still inside the cooldown window.
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
func (r *PgxLedgerRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM invite_usage WHERE last_granted_at < $1`
	tag, err := r.pool.Exec(ctx, query, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
