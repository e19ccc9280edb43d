package domain

import (
	"context"
	"time"
)

// LedgerEntry records the last successful trial grant for a (code, user) pair.
type LedgerEntry struct {
	Code          string
	UserKey       string
	LastGrantedAt time.Time
}

// UsageLedger defines the data-access contract for the invite usage ledger.
// Implementations live in internal/core/repository (Core layer).
type UsageLedger interface {
	// Get returns the entry for (code, userKey).
	// Returns (nil, nil) when the pair has never been granted.
	Get(ctx context.Context, code, userKey string) (*LedgerEntry, error)

	// CompareAndSet atomically grants a fresh trial: when no entry exists, or
	// the existing one was granted at or before now-cooldown, LastGrantedAt is
	// set to now and granted is true. Otherwise the ledger is left untouched
	// and the current entry is returned with granted false.
	CompareAndSet(ctx context.Context, code, userKey string, now time.Time, cooldown time.Duration) (entry LedgerEntry, granted bool, err error)

	// Purge deletes entries last granted strictly before the given time and
	// returns how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
