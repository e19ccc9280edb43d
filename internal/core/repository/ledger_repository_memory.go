package repository

import (
	"context"
	"sync"
	"time"

	"github.com/duynhne/trial-service/internal/core/domain"
)

type ledgerKey struct {
	code    string
	userKey string
}

// MemoryLedger implements domain.UsageLedger in process memory.
// Cooldowns are lost on restart and are not shared between instances; use it
// for a single long-lived process or tests only.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[ledgerKey]time.Time
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[ledgerKey]time.Time)}
}

// Get returns the entry for (code, userKey), or (nil, nil) when absent.
func (l *MemoryLedger) Get(_ context.Context, code, userKey string) (*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.entries[ledgerKey{code, userKey}]
	if !ok {
		return nil, nil
	}
	return &domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: at}, nil
}

// CompareAndSet grants a fresh trial when the cooldown has elapsed.
// The check and the write happen under one lock.
func (l *MemoryLedger) CompareAndSet(_ context.Context, code, userKey string, now time.Time, cooldown time.Duration) (domain.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := ledgerKey{code, userKey}
	if at, ok := l.entries[k]; ok && now.Sub(at) < cooldown {
		return domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: at}, false, nil
	}
	l.entries[k] = now
	return domain.LedgerEntry{Code: code, UserKey: userKey, LastGrantedAt: now}, true, nil
}

// Purge removes entries granted before the given time.
func (l *MemoryLedger) Purge(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for k, at := range l.entries {
		if at.Before(before) {
			delete(l.entries, k)
			n++
		}
	}
	return n, nil
}
