package v1

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"

	"github.com/duynhne/trial-service/internal/core/domain"
	"github.com/duynhne/trial-service/middleware"
)

const (
	CooldownWindow = domain.CooldownWindow
	GracePeriod    = domain.GracePeriod
)

// InviteService implements the invite validation rules.
// It depends on the ledger interface (injected via constructor) and
// MUST NOT access the database directly.
type InviteService struct {
	policies *domain.PolicyTable
	ledger   domain.UsageLedger
	hashKey  []byte
	now      func() time.Time
}

// Option customizes an InviteService.
type Option func(*InviteService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *InviteService) { s.now = now }
}

// WithHashKey keys the BLAKE2b digest used to derive ledger user keys.
// Keys longer than 64 bytes are truncated.
func WithHashKey(key string) Option {
	return func(s *InviteService) {
		k := []byte(key)
		if len(k) > blake2b.Size {
			k = k[:blake2b.Size]
		}
		s.hashKey = k
	}
}

// NewInviteService creates an InviteService over the given policy table and ledger.
func NewInviteService(policies *domain.PolicyTable, ledger domain.UsageLedger, opts ...Option) *InviteService {
	s := &InviteService{
		policies: policies,
		ledger:   ledger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate decides whether (code, userId) may start a fresh trial.
//
// Unknown codes return a Decision with status "invalid" together with
// ErrInvalidCode. The developer code is granted unlimited access without
// touching the ledger. Every other code goes through a single atomic
// compare-and-set on the ledger: a grant inside the cooldown window yields
// "reused" and leaves the ledger unchanged.
func (s *InviteService) Validate(ctx context.Context, req domain.ValidateRequest) (domain.Decision, error) {
	code := domain.NormalizeCode(req.Code)
	userID := strings.TrimSpace(req.UserID)

	ctx, span := middleware.StartSpan(ctx, "invite.validate", trace.WithAttributes(
		attribute.String("layer", "logic"),
		attribute.String("invite.code", code),
	))
	defer span.End()

	if code == "" {
		return domain.Decision{}, fmt.Errorf("validate invite: code: %w", ErrMissingField)
	}
	if userID == "" {
		return domain.Decision{}, fmt.Errorf("validate invite: userId: %w", ErrMissingField)
	}

	policy, ok := s.policies.Lookup(code)
	if !ok {
		span.SetAttributes(attribute.String("invite.status", string(domain.StatusInvalid)))
		validationsTotal.WithLabelValues(string(domain.StatusInvalid)).Inc()
		return domain.Decision{Status: domain.StatusInvalid}, fmt.Errorf("validate invite %q: %w", code, ErrInvalidCode)
	}
	span.SetAttributes(attribute.String("invite.class", string(policy.Class)))

	if policy.BypassesLedger() {
		span.AddEvent("ledger.bypassed")
		validationsTotal.WithLabelValues(string(domain.StatusValid)).Inc()
		return domain.Decision{Status: domain.StatusValid, DurationMs: domain.UnlimitedDurationMs}, nil
	}

	now := s.now()
	entry, granted, err := s.ledger.CompareAndSet(ctx, code, s.userKey(userID), now, CooldownWindow)
	if err != nil {
		span.RecordError(err)
		return domain.Decision{}, fmt.Errorf("grant %q: %w: %w", code, ErrLedgerUnavailable, err)
	}

	if !granted {
		reset := entry.LastGrantedAt.Add(CooldownWindow)
		span.SetAttributes(attribute.String("invite.status", string(domain.StatusReused)))
		validationsTotal.WithLabelValues(string(domain.StatusReused)).Inc()
		return domain.Decision{Status: domain.StatusReused, ResetTimestamp: reset.UnixMilli()}, nil
	}

	span.SetAttributes(attribute.String("invite.status", string(domain.StatusValid)))
	span.AddEvent("trial.granted")
	validationsTotal.WithLabelValues(string(domain.StatusValid)).Inc()
	return domain.Decision{Status: domain.StatusValid, DurationMs: ComputeDurationMs(policy)}, nil
}

// ComputeDurationMs returns the grant length in milliseconds: -1 for
// unlimited policies, otherwise the nominal duration plus GracePeriod.
func ComputeDurationMs(p domain.CodePolicy) int64 {
	if p.Unlimited() {
		return domain.UnlimitedDurationMs
	}
	return (p.Duration() + GracePeriod).Milliseconds()
}

// Sweep removes ledger entries whose cooldown has long elapsed. It never
// changes a decision: an entry older than the window grants a fresh trial
// whether it exists or not.
func (s *InviteService) Sweep(ctx context.Context) (int64, error) {
	ctx, span := middleware.StartSpan(ctx, "invite.sweep", trace.WithAttributes(
		attribute.String("layer", "logic"),
	))
	defer span.End()

	n, err := s.ledger.Purge(ctx, s.now().Add(-CooldownWindow))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	span.SetAttributes(attribute.Int64("ledger.purged", n))
	purgedTotal.Add(float64(n))
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
// A non-positive interval disables sweeping.
func (s *InviteService) RunSweeper(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// userKey derives the ledger key for a user id so raw client identifiers are
// never written to durable storage.
func (s *InviteService) userKey(userID string) string {
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		// Only reachable with a key over 64 bytes, which WithHashKey prevents.
		sum := blake2b.Sum256([]byte(userID))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}
