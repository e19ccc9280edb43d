package v1

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/duynhne/trial-service/internal/core/domain"
	"github.com/duynhne/trial-service/internal/core/repository"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testPolicies() *domain.PolicyTable {
	return domain.BuildPolicyTable([]domain.CodePolicy{
		{Code: "spring90", DurationMinutes: 90},
		{Code: "LIFETIME", Class: "pro", DurationMinutes: domain.UnlimitedMinutes},
		{Code: "PROMAX", Class: "pro", DurationMinutes: 60},
	}, domain.Reserved{
		DeveloperCode:      "DEVUNLIMITED",
		ProCode:            "STUDYPRO",
		ProDurationMinutes: 10080,
		DeprecatedCodes:    []string{"PROMAX"},
	})
}

func newTestService() (*InviteService, *repository.MemoryLedger, *fakeClock) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	ledger := repository.NewMemoryLedger()
	return NewInviteService(testPolicies(), ledger, WithClock(clock.Now), WithHashKey("test-key")), ledger, clock
}

func TestValidateGrantsFreshTrial(t *testing.T) {
	svc, _, _ := newTestService()

	got, err := svc.Validate(context.Background(), domain.ValidateRequest{Code: "spring90", UserID: "u1"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.Status != domain.StatusValid {
		t.Fatalf("Status = %q, want valid", got.Status)
	}
	if got.DurationMs != 5_520_000 {
		t.Errorf("DurationMs = %d, want 5520000", got.DurationMs)
	}
}

func TestValidateReusedWithinCooldown(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()
	req := domain.ValidateRequest{Code: "SPRING90", UserID: "u1"}

	first := clock.Now()
	if _, err := svc.Validate(ctx, req); err != nil {
		t.Fatal(err)
	}

	clock.Advance(23 * time.Hour)
	got, err := svc.Validate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusReused {
		t.Fatalf("Status = %q, want reused", got.Status)
	}
	if want := first.UnixMilli() + 86_400_000; got.ResetTimestamp != want {
		t.Errorf("ResetTimestamp = %d, want %d", got.ResetTimestamp, want)
	}

	// A refused call must not push the reset time forward.
	clock.Advance(30 * time.Minute)
	again, _ := svc.Validate(ctx, req)
	if again.ResetTimestamp != got.ResetTimestamp {
		t.Errorf("reset moved from %d to %d after refused call", got.ResetTimestamp, again.ResetTimestamp)
	}
}

func TestValidateAfterCooldownRegrants(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()
	req := domain.ValidateRequest{Code: "spring90", UserID: "u1"}

	svc.Validate(ctx, req)
	clock.Advance(CooldownWindow)
	second := clock.Now()

	got, err := svc.Validate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusValid || got.DurationMs != 5_520_000 {
		t.Fatalf("got %+v, want fresh valid grant", got)
	}

	clock.Advance(time.Hour)
	reused, _ := svc.Validate(ctx, req)
	if want := second.Add(CooldownWindow).UnixMilli(); reused.ResetTimestamp != want {
		t.Errorf("lastGrantedAt not updated: reset = %d, want %d", reused.ResetTimestamp, want)
	}
}

func TestValidateDeveloperCodeBypassesLedger(t *testing.T) {
	svc, ledger, _ := newTestService()
	ctx := context.Background()

	for _, user := range []string{"u1", "u1", "u2"} {
		got, err := svc.Validate(ctx, domain.ValidateRequest{Code: "devunlimited", UserID: user})
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusValid || got.DurationMs != -1 {
			t.Fatalf("developer code for %s = %+v, want valid/-1", user, got)
		}
	}

	if e, _ := ledger.Get(ctx, "DEVUNLIMITED", svc.userKey("u1")); e != nil {
		t.Error("developer code wrote to the ledger")
	}
}

func TestValidateProCodes(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	unlimited, err := svc.Validate(ctx, domain.ValidateRequest{Code: "lifetime", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if unlimited.DurationMs != -1 {
		t.Errorf("pro-unlimited DurationMs = %d, want -1", unlimited.DurationMs)
	}

	timed, err := svc.Validate(ctx, domain.ValidateRequest{Code: "studypro", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(10080*60_000 + 120_000); timed.DurationMs != want {
		t.Errorf("injected pro DurationMs = %d, want %d", timed.DurationMs, want)
	}

	// Pro codes still go through the ledger.
	again, _ := svc.Validate(ctx, domain.ValidateRequest{Code: "STUDYPRO", UserID: "u1"})
	if again.Status != domain.StatusReused {
		t.Errorf("second pro grant Status = %q, want reused", again.Status)
	}
}

func TestValidateInvalidAndMissing(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		req     domain.ValidateRequest
		wantErr error
	}{
		{"unknown code", domain.ValidateRequest{Code: "XYZ000", UserID: "u1"}, ErrInvalidCode},
		{"deprecated code", domain.ValidateRequest{Code: "PROMAX", UserID: "u1"}, ErrInvalidCode},
		{"empty code", domain.ValidateRequest{Code: "  ", UserID: "u1"}, ErrMissingField},
		{"empty user", domain.ValidateRequest{Code: "SPRING90"}, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Validate(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == ErrInvalidCode && got.Status != domain.StatusInvalid {
				t.Errorf("Status = %q, want invalid", got.Status)
			}
		})
	}
}

func TestSweepKeepsDecisions(t *testing.T) {
	svc, ledger, clock := newTestService()
	ctx := context.Background()

	svc.Validate(ctx, domain.ValidateRequest{Code: "SPRING90", UserID: "old"})
	clock.Advance(25 * time.Hour)
	svc.Validate(ctx, domain.ValidateRequest{Code: "SPRING90", UserID: "new"})

	n, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if e, _ := ledger.Get(ctx, "SPRING90", svc.userKey("new")); e == nil {
		t.Error("entry inside the window was purged")
	}
}

func TestUserKeyHidesUserID(t *testing.T) {
	svc, _, _ := newTestService()
	k := svc.userKey("u1")
	if k == "u1" || len(k) != 64 {
		t.Errorf("userKey(u1) = %q, want a 64 char digest", k)
	}
	if k != svc.userKey("u1") {
		t.Error("userKey is not deterministic")
	}
}

func TestComputeDurationMs(t *testing.T) {
	tests := []struct {
		minutes int
		want    int64
	}{
		{90, 5_520_000},
		{1, 180_000},
		{domain.UnlimitedMinutes, -1},
	}
	for _, tt := range tests {
		if got := ComputeDurationMs(domain.CodePolicy{DurationMinutes: tt.minutes}); got != tt.want {
			t.Errorf("ComputeDurationMs(%d) = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}
