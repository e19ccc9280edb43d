package domain

import (
	"sort"
	"strings"
	"time"
)

// UnlimitedMinutes marks a policy whose grants never expire.
const UnlimitedMinutes = -1

// UnlimitedDurationMs is the wire value of an unlimited grant.
const UnlimitedDurationMs int64 = -1

const (
	// CooldownWindow is how long a (code, user) pair must wait between fresh grants.
	CooldownWindow = 24 * time.Hour

	// GracePeriod is added to every finite grant to absorb clock and network skew.
	GracePeriod = 2 * time.Minute
)

// CodeClass classifies an invite code. The class decides every special case
// (ledger bypass, expiry exemptions, history persistence) so callers never
// compare against literal code strings.
type CodeClass string

const (
	ClassDeveloper    CodeClass = "developer"
	ClassProUnlimited CodeClass = "pro-unlimited"
	ClassProTimed     CodeClass = "pro-timed"
	ClassRegular      CodeClass = "regular"
)

// CodePolicy is one row of the code-policy table.
type CodePolicy struct {
	Code            string    `json:"code" mapstructure:"code"`
	Class           CodeClass `json:"class" mapstructure:"class"`
	DurationMinutes int       `json:"durationMinutes" mapstructure:"duration_minutes"`
}

// Unlimited reports whether grants under this policy never expire.
func (p CodePolicy) Unlimited() bool {
	return p.DurationMinutes == UnlimitedMinutes
}

// Duration returns the nominal grant length. Only meaningful when !Unlimited().
func (p CodePolicy) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

// GrantExpiry returns when a grant made at grantedAt runs out, or zero for
// unlimited policies.
func (p CodePolicy) GrantExpiry(grantedAt time.Time) time.Time {
	if p.Unlimited() {
		return time.Time{}
	}
	return grantedAt.Add(p.Duration() + GracePeriod)
}

// BypassesLedger is true for codes that are never subject to the cooldown.
func (p CodePolicy) BypassesLedger() bool {
	return p.Class == ClassDeveloper
}

// PermanentlyExempt codes never reach the TrialExpired state.
func (p CodePolicy) PermanentlyExempt() bool {
	return p.Class == ClassDeveloper || p.Class == ClassProUnlimited
}

// ReuseExempt codes are never immediately expired when the ledger reports a
// reuse. A timed pro code is reuse exempt but can still expire normally.
func (p CodePolicy) ReuseExempt() bool {
	return p.Class != ClassRegular
}

// HistoryPersisted reports whether learning history survives across sessions.
func (p CodePolicy) HistoryPersisted() bool {
	return p.Class != ClassRegular
}

// Reserved holds the entries that are always present regardless of configuration.
type Reserved struct {
	DeveloperCode      string
	ProCode            string
	ProDurationMinutes int
	DeprecatedCodes    []string
}

// PolicyTable is an immutable, case-insensitive code lookup.
type PolicyTable struct {
	byCode map[string]CodePolicy
}

// NormalizeCode trims and upper-cases an invite code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// BuildPolicyTable applies the reserved overrides to the configured entries:
// deprecated codes are removed, the developer code is always installed as
// unlimited, and the secondary pro code is always a pro code whose duration
// comes from the configuration when listed there. Entries without a class are
// regular; class "pro" resolves to pro-unlimited or pro-timed from the duration.
func BuildPolicyTable(entries []CodePolicy, reserved Reserved) *PolicyTable {
	deprecated := make(map[string]bool, len(reserved.DeprecatedCodes))
	for _, c := range reserved.DeprecatedCodes {
		deprecated[NormalizeCode(c)] = true
	}

	t := &PolicyTable{byCode: make(map[string]CodePolicy, len(entries)+2)}
	for _, e := range entries {
		code := NormalizeCode(e.Code)
		if code == "" || deprecated[code] {
			continue
		}
		e.Code = code
		e.Class = normalizeClass(e)
		t.byCode[code] = e
	}

	if pro := NormalizeCode(reserved.ProCode); pro != "" {
		p, ok := t.byCode[pro]
		if !ok {
			p = CodePolicy{Code: pro, DurationMinutes: reserved.ProDurationMinutes}
		}
		p.Class = ClassProTimed
		if p.Unlimited() {
			p.Class = ClassProUnlimited
		}
		t.byCode[pro] = p
	}
	if dev := NormalizeCode(reserved.DeveloperCode); dev != "" {
		t.byCode[dev] = CodePolicy{Code: dev, Class: ClassDeveloper, DurationMinutes: UnlimitedMinutes}
	}
	return t
}

func normalizeClass(e CodePolicy) CodeClass {
	switch CodeClass(strings.ToLower(string(e.Class))) {
	case ClassDeveloper:
		return ClassDeveloper
	case ClassProUnlimited, ClassProTimed, "pro":
		if e.DurationMinutes == UnlimitedMinutes {
			return ClassProUnlimited
		}
		return ClassProTimed
	default:
		return ClassRegular
	}
}

// Lookup finds the policy for code, ignoring case and surrounding spaces.
func (t *PolicyTable) Lookup(code string) (CodePolicy, bool) {
	if t == nil {
		return CodePolicy{}, false
	}
	p, ok := t.byCode[NormalizeCode(code)]
	return p, ok
}

// Policies returns all entries sorted by code.
func (t *PolicyTable) Policies() []CodePolicy {
	out := make([]CodePolicy, 0, len(t.byCode))
	for _, p := range t.byCode {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of codes in the table.
func (t *PolicyTable) Len() int {
	return len(t.byCode)
}
