package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/duynhne/trial-service/internal/core/domain"
)

// LoginMethod is how the current session was opened.
type LoginMethod string

const (
	MethodNone   LoginMethod = "none"
	MethodAPIKey LoginMethod = "apiKey"
	MethodInvite LoginMethod = "invite"
)

// State is the externally visible session state.
type State string

const (
	StateLoggedOut       State = "logged-out"
	StateAwaitingProfile State = "awaiting-profile"
	StateActive          State = "active"
	StateSessionWarning  State = "session-warning"
	StateTrialExpired    State = "trial-expired"
)

// LogoutReason says why a session ended.
type LogoutReason string

const (
	ReasonManual        LogoutReason = "manual"
	ReasonStudyTimeOver LogoutReason = "study-time-over"
)

// Validator asks the invite validation service for a decision.
type Validator interface {
	Validate(ctx context.Context, code, userID string) (domain.Decision, error)
}

// Hooks are notified of clock driven transitions. They run without the
// machine lock held and may call back into the machine.
type Hooks struct {
	OnWarning func(studyEnd time.Time)
	OnLogout  func(reason LogoutReason)
}

// Principal identifies who is logged in and how. It is created at login and
// handed to the call sites that need credentials for the rest of the session.
type Principal struct {
	UserID     string
	Method     LoginMethod
	APIKey     string
	InviteCode string
}

// Snapshot is a read-only view of the session for status displays.
type Snapshot struct {
	State         State       `json:"state"`
	UserID        string      `json:"userId"`
	Method        LoginMethod `json:"loginMethod"`
	InviteCode    string      `json:"usedInviteCode,omitempty"`
	SessionExpiry *time.Time  `json:"sessionExpiry,omitempty"`
	ResetAt       *time.Time  `json:"sessionResetTimestamp,omitempty"`
	StudyEnd      *time.Time  `json:"studyEndTime,omitempty"`
	Profile       *Profile    `json:"studentProfile,omitempty"`
	Locked        bool        `json:"isLocked"`
	TrialExpired  bool        `json:"isTrialExpired"`
	Warning       bool        `json:"warning"`
	HistoryLen    int         `json:"historyEntries"`
}

// Machine is the session state machine. It interprets validation decisions,
// owns the session fields, writes them through to the Store and drives the
// Clock. All methods are safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	store     Store
	validator Validator
	policies  *domain.PolicyTable
	clock     *Clock
	sched     Scheduler
	now       func() time.Time
	log       zerolog.Logger
	hooks     Hooks

	userID   string
	loggedIn bool
	method   LoginMethod
	apiKey   string
	usedCode string
	expiry   time.Time
	resetAt  time.Time
	profile  *Profile
	studyEnd time.Time
	warning  bool
	history  []string
}

// Option customizes a Machine.
type Option func(*Machine)

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithScheduler overrides how clock callbacks are scheduled.
func WithScheduler(s Scheduler) Option {
	return func(m *Machine) { m.sched = s }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithHooks registers transition hooks.
func WithHooks(h Hooks) Option {
	return func(m *Machine) { m.hooks = h }
}

// NewMachine creates a logged-out Machine. Call Restore to load a persisted session.
func NewMachine(store Store, validator Validator, policies *domain.PolicyTable, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		validator: validator,
		policies:  policies,
		sched:     RealScheduler,
		now:       time.Now,
		log:       zerolog.Nop(),
		method:    MethodNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = NewClock(func() time.Time { return m.now() }, m.sched, m.handleWarning, m.handleForcedLogout)
	return m
}

// Restore loads the persisted session. A store or parse failure is logged and
// the machine falls back to a clean logged-out state; it never fails.
func (m *Machine) Restore(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.restoreLocked(ctx); err != nil {
		m.log.Warn().Err(err).Msg("Session restore failed, starting logged out")
		userID := m.userID
		m.resetLocked()
		m.userID = userID
		if err := m.store.Delete(ctx, KeyIsLoggedIn, KeyLoginMethod, KeyAPIKey, KeyStudentProfile,
			KeyStudyEndTime, KeySessionExpiry, KeyUsedInviteCode, KeySessionResetTimestamp); err != nil {
			m.log.Warn().Err(err).Msg("Failed to clear corrupt session")
		}
	}
	m.ensureUserIDLocked(ctx)
	m.rearmLocked()

	m.log.Info().
		Str("user_id", m.userID).
		Str("state", string(m.stateLocked())).
		Msg("Session restored")
}

func (m *Machine) restoreLocked(ctx context.Context) error {
	get := func(key string) (string, bool, error) {
		v, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("read %s: %w", key, err)
		}
		return v, ok, nil
	}

	if v, ok, err := get(KeyUserID); err != nil {
		return err
	} else if ok {
		m.userID = v
	}

	// Cooldown bookkeeping survives logout, so it is loaded either way.
	var err error
	if m.expiry, err = m.loadMillis(ctx, KeySessionExpiry); err != nil {
		return err
	}
	if m.resetAt, err = m.loadMillis(ctx, KeySessionResetTimestamp); err != nil {
		return err
	}
	if m.usedCode, _, err = get(KeyUsedInviteCode); err != nil {
		return err
	}

	loggedIn, _, err := get(KeyIsLoggedIn)
	if err != nil {
		return err
	}
	if loggedIn != "true" {
		return nil
	}

	method, _, err := get(KeyLoginMethod)
	if err != nil {
		return err
	}
	switch LoginMethod(method) {
	case MethodAPIKey:
		key, _, err := get(KeyAPIKey)
		if err != nil {
			return err
		}
		if key == "" {
			return errors.New("api key session without key material")
		}
		m.apiKey = key
	case MethodInvite:
		if m.usedCode == "" {
			return errors.New("invite session without invite code")
		}
	default:
		return fmt.Errorf("unknown login method %q", method)
	}

	if raw, ok, err := get(KeyStudentProfile); err != nil {
		return err
	} else if ok {
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return fmt.Errorf("decode %s: %w", KeyStudentProfile, err)
		}
		m.profile = &p
	}
	if m.studyEnd, err = m.loadMillis(ctx, KeyStudyEndTime); err != nil {
		return err
	}
	if m.profile != nil && m.studyEnd.IsZero() {
		if m.studyEnd, err = m.profile.StudyEndAfter(m.now()); err != nil {
			return err
		}
	}

	m.loggedIn = true
	m.method = LoginMethod(method)
	m.history = m.loadHistoryLocked(ctx)
	return nil
}

// LoginWithInvite validates code with the validation service and opens an
// invite session from the decision. No field is touched until a decision
// arrives, so a failed call can simply be retried.
func (m *Machine) LoginWithInvite(ctx context.Context, code string) (Principal, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return Principal{}, ErrEmptyCode
	}

	m.mu.Lock()
	userID := m.ensureUserIDLocked(ctx)
	m.mu.Unlock()

	decision, err := m.validator.Validate(ctx, code, userID)
	if err != nil {
		m.log.Warn().Err(err).Str("code", code).Msg("Invite validation failed")
		return Principal{}, err
	}
	switch decision.Status {
	case domain.StatusValid, domain.StatusReused:
	case domain.StatusInvalid:
		return Principal{}, ErrInvalidCode
	default:
		return Principal{}, fmt.Errorf("%w: unexpected status %q", ErrRejected, decision.Status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyDecisionLocked(ctx, code, decision)
	m.rearmLocked()

	m.log.Info().
		Str("code", code).
		Str("status", string(decision.Status)).
		Bool("trial_expired", m.trialExpiredLocked()).
		Msg("Invite login")
	return m.principalLocked(), nil
}

func (m *Machine) applyDecisionLocked(ctx context.Context, code string, d domain.Decision) {
	now := m.now()
	policy, ok := m.policies.Lookup(code)
	if !ok {
		policy = domain.CodePolicy{Code: code, Class: domain.ClassRegular}
	}
	reused := d.Status == domain.StatusReused

	switch {
	case policy.BypassesLedger():
		m.expiry = time.Time{}
		m.resetAt = time.Time{}
	case policy.ReuseExempt() && reused:
		// Never expired on the spot. The expiry runs from the original grant,
		// which the reset timestamp pins one cooldown window back.
		m.resetAt = time.UnixMilli(d.ResetTimestamp)
		m.expiry = policy.GrantExpiry(m.resetAt.Add(-domain.CooldownWindow))
	case reused:
		m.expiry = now.Add(-time.Millisecond)
		m.resetAt = time.UnixMilli(d.ResetTimestamp)
	default:
		m.expiry = expiryAfter(now, d.DurationMs)
		m.resetAt = time.Time{}
	}

	m.loggedIn = true
	m.method = MethodInvite
	m.usedCode = code
	m.apiKey = ""
	m.warning = false
	if policy.HistoryPersisted() {
		m.history = m.loadHistoryLocked(ctx)
	} else {
		m.history = nil
	}

	m.persistLocked(ctx,
		set(KeyIsLoggedIn, "true"),
		set(KeyLoginMethod, string(MethodInvite)),
		set(KeyUsedInviteCode, code),
		setMillis(KeySessionExpiry, m.expiry),
		setMillis(KeySessionResetTimestamp, m.resetAt),
		del(KeyAPIKey),
	)
}

// expiryAfter returns now+durationMs, or zero for unlimited grants.
func expiryAfter(now time.Time, durationMs int64) time.Time {
	if durationMs <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(durationMs) * time.Millisecond)
}

// LoginWithAPIKey opens a session backed by a personal API key. API key
// sessions are never trial limited.
func (m *Machine) LoginWithAPIKey(ctx context.Context, key string) (Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Principal{}, ErrEmptyAPIKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureUserIDLocked(ctx)
	m.loggedIn = true
	m.method = MethodAPIKey
	m.apiKey = key
	m.warning = false
	m.history = m.loadHistoryLocked(ctx)

	m.persistLocked(ctx,
		set(KeyIsLoggedIn, "true"),
		set(KeyLoginMethod, string(MethodAPIKey)),
		set(KeyAPIKey, key),
	)
	m.rearmLocked()

	m.log.Info().Msg("API key login")
	return m.principalLocked(), nil
}

// Logout ends the session and cancels the clock. The invite code, its expiry
// and reset timestamp are kept so a later login with the same code still
// reflects the cooldown.
func (m *Machine) Logout(ctx context.Context, reason LogoutReason) error {
	return m.logout(ctx, reason, nil)
}

// logout ends the session unless armed is set and reports false under the
// machine lock.
func (m *Machine) logout(ctx context.Context, reason LogoutReason, armed func() bool) error {
	m.mu.Lock()
	if armed != nil && !armed() {
		m.mu.Unlock()
		return nil
	}
	m.clock.Cancel()
	wasLoggedIn := m.loggedIn

	m.loggedIn = false
	m.method = MethodNone
	m.apiKey = ""
	m.profile = nil
	m.studyEnd = time.Time{}
	m.warning = false
	m.history = nil

	err := m.store.Delete(ctx, KeyIsLoggedIn, KeyLoginMethod, KeyAPIKey, KeyStudentProfile, KeyStudyEndTime)
	hook := m.hooks.OnLogout
	m.mu.Unlock()

	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to clear persisted session")
	}
	if wasLoggedIn {
		m.log.Info().Str("reason", string(reason)).Msg("Logged out")
		if hook != nil {
			hook(reason)
		}
	}
	return err
}

// SetProfile records the student profile, derives the study end and arms the clock.
func (m *Machine) SetProfile(ctx context.Context, p Profile) (time.Time, error) {
	if err := p.Validate(); err != nil {
		return time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loggedIn {
		return time.Time{}, ErrNotLoggedIn
	}
	end, err := p.StudyEndAfter(m.now())
	if err != nil {
		return time.Time{}, err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode profile: %w", err)
	}
	m.profile = &p
	m.studyEnd = end
	m.warning = false
	m.persistLocked(ctx,
		set(KeyStudentProfile, string(raw)),
		setMillis(KeyStudyEndTime, end),
	)
	m.rearmLocked()
	return end, nil
}

// ExtendSession pushes the study end by minutes, counting from the current
// study end or from now when none is set, and re-arms the clock.
func (m *Machine) ExtendSession(ctx context.Context, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return time.Time{}, ErrInvalidExtension
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loggedIn {
		return time.Time{}, ErrNotLoggedIn
	}
	base := m.studyEnd
	if base.IsZero() {
		base = m.now()
	}
	m.studyEnd = base.Add(time.Duration(minutes) * time.Minute)
	m.warning = false
	m.persistLocked(ctx, setMillis(KeyStudyEndTime, m.studyEnd))
	m.rearmLocked()

	m.log.Info().Int("minutes", minutes).Time("study_end", m.studyEnd).Msg("Session extended")
	return m.studyEnd, nil
}

// AppendHistory records a learning history entry. It is persisted only for
// sessions whose history survives logout (API key and pro codes).
func (m *Machine) AppendHistory(ctx context.Context, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loggedIn {
		return ErrNotLoggedIn
	}
	m.history = append(m.history, entry)
	if !m.historyPersistedLocked() {
		return nil
	}
	raw, err := json.Marshal(m.history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	return m.store.Set(ctx, KeyLearningHistory, string(raw))
}

// History returns a copy of the session's learning history.
func (m *Machine) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Close cancels pending clock callbacks without logging out.
func (m *Machine) Close() {
	m.clock.Cancel()
}

// IsLoggedIn reports whether a session is open.
func (m *Machine) IsLoggedIn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn
}

// IsLocked reports a logged-in session still waiting for a student profile.
func (m *Machine) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn && m.profile == nil
}

// IsTrialExpired reports whether pro features are locked. It is evaluated
// against the current time on every call.
func (m *Machine) IsTrialExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trialExpiredLocked()
}

// IsPro reports whether pro features are currently available.
func (m *Machine) IsPro() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedIn && !m.trialExpiredLocked()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Route decides what the feature router renders for f.
func (m *Machine) Route(f Feature) View {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.loggedIn:
		return ViewLogin
	case m.profile == nil:
		return ViewProfileForm
	case f.IsPro() && m.trialExpiredLocked():
		return ViewUpgradePrompt
	default:
		return ViewFeature
	}
}

// Principal returns the credentials of the open session, or a zero Principal.
func (m *Machine) Principal() Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return Principal{UserID: m.userID, Method: MethodNone}
	}
	return m.principalLocked()
}

// Profile returns the student profile, or nil.
func (m *Machine) Profile() *Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// StudyEnd returns the armed study end, or zero.
func (m *Machine) StudyEnd() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.studyEnd
}

// Snapshot returns the session for display.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:        m.stateLocked(),
		UserID:       m.userID,
		Method:       m.method,
		InviteCode:   m.usedCode,
		Profile:      m.profile,
		Locked:       m.loggedIn && m.profile == nil,
		TrialExpired: m.trialExpiredLocked(),
		Warning:      m.warning,
		HistoryLen:   len(m.history),
	}
	if m.method == MethodInvite && !m.expiry.IsZero() {
		s.SessionExpiry = timePtr(m.expiry)
	}
	if !m.resetAt.IsZero() {
		s.ResetAt = timePtr(m.resetAt)
	}
	if !m.studyEnd.IsZero() {
		s.StudyEnd = timePtr(m.studyEnd)
	}
	return s
}

func timePtr(t time.Time) *time.Time { return &t }

func (m *Machine) stateLocked() State {
	switch {
	case !m.loggedIn:
		return StateLoggedOut
	case m.trialExpiredLocked():
		return StateTrialExpired
	case m.profile == nil:
		return StateAwaitingProfile
	case m.warning:
		return StateSessionWarning
	default:
		return StateActive
	}
}

func (m *Machine) trialExpiredLocked() bool {
	if m.method != MethodInvite || m.expiry.IsZero() {
		return false
	}
	if p, ok := m.policies.Lookup(m.usedCode); ok && p.PermanentlyExempt() {
		return false
	}
	return !m.now().Before(m.expiry)
}

func (m *Machine) historyPersistedLocked() bool {
	switch m.method {
	case MethodAPIKey:
		return true
	case MethodInvite:
		p, ok := m.policies.Lookup(m.usedCode)
		return ok && p.HistoryPersisted()
	default:
		return false
	}
}

func (m *Machine) principalLocked() Principal {
	p := Principal{UserID: m.userID, Method: m.method}
	switch m.method {
	case MethodAPIKey:
		p.APIKey = m.apiKey
	case MethodInvite:
		p.InviteCode = m.usedCode
	}
	return p
}

func (m *Machine) rearmLocked() {
	if m.loggedIn && !m.studyEnd.IsZero() {
		m.clock.Arm(m.studyEnd)
		return
	}
	m.clock.Cancel()
}

func (m *Machine) resetLocked() {
	m.loggedIn = false
	m.method = MethodNone
	m.apiKey = ""
	m.usedCode = ""
	m.expiry = time.Time{}
	m.resetAt = time.Time{}
	m.profile = nil
	m.studyEnd = time.Time{}
	m.warning = false
	m.history = nil
}

// ensureUserIDLocked returns the stable client id, creating and persisting
// one on first use.
func (m *Machine) ensureUserIDLocked(ctx context.Context) string {
	if m.userID != "" {
		return m.userID
	}
	if v, ok, err := m.store.Get(ctx, KeyUserID); err == nil && ok && v != "" {
		m.userID = v
		return v
	}
	m.userID = uuid.NewString()
	if err := m.store.Set(ctx, KeyUserID, m.userID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist user id")
	}
	return m.userID
}

func (m *Machine) loadHistoryLocked(ctx context.Context) []string {
	raw, ok, err := m.store.Get(ctx, KeyLearningHistory)
	if err != nil || !ok {
		return nil
	}
	var h []string
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		m.log.Warn().Err(err).Msg("Discarding unreadable learning history")
		return nil
	}
	return h
}

func (m *Machine) loadMillis(ctx context.Context, key string) (time.Time, error) {
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || v == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return time.UnixMilli(ms), nil
}

func (m *Machine) handleWarning(gen uint64) {
	m.mu.Lock()
	if !m.loggedIn || !m.clock.Current(gen) {
		m.mu.Unlock()
		return
	}
	m.warning = true
	end := m.studyEnd
	hook := m.hooks.OnWarning
	m.mu.Unlock()

	m.log.Info().Time("study_end", end).Msg("Study session ending soon")
	if hook != nil {
		hook(end)
	}
}

func (m *Machine) handleForcedLogout(gen uint64) {
	armed := func() bool { return m.clock.Current(gen) }
	if err := m.logout(context.Background(), ReasonStudyTimeOver, armed); err != nil {
		m.log.Error().Err(err).Msg("Forced logout failed")
	}
}

// storeOp is one write-through operation.
type storeOp struct {
	key   string
	value string
	del   bool
}

func set(key, value string) storeOp { return storeOp{key: key, value: value} }
func del(key string) storeOp        { return storeOp{key: key, del: true} }

// setMillis stores t as epoch milliseconds, or deletes key when t is zero.
func setMillis(key string, t time.Time) storeOp {
	if t.IsZero() {
		return del(key)
	}
	return set(key, strconv.FormatInt(t.UnixMilli(), 10))
}

// persistLocked writes through to the store. Failures are logged: the
// in-memory session stays authoritative for the running process.
func (m *Machine) persistLocked(ctx context.Context, ops ...storeOp) {
	var errs []error
	for _, op := range ops {
		var err error
		if op.del {
			err = m.store.Delete(ctx, op.key)
		} else {
			err = m.store.Set(ctx, op.key, op.value)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist session")
	}
}
