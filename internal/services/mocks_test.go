package services

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// testClock is a settable time source shared by the components under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	SetOTPStatusFunc   func(ctx context.Context, id string, enabled bool, at time.Time) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash, changedAt)
	}
	return nil
}

func (m *MockUserRepository) SetOTPStatus(ctx context.Context, id string, enabled bool, at time.Time) (*models.User, error) {
	if m.SetOTPStatusFunc != nil {
		return m.SetOTPStatusFunc(ctx, id, enabled, at)
	}
	return nil, models.ErrNotFound
}

// memUserRepository is a small in-memory user store
type memUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserRepository(users ...*models.User) *memUserRepository {
	r := &memUserRepository{users: make(map[string]*models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *memUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (r *memUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memUserRepository) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	return nil
}

func (r *memUserRepository) SetOTPStatus(_ context.Context, id string, enabled bool, at time.Time) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	u.OTPEnabled = enabled
	u.OTPEnabledAt = nil
	if enabled {
		u.OTPEnabledAt = &at
	}
	cp := *u
	return &cp, nil
}

// memSessionRepository mirrors the conditional updates of the pgx repository
type memSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*models.UserSession
}

func newMemSessionRepository() *memSessionRepository {
	return &memSessionRepository{sessions: make(map[string]*models.UserSession)}
}

func (r *memSessionRepository) Create(_ context.Context, s *models.UserSession) (*models.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	r.sessions[s.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memSessionRepository) GetByID(_ context.Context, id string) (*models.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (r *memSessionRepository) GetByTokenHash(_ context.Context, hash string) (*models.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memSessionRepository) Promote(_ context.Context, id string, now time.Time) (*models.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.State != models.SessionStateAwaitingOTP || now.After(s.ExpiresAt) {
		return nil, models.ErrNotFound
	}
	s.State = models.SessionStateAuthenticated
	s.AuthenticatedAt = &now
	cp := *s
	return &cp, nil
}

func (r *memSessionRepository) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && !s.State.IsTerminal() {
		s.State = models.SessionStateExpired
	}
	return nil
}

func (r *memSessionRepository) Revoke(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && !s.State.IsTerminal() {
		s.State = models.SessionStateRevoked
		s.RevokedAt = &now
	}
	return nil
}

func (r *memSessionRepository) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && !s.State.IsTerminal() {
			s.State = models.SessionStateRevoked
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepository) state(id string) models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].State
}

// memTokenRepository serializes every operation on one mutex, which gives
// Consume the same single-winner behavior as the conditional UPDATE.
type memTokenRepository struct {
	mu     sync.Mutex
	tokens []*models.VerificationToken

	// ReplaceErrs is drained one error per Replace call before normal behavior
	ReplaceErrs []error
}

func newMemTokenRepository() *memTokenRepository {
	return &memTokenRepository{}
}

func (r *memTokenRepository) Replace(_ context.Context, t *models.VerificationToken) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.ReplaceErrs) > 0 {
		err := r.ReplaceErrs[0]
		r.ReplaceErrs = r.ReplaceErrs[1:]
		return nil, err
	}

	for _, existing := range r.tokens {
		sameSlot := existing.Purpose == t.Purpose && existing.SubjectID == t.SubjectID
		if existing.ConsumedAt == nil && !sameSlot && existing.TokenHash == t.TokenHash {
			return nil, models.ErrConflict
		}
	}
	for _, existing := range r.tokens {
		if existing.ConsumedAt == nil && existing.Purpose == t.Purpose && existing.SubjectID == t.SubjectID {
			at := t.IssuedAt
			existing.ConsumedAt = &at
		}
	}

	cp := *t
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	r.tokens = append(r.tokens, &cp)
	out := cp
	return &out, nil
}

func (r *memTokenRepository) Consume(_ context.Context, hash string, purpose models.TokenPurpose, subjectID string, now time.Time) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if subjectID != "" && t.SubjectID != subjectID {
			continue
		}
		if t.TokenHash == hash && t.Purpose == purpose && t.ConsumedAt == nil && !now.After(t.ExpiresAt) {
			at := now
			t.ConsumedAt = &at
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memTokenRepository) GetByHash(_ context.Context, hash string) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]*models.VerificationToken, 0)
	for _, t := range r.tokens {
		if t.TokenHash == hash {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return nil, models.ErrNotFound
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if (matches[i].ConsumedAt == nil) != (matches[j].ConsumedAt == nil) {
			return matches[i].ConsumedAt == nil
		}
		return matches[i].IssuedAt.After(matches[j].IssuedAt)
	})
	cp := *matches[0]
	return &cp, nil
}

func (r *memTokenRepository) ReserveAttempt(_ context.Context, purpose models.TokenPurpose, subjectID string, maxAttempts int) (*models.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Purpose == purpose && t.SubjectID == subjectID && t.ConsumedAt == nil && t.Attempts < maxAttempts {
			t.Attempts++
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memTokenRepository) Invalidate(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.ID == id && t.ConsumedAt == nil {
			at := now
			t.ConsumedAt = &at
		}
	}
	return nil
}

func (r *memTokenRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.tokens[:0]
	var n int64
	for _, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	r.tokens = kept
	return n, nil
}

func (r *memTokenRepository) live(purpose models.TokenPurpose, subjectID string) *models.VerificationToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Purpose == purpose && t.SubjectID == subjectID && t.ConsumedAt == nil {
			cp := *t
			return &cp
		}
	}
	return nil
}

// MockDeliveryChannel records sent messages
type MockDeliveryChannel struct {
	mu       sync.Mutex
	Messages []DeliveryMessage
	SendErr  error
}

func (m *MockDeliveryChannel) Send(_ context.Context, msg DeliveryMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return m.SendErr
}

func (m *MockDeliveryChannel) last() DeliveryMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return DeliveryMessage{}
	}
	return m.Messages[len(m.Messages)-1]
}

var (
	codePattern  = regexp.MustCompile(`\b(\d{6})\b`)
	tokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_\-%]+)`)
)

// MockRateLimiter implements RateLimiter for testing
type MockRateLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) error
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) error {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return nil
}

// fakeHasher avoids bcrypt cost in flow tests
type fakeHasher struct {
	mu         sync.Mutex
	dummyCalls int
}

func (h *fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (h *fakeHasher) Compare(hashedPassword, password string) bool {
	return hashedPassword == "hashed:"+password
}

func (h *fakeHasher) CompareDummy(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dummyCalls++
}

const testPassword = "SecureP@ss123"

func newTestUser(id, email string, otpEnabled bool) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: "hashed:" + testPassword,
		Name:         "Test User",
		Role:         "user",
		OTPEnabled:   otpEnabled,
	}
}

// harness wires every component over in-memory stores and one clock
type harness struct {
	clock    *testClock
	users    *memUserRepository
	sessions *memSessionRepository
	tokens   *memTokenRepository
	delivery *MockDeliveryChannel
	limiter  *MockRateLimiter
	hasher   *fakeHasher

	issuer     *TokenIssuer
	sessionMgr *SessionManager
	otp        *OTPChallenge
	flow       *AuthFlow
}

func newHarness(users ...*models.User) *harness {
	h := &harness{
		clock:    newTestClock(),
		users:    newMemUserRepository(users...),
		sessions: newMemSessionRepository(),
		tokens:   newMemTokenRepository(),
		delivery: &MockDeliveryChannel{},
		limiter:  &MockRateLimiter{},
		hasher:   &fakeHasher{},
	}
	logger := testLogger()

	h.issuer = NewTokenIssuer(h.tokens, logger)
	h.issuer.SetClock(h.clock.Now)

	h.sessionMgr = NewSessionManager(h.sessions, 24*time.Hour, logger)
	h.sessionMgr.SetClock(h.clock.Now)

	h.otp = NewOTPChallenge(h.sessionMgr, h.users, h.issuer, h.delivery, nil, OTPChallengeConfig{
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		IssuerName:  "Warden",
	}, logger)

	credentials := NewCredentialVerifier(h.users, h.hasher, nil, logger)

	h.flow = NewAuthFlow(credentials, h.sessionMgr, h.otp, h.issuer, h.users, h.hasher, h.delivery, h.limiter, AuthFlowConfig{
		StatusChangeTTL:  15 * time.Minute,
		PasswordResetTTL: 30 * time.Minute,
		LinkBaseURL:      "https://app.example.com/",
		IssuerName:       "Warden",
		OTPSendLimit:     5,
		OTPSendWindow:    15 * time.Minute,
		ResetLimit:       3,
		ResetWindow:      time.Hour,
	}, logger, testAuditLogger())
	h.flow.SetClock(h.clock.Now)

	return h
}

// lastCode extracts the OTP code from the most recent delivery
func (h *harness) lastCode() string {
	m := codePattern.FindStringSubmatch(h.delivery.last().Text)
	if m == nil {
		return ""
	}
	return m[1]
}

// lastLinkToken extracts the token query parameter from the most recent delivery
func (h *harness) lastLinkToken() string {
	m := tokenPattern.FindStringSubmatch(h.delivery.last().Text)
	if m == nil {
		return ""
	}
	v, err := url.QueryUnescape(m[1])
	if err != nil {
		return ""
	}
	return v
}
