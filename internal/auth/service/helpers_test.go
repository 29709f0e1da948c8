package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/aussiebroadwan/gatehouse/pkg/sms"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock { return &testClock{t: t0} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sentMessage is one message seen by captureSender.
type sentMessage struct {
	To   string
	Body string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error

	// admitErr makes Admit fail, as an exhausted outbound quota would.
	admitErr error
}

func (s *captureSender) Admit(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admitErr != nil {
		return ctx, fmt.Errorf("%w: %v", sms.ErrThrottled, s.admitErr)
	}
	return ctx, nil
}

func (s *captureSender) Send(_ context.Context, to, message string) (sms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Body: message})
	if s.err != nil {
		return sms.Result{Provider: "test", Error: s.err.Error()}, s.err
	}
	return sms.Result{Success: true, Provider: "test", MessageID: fmt.Sprintf("msg-%d", len(s.sent))}, nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// codeSeq hands out predictable codes and remembers the last one.
type codeSeq struct {
	mu   sync.Mutex
	n    int
	last string
}

func (c *codeSeq) Generate(digits int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	c.last = fmt.Sprintf("%0*d", digits, 100000+c.n)
	return c.last, nil
}

func (c *codeSeq) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

var errSendFailed = errors.New("gateway unavailable")

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// harness wires every service over one in-memory store.
type harness struct {
	store    *sqlite.Store
	clock    *testClock
	sender   *captureSender
	codes    *codeSeq
	otp      *OTPService
	lockout  *LockoutService
	sessions *SessionService
	auth     *AuthService
	admin    *AdminService
}

const testBootstrapToken = "bootstrap-token"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  newTestStore(t),
		clock:  newClock(),
		sender: &captureSender{},
		codes:  &codeSeq{},
	}

	cfg := DefaultOTPConfig()
	cfg.BcryptCost = bcrypt.MinCost

	h.otp = &OTPService{
		Challenges: h.store.Challenges(),
		Sender:     h.sender,
		Templates:  sms.Templates{Brand: "Test"},
		Config:     cfg,
		Generate:   h.codes.Generate,
		Now:        h.clock.Now,
	}
	h.lockout = &LockoutService{Policy: domain.DefaultLockoutPolicy, Now: h.clock.Now}

	secret := []byte("0123456789abcdef0123456789abcdef")
	signer, err := jwtx.NewSignerHS256(secret)
	require.NoError(t, err)
	h.sessions = &SessionService{
		Store:    h.store,
		Signer:   signer,
		Verifier: jwtx.NewVerifierHS256(secret, "gatehouse-test", h.clock.Now),
		Issuer:   "gatehouse-test",
		Now:      h.clock.Now,
	}

	h.auth = &AuthService{
		Store:    h.store,
		OTP:      h.otp,
		Lockout:  h.lockout,
		Sessions: h.sessions,
		Now:      h.clock.Now,
	}
	h.admin = &AdminService{
		Store:          h.store,
		Lockout:        h.lockout,
		Sessions:       h.sessions,
		BootstrapToken: testBootstrapToken,
		Now:            h.clock.Now,
	}
	return h
}

const (
	testMobile   = "+94771234567"
	testPassword = "Secret@123"
)

// verifiedStudent registers and verifies a student account.
func (h *harness) verifiedStudent(t *testing.T, mobile string) domain.Account {
	t.Helper()
	ctx := context.Background()
	_, err := h.auth.Register(ctx, RegisterRequest{
		Mobile:    mobile,
		Password:  testPassword,
		FirstName: "Nimal",
		LastName:  "Perera",
	})
	require.NoError(t, err)
	acct, err := h.auth.VerifyRegistration(ctx, mobile, h.codes.Last(), "", "")
	require.NoError(t, err)
	return acct
}

func device(id string) DeviceInfo {
	return DeviceInfo{DeviceID: id, DeviceName: "Phone " + id, IP: "10.0.0.1", UserAgent: "test"}
}

// superAdmin runs the one-time setup and returns the super admin.
func (h *harness) superAdmin(t *testing.T) domain.Admin {
	t.Helper()
	a, err := h.admin.Setup(context.Background(), testBootstrapToken, CreateAdminRequest{
		Username:  "root_admin",
		Email:     "Root@Example.com",
		Password:  testPassword,
		FirstName: "Root",
		LastName:  "Admin",
	})
	require.NoError(t, err)
	return a
}
