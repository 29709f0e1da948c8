package http_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/domain"
	authhttp "github.com/aussiebroadwan/gatehouse/internal/auth/http"
	"github.com/aussiebroadwan/gatehouse/internal/auth/service"
	"github.com/aussiebroadwan/gatehouse/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatehouse/pkg/authsdk"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/aussiebroadwan/gatehouse/pkg/sms"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testMobile        = "+94771234567"
	testPassword      = "Secret@123"
	testSetupKey      = "setup-key"
	testWebhookSecret = "webhook-secret"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

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

type nopSender struct{}

func (nopSender) Send(context.Context, string, string) (sms.Result, error) {
	return sms.Result{Success: true, Provider: "test", MessageID: "msg-1"}, nil
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
	c.last = fmt.Sprintf("%0*d", digits, 200000+c.n)
	return c.last, nil
}

func (c *codeSeq) Last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type server struct {
	client *authsdk.SDKClient
	store  *sqlite.Store
	clock  *testClock
	codes  *codeSeq
}

type serverOption func(*authhttp.Router)

func withChallengeStore(p authhttp.Pinger) serverOption {
	return func(r *authhttp.Router) { r.ChallengeStore = p }
}

// newServer wires the full router over an in-memory store and a manual
// clock shared by services and limiters.
func newServer(t *testing.T, opts ...serverOption) *server {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	clock := &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	codes := &codeSeq{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := service.DefaultOTPConfig()
	cfg.BcryptCost = bcrypt.MinCost
	otp := &service.OTPService{
		Challenges: st.Challenges(),
		Sender:     nopSender{},
		Templates:  sms.Templates{Brand: "Test"},
		Config:     cfg,
		Generate:   codes.Generate,
		Now:        clock.Now,
	}
	lockout := &service.LockoutService{Policy: domain.DefaultLockoutPolicy, Now: clock.Now}

	secret := []byte("0123456789abcdef0123456789abcdef")
	signer, err := jwtx.NewSignerHS256(secret)
	require.NoError(t, err)
	sessions := &service.SessionService{
		Store:    st,
		Signer:   signer,
		Verifier: jwtx.NewVerifierHS256(secret, "gatehouse-test", clock.Now),
		Issuer:   "gatehouse-test",
		Now:      clock.Now,
	}

	limiters, err := httpx.NewLimiters(httpx.DefaultLimiterTable(),
		httpx.WithClock(clock),
		httpx.WithLogger(logger),
	)
	require.NoError(t, err)

	r := authhttp.NewRouter("test", st, limiters, logger)
	r.Now = clock.Now
	r.WebhookSecret = testWebhookSecret
	r.OTPService = otp
	r.SessionService = sessions
	r.AuthService = &service.AuthService{
		Store:    st,
		OTP:      otp,
		Lockout:  lockout,
		Sessions: sessions,
		Now:      clock.Now,
	}
	r.AdminService = &service.AdminService{
		Store:          st,
		Lockout:        lockout,
		Sessions:       sessions,
		BootstrapToken: testSetupKey,
		Now:            clock.Now,
	}
	for _, o := range opts {
		o(r)
	}
	r.ApplyRoutes()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &server{
		client: authsdk.NewSDKClient(srv.URL),
		store:  st,
		clock:  clock,
		codes:  codes,
	}
}

// verifiedStudent registers and verifies mobile over HTTP.
func (s *server) verifiedStudent(t *testing.T, mobile string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.client.Register(ctx, authsdk.RegisterRequest{
		MobileNumber: mobile,
		Password:     testPassword,
		FirstName:    "Nimal",
		LastName:     "Perera",
	})
	require.NoError(t, err)
	_, err = s.client.VerifyRegistration(ctx, mobile, s.codes.Last())
	require.NoError(t, err)
}

// superAdmin runs setup and logs the super admin in on device.
func (s *server) superAdmin(t *testing.T, device string) *authsdk.AdminSession {
	t.Helper()
	ctx := context.Background()
	_, err := s.client.SetupSuperAdmin(ctx, authsdk.AdminSetupRequest{
		SetupKey:  testSetupKey,
		Username:  "root_admin",
		Email:     "root@example.com",
		Password:  testPassword,
		FirstName: "Root",
		LastName:  "Admin",
	})
	require.NoError(t, err)
	return s.adminLogin(t, "root_admin", testPassword, device)
}

func (s *server) adminLogin(t *testing.T, login, password, device string) *authsdk.AdminSession {
	t.Helper()
	sess, _, err := s.client.AdminLogin(context.Background(), authsdk.AdminLoginRequest{
		Identifier: login,
		Password:   password,
		DeviceID:   device,
	})
	require.NoError(t, err)
	return sess
}
