package httpx_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = ip + ":12345"
	return req
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		ip := httpx.IPKeyExtractor(req)
		require.Equal(t, "192.168.1.1", ip)
	})

	t.Run("ignores forwarding headers on its own", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")

		ip := httpx.IPKeyExtractor(req)
		require.Equal(t, "192.168.1.1", ip)
	})

	t.Run("uses the address resolved by ClientIPMiddleware", func(t *testing.T) {
		proxies, err := httpx.ParseTrustedProxies([]string{"192.168.1.0/24"})
		require.NoError(t, err)

		var got string
		h := httpx.ClientIPMiddleware(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = httpx.IPKeyExtractor(r)
		}))
		req := requestFrom("192.168.1.1")
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		h.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, "203.0.113.1", got)
	})
}

func TestJSONFieldKeyExtractor(t *testing.T) {
	t.Run("extracts the field and restores the body", func(t *testing.T) {
		body := `{"mobileNumber":"+61412345678","otp":"123456"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		key := httpx.JSONFieldKeyExtractor("mobileNumber")(req)
		require.Equal(t, "+61412345678", key)

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.JSONEq(t, body, string(rest))
	})

	t.Run("returns empty for non-JSON bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("mobileNumber=1"))
		require.Empty(t, httpx.JSONFieldKeyExtractor("mobileNumber")(req))
	})

	t.Run("returns empty for missing field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":"x"}`))
		require.Empty(t, httpx.JSONFieldKeyExtractor("mobileNumber")(req))
	})
}

func TestKeyExtractorByName(t *testing.T) {
	t.Run("mobile suffix wins over ip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mobileNumber":"+61412345678"}`))
		req.RemoteAddr = "10.0.0.1:1"

		require.Equal(t, "12345678", httpx.KeyExtractorByName(httpx.KeyMobileOrIP)(req))
	})

	t.Run("falls back to ip without a mobile number", func(t *testing.T) {
		req := requestFrom("10.0.0.1")
		require.Equal(t, "10.0.0.1", httpx.KeyExtractorByName(httpx.KeyMobileOrIP)(req))
	})

	t.Run("ip plus principal suffix", func(t *testing.T) {
		req := requestFrom("10.0.0.1")
		ctx := httpx.ContextWithPrincipal(req.Context(), httpx.Principal{ID: "01JABCDEFGHJKMNPQRSTVWXYZ"})
		req = req.WithContext(ctx)

		require.Equal(t, "10.0.0.1:RSTVWXYZ", httpx.KeyExtractorByName(httpx.KeyIPPrincipal)(req))
	})
}

func TestCompositeKeyExtractor(t *testing.T) {
	t.Run("skips empty values", func(t *testing.T) {
		req := requestFrom("192.168.1.1")

		extractor := httpx.CompositeKeyExtractor(":",
			httpx.IPKeyExtractor,
			httpx.PrincipalIDKeyExtractor,
		)
		require.Equal(t, "192.168.1.1", extractor(req))
	})
}

func TestLimiterDecide(t *testing.T) {
	// windowMs=60000, max=3: three admitted, the fourth rejected with a
	// retry of about a minute, and a fresh window after it closes.
	clock := newManualClock()
	l := httpx.NewLimiter(httpx.LimiterConfig{
		Name:   "scenario",
		Window: time.Minute,
		Max:    3,
	}, httpx.WithClock(clock))

	for i := range 3 {
		d := l.Decide("k")
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		require.Equal(t, i+1, d.Count)
	}

	clock.Advance(time.Second)
	d := l.Decide("k")
	require.False(t, d.Allowed)
	require.Equal(t, 59*time.Second, d.RetryAfter)
	require.Zero(t, d.Remaining)

	clock.Advance(time.Minute)
	d = l.Decide("k")
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Count)
}

func TestLimiterMiddleware(t *testing.T) {
	t.Run("blocks requests over limit with the failure envelope", func(t *testing.T) {
		clock := newManualClock()
		l := httpx.NewLimiter(httpx.LimiterConfig{
			Name: "otp", Window: time.Minute, Max: 3, RetryUnit: time.Second,
			Message: "Too many OTP requests.",
		}, httpx.WithClock(clock))
		h := httpx.Chain(okHandler(http.StatusOK), l.Middleware())

		for i := range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom("192.168.1.1"))
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("192.168.1.1"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "60", rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))

		var body struct {
			Success    bool   `json:"success"`
			Message    string `json:"message"`
			RetryAfter int    `json:"retryAfter"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.False(t, body.Success)
		require.Equal(t, "Too many OTP requests.", body.Message)
		require.Equal(t, 60, body.RetryAfter)
	})

	t.Run("retryAfter is reported in minutes when configured", func(t *testing.T) {
		l := httpx.NewLimiter(httpx.LimiterConfig{
			Name: "login", Window: 15 * time.Minute, Max: 1, RetryUnit: time.Minute,
		}, httpx.WithClock(newManualClock()))
		h := l.Middleware()(okHandler(http.StatusOK))

		h.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.EqualValues(t, 15, body["retryAfter"])
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		l := httpx.NewLimiter(httpx.LimiterConfig{Name: "t", Window: time.Minute, Max: 2})
		h := l.Middleware()(okHandler(http.StatusOK))

		for range 2 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom("192.168.1.1"))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		rec1 := httptest.NewRecorder()
		h.ServeHTTP(rec1, requestFrom("192.168.1.1"))
		require.Equal(t, http.StatusTooManyRequests, rec1.Code)

		rec2 := httptest.NewRecorder()
		h.ServeHTTP(rec2, requestFrom("192.168.1.2"))
		require.Equal(t, http.StatusOK, rec2.Code)
	})

	t.Run("successful requests are not counted when skipped", func(t *testing.T) {
		l := httpx.NewLimiter(httpx.LimiterConfig{
			Name: "login", Window: time.Minute, Max: 2, SkipSuccessful: true,
		})
		ok := l.Middleware()(okHandler(http.StatusOK))
		bad := l.Middleware()(okHandler(http.StatusBadRequest))

		for range 10 {
			rec := httptest.NewRecorder()
			ok.ServeHTTP(rec, requestFrom("10.0.0.9"))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		for range 2 {
			rec := httptest.NewRecorder()
			bad.ServeHTTP(rec, requestFrom("10.0.0.9"))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		}

		rec := httptest.NewRecorder()
		ok.ServeHTTP(rec, requestFrom("10.0.0.9"))
		require.Equal(t, http.StatusTooManyRequests, rec.Code, "failures still count")
	})

	t.Run("failed requests are not counted when skipped", func(t *testing.T) {
		l := httpx.NewLimiter(httpx.LimiterConfig{
			Name: "t", Window: time.Minute, Max: 1, SkipFailed: true,
		})
		bad := l.Middleware()(okHandler(http.StatusUnauthorized))

		for range 5 {
			rec := httptest.NewRecorder()
			bad.ServeHTTP(rec, requestFrom("10.0.0.3"))
			require.Equal(t, http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("allows requests when no key can be derived", func(t *testing.T) {
		l := httpx.NewLimiter(httpx.LimiterConfig{
			Name: "t", Window: time.Minute, Max: 1,
			Key: func(*http.Request) string { return "" },
		})
		h := l.Middleware()(okHandler(http.StatusOK))

		for range 3 {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, requestFrom("10.0.0.1"))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestNewLimiters(t *testing.T) {
	t.Run("builds every default limiter", func(t *testing.T) {
		ls, err := httpx.NewLimiters(httpx.DefaultLimiterTable())
		require.NoError(t, err)
		require.Equal(t, 100, ls.General.Config().Max)
		require.Equal(t, 3, ls.OTP.Config().Max)
		require.Equal(t, time.Minute, ls.OTP.Config().Window)
		require.Equal(t, 500, ls.Strict.Config().StoreSize)
		require.True(t, ls.Login.Config().SkipSuccessful)
		require.Len(t, ls.Stats(), 7)

		ls.Start()
		ls.Stop()
	})

	t.Run("reset clears one key of one limiter", func(t *testing.T) {
		ls, err := httpx.NewLimiters(httpx.DefaultLimiterTable(), httpx.WithClock(newManualClock()))
		require.NoError(t, err)

		for range 3 {
			ls.Registration.Decide("203.0.113.7")
		}
		ls.Registration.Decide("203.0.113.8")
		require.False(t, ls.Registration.Decide("203.0.113.7").Allowed)

		require.True(t, ls.Reset(httpx.LimiterRegistration, "203.0.113.7"))
		d := ls.Registration.Decide("203.0.113.7")
		require.True(t, d.Allowed)
		require.Equal(t, 1, d.Count)
		require.Equal(t, 2, ls.Registration.Decide("203.0.113.8").Count)

		require.False(t, ls.Reset("nope", "203.0.113.7"))

		require.True(t, ls.Reset(httpx.LimiterRegistration, ""))
		require.Zero(t, ls.Registration.Stats().Size)
	})

	t.Run("rejects an incomplete table", func(t *testing.T) {
		_, err := httpx.NewLimiters(httpx.DefaultLimiterTable()[:3])
		require.Error(t, err)
	})

	t.Run("rejects a zero max", func(t *testing.T) {
		table := httpx.DefaultLimiterTable()
		table[0].Max = 0
		_, err := httpx.NewLimiters(table)
		require.Error(t, err)
	})
}

func TestApplyLimiterYAML(t *testing.T) {
	doc := []byte(`
limiters:
  - name: otp
    window: 2m
    max: 5
  - name: login
    skip_successful: false
`)
	table, err := httpx.ApplyLimiterYAML(httpx.DefaultLimiterTable(), doc)
	require.NoError(t, err)

	byName := map[string]httpx.LimiterConfig{}
	for _, c := range table {
		byName[c.Name] = c
	}
	require.Equal(t, 2*time.Minute, byName["otp"].Window)
	require.Equal(t, 5, byName["otp"].Max)
	require.Equal(t, 1000, byName["otp"].StoreSize, "unset fields keep their default")
	require.False(t, byName["login"].SkipSuccessful)

	_, err = httpx.ApplyLimiterYAML(httpx.DefaultLimiterTable(), []byte("limiters:\n  - name: nope\n"))
	require.Error(t, err)
}

func TestParseLimiterFromEnv(t *testing.T) {
	defaultConfig := httpx.LimiterConfig{
		Name:      "custom",
		Max:       10,
		Window:    time.Minute,
		StoreSize: 100,
	}

	t.Run("uses defaults when no env vars set", func(t *testing.T) {
		config := httpx.ParseLimiterFromEnv("TEST_NOENV", defaultConfig)
		require.Equal(t, defaultConfig, config)
	})

	t.Run("overrides from env vars", func(t *testing.T) {
		os.Setenv("RATELIMIT_TEST_OVERRIDE_REQUESTS", "50")
		os.Setenv("RATELIMIT_TEST_OVERRIDE_WINDOW_SEC", "120")
		os.Setenv("RATELIMIT_TEST_OVERRIDE_STORE_SIZE", "75")
		defer func() {
			os.Unsetenv("RATELIMIT_TEST_OVERRIDE_REQUESTS")
			os.Unsetenv("RATELIMIT_TEST_OVERRIDE_WINDOW_SEC")
			os.Unsetenv("RATELIMIT_TEST_OVERRIDE_STORE_SIZE")
		}()

		config := httpx.ParseLimiterFromEnv("TEST_OVERRIDE", defaultConfig)
		require.Equal(t, 50, config.Max)
		require.Equal(t, 120*time.Second, config.Window)
		require.Equal(t, 75, config.StoreSize)
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		os.Setenv("RATELIMIT_TEST_INVALID_REQUESTS", "invalid")
		os.Setenv("RATELIMIT_TEST_INVALID_WINDOW_SEC", "-10")
		defer func() {
			os.Unsetenv("RATELIMIT_TEST_INVALID_REQUESTS")
			os.Unsetenv("RATELIMIT_TEST_INVALID_WINDOW_SEC")
		}()

		config := httpx.ParseLimiterFromEnv("TEST_INVALID", defaultConfig)
		require.Equal(t, defaultConfig.Max, config.Max)
		require.Equal(t, defaultConfig.Window, config.Window)
	})

	t.Run("env prefix maps dashes", func(t *testing.T) {
		require.Equal(t, "PASSWORD_RESET", httpx.EnvPrefix(httpx.LimiterPasswordReset))
	})
}

func BenchmarkLimiterMiddleware(b *testing.B) {
	l := httpx.NewLimiter(httpx.LimiterConfig{Name: "bench", Window: time.Minute, Max: 1_000_000})
	h := l.Middleware()(okHandler(http.StatusOK))

	req := requestFrom("192.168.1.1")
	for b.Loop() {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
