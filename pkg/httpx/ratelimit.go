package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/slogx"
	"github.com/aussiebroadwan/gatehouse/pkg/ttlcounter"
)

// KeySuffixLen is how much of a raw identifier a rate limit key keeps.
const KeySuffixLen = 8

// LimiterConfig describes one named fixed-window limiter.
type LimiterConfig struct {
	Name   string        `yaml:"name"`
	Window time.Duration `yaml:"window"`
	Max    int           `yaml:"max"`

	// StoreSize bounds the number of distinct keys the limiter tracks.
	StoreSize int `yaml:"store_size"`

	// KeyName selects a registered key extractor (see KeyExtractorByName).
	// Key, when set, takes precedence.
	KeyName string       `yaml:"key"`
	Key     KeyExtractor `yaml:"-"`

	// SkipSuccessful takes back the hit when the handler answers < 400.
	SkipSuccessful bool `yaml:"skip_successful"`
	// SkipFailed takes back the hit when the handler answers >= 400.
	SkipFailed bool `yaml:"skip_failed"`

	Message string `yaml:"message"`

	// RetryUnit is the unit of the retryAfter body field.
	RetryUnit time.Duration `yaml:"retry_unit"`
}

// Decision is the outcome of counting one request against a limiter.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Option tunes the counter store behind a limiter.
type Option func(*ttlcounter.Config)

func WithClock(c ttlcounter.Clock) Option {
	return func(cfg *ttlcounter.Config) { cfg.Clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cfg *ttlcounter.Config) { cfg.Logger = l }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(cfg *ttlcounter.Config) { cfg.CleanupInterval = d }
}

func WithEmergencyInterval(d time.Duration) Option {
	return func(cfg *ttlcounter.Config) { cfg.EmergencyInterval = d }
}

func WithHeapRatio(r float64) Option {
	return func(cfg *ttlcounter.Config) { cfg.HeapRatio = r }
}

// Limiter admits or rejects requests for one logical limiter. Each limiter
// owns its own counter store so one key space cannot crowd out another.
type Limiter struct {
	cfg   LimiterConfig
	key   KeyExtractor
	store *ttlcounter.Store
	clock ttlcounter.Clock
}

// NewLimiter builds a limiter. The counter store is idle until Start.
func NewLimiter(cfg LimiterConfig, opts ...Option) *Limiter {
	if cfg.Message == "" {
		cfg.Message = "Too many requests. Please try again later."
	}
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = time.Second
	}

	sc := ttlcounter.Config{
		Name:       cfg.Name,
		Window:     cfg.Window,
		MaxEntries: cfg.StoreSize,
	}
	for _, o := range opts {
		o(&sc)
	}
	if sc.Clock == nil {
		sc.Clock = ttlcounter.SystemClock
	}

	key := cfg.Key
	if key == nil {
		key = KeyExtractorByName(cfg.KeyName)
	}

	return &Limiter{
		cfg:   cfg,
		key:   key,
		store: ttlcounter.New(sc),
		clock: sc.Clock,
	}
}

func (l *Limiter) Name() string          { return l.cfg.Name }
func (l *Limiter) Config() LimiterConfig { return l.cfg }
func (l *Limiter) Start()                { l.store.Start() }
func (l *Limiter) Stop()                 { l.store.Stop() }

func (l *Limiter) Stats() ttlcounter.Stats { return l.store.Stats() }

// Decide counts one hit for key and reports whether it fits in the window.
func (l *Limiter) Decide(key string) Decision {
	count, resetAt := l.store.Increment(key)
	d := Decision{
		Allowed:   count <= l.cfg.Max,
		Count:     count,
		Limit:     l.cfg.Max,
		Remaining: max(l.cfg.Max-count, 0),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = max(resetAt.Sub(l.clock.Now()), 0)
	}
	return d
}

// Rollback takes back one hit recorded by Decide.
func (l *Limiter) Rollback(key string) { l.store.Decrement(key) }

// Reset clears all hits for key.
func (l *Limiter) Reset(key string) { l.store.Reset(key) }

// ResetAll clears every key.
func (l *Limiter) ResetAll() { l.store.ResetAll() }

// Middleware enforces the limiter on every request it wraps.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			key := l.key(r)
			if key == "" {
				log.Warn("rate limit: unable to extract key, allowing request", "limiter", l.cfg.Name)
				next.ServeHTTP(w, r)
				return
			}

			d := l.Decide(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retrySec := max(int(math.Ceil(d.RetryAfter.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retrySec))

				log.Warn("rate limit exceeded",
					"limiter", l.cfg.Name,
					"key", key,
					"endpoint", r.URL.Path,
					"retry_after", retrySec,
				)

				WriteFailure(w, http.StatusTooManyRequests, l.cfg.Message, map[string]any{
					"retryAfter": l.retryAfterUnits(d.RetryAfter),
				})
				return
			}

			if !l.cfg.SkipSuccessful && !l.cfg.SkipFailed {
				next.ServeHTTP(w, r)
				return
			}

			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			failed := rec.Status >= http.StatusBadRequest
			if (failed && l.cfg.SkipFailed) || (!failed && l.cfg.SkipSuccessful) {
				l.Rollback(key)
			}
		})
	}
}

func (l *Limiter) retryAfterUnits(d time.Duration) int {
	return max(int(math.Ceil(float64(d)/float64(l.cfg.RetryUnit))), 1)
}

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, mobile number suffix, etc.)
type KeyExtractor func(*http.Request) string

// Registered key extractor names usable from a limiter table.
const (
	KeyIP            = "ip"
	KeyIPPrincipal   = "ip_principal"
	KeyMobileOrIP    = "mobile_or_ip"
	MobileNumberJSON = "mobileNumber"
)

// KeyExtractorByName resolves a table key name. Unknown names fall back to
// the client address.
func KeyExtractorByName(name string) KeyExtractor {
	switch name {
	case KeyIPPrincipal:
		return CompositeKeyExtractor(":", IPKeyExtractor, SuffixKeyExtractor(KeySuffixLen, PrincipalIDKeyExtractor))
	case KeyMobileOrIP:
		return FirstKeyExtractor(
			SuffixKeyExtractor(KeySuffixLen, JSONFieldKeyExtractor(MobileNumberJSON)),
			IPKeyExtractor,
		)
	default:
		return IPKeyExtractor
	}
}

// IPKeyExtractor returns the client address resolved by ClientIPMiddleware.
// Without it the socket peer is used; forwarding headers are never read
// here, since any caller can set them.
func IPKeyExtractor(r *http.Request) string {
	if ip, ok := r.Context().Value(CtxKeyClientIP).(string); ok && ip != "" {
		return ip
	}
	return remoteIP(r)
}

// PrincipalIDKeyExtractor returns the authenticated principal id, if any.
func PrincipalIDKeyExtractor(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.ID
	}
	return ""
}

// SuffixKeyExtractor keeps only the last n characters of another key.
func SuffixKeyExtractor(n int, ex KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		return Suffix(ex(r), n)
	}
}

// Suffix returns the last n bytes of s.
func Suffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// JSONFieldKeyExtractor reads a top-level string field from a JSON body.
// The body is restored so the handler can decode it again.
func JSONFieldKeyExtractor(field string) KeyExtractor {
	return func(r *http.Request) string {
		if r.Body == nil || r.Body == http.NoBody {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ""
		}

		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) != nil {
			return ""
		}
		var v string
		if json.Unmarshal(fields[field], &v) != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, PrincipalIDKeyExtractor)
// would produce keys like "192.168.1.1:user123"
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// FirstKeyExtractor returns the first non-empty key.
func FirstKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				return key
			}
		}
		return ""
	}
}
