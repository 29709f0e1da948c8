package httpx

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/ttlcounter"
	"gopkg.in/yaml.v3"
)

// Limiter names used by the default table.
const (
	LimiterGeneral       = "general"
	LimiterAuth          = "auth"
	LimiterOTP           = "otp"
	LimiterPasswordReset = "password-reset"
	LimiterRegistration  = "registration"
	LimiterLogin         = "login"
	LimiterStrict        = "strict"
)

// DefaultLimiterTable returns the production limiter settings.
//
//	name            window  max  key            skip ok  store
//	general         15m     100  ip_principal   no       10000
//	auth            15m     10   mobile_or_ip   yes      5000
//	otp             1m      3    mobile_or_ip   no       1000
//	password-reset  1h      5    mobile_or_ip   yes      2000
//	registration    1h      3    ip             yes      1000
//	login           15m     5    mobile_or_ip   yes      3000
//	strict          1h      10   ip_principal   no       500
func DefaultLimiterTable() []LimiterConfig {
	return []LimiterConfig{
		{
			Name: LimiterGeneral, Window: 15 * time.Minute, Max: 100, StoreSize: 10000,
			KeyName: KeyIPPrincipal, RetryUnit: time.Minute,
			Message: "Too many requests from this IP, please try again later.",
		},
		{
			Name: LimiterAuth, Window: 15 * time.Minute, Max: 10, StoreSize: 5000,
			KeyName: KeyMobileOrIP, SkipSuccessful: true, RetryUnit: time.Minute,
			Message: "Too many authentication attempts, please try again later.",
		},
		{
			Name: LimiterOTP, Window: time.Minute, Max: 3, StoreSize: 1000,
			KeyName: KeyMobileOrIP, RetryUnit: time.Second,
			Message: "Too many OTP requests. Please wait before requesting another OTP.",
		},
		{
			Name: LimiterPasswordReset, Window: time.Hour, Max: 5, StoreSize: 2000,
			KeyName: KeyMobileOrIP, SkipSuccessful: true, RetryUnit: time.Minute,
			Message: "Too many password reset attempts, please try again later.",
		},
		{
			Name: LimiterRegistration, Window: time.Hour, Max: 3, StoreSize: 1000,
			KeyName: KeyIP, SkipSuccessful: true, RetryUnit: time.Minute,
			Message: "Too many registration attempts, please try again later.",
		},
		{
			Name: LimiterLogin, Window: 15 * time.Minute, Max: 5, StoreSize: 3000,
			KeyName: KeyMobileOrIP, SkipSuccessful: true, RetryUnit: time.Minute,
			Message: "Too many login attempts, please try again later.",
		},
		{
			Name: LimiterStrict, Window: time.Hour, Max: 10, StoreSize: 500,
			KeyName: KeyIPPrincipal, RetryUnit: time.Minute,
			Message: "Rate limit exceeded for sensitive operation. Please try again later.",
		},
	}
}

// limiterOverride is one entry of a limiter table file. Nil fields keep the
// value already in the table.
type limiterOverride struct {
	Name           string         `yaml:"name"`
	Window         *time.Duration `yaml:"window"`
	Max            *int           `yaml:"max"`
	StoreSize      *int           `yaml:"store_size"`
	KeyName        *string        `yaml:"key"`
	SkipSuccessful *bool          `yaml:"skip_successful"`
	SkipFailed     *bool          `yaml:"skip_failed"`
	Message        *string        `yaml:"message"`
	RetryUnit      *time.Duration `yaml:"retry_unit"`
}

type limiterFile struct {
	Limiters []limiterOverride `yaml:"limiters"`
}

// ApplyLimiterYAML merges a YAML document of the form
//
//	limiters:
//	  - name: otp
//	    window: 2m
//	    max: 5
//
// into table. Unknown limiter names are an error.
func ApplyLimiterYAML(table []LimiterConfig, doc []byte) ([]LimiterConfig, error) {
	var f limiterFile
	if err := yaml.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("httpx: parse limiter table: %w", err)
	}

	out := append([]LimiterConfig(nil), table...)
	for _, o := range f.Limiters {
		i := indexOfLimiter(out, o.Name)
		if i < 0 {
			return nil, fmt.Errorf("httpx: unknown limiter %q in table", o.Name)
		}
		c := &out[i]
		if o.Window != nil && *o.Window > 0 {
			c.Window = *o.Window
		}
		if o.Max != nil && *o.Max > 0 {
			c.Max = *o.Max
		}
		if o.StoreSize != nil && *o.StoreSize > 0 {
			c.StoreSize = *o.StoreSize
		}
		if o.KeyName != nil {
			c.KeyName = *o.KeyName
		}
		if o.SkipSuccessful != nil {
			c.SkipSuccessful = *o.SkipSuccessful
		}
		if o.SkipFailed != nil {
			c.SkipFailed = *o.SkipFailed
		}
		if o.Message != nil {
			c.Message = *o.Message
		}
		if o.RetryUnit != nil && *o.RetryUnit > 0 {
			c.RetryUnit = *o.RetryUnit
		}
	}
	return out, nil
}

// LoadLimiterFile reads a limiter table file and merges it into table.
func LoadLimiterFile(table []LimiterConfig, path string) ([]LimiterConfig, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("httpx: read limiter table: %w", err)
	}
	return ApplyLimiterYAML(table, doc)
}

// ApplyLimiterEnv applies RATELIMIT_{NAME}_REQUESTS, RATELIMIT_{NAME}_WINDOW_SEC
// and RATELIMIT_{NAME}_STORE_SIZE overrides to every limiter in table.
func ApplyLimiterEnv(table []LimiterConfig) []LimiterConfig {
	out := append([]LimiterConfig(nil), table...)
	for i := range out {
		out[i] = ParseLimiterFromEnv(EnvPrefix(out[i].Name), out[i])
	}
	return out
}

// EnvPrefix turns a limiter name into its environment variable prefix.
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// ParseLimiterFromEnv reads limiter overrides from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// For example: RATELIMIT_OTP_REQUESTS, RATELIMIT_OTP_WINDOW_SEC, RATELIMIT_OTP_STORE_SIZE
// Invalid or non-positive values are ignored.
func ParseLimiterFromEnv(prefix string, defaultConfig LimiterConfig) LimiterConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.Max = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_STORE_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			config.StoreSize = size
		}
	}

	return config
}

func indexOfLimiter(table []LimiterConfig, name string) int {
	for i, c := range table {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Limiters is the full set of named limiters built from one table.
type Limiters struct {
	General       *Limiter
	Auth          *Limiter
	OTP           *Limiter
	PasswordReset *Limiter
	Registration  *Limiter
	Login         *Limiter
	Strict        *Limiter

	all []*Limiter
}

// NewLimiters builds one limiter per table row. Every default limiter name
// must be present.
func NewLimiters(table []LimiterConfig, opts ...Option) (*Limiters, error) {
	ls := &Limiters{}
	slots := map[string]**Limiter{
		LimiterGeneral:       &ls.General,
		LimiterAuth:          &ls.Auth,
		LimiterOTP:           &ls.OTP,
		LimiterPasswordReset: &ls.PasswordReset,
		LimiterRegistration:  &ls.Registration,
		LimiterLogin:         &ls.Login,
		LimiterStrict:        &ls.Strict,
	}

	for _, cfg := range table {
		if cfg.Window <= 0 || cfg.Max <= 0 {
			return nil, fmt.Errorf("httpx: limiter %q needs a positive window and max", cfg.Name)
		}
		l := NewLimiter(cfg, opts...)
		if slot, ok := slots[cfg.Name]; ok {
			*slot = l
			delete(slots, cfg.Name)
		}
		ls.all = append(ls.all, l)
	}
	for name := range slots {
		return nil, fmt.Errorf("httpx: limiter table is missing %q", name)
	}
	return ls, nil
}

// Start launches background maintenance for every limiter's store.
func (ls *Limiters) Start() {
	for _, l := range ls.all {
		l.Start()
	}
}

func (ls *Limiters) Stop() {
	for _, l := range ls.all {
		l.Stop()
	}
}

// Stats returns a snapshot of every limiter's counter store.
func (ls *Limiters) Stats() []ttlcounter.Stats {
	out := make([]ttlcounter.Stats, 0, len(ls.all))
	for _, l := range ls.all {
		out = append(out, l.Stats())
	}
	return out
}

// Reset clears key from the named limiter, or every key when key is empty.
// It reports false when no limiter has that name.
func (ls *Limiters) Reset(name, key string) bool {
	for _, l := range ls.all {
		if l.Name() != name {
			continue
		}
		if key == "" {
			l.ResetAll()
		} else {
			l.Reset(key)
		}
		return true
	}
	return false
}
