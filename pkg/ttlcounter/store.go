// Package ttlcounter is a bounded, in-memory map of fixed-window counters.
//
// Each key holds a count and the instant its window closes. Windows never
// slide: the first hit opens a window and later hits inside it only bump the
// count. Expired entries read as absent before the background sweep gets to
// them, and the store sheds its oldest-expiring entries when it grows past
// MaxEntries or the process comes under heap pressure.
package ttlcounter

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

const (
	DefaultMaxEntries        = 10000
	DefaultCleanupInterval   = 5 * time.Minute
	DefaultEmergencyInterval = 30 * time.Second
	DefaultHeapRatio         = 0.9
	DefaultEvictFraction     = 0.3
)

// Config tunes a Store. Zero values fall back to the package defaults.
type Config struct {
	// Name identifies the store in logs.
	Name string

	// Window is the fixed lifetime of a counter from its first hit.
	Window time.Duration

	// MaxEntries is the soft cap on distinct keys.
	MaxEntries int

	CleanupInterval   time.Duration
	EmergencyInterval time.Duration

	// HeapRatio triggers emergency eviction when the memory probe reports a
	// utilisation above it. Set to a negative value to disable the check.
	HeapRatio float64

	// EvictFraction is the share of entries dropped by an emergency eviction.
	EvictFraction float64

	Clock  Clock
	Memory MemoryProbe
	Logger *slog.Logger
}

// Entry is a snapshot of one counter.
type Entry struct {
	Key       string
	Count     int
	ExpiresAt time.Time
}

// Stats summarises a store's contents and eviction history.
type Stats struct {
	Name               string    `json:"name"`
	Size               int       `json:"size"`
	MaxEntries         int       `json:"max_entries"`
	OldestExpiry       time.Time `json:"oldest_expiry,omitzero"`
	NewestExpiry       time.Time `json:"newest_expiry,omitzero"`
	Swept              uint64    `json:"swept"`
	EmergencyEvictions uint64    `json:"emergency_evictions"`
	Evicted            uint64    `json:"evicted"`
}

type counter struct {
	count     int
	expiresAt time.Time
}

// Store holds counters for a single logical limiter.
type Store struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*counter

	swept       uint64
	emergencies uint64
	evicted     uint64

	lifecycle sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New builds a Store. Background maintenance does not run until Start.
func New(cfg Config) *Store {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.EmergencyInterval <= 0 {
		cfg.EmergencyInterval = DefaultEmergencyInterval
	}
	if cfg.HeapRatio == 0 {
		cfg.HeapRatio = DefaultHeapRatio
	}
	if cfg.EvictFraction <= 0 || cfg.EvictFraction > 1 {
		cfg.EvictFraction = DefaultEvictFraction
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Memory == nil {
		cfg.Memory = RuntimeMemoryProbe
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = logger.With("store", cfg.Name)
	}

	return &Store{
		cfg:     cfg,
		log:     logger,
		entries: make(map[string]*counter),
	}
}

// Window returns the configured window length.
func (s *Store) Window() time.Duration { return s.cfg.Window }

// Increment records one hit for key and returns the resulting count along
// with the instant the current window closes.
func (s *Store) Increment(key string) (int, time.Time) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.entries[key]; ok && now.Before(c.expiresAt) {
		c.count++
		return c.count, c.expiresAt
	}

	if _, exists := s.entries[key]; !exists && len(s.entries) >= 2*s.cfg.MaxEntries {
		s.shedLocked()
	}

	c := &counter{count: 1, expiresAt: now.Add(s.cfg.Window)}
	s.entries[key] = c
	return c.count, c.expiresAt
}

// Decrement takes back one hit for key. It is a no-op once the window has
// closed or the count is already zero.
func (s *Store) Decrement(key string) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok || !now.Before(c.expiresAt) {
		return
	}
	if c.count > 0 {
		c.count--
	}
}

// Get returns the live counter for key.
func (s *Store) Get(key string) (Entry, bool) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok || !now.Before(c.expiresAt) {
		return Entry{}, false
	}
	return Entry{Key: key, Count: c.count, ExpiresAt: c.expiresAt}, true
}

// Reset forgets key.
func (s *Store) Reset(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// ResetAll forgets every key.
func (s *Store) ResetAll() {
	s.mu.Lock()
	clear(s.entries)
	s.mu.Unlock()
}

// Len returns the number of entries physically held, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Name:               s.cfg.Name,
		Size:               len(s.entries),
		MaxEntries:         s.cfg.MaxEntries,
		Swept:              s.swept,
		EmergencyEvictions: s.emergencies,
		Evicted:            s.evicted,
	}
	for _, c := range s.entries {
		if st.OldestExpiry.IsZero() || c.expiresAt.Before(st.OldestExpiry) {
			st.OldestExpiry = c.expiresAt
		}
		if c.expiresAt.After(st.NewestExpiry) {
			st.NewestExpiry = c.expiresAt
		}
	}
	return st
}

// Sweep removes every entry whose window has closed and reports how many
// were dropped.
func (s *Store) Sweep() int {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, c := range s.entries {
		if !now.Before(c.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	s.swept += uint64(removed)
	return removed
}

// EmergencyEvict drops the oldest-expiring share of entries regardless of
// whether their windows have closed.
func (s *Store) EmergencyEvict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(s.shareLocked())
}

func (s *Store) shareLocked() int {
	return int(math.Ceil(float64(len(s.entries)) * s.cfg.EvictFraction))
}

// shedLocked brings an oversized store back to MaxEntries, dropping at least
// the usual share.
func (s *Store) shedLocked() int {
	return s.evictLocked(max(s.shareLocked(), len(s.entries)-s.cfg.MaxEntries))
}

func (s *Store) evictLocked(n int) int {
	n = min(n, len(s.entries))
	if n <= 0 {
		return 0
	}

	type ranked struct {
		key       string
		expiresAt time.Time
	}
	all := make([]ranked, 0, len(s.entries))
	for k, c := range s.entries {
		all = append(all, ranked{k, c.expiresAt})
	}
	slices.SortFunc(all, func(a, b ranked) int { return a.expiresAt.Compare(b.expiresAt) })

	for _, r := range all[:n] {
		delete(s.entries, r.key)
	}
	s.emergencies++
	s.evicted += uint64(n)
	return n
}

// CheckPressure runs one emergency check. Over MaxEntries it evicts back down
// to the cap; under heap pressure it drops EvictFraction of the entries.
func (s *Store) CheckPressure() int {
	size := s.Len()

	reason := ""
	switch {
	case size > s.cfg.MaxEntries:
		reason = "max_entries"
	case s.cfg.HeapRatio > 0:
		if ratio, ok := s.cfg.Memory(); ok && ratio > s.cfg.HeapRatio {
			reason = "heap_pressure"
		}
	}
	if reason == "" {
		return 0
	}

	var removed int
	if reason == "max_entries" {
		s.mu.Lock()
		removed = s.shedLocked()
		s.mu.Unlock()
	} else {
		removed = s.EmergencyEvict()
	}
	s.log.Warn("emergency eviction",
		"reason", reason,
		"size_before", size,
		"removed", removed,
		"max_entries", s.cfg.MaxEntries,
	)
	return removed
}

// Start launches the sweep and emergency loops. Calling Start on a running
// store does nothing.
func (s *Store) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(s.stopCh, s.doneCh)
}

// Stop halts background maintenance and waits for it to exit.
func (s *Store) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh, s.doneCh = nil, nil
}

func (s *Store) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	sweep := time.NewTicker(s.cfg.CleanupInterval)
	defer sweep.Stop()
	emergency := time.NewTicker(s.cfg.EmergencyInterval)
	defer emergency.Stop()

	for {
		select {
		case <-sweep.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug("swept expired counters", "removed", n)
			}
		case <-emergency.C:
			s.CheckPressure()
		case <-stop:
			return
		}
	}
}
