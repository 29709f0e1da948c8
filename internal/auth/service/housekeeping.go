package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatehouse/internal/auth/store"
)

// adminSessionRetention is how long ended or expired admin sessions are kept
// for the session listing before they are deleted.
const adminSessionRetention = 7 * 24 * time.Hour

// HousekeepingService periodically cleans up expired challenges and stale
// admin sessions to prevent unbounded growth.
type HousekeepingService struct {
	Store    store.Store
	OTP      *OTPService
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a new housekeeping service with the given interval.
// If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, otp *OTPService, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HousekeepingService{
		Store:    st,
		OTP:      otp,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// CleanupReport counts what one pass removed.
type CleanupReport struct {
	Challenges    int64
	AdminSessions int64
	Failures      int
}

// RunOnce performs one cleanup pass. Each step is independent; a failure in
// one does not stop the other.
func (s *HousekeepingService) RunOnce(ctx context.Context) CleanupReport {
	var r CleanupReport
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}

	if n, err := s.OTP.Cleanup(ctx); err != nil {
		s.Logger.Error("failed to delete stale challenges", "error", err)
		r.Failures++
	} else {
		r.Challenges = n
	}

	if n, err := s.Store.AdminSessions().DeleteStale(ctx, now.Add(-adminSessionRetention)); err != nil {
		s.Logger.Error("failed to delete stale admin sessions", "error", err)
		r.Failures++
	} else {
		r.AdminSessions = n
	}

	s.Logger.Info("housekeeping cleanup completed",
		"challenges_deleted", r.Challenges,
		"admin_sessions_deleted", r.AdminSessions,
		"failures", r.Failures,
	)
	return r
}
