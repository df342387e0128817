package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/booking-session/internal/observability/metrics"
	"github.com/target/booking-session/internal/ports"
)

const defaultRefreshInterval = 15 * time.Minute

// RefreshSchedulerOptions groups dependencies for RefreshScheduler.
type RefreshSchedulerOptions struct {
	Refresher   ports.SessionRefresher // Required: usually *AuthService
	Credentials *CredentialStore       // Required: consulted to skip ticks without a session
	Interval    time.Duration          // Optional: defaults to 15m
	Logger      *slog.Logger           // Optional: structured logger
}

// RefreshScheduler periodically refreshes the session while a refresh
// credential is held. Ticks share the gateway's single-flight refresh with
// every other trigger.
type RefreshScheduler struct {
	refresher   ports.SessionRefresher
	credentials *CredentialStore
	interval    time.Duration
	logger      *slog.Logger
}

// NewRefreshScheduler constructs a new RefreshScheduler.
func NewRefreshScheduler(opts RefreshSchedulerOptions) (*RefreshScheduler, error) {
	if opts.Refresher == nil {
		return nil, errors.New("SessionRefresher is required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("CredentialStore is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &RefreshScheduler{
		refresher:   opts.Refresher,
		credentials: opts.Credentials,
		interval:    interval,
		logger:      componentLogger(opts.Logger, "refresh_scheduler"),
	}, nil
}

// Run ticks until ctx is cancelled. Returns nil on graceful shutdown.
func (s *RefreshScheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting refresh scheduler", "interval", s.interval)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "refresh scheduler stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduled refresh if a session exists. It reports whether a
// refresh was attempted.
func (s *RefreshScheduler) Tick(ctx context.Context) bool {
	if !s.credentials.HasRefreshToken() {
		return false
	}
	if err := s.refresher.RefreshSession(metrics.WithTrigger(ctx, metrics.TriggerScheduled)); err != nil {
		if isContextCancellation(err) {
			s.logger.DebugContext(ctx, "scheduled refresh cancelled", "error", err)
		} else {
			s.logger.WarnContext(ctx, "scheduled refresh failed", "error", err)
		}
	}
	return true
}

// waitWithJitter delays up to 10% of the interval.
func (s *RefreshScheduler) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
