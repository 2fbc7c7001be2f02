package service

import (
	"context"
	"time"

	"github.com/wavelink/auth-service/internal/repo"
	"github.com/wavelink/auth-service/pkg/logging"
)

// Sweeper deletes expired refresh tokens, reset tokens and sessions on
// a timer. Expired rows are terminal, so sweeping runs safely next to
// live traffic.
type Sweeper struct {
	Repo     *repo.GormRepo
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) {
	l := logging.FromContext(ctx).With("svc", "auth.sweeper")

	refresh, err := s.Repo.SweepExpiredRefreshTokens(ctx)
	if err != nil {
		l.Error("sweep_refresh_tokens", "error", err)
	}
	reset, err := s.Repo.SweepExpiredResetTokens(ctx)
	if err != nil {
		l.Error("sweep_reset_tokens", "error", err)
	}
	sessions, err := s.Repo.SweepExpiredSessions(ctx)
	if err != nil {
		l.Error("sweep_sessions", "error", err)
	}

	if refresh+reset+sessions > 0 {
		l.Info("sweep_completed", "refresh_tokens", refresh, "reset_tokens", reset, "sessions", sessions)
	}
}
