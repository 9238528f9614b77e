package worker

import (
	"context"
	"errors"
	"time"

	"steptrack-go/internal/config"
	"steptrack-go/internal/domain/connection"
	"steptrack-go/internal/domain/stepsync"
	"steptrack-go/pkg/logger"
)

type ConnectionLister interface {
	ListConnected(ctx context.Context) ([]connection.SyncCredential, error)
}

type StepSyncer interface {
	SyncRecent(ctx context.Context, userID string, lookbackDays int) (*stepsync.RunResult, error)
}

// Sweeper periodically re-syncs a short recent window for every connected
// user, healing days that were incomplete at first sync. Users are
// processed one at a time with a fixed delay between them so many users on
// the same schedule do not line up their provider requests.
type Sweeper struct {
	connections ConnectionLister
	syncer      StepSyncer
	log         logger.Logger

	interval       time.Duration
	lookbackDays   int
	interUserDelay time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(connections ConnectionLister, syncer StepSyncer, cfg config.SweeperConfig, log logger.Logger) *Sweeper {
	return &Sweeper{
		connections:    connections,
		syncer:         syncer,
		log:            log,
		interval:       cfg.Interval,
		lookbackDays:   cfg.LookbackDays,
		interUserDelay: cfg.InterUserDelay,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("sweeper: started", "interval", s.interval, "lookback_days", s.lookbackDays)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("sweeper: stopped")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Sweep runs one pass over all connected users. One user's failure never
// stops the pass for the users after it.
func (s *Sweeper) Sweep(ctx context.Context) {
	credentials, err := s.connections.ListConnected(ctx)
	if err != nil {
		s.log.InternalError("sweeper: list connected users failed", err)
		return
	}
	if len(credentials) == 0 {
		return
	}

	s.log.Info("sweeper: sweep starting", "users", len(credentials))

	synced := 0
	skipped := 0
	failed := 0
	for i, credential := range credentials {
		if ctx.Err() != nil {
			return
		}

		result, err := s.syncer.SyncRecent(ctx, credential.UserID, s.lookbackDays)
		switch {
		case err == nil:
			synced++
			s.log.Debug("sweeper: user synced",
				"user_id", credential.UserID,
				"succeeded", result.DatesSucceeded,
				"rate_limited", result.RateLimitHit,
			)
		case isSkippable(err):
			skipped++
		default:
			failed++
			s.log.BusinessError("sweeper: user sync failed", err, "user_id", credential.UserID)
		}

		if i < len(credentials)-1 {
			if err := sleepContext(ctx, s.interUserDelay); err != nil {
				return
			}
		}
	}

	s.log.Info("sweeper: sweep finished", "synced", synced, "skipped", skipped, "failed", failed)
}

// isSkippable reports whether the user was declined rather than failed:
// another run is active, the per-user throttle rejected us, or the user
// disconnected between listing and syncing.
func isSkippable(err error) bool {
	var tooFrequent *stepsync.TooFrequentError
	return errors.As(err, &tooFrequent) ||
		errors.Is(err, stepsync.ErrRunInProgress) ||
		errors.Is(err, connection.ErrNotConnected)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
