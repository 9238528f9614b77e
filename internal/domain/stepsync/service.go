package stepsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"steptrack-go/internal/config"
	"steptrack-go/internal/domain/connection"
	"steptrack-go/internal/domain/steps"
	"steptrack-go/internal/provider"
	"steptrack-go/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type CredentialStore interface {
	Get(ctx context.Context, userID string) (*connection.SyncCredential, error)
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error
	UpdateLastSync(ctx context.Context, userID string, at time.Time) error
}

type DayLedger interface {
	ExistingDates(ctx context.Context, userID string) (map[time.Time]struct{}, error)
	Upsert(ctx context.Context, record *steps.DayRecord) error
}

type StepProvider interface {
	StepsForDate(ctx context.Context, accessToken string, date time.Time) (int64, error)
	RefreshToken(ctx context.Context, refreshToken string) (provider.TokenPair, error)
}

// Service is the step synchronization engine: it plans missing dates,
// drives them through the provider in bounded-concurrency groups, refreshes
// expired credentials mid-run, stops on rate limiting and arms a deferred
// resume. One run per user at a time; runs for different users are
// independent.
type Service struct {
	creds    CredentialStore
	ledger   DayLedger
	provider StepProvider
	log      logger.Logger

	minInterval    time.Duration
	resumeCooldown time.Duration

	// test seams
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	schedule func(d time.Duration, fn func())

	mu     sync.Mutex
	active map[string]struct{}
}

func NewService(creds CredentialStore, ledger DayLedger, stepProvider StepProvider, cfg config.SyncConfig, log logger.Logger) *Service {
	return &Service{
		creds:          creds,
		ledger:         ledger,
		provider:       stepProvider,
		log:            log,
		minInterval:    cfg.MinInterval,
		resumeCooldown: cfg.ResumeCooldown,
		now:            time.Now,
		sleep:          sleepContext,
		schedule: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
		active: make(map[string]struct{}),
	}
}

// Sync runs a full catch-up for the user: every missing day between January
// 1st of the current year and today.
func (s *Service) Sync(ctx context.Context, userID string) (*RunResult, error) {
	return s.syncWithLookback(ctx, userID, 0)
}

// SyncRecent re-syncs only the last lookbackDays days including today,
// whether or not they already have records. The recency sweeper calls this.
func (s *Service) SyncRecent(ctx context.Context, userID string, lookbackDays int) (*RunResult, error) {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	return s.syncWithLookback(ctx, userID, lookbackDays)
}

func (s *Service) syncWithLookback(ctx context.Context, userID string, lookbackDays int) (*RunResult, error) {
	if !s.acquire(userID) {
		return nil, ErrRunInProgress
	}
	defer s.release(userID)

	return s.run(ctx, userID, lookbackDays)
}

func (s *Service) run(ctx context.Context, userID string, lookbackDays int) (*RunResult, error) {
	cred, err := s.creds.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cred.Connected {
		return nil, connection.ErrNotConnected
	}

	now := s.now().UTC()
	if cred.LastSyncAt != nil {
		if wait := s.minInterval - now.Sub(*cred.LastSyncAt); wait > 0 {
			return nil, &TooFrequentError{RetryAfter: wait}
		}
	}

	existing, err := s.ledger.ExistingDates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load existing dates: %w", err)
	}

	result := &RunResult{IsFirstSync: len(existing) == 0}

	var plan []time.Time
	if lookbackDays > 0 {
		plan = RecentPlan(now, lookbackDays)
	} else {
		plan = BuildPlan(now, existing)
	}
	if len(plan) == 0 {
		return result, nil
	}

	result.DatesRequested = len(plan)
	to := plan[0]
	from := plan[len(plan)-1]
	result.To = &to
	result.From = &from

	settings := chooseBatchSettings(len(plan), result.IsFirstSync)
	runLog := s.log.With("user_id", userID, "run_id", uuid.NewString())
	runLog.Info("stepsync: run starting",
		"dates", len(plan),
		"first_sync", result.IsFirstSync,
		"concurrency", settings.concurrency,
		"delay", settings.delay,
	)

	tokens := &runTokens{
		accessToken:  cred.AccessToken,
		refreshToken: cred.RefreshToken,
	}

	for start := 0; start < len(plan); start += settings.concurrency {
		end := min(start+settings.concurrency, len(plan))

		succeeded, rateLimited, groupErr := s.runGroup(ctx, userID, plan[start:end], tokens, runLog)
		result.DatesSucceeded += succeeded
		if groupErr != nil {
			return nil, groupErr
		}
		if rateLimited {
			result.RateLimitHit = true
			break
		}

		if end < len(plan) {
			if err := s.sleep(ctx, settings.delay); err != nil {
				return nil, err
			}
		}
	}

	// Recorded even for partial or rate-limited runs: the attempt itself
	// feeds the minimum-interval throttle.
	if err := s.creds.UpdateLastSync(ctx, userID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("update last sync: %w", err)
	}

	if result.RateLimitHit {
		s.scheduleResume(userID, runLog)
	}

	runLog.Info("stepsync: run finished",
		"requested", result.DatesRequested,
		"succeeded", result.DatesSucceeded,
		"rate_limited", result.RateLimitHit,
	)
	return result, nil
}

// runGroup fetches one group of dates concurrently. Per-date failures are
// absorbed here; a non-nil error means a persistence failure that fails the
// whole run. In-flight fetches always finish before the group reports.
func (s *Service) runGroup(ctx context.Context, userID string, group []time.Time, tokens *runTokens, runLog logger.Logger) (int, bool, error) {
	var (
		mu          sync.Mutex
		succeeded   int
		rateLimited bool
	)

	var g errgroup.Group
	for _, date := range group {
		date := date
		g.Go(func() error {
			count, err := s.fetchDate(ctx, userID, date, tokens)
			if err != nil {
				var abort *runAbortError
				if errors.As(err, &abort) {
					return abort.err
				}
				if errors.Is(err, provider.ErrRateLimited) {
					mu.Lock()
					rateLimited = true
					mu.Unlock()
					runLog.Warn("stepsync: provider rate limit hit", "date", formatDate(date))
					return nil
				}
				runLog.BusinessError("stepsync: date failed", err, "date", formatDate(date))
				return nil
			}

			record := &steps.DayRecord{
				UserID: userID,
				Date:   date,
				Steps:  count,
				Source: steps.SourceProvider,
			}
			if err := s.ledger.Upsert(ctx, record); err != nil {
				return fmt.Errorf("persist day %s: %w", formatDate(date), err)
			}

			if count > 0 {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return succeeded, rateLimited, err
	}
	return succeeded, rateLimited, nil
}

// fetchDate performs the per-date protocol: one fetch, and on an expired
// credential exactly one refresh followed by exactly one retry.
func (s *Service) fetchDate(ctx context.Context, userID string, date time.Time, tokens *runTokens) (int64, error) {
	accessToken := tokens.access()

	count, err := s.provider.StepsForDate(ctx, accessToken, date)
	if err == nil || !errors.Is(err, provider.ErrTokenExpired) {
		return count, err
	}

	if err := s.refreshTokens(ctx, userID, accessToken, tokens); err != nil {
		return 0, fmt.Errorf("refresh after expiry: %w", err)
	}

	return s.provider.StepsForDate(ctx, tokens.access(), date)
}

// refreshTokens exchanges the refresh token and persists the new pair. When
// a concurrent date in the same group already refreshed, the caller just
// retries with the newer token. A failed exchange is terminal for the date
// only; a failed credential-store write aborts the run.
func (s *Service) refreshTokens(ctx context.Context, userID, staleAccessToken string, tokens *runTokens) error {
	tokens.mu.Lock()
	defer tokens.mu.Unlock()

	if tokens.accessToken != staleAccessToken {
		return nil
	}

	pair, err := s.provider.RefreshToken(ctx, tokens.refreshToken)
	if err != nil {
		return fmt.Errorf("exchange refresh token: %w", err)
	}

	if err := s.creds.UpdateTokens(ctx, userID, pair.AccessToken, pair.RefreshToken, pair.ExpiresAt); err != nil {
		return &runAbortError{err: fmt.Errorf("persist refreshed tokens: %w", err)}
	}

	tokens.accessToken = pair.AccessToken
	tokens.refreshToken = pair.RefreshToken
	return nil
}

// scheduleResume arms exactly one deferred re-invocation of the full sync
// after the cooldown. Fire and forget: outcomes are only logged, and any
// further resume comes from the deferred run's own rate-limit result.
func (s *Service) scheduleResume(userID string, runLog logger.Logger) {
	runLog.Info("stepsync: scheduling resume after rate limit", "cooldown", s.resumeCooldown)
	s.schedule(s.resumeCooldown, func() {
		runLog.Info("stepsync: resuming after rate limit cooldown")
		result, err := s.Sync(context.Background(), userID)
		if err != nil {
			runLog.BusinessError("stepsync: resume run failed", err)
			return
		}
		runLog.Info("stepsync: resume run finished",
			"requested", result.DatesRequested,
			"succeeded", result.DatesSucceeded,
			"rate_limited", result.RateLimitHit,
		)
	})
}

func (s *Service) acquire(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[userID]; ok {
		return false
	}
	s.active[userID] = struct{}{}
	return true
}

func (s *Service) release(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, userID)
}

// runTokens holds the credentials in use for the remainder of a run. The
// mutex serializes refreshes so concurrent dates in one group trigger at
// most one exchange per expiry.
type runTokens struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

func (t *runTokens) access() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accessToken
}

// runAbortError marks a failure that must fail the whole run instead of
// just the date that observed it.
type runAbortError struct {
	err error
}

func (e *runAbortError) Error() string { return e.err.Error() }
func (e *runAbortError) Unwrap() error { return e.err }

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

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
