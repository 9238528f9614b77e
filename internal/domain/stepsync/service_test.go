package stepsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"steptrack-go/internal/config"
	"steptrack-go/internal/domain/connection"
	"steptrack-go/internal/domain/steps"
	"steptrack-go/internal/provider"
	"steptrack-go/pkg/logger"
)

type fakeCredentialStore struct {
	mu                sync.Mutex
	cred              *connection.SyncCredential
	getErr            error
	updateTokensErr   error
	updateLastSyncErr error
	tokenUpdates      [][2]string
	lastSyncUpdates   []time.Time
}

func (f *fakeCredentialStore) Get(ctx context.Context, userID string) (*connection.SyncCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	copied := *f.cred
	return &copied, nil
}

func (f *fakeCredentialStore) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateTokensErr != nil {
		return f.updateTokensErr
	}
	f.tokenUpdates = append(f.tokenUpdates, [2]string{accessToken, refreshToken})
	f.cred.AccessToken = accessToken
	f.cred.RefreshToken = refreshToken
	return nil
}

func (f *fakeCredentialStore) UpdateLastSync(ctx context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateLastSyncErr != nil {
		return f.updateLastSyncErr
	}
	f.lastSyncUpdates = append(f.lastSyncUpdates, at)
	f.cred.LastSyncAt = &at
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	existing  map[time.Time]struct{}
	upsertErr error
	records   map[time.Time]steps.DayRecord
}

func newFakeLedger(existing ...time.Time) *fakeLedger {
	ledger := &fakeLedger{
		existing: make(map[time.Time]struct{}),
		records:  make(map[time.Time]steps.DayRecord),
	}
	for _, d := range existing {
		ledger.existing[d] = struct{}{}
	}
	return ledger
}

func (f *fakeLedger) ExistingDates(ctx context.Context, userID string) (map[time.Time]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates := make(map[time.Time]struct{}, len(f.existing)+len(f.records))
	for d := range f.existing {
		dates[d] = struct{}{}
	}
	for d := range f.records {
		dates[d] = struct{}{}
	}
	return dates, nil
}

func (f *fakeLedger) Upsert(ctx context.Context, record *steps.DayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records[record.Date] = *record
	return nil
}

func (f *fakeLedger) record(d time.Time) (steps.DayRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[d]
	return record, ok
}

func (f *fakeLedger) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type stepCall struct {
	accessToken string
	date        time.Time
}

type fakeStepAPI struct {
	mu           sync.Mutex
	stepsFn      func(accessToken string, date time.Time) (int64, error)
	refreshFn    func(refreshToken string) (provider.TokenPair, error)
	calls        []stepCall
	refreshCalls int
}

func (f *fakeStepAPI) StepsForDate(ctx context.Context, accessToken string, d time.Time) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, stepCall{accessToken: accessToken, date: d})
	fn := f.stepsFn
	f.mu.Unlock()
	if fn == nil {
		return 0, errors.New("no steps function configured")
	}
	return fn(accessToken, d)
}

func (f *fakeStepAPI) RefreshToken(ctx context.Context, refreshToken string) (provider.TokenPair, error) {
	f.mu.Lock()
	f.refreshCalls++
	fn := f.refreshFn
	f.mu.Unlock()
	if fn == nil {
		return provider.TokenPair{}, errors.New("no refresh function configured")
	}
	return fn(refreshToken)
}

func (f *fakeStepAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStepAPI) calledDates() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	dates := make([]time.Time, 0, len(f.calls))
	for _, call := range f.calls {
		dates = append(dates, call.date)
	}
	return dates
}

func (f *fakeStepAPI) setStepsFn(fn func(accessToken string, date time.Time) (int64, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepsFn = fn
}

type scheduledCall struct {
	delay time.Duration
	fn    func()
}

type testRuntime struct {
	mu        sync.Mutex
	now       time.Time
	sleeps    []time.Duration
	scheduled []scheduledCall
}

func (rt *testRuntime) advance(d time.Duration) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.now = rt.now.Add(d)
}

func (rt *testRuntime) sleepCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.sleeps)
}

func (rt *testRuntime) scheduledCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.scheduled)
}

func newTestService(creds *fakeCredentialStore, ledger *fakeLedger, api *fakeStepAPI, now time.Time) (*Service, *testRuntime) {
	rt := &testRuntime{now: now}

	svc := NewService(creds, ledger, api, config.SyncConfig{
		MinInterval:    3 * time.Minute,
		ResumeCooldown: 65 * time.Minute,
	}, logger.New(io.Discard, slog.LevelError, "text"))

	svc.now = func() time.Time {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		return rt.now
	}
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.sleeps = append(rt.sleeps, d)
		return nil
	}
	svc.schedule = func(d time.Duration, fn func()) {
		rt.mu.Lock()
		defer rt.mu.Unlock()
		rt.scheduled = append(rt.scheduled, scheduledCall{delay: d, fn: fn})
	}

	return svc, rt
}

func connectedCredential() *connection.SyncCredential {
	return &connection.SyncCredential{
		UserID:       "user-1",
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Connected:    true,
	}
}

func TestSyncFirstSyncFetchesAllMissingDays(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	ledger := newFakeLedger()
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		if d.Equal(date(2025, time.January, 3)) {
			return 0, nil
		}
		return 1000, nil
	})

	svc, rt := newTestService(creds, ledger, api, date(2025, time.January, 7).Add(12*time.Hour))

	result, err := svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !result.IsFirstSync {
		t.Fatal("expected first sync")
	}
	if result.DatesRequested != 7 {
		t.Fatalf("expected 7 dates requested, got %d", result.DatesRequested)
	}
	if result.DatesSucceeded != 6 {
		t.Fatalf("expected 6 dates succeeded (zero-step day excluded), got %d", result.DatesSucceeded)
	}
	if result.RateLimitHit {
		t.Fatal("unexpected rate limit")
	}
	if result.From == nil || !result.From.Equal(date(2025, time.January, 1)) {
		t.Fatalf("expected range to start Jan 1, got %v", result.From)
	}
	if result.To == nil || !result.To.Equal(date(2025, time.January, 7)) {
		t.Fatalf("expected range to end Jan 7, got %v", result.To)
	}

	if ledger.recordCount() != 7 {
		t.Fatalf("expected all 7 dates persisted, got %d", ledger.recordCount())
	}
	zeroDay, ok := ledger.record(date(2025, time.January, 3))
	if !ok {
		t.Fatal("expected zero-step day to be persisted")
	}
	if zeroDay.Steps != 0 {
		t.Fatalf("expected zero steps, got %d", zeroDay.Steps)
	}

	// 7 dates at concurrency 3 is 3 groups, so 2 inter-group delays of 5s.
	if rt.sleepCount() != 2 {
		t.Fatalf("expected 2 inter-group delays, got %d", rt.sleepCount())
	}
	for _, d := range rt.sleeps {
		if d != 5*time.Second {
			t.Fatalf("expected 5s first-sync delay, got %s", d)
		}
	}

	if len(creds.lastSyncUpdates) != 1 {
		t.Fatalf("expected one last-sync update, got %d", len(creds.lastSyncUpdates))
	}
	if rt.scheduledCount() != 0 {
		t.Fatal("no resume should be scheduled without rate limiting")
	}
}

func TestSyncTooFrequent(t *testing.T) {
	now := date(2025, time.March, 1).Add(10 * time.Hour)
	lastSync := now.Add(-time.Minute)

	cred := connectedCredential()
	cred.LastSyncAt = &lastSync

	creds := &fakeCredentialStore{cred: cred}
	api := &fakeStepAPI{}
	svc, _ := newTestService(creds, newFakeLedger(), api, now)

	_, err := svc.Sync(context.Background(), "user-1")

	var tooFrequent *TooFrequentError
	if !errors.As(err, &tooFrequent) {
		t.Fatalf("expected TooFrequentError, got %v", err)
	}
	if tooFrequent.RetryAfter != 2*time.Minute {
		t.Fatalf("expected 2m retry-after, got %s", tooFrequent.RetryAfter)
	}
	if api.callCount() != 0 {
		t.Fatal("no remote call should be made when throttled")
	}
}

func TestSyncNotConnected(t *testing.T) {
	cred := connectedCredential()
	cred.Connected = false

	svc, _ := newTestService(&fakeCredentialStore{cred: cred}, newFakeLedger(), &fakeStepAPI{}, date(2025, time.March, 1))

	_, err := svc.Sync(context.Background(), "user-1")
	if !errors.Is(err, connection.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSyncEmptyPlanShortCircuits(t *testing.T) {
	ledger := newFakeLedger(
		date(2025, time.January, 1),
		date(2025, time.January, 2),
		date(2025, time.January, 3),
	)
	creds := &fakeCredentialStore{cred: connectedCredential()}
	api := &fakeStepAPI{}

	svc, rt := newTestService(creds, ledger, api, date(2025, time.January, 3).Add(8*time.Hour))

	result, err := svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.DatesRequested != 0 || result.DatesSucceeded != 0 {
		t.Fatalf("expected empty run, got %+v", result)
	}
	if result.IsFirstSync {
		t.Fatal("a user with existing records is not a first sync")
	}
	if api.callCount() != 0 {
		t.Fatal("no remote calls expected for an empty plan")
	}
	if len(creds.lastSyncUpdates) != 0 {
		t.Fatal("empty plan should not touch last sync")
	}
	if rt.sleepCount() != 0 {
		t.Fatal("no delays expected for an empty plan")
	}
}

func TestSyncRateLimitShortCircuitsRemainingGroups(t *testing.T) {
	// Jan 11 already recorded, so the plan is Jan 10 down to Jan 1 at
	// concurrency 2. Jan 5 sits in the third group.
	ledger := newFakeLedger(date(2025, time.January, 11))
	creds := &fakeCredentialStore{cred: connectedCredential()}
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		if d.Equal(date(2025, time.January, 5)) {
			return 0, provider.ErrRateLimited
		}
		return 500, nil
	})

	svc, rt := newTestService(creds, ledger, api, date(2025, time.January, 11).Add(9*time.Hour))

	result, err := svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !result.RateLimitHit {
		t.Fatal("expected rate limit to be reported")
	}
	if api.callCount() != 6 {
		t.Fatalf("expected exactly 6 fetches (three groups of 2), got %d", api.callCount())
	}
	cutoff := date(2025, time.January, 5)
	for _, d := range api.calledDates() {
		if d.Before(cutoff) {
			t.Fatalf("date %s beyond the rate-limited group was fetched", d)
		}
	}

	// The in-flight sibling of the throttled date still persists.
	if _, ok := ledger.record(date(2025, time.January, 6)); !ok {
		t.Fatal("expected Jan 6 to be persisted")
	}
	if _, ok := ledger.record(cutoff); ok {
		t.Fatal("the rate-limited date must not be persisted")
	}

	if len(creds.lastSyncUpdates) != 1 {
		t.Fatal("last sync must be updated even on a rate-limited run")
	}
	if rt.scheduledCount() != 1 {
		t.Fatalf("expected exactly one scheduled resume, got %d", rt.scheduledCount())
	}
	if rt.scheduled[0].delay != 65*time.Minute {
		t.Fatalf("expected 65m resume cooldown, got %s", rt.scheduled[0].delay)
	}
}

func TestSyncResumeRunsFullSyncAfterCooldown(t *testing.T) {
	ledger := newFakeLedger(date(2025, time.January, 11))
	creds := &fakeCredentialStore{cred: connectedCredential()}
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		if d.Equal(date(2025, time.January, 5)) {
			return 0, provider.ErrRateLimited
		}
		return 500, nil
	})

	svc, rt := newTestService(creds, ledger, api, date(2025, time.January, 11).Add(9*time.Hour))

	if _, err := svc.Sync(context.Background(), "user-1"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rt.scheduledCount() != 1 {
		t.Fatalf("expected one scheduled resume, got %d", rt.scheduledCount())
	}

	// Quota recovered by the time the resume fires.
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		return 500, nil
	})
	rt.advance(65 * time.Minute)
	rt.scheduled[0].fn()

	for day := 1; day <= 10; day++ {
		if _, ok := ledger.record(date(2025, time.January, day)); !ok {
			t.Fatalf("expected Jan %d to be persisted after resume", day)
		}
	}
	if rt.scheduledCount() != 1 {
		t.Fatal("a clean resume run must not arm another resume")
	}
}

func TestSyncRefreshAndRetry(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	creds.cred.AccessToken = "stale"
	ledger := newFakeLedger()
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		if accessToken == "stale" {
			return 0, provider.ErrTokenExpired
		}
		return 7000, nil
	})
	api.refreshFn = func(refreshToken string) (provider.TokenPair, error) {
		if refreshToken != "refresh-1" {
			return provider.TokenPair{}, errors.New("unexpected refresh token")
		}
		return provider.TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"}, nil
	}

	svc, _ := newTestService(creds, ledger, api, date(2025, time.January, 1).Add(6*time.Hour))

	result, err := svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if api.callCount() != 2 {
		t.Fatalf("expected exactly 2 fetches (initial + retry), got %d", api.callCount())
	}
	if api.refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh, got %d", api.refreshCalls)
	}
	if len(creds.tokenUpdates) != 1 || creds.tokenUpdates[0] != [2]string{"fresh", "refresh-2"} {
		t.Fatalf("expected refreshed pair to be persisted, got %v", creds.tokenUpdates)
	}

	record, ok := ledger.record(date(2025, time.January, 1))
	if !ok {
		t.Fatal("expected the retried date to be persisted")
	}
	if record.Steps != 7000 {
		t.Fatalf("expected 7000 steps, got %d", record.Steps)
	}
	if result.DatesSucceeded != 1 {
		t.Fatalf("expected 1 date succeeded, got %d", result.DatesSucceeded)
	}
}

func TestSyncRefreshFailureOnlyFailsTheDate(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	ledger := newFakeLedger()
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		if d.Equal(date(2025, time.January, 2)) {
			return 0, provider.ErrTokenExpired
		}
		return 800, nil
	})
	api.refreshFn = func(refreshToken string) (provider.TokenPair, error) {
		return provider.TokenPair{}, provider.ErrRefreshRejected
	}

	svc, _ := newTestService(creds, ledger, api, date(2025, time.January, 2).Add(6*time.Hour))

	result, err := svc.Sync(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("a failed refresh must not fail the run, got %v", err)
	}

	if _, ok := ledger.record(date(2025, time.January, 2)); ok {
		t.Fatal("the date with the failed refresh must not be persisted")
	}
	if _, ok := ledger.record(date(2025, time.January, 1)); !ok {
		t.Fatal("the other date in the group must still be persisted")
	}
	if result.DatesSucceeded != 1 {
		t.Fatalf("expected 1 date succeeded, got %d", result.DatesSucceeded)
	}
}

func TestSyncLedgerFailurePropagates(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	ledger := newFakeLedger()
	ledger.upsertErr = errors.New("disk full")
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		return 100, nil
	})

	svc, _ := newTestService(creds, ledger, api, date(2025, time.January, 1).Add(6*time.Hour))

	_, err := svc.Sync(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected ledger failure to fail the run")
	}
	if len(creds.lastSyncUpdates) != 0 {
		t.Fatal("a failed run must not record a sync attempt")
	}
}

func TestSyncCredentialPersistFailurePropagates(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	creds.cred.AccessToken = "stale"
	creds.updateTokensErr = errors.New("store unavailable")
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		return 0, provider.ErrTokenExpired
	})
	api.refreshFn = func(refreshToken string) (provider.TokenPair, error) {
		return provider.TokenPair{AccessToken: "fresh", RefreshToken: "refresh-2"}, nil
	}

	svc, _ := newTestService(creds, newFakeLedger(), api, date(2025, time.January, 1).Add(6*time.Hour))

	_, err := svc.Sync(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected credential persistence failure to fail the run")
	}
}

func TestSyncRejectsConcurrentRunForSameUser(t *testing.T) {
	creds := &fakeCredentialStore{cred: connectedCredential()}
	api := &fakeStepAPI{}

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		once.Do(func() { close(started) })
		<-release
		return 100, nil
	})

	svc, _ := newTestService(creds, newFakeLedger(), api, date(2025, time.January, 2).Add(6*time.Hour))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Sync(context.Background(), "user-1")
	}()

	<-started
	_, err := svc.Sync(context.Background(), "user-1")
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	close(release)
	<-done

	// The guard is per user: a different user is not blocked.
	if !svc.acquire("user-2") {
		t.Fatal("expected a different user to be admitted")
	}
	svc.release("user-2")
}

func TestSyncRecentResyncsRecordedDays(t *testing.T) {
	ledger := newFakeLedger(
		date(2025, time.June, 13),
		date(2025, time.June, 14),
		date(2025, time.June, 15),
	)
	creds := &fakeCredentialStore{cred: connectedCredential()}
	api := &fakeStepAPI{}
	api.setStepsFn(func(accessToken string, d time.Time) (int64, error) {
		return 2500, nil
	})

	svc, _ := newTestService(creds, ledger, api, date(2025, time.June, 15).Add(20*time.Hour))

	result, err := svc.SyncRecent(context.Background(), "user-1", 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.DatesRequested != 3 {
		t.Fatalf("expected the full 3-day window regardless of existing records, got %d", result.DatesRequested)
	}
	if api.callCount() != 3 {
		t.Fatalf("expected 3 fetches, got %d", api.callCount())
	}
	for day := 13; day <= 15; day++ {
		record, ok := ledger.record(date(2025, time.June, day))
		if !ok {
			t.Fatalf("expected Jun %d to be re-persisted", day)
		}
		if record.Steps != 2500 {
			t.Fatalf("expected refreshed count for Jun %d, got %d", day, record.Steps)
		}
	}
}
