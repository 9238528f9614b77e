package stepsync

import "time"

// RunResult summarizes one sync run for a single user. It exists only for
// the duration of the call and is never persisted.
type RunResult struct {
	DatesRequested int        `json:"dates_requested"`
	DatesSucceeded int        `json:"dates_succeeded"`
	RateLimitHit   bool       `json:"rate_limit_hit"`
	IsFirstSync    bool       `json:"is_first_sync"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
}

// batchSettings is a pure function of plan size and first-sync status. The
// smallest concurrency/longest delay pairing stays under the provider's
// hourly ceiling; bulk backfills are allowed to move faster.
type batchSettings struct {
	concurrency int
	delay       time.Duration
}

const largePlanThreshold = 50

func chooseBatchSettings(planSize int, firstSync bool) batchSettings {
	switch {
	case firstSync:
		return batchSettings{concurrency: 3, delay: 5 * time.Second}
	case planSize > largePlanThreshold:
		return batchSettings{concurrency: 4, delay: 4 * time.Second}
	default:
		return batchSettings{concurrency: 2, delay: 6 * time.Second}
	}
}
