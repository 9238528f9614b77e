package stepsync

import (
	"time"

	"steptrack-go/internal/domain/steps"
)

// BuildPlan returns the candidate dates for a full sync: every calendar day
// from today back to January 1st of today's year, newest first, skipping any
// date already present in the ledger. Presence alone excludes a date; a
// stored zero still counts as "already attempted".
func BuildPlan(today time.Time, existing map[time.Time]struct{}) []time.Time {
	day := steps.Day(today)
	yearStart := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	var plan []time.Time
	for d := day; !d.Before(yearStart); d = d.AddDate(0, 0, -1) {
		if _, ok := existing[d]; ok {
			continue
		}
		plan = append(plan, d)
	}
	return plan
}

// RecentPlan returns the last lookbackDays calendar days including today,
// newest first, regardless of what the ledger already holds. The recency
// sweeper uses it to heal days that were incomplete when first synced.
func RecentPlan(today time.Time, lookbackDays int) []time.Time {
	day := steps.Day(today)
	if lookbackDays < 1 {
		lookbackDays = 1
	}

	plan := make([]time.Time, 0, lookbackDays)
	for i := 0; i < lookbackDays; i++ {
		plan = append(plan, day.AddDate(0, 0, -i))
	}
	return plan
}
