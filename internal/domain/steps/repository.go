package steps

import (
	"context"
	"time"
)

type Repository interface {
	// ExistingDates returns the set of dates (UTC midnight) for which any
	// record exists, regardless of its step value.
	ExistingDates(ctx context.Context, userID string) (map[time.Time]struct{}, error)
	// Upsert inserts or overwrites the record for (UserID, Date).
	Upsert(ctx context.Context, record *DayRecord) error
	ListRange(ctx context.Context, userID string, filter ListFilter) ([]DayRecord, int64, error)
}
