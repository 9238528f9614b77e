package steps

import (
	"context"
	"time"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) ListRange(ctx context.Context, userID string, filter ListFilter) ([]DayRecord, int64, error) {
	if filter.From != nil {
		from := Day(*filter.From)
		filter.From = &from
	}
	if filter.To != nil {
		to := Day(*filter.To)
		filter.To = &to
	}
	return s.repo.ListRange(ctx, userID, filter)
}

// UpsertManual records a manually entered step count for a date. It shares
// the ledger with provider-synced days, so a manual entry also stops the
// sync planner from re-fetching that date.
func (s *Service) UpsertManual(ctx context.Context, userID string, date time.Time, stepCount int64) (*DayRecord, error) {
	if stepCount < 0 {
		return nil, ErrNegativeSteps
	}

	day := Day(date)
	if day.After(Day(s.now())) {
		return nil, ErrFutureDate
	}

	record := DayRecord{
		UserID: userID,
		Date:   day,
		Steps:  stepCount,
		Source: SourceManual,
	}
	if err := s.repo.Upsert(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Summary aggregates the ledger over [from, to] for the dashboard.
func (s *Service) Summary(ctx context.Context, userID string, from, to time.Time) (Summary, error) {
	from = Day(from)
	to = Day(to)

	records, _, err := s.repo.ListRange(ctx, userID, ListFilter{From: &from, To: &to})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{From: from, To: to}
	for _, record := range records {
		summary.TotalSteps += record.Steps
		summary.DaysWithData++
		if record.Steps > summary.BestSteps {
			best := record.Date.Format("2006-01-02")
			summary.BestDate = &best
			summary.BestSteps = record.Steps
		}
	}

	days := int(to.Sub(from).Hours()/24) + 1
	if days > 0 {
		summary.AvgPerDay = float64(summary.TotalSteps) / float64(days)
	}

	return summary, nil
}
