package steps

import "time"

// Source distinguishes how a day record was produced. Provider-synced and
// manually entered days live in the same ledger; both mark the date as
// "already attempted" for the sync planner.
type Source string

const (
	SourceProvider Source = "provider"
	SourceManual   Source = "manual"
)

// DayRecord is one step count for one user on one calendar date. At most one
// record exists per (user, date); a zero step count is a valid record and
// means "attempted, zero steps", which is different from "no record".
type DayRecord struct {
	UserID    string    `gorm:"type:uuid;primaryKey"`
	Date      time.Time `gorm:"type:date;primaryKey"`
	Steps     int64     `gorm:"not null"`
	Source    Source    `gorm:"type:text;not null;default:provider"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (DayRecord) TableName() string {
	return "step_days"
}

type ListFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type Summary struct {
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	TotalSteps   int64     `json:"total_steps"`
	DaysWithData int       `json:"days_with_data"`
	AvgPerDay    float64   `json:"avg_per_day"`
	BestDate     *string   `json:"best_date,omitempty"`
	BestSteps    int64     `json:"best_steps"`
}

// Day normalizes a timestamp to its calendar date at UTC midnight. All
// ledger keys go through this so map lookups and DB dates agree.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
