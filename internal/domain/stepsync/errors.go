package stepsync

import (
	"errors"
	"fmt"
	"time"
)

// ErrRunInProgress is returned when a second sync is requested for a user
// while one is still running.
var ErrRunInProgress = errors.New("a sync run is already in progress for this user")

// TooFrequentError rejects a sync requested within the minimum interval
// since the user's previous attempt. No remote call has been made.
type TooFrequentError struct {
	RetryAfter time.Duration
}

func (e *TooFrequentError) Error() string {
	return fmt.Sprintf("sync requested too soon, retry in %s", e.RetryAfter.Round(time.Second))
}
