// Package normalize turns raw timetable service records into canonical
// arrival records: it reconciles HHMM time fields against the run date,
// detects midnight rollover, computes delay minutes and routes records
// without a usable actual arrival to side-channel ledgers.
package normalize

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimeFormat reports a time field that is not a 4-digit
// 24-hour HHMM string.
var ErrInvalidTimeFormat = errors.New("invalid time format")

// RolloverMode selects how an explicit next-day indicator from the source
// interacts with the midnight-rollover heuristic.
type RolloverMode int

const (
	// RolloverHeuristic ignores any explicit next-day flag and applies
	// the heuristic only: actual hour < 5 and scheduled hour > 20 means
	// the service crossed midnight.
	RolloverHeuristic RolloverMode = iota

	// RolloverPreferFlag trusts an explicit next-day flag when present.
	// A flag that contradicts the heuristic marks the result ambiguous
	// instead of being silently accepted.
	RolloverPreferFlag
)

// Reconciled holds the absolute timestamps and delay for one service.
type Reconciled struct {
	Scheduled    time.Time
	Actual       time.Time
	DelayMinutes int
	RolledOver   bool // actual advanced one calendar day past the run date
	Ambiguous    bool // explicit flag and heuristic disagreed
}

// Reconcile converts scheduled and actual HHMM strings into timestamps
// anchored on runDate and computes the delay in whole minutes, truncated
// toward zero. Early arrivals yield negative delays.
//
// A missing actual time is a valid terminal outcome, not an error:
// Reconcile returns (nil, nil) and the caller routes the record to the
// missing-arrival ledger.
func Reconcile(scheduledHHMM, actualHHMM string, runDate time.Time, nextDay *bool, mode RolloverMode) (*Reconciled, error) {
	schedHour, schedMin, err := parseHHMM(scheduledHHMM)
	if err != nil {
		return nil, fmt.Errorf("scheduled %q: %w", scheduledHHMM, err)
	}

	if actualHHMM == "" {
		return nil, nil
	}

	actHour, actMin, err := parseHHMM(actualHHMM)
	if err != nil {
		return nil, fmt.Errorf("actual %q: %w", actualHHMM, err)
	}

	y, m, d := runDate.Date()
	loc := runDate.Location()
	scheduled := time.Date(y, m, d, schedHour, schedMin, 0, 0, loc)
	actual := time.Date(y, m, d, actHour, actMin, 0, 0, loc)

	heuristic := actHour < 5 && schedHour > 20

	rolled := heuristic
	ambiguous := false
	if mode == RolloverPreferFlag && nextDay != nil {
		rolled = *nextDay
		ambiguous = *nextDay != heuristic
	}
	if rolled {
		actual = actual.AddDate(0, 0, 1)
	}

	return &Reconciled{
		Scheduled:    scheduled,
		Actual:       actual,
		DelayMinutes: int(actual.Sub(scheduled) / time.Minute),
		RolledOver:   rolled,
		Ambiguous:    ambiguous,
	}, nil
}

// parseHHMM parses a strict 4-digit 24-hour time string.
func parseHHMM(s string) (hour, min int, err error) {
	if len(s) != 4 {
		return 0, 0, ErrInvalidTimeFormat
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, 0, ErrInvalidTimeFormat
		}
	}
	hour = int(s[0]-'0')*10 + int(s[1]-'0')
	min = int(s[2]-'0')*10 + int(s[3]-'0')
	if hour > 23 || min > 59 {
		return 0, 0, ErrInvalidTimeFormat
	}
	return hour, min, nil
}
