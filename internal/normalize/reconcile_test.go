package normalize

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func boolPtr(b bool) *bool { return &b }

func TestReconcileDelay(t *testing.T) {
	runDate := date(2025, 1, 29)

	tests := []struct {
		name      string
		scheduled string
		actual    string
		wantDelay int
		wantRoll  bool
	}{
		{"on time", "0805", "0805", 0, false},
		{"late", "0805", "0817", 12, false},
		{"early is negative", "0805", "0759", -6, false},
		{"late evening no rollover", "2100", "2130", 30, false},
		{"early morning both sides", "0030", "0045", 15, false},
		{"midnight rollover", "2355", "0010", 15, true},
		{"rollover long delay", "2105", "0200", 295, true},
		{"no rollover at exactly 5am", "2355", "0500", -1135, false},
		{"no rollover for early scheduled", "2000", "0010", -1190, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Reconcile(tt.scheduled, tt.actual, runDate, nil, RolloverHeuristic)
			if err != nil {
				t.Fatalf("Reconcile() error = %v", err)
			}
			if rec == nil {
				t.Fatal("Reconcile() returned nil for present actual")
			}
			if rec.DelayMinutes != tt.wantDelay {
				t.Errorf("delay = %d, want %d", rec.DelayMinutes, tt.wantDelay)
			}
			if rec.RolledOver != tt.wantRoll {
				t.Errorf("rolled over = %v, want %v", rec.RolledOver, tt.wantRoll)
			}
		})
	}
}

func TestReconcileRolloverTimestamps(t *testing.T) {
	// Scheduled 2355 on 2025-01-29, actual 0010: the actual timestamp
	// must land on the next calendar day.
	rec, err := Reconcile("2355", "0010", date(2025, 1, 29), nil, RolloverHeuristic)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	wantScheduled := time.Date(2025, 1, 29, 23, 55, 0, 0, time.UTC)
	wantActual := time.Date(2025, 1, 30, 0, 10, 0, 0, time.UTC)

	if !rec.Scheduled.Equal(wantScheduled) {
		t.Errorf("scheduled = %v, want %v", rec.Scheduled, wantScheduled)
	}
	if !rec.Actual.Equal(wantActual) {
		t.Errorf("actual = %v, want %v", rec.Actual, wantActual)
	}
	if rec.DelayMinutes != 15 {
		t.Errorf("delay = %d, want 15", rec.DelayMinutes)
	}
}

func TestReconcileRolloverAdjustedDelayNonNegative(t *testing.T) {
	// Any actual before 5am against any schedule after 8pm must come out
	// non-negative once the day is rolled.
	for schedHour := 21; schedHour <= 23; schedHour++ {
		for actHour := 0; actHour < 5; actHour++ {
			scheduled := timeString(schedHour, 30)
			actual := timeString(actHour, 15)
			rec, err := Reconcile(scheduled, actual, date(2025, 6, 1), nil, RolloverHeuristic)
			if err != nil {
				t.Fatalf("Reconcile(%s, %s) error = %v", scheduled, actual, err)
			}
			if rec.DelayMinutes < 0 {
				t.Errorf("Reconcile(%s, %s) delay = %d, want >= 0", scheduled, actual, rec.DelayMinutes)
			}
		}
	}
}

func timeString(h, m int) string {
	return string([]byte{byte('0' + h/10), byte('0' + h%10), byte('0' + m/10), byte('0' + m%10)})
}

func TestReconcileNoActual(t *testing.T) {
	rec, err := Reconcile("0805", "", date(2025, 1, 29), nil, RolloverHeuristic)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Reconcile() = %+v, want nil for missing actual", rec)
	}
}

func TestReconcileInvalidFormats(t *testing.T) {
	runDate := date(2025, 1, 29)

	tests := []struct {
		name      string
		scheduled string
		actual    string
	}{
		{"scheduled too short", "805", "0810"},
		{"scheduled not numeric", "08a5", "0810"},
		{"scheduled hour out of range", "2505", "0810"},
		{"actual minute out of range", "0805", "0871"},
		{"actual too long", "0805", "08100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reconcile(tt.scheduled, tt.actual, runDate, nil, RolloverHeuristic)
			if !errors.Is(err, ErrInvalidTimeFormat) {
				t.Errorf("error = %v, want ErrInvalidTimeFormat", err)
			}
		})
	}
}

func TestReconcileNextDayFlag(t *testing.T) {
	runDate := date(2025, 1, 29)

	t.Run("heuristic mode ignores flag", func(t *testing.T) {
		rec, err := Reconcile("2355", "0010", runDate, boolPtr(false), RolloverHeuristic)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if !rec.RolledOver || rec.Ambiguous {
			t.Errorf("rolled=%v ambiguous=%v, want rolled and unambiguous", rec.RolledOver, rec.Ambiguous)
		}
	})

	t.Run("flag agrees with heuristic", func(t *testing.T) {
		rec, err := Reconcile("2355", "0010", runDate, boolPtr(true), RolloverPreferFlag)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if !rec.RolledOver || rec.Ambiguous {
			t.Errorf("rolled=%v ambiguous=%v, want rolled and unambiguous", rec.RolledOver, rec.Ambiguous)
		}
		if rec.DelayMinutes != 15 {
			t.Errorf("delay = %d, want 15", rec.DelayMinutes)
		}
	})

	t.Run("flag contradicts heuristic", func(t *testing.T) {
		rec, err := Reconcile("2355", "0010", runDate, boolPtr(false), RolloverPreferFlag)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if rec.RolledOver {
			t.Error("flag says same-day but record was rolled over")
		}
		if !rec.Ambiguous {
			t.Error("contradiction not marked ambiguous")
		}
	})

	t.Run("flag rolls when heuristic would not", func(t *testing.T) {
		rec, err := Reconcile("2000", "0010", runDate, boolPtr(true), RolloverPreferFlag)
		if err != nil {
			t.Fatalf("Reconcile() error = %v", err)
		}
		if !rec.RolledOver {
			t.Error("explicit next-day flag ignored")
		}
		if !rec.Ambiguous {
			t.Error("contradiction not marked ambiguous")
		}
	})
}
