package classify

import (
	"testing"
	"time"

	"tagsci/internal/model"
)

func TestArrivalBoundaries(t *testing.T) {
	start := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		actual time.Time
		want   model.ArrivalCategory
	}{
		{"six minutes early", start.Add(-6 * time.Minute), model.ArrivalEarly},
		{"five minutes early boundary", start.Add(-5 * time.Minute), model.ArrivalPresent},
		{"on time", start, model.ArrivalPresent},
		{"ten minutes late", start.Add(10 * time.Minute), model.ArrivalPresent},
		{"fifteen minutes late boundary", start.Add(15 * time.Minute), model.ArrivalPresent},
		{"sixteen minutes late", start.Add(16 * time.Minute), model.ArrivalLate},
		{"an hour early", start.Add(-time.Hour), model.ArrivalEarly},
		{"an hour late", start.Add(time.Hour), model.ArrivalLate},
	}

	for _, tc := range cases {
		if got := Arrival(start, tc.actual); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestArrivalSubMinuteOffsets(t *testing.T) {
	start := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

	// 5m30s early falls outside the grace window even though the whole
	// minute count is still 5.
	if got := Arrival(start, start.Add(-5*time.Minute-30*time.Second)); got != model.ArrivalEarly {
		t.Errorf("5m30s early: got %s, want EARLY", got)
	}
	if got := Arrival(start, start.Add(15*time.Minute+30*time.Second)); got != model.ArrivalLate {
		t.Errorf("15m30s late: got %s, want LATE", got)
	}
}
