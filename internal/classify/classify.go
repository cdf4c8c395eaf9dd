// Package classify maps scan instants to arrival categories.
package classify

import (
	"time"

	"tagsci/internal/model"
)

// Grace windows around the scheduled start. A scan more than earlyGrace
// before the start is EARLY; more than lateGrace after is LATE. Both
// boundaries themselves count as PRESENT.
const (
	earlyGrace = 5 * time.Minute
	lateGrace  = 15 * time.Minute
)

// Arrival classifies an actual scan time against the scheduled start.
// It never returns ABSENT; that category is only reachable through a
// manual log modification for students who were never scanned.
func Arrival(scheduledStart, actual time.Time) model.ArrivalCategory {
	diff := actual.Sub(scheduledStart)
	switch {
	case diff < -earlyGrace:
		return model.ArrivalEarly
	case diff > lateGrace:
		return model.ArrivalLate
	default:
		return model.ArrivalPresent
	}
}
