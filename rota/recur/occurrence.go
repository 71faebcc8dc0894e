package recur

import "time"

// Pattern identifies a recurrence cadence
type Pattern string

// Recurrence patterns
const (
	PatternWeekly    Pattern = "weekly"
	PatternMonthly   Pattern = "monthly"
	PatternQuarterly Pattern = "quarterly"
	PatternAnnually  Pattern = "annually"
)

// ValidPattern reports whether p is a known recurrence pattern
func ValidPattern(p Pattern) bool {
	switch p {
	case PatternWeekly, PatternMonthly, PatternQuarterly, PatternAnnually:
		return true
	}
	return false
}

// NextOccurrence computes the occurrence date that follows current.
// Pure calendar arithmetic, no I/O.
//
// Weekly templates read anchorDay as a weekday (0=Sunday..6=Saturday,
// matching time.Weekday): the result is that weekday of the week lying
// interval*7 days ahead, which may be earlier in the week than the
// starting weekday. The other patterns read anchorDay as a day of month
// and clamp it to the target month's last day when the month is shorter,
// so an anchor of 31 yields April 30, then May 31 again.
//
// Quarterly steps exactly three months and annually exactly one year;
// interval multiplies only the weekly and monthly cadences. That
// asymmetry is long-standing billing-visible behavior and is kept as is.
//
// Results are midnight UTC. An unknown pattern returns current
// unchanged; Template.Validate rejects such templates before storage.
func NextOccurrence(current time.Time, pattern Pattern, anchorDay, interval int) time.Time {
	switch pattern {
	case PatternWeekly:
		next := current.AddDate(0, 0, interval*7)
		next = next.AddDate(0, 0, anchorDay-int(next.Weekday()))
		return dateOnly(next)
	case PatternMonthly:
		return monthStep(current, interval, anchorDay)
	case PatternQuarterly:
		return monthStep(current, 3, anchorDay)
	case PatternAnnually:
		return monthStep(current, 12, anchorDay)
	}
	return current
}

// monthStep advances current by a whole number of months, carrying into
// the year, and lands on min(anchorDay, days in the target month).
func monthStep(current time.Time, months, anchorDay int) time.Time {
	year, month, _ := current.Date()
	m := int(month) + months
	year += (m - 1) / 12
	m = (m-1)%12 + 1

	day := anchorDay
	if last := daysInMonth(year, time.Month(m)); day > last {
		day = last
	}
	return time.Date(year, time.Month(m), day, 0, 0, 0, 0, time.UTC)
}

// daysInMonth returns the calendar length of a month. Day zero of the
// following month normalizes back to the last day of this one.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// dateOnly strips the clock, leaving midnight UTC of the same calendar day
func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
