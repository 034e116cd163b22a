package util

import "time"

// A-share continuous-auction session boundaries, minutes since midnight
// local time. Morning 09:15-11:30, afternoon 13:00-15:00.
const (
	morningOpen    = 9*60 + 15
	morningClose   = 11*60 + 30
	afternoonOpen  = 13 * 60
	afternoonClose = 15 * 60
)

// InTradingSession reports whether t falls inside the morning or afternoon
// A-share trading window. Boundaries are inclusive. Weekends and exchange
// holidays are not considered here; the risk chain treats this as a plain
// local-clock gate.
func InTradingSession(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return (m >= morningOpen && m <= morningClose) ||
		(m >= afternoonOpen && m <= afternoonClose)
}

// InCollectionWindow reports whether t is inside the data-collection window
// used by the snapshot poller: weekdays 09:00-16:00 local. Wider than the
// trading session so that pre-open and post-close snapshots are captured.
func InCollectionWindow(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return t.Hour() >= 9 && t.Hour() < 16
}

// LocalDate formats t as a calendar date key (YYYY-MM-DD). The daily order
// counter and T+1 bookkeeping are both keyed on this value.
func LocalDate(t time.Time) string {
	return t.Format("2006-01-02")
}
