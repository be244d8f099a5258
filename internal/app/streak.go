package app

import "time"

// StreakEvent selects which transition of the streak state machine applies.
type StreakEvent int

const (
	// StreakPractice is a completed session on the given day (write path).
	StreakPractice StreakEvent = iota
	// StreakObserve is a stats read on the given day (lazy decay).
	StreakObserve
)

// StreakState is the slice of the progress aggregate the streak machine owns.
type StreakState struct {
	Current      int
	Longest      int
	LastPractice *time.Time
}

// CalendarDay maps an instant to its calendar date in loc, represented as
// midnight UTC so that day arithmetic is exact.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the whole calendar days from a to b. Both are reduced to
// their own calendar date first, so stored DATE values compare cleanly.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from) / (24 * time.Hour))
}

// AdvanceStreak is the single streak state machine shared by the completion
// and stats paths.
//
// Practice: first session → 1, same day → unchanged, next day → +1, any
// larger gap → 1. Observe: a gap of more than one day decays the streak to 0;
// it never touches the longest streak or the last practice date, so a later
// Practice on the same inputs lands on the same result.
//
// A last practice date after today (clock skew between writers) is treated as
// today and leaves the state alone.
func AdvanceStreak(s StreakState, today time.Time, ev StreakEvent) StreakState {
	if s.LastPractice != nil && daysBetween(*s.LastPractice, today) < 0 {
		return s
	}

	switch ev {
	case StreakPractice:
		switch {
		case s.LastPractice == nil:
			s.Current = 1
		case daysBetween(*s.LastPractice, today) == 0:
		case daysBetween(*s.LastPractice, today) == 1:
			s.Current++
		default:
			s.Current = 1
		}
		day := CalendarDay(today, time.UTC)
		s.LastPractice = &day
		if s.Current > s.Longest {
			s.Longest = s.Current
		}
	case StreakObserve:
		if s.LastPractice != nil && daysBetween(*s.LastPractice, today) > 1 {
			s.Current = 0
		}
	}
	return s
}
