package reminder

import "time"

// Scan caps. They bound the day-by-day search so an interval/set combination
// that never satisfies the modulo check cannot loop forever. A rule whose
// first valid occurrence lies beyond the cap is deactivated rather than
// found.
const (
	weeklyScanCapWeeks   = 52
	monthlyScanCapMonths = 120
)

const secondsPerDay = 86400

// IsDue reports whether the reminder should fire at now.
// The boundary is inclusive: a reminder is due the instant now reaches
// its start time.
func IsDue(r Reminder, now time.Time) bool {
	return r.Active && r.StartTime <= now.Unix()
}

// Advance consumes the current occurrence: it either moves StartTime to the
// next occurrence or deactivates the reminder when no occurrence remains.
func Advance(r *Reminder) {
	switch r.Recurrence.Type {
	case RecurOneTime:
		r.Active = false
	case RecurDaily:
		// Flat 24h step; no DST or calendar awareness.
		r.StartTime += secondsPerDay
	case RecurWeekly:
		next, ok := NextWeeklyOccurrence(r.StartAt(), r.Recurrence.Interval, r.Recurrence.Days)
		if ok {
			r.StartTime = next.Unix()
		} else {
			r.Active = false
		}
	case RecurMonthly:
		next, ok := NextMonthlyOccurrence(r.StartAt(), r.Recurrence.Interval, r.Recurrence.Months)
		if ok {
			r.StartTime = next.Unix()
		} else {
			r.Active = false
		}
	default:
		r.Active = false
	}
}

// NextWeeklyOccurrence scans forward one calendar day at a time from the day
// after last, looking for a selected weekday whose whole-week distance from
// last is a multiple of interval. The time-of-day of last carries through
// the scan. Returns false when days is empty or the scan exhausts its cap.
func NextWeeklyOccurrence(last time.Time, interval int, days []time.Weekday) (time.Time, bool) {
	if len(days) == 0 {
		return time.Time{}, false
	}
	if interval < 1 {
		interval = 1
	}
	selected := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		selected[d] = true
	}

	next := last.AddDate(0, 0, 1)
	weeksScanned := 0
	for weeksScanned < weeklyScanCapWeeks {
		if selected[next.Weekday()] {
			weeksSinceStart := wholeDaysBetween(last, next) / 7
			if weeksSinceStart%interval == 0 && next.After(last) {
				return next, true
			}
		}
		next = next.AddDate(0, 0, 1)
		if next.Weekday() == time.Monday {
			weeksScanned++
		}
	}
	return time.Time{}, false
}

// NextMonthlyOccurrence scans forward one calendar day at a time from the day
// after last, looking for a day in a selected month whose calendar-month
// distance from last is a multiple of interval. Day-by-day stepping sidesteps
// variable month lengths and leap years. Returns false when months is empty
// or the scan passes the cap.
func NextMonthlyOccurrence(last time.Time, interval int, months []time.Month) (time.Time, bool) {
	if len(months) == 0 {
		return time.Time{}, false
	}
	if interval < 1 {
		interval = 1
	}
	selected := make(map[time.Month]bool, len(months))
	for _, m := range months {
		selected[m] = true
	}

	next := last.AddDate(0, 0, 1)
	for {
		monthsSinceStart := (next.Year()-last.Year())*12 + int(next.Month()) - int(last.Month())
		if monthsSinceStart > monthlyScanCapMonths {
			return time.Time{}, false
		}
		if selected[next.Month()] && monthsSinceStart%interval == 0 && next.After(last) {
			return next, true
		}
		next = next.AddDate(0, 0, 1)
	}
}

func wholeDaysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
