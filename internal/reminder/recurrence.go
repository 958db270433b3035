package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecurrenceType is a closed set; decoding an unknown value fails instead of
// silently degrading to one_time.
type RecurrenceType string

const (
	RecurOneTime RecurrenceType = "one_time"
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
)

var (
	ErrInvalidRecurrenceType = errors.New("reminder: invalid recurrence type")
	ErrInvalidInterval       = errors.New("reminder: recurrence interval must be >= 1")
	ErrUnknownWeekday        = errors.New("reminder: unknown weekday name")
	ErrUnknownMonth          = errors.New("reminder: unknown month name")
)

func (t RecurrenceType) IsValid() bool {
	switch t {
	case RecurOneTime, RecurDaily, RecurWeekly, RecurMonthly:
		return true
	default:
		return false
	}
}

// Recurrence is the tagged rule variant attached to a reminder.
//
// Interval and Days apply to weekly rules, Interval and Months to monthly
// rules; both are ignored for one_time and daily.
type Recurrence struct {
	Type     RecurrenceType
	Interval int
	Days     []time.Weekday
	Months   []time.Month
}

func (r Recurrence) Validate() error {
	switch r.Type {
	case RecurOneTime, RecurDaily:
		return nil
	case RecurWeekly, RecurMonthly:
		if r.Interval < 1 {
			return fmt.Errorf("%w: %d", ErrInvalidInterval, r.Interval)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceType, r.Type)
	}
}

// String renders the rule the way the reminder tables display it.
func (r Recurrence) String() string {
	switch r.Type {
	case RecurDaily:
		return "Daily"
	case RecurWeekly:
		return fmt.Sprintf("Weekly, every %d week(s) on %s", r.Interval, joinWeekdays(r.Days))
	case RecurMonthly:
		return fmt.Sprintf("Monthly, every %d month(s) on %s", r.Interval, joinMonths(r.Months))
	default:
		return "One time"
	}
}

func joinWeekdays(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

func joinMonths(months []time.Month) string {
	names := make([]string, 0, len(months))
	for _, m := range months {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}

// ---- JSON wire form ----
//
// The persisted shape is the store file format: type plus, for weekly
// rules, {"interval": N, "days": ["Monday", ...]} and, for monthly rules,
// {"interval": N, "months": ["January", ...]}.

type recurrenceJSON struct {
	Type     RecurrenceType `json:"type"`
	Interval int            `json:"interval,omitempty"`
	Days     []string       `json:"days,omitempty"`
	Months   []string       `json:"months,omitempty"`
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	out := recurrenceJSON{Type: r.Type}
	switch r.Type {
	case RecurWeekly:
		out.Interval = r.Interval
		out.Days = make([]string, 0, len(r.Days))
		for _, d := range r.Days {
			out.Days = append(out.Days, d.String())
		}
	case RecurMonthly:
		out.Interval = r.Interval
		out.Months = make([]string, 0, len(r.Months))
		for _, m := range r.Months {
			out.Months = append(out.Months, m.String())
		}
	}
	return json.Marshal(out)
}

func (r *Recurrence) UnmarshalJSON(data []byte) error {
	var raw recurrenceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceType, raw.Type)
	}

	out := Recurrence{Type: raw.Type, Interval: raw.Interval}
	switch raw.Type {
	case RecurWeekly:
		if out.Interval == 0 {
			out.Interval = 1
		}
		for _, name := range raw.Days {
			d, err := ParseWeekday(name)
			if err != nil {
				return err
			}
			out.Days = append(out.Days, d)
		}
	case RecurMonthly:
		if out.Interval == 0 {
			out.Interval = 1
		}
		for _, name := range raw.Months {
			m, err := ParseMonth(name)
			if err != nil {
				return err
			}
			out.Months = append(out.Months, m)
		}
	}
	*r = out
	return nil
}

var weekdayNames = map[string]time.Weekday{
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
	"Sunday":    time.Sunday,
}

var monthNames = map[string]time.Month{
	"January":   time.January,
	"February":  time.February,
	"March":     time.March,
	"April":     time.April,
	"May":       time.May,
	"June":      time.June,
	"July":      time.July,
	"August":    time.August,
	"September": time.September,
	"October":   time.October,
	"November":  time.November,
	"December":  time.December,
}

func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.TrimSpace(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
	}
	return d, nil
}

func ParseMonth(name string) (time.Month, error) {
	m, ok := monthNames[strings.TrimSpace(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMonth, name)
	}
	return m, nil
}
