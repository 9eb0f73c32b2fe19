// Package daterange iterates calendar dates stepped by a typed increment.
package daterange

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"
)

// Unit is the calendar unit of an Increment.
type Unit string

// Supported increment units.
const (
	Years  Unit = "years"
	Months Unit = "months"
	Weeks  Unit = "weeks"
	Days   Unit = "days"
)

var unitAliases = map[string]Unit{
	"y": Years, "year": Years, "years": Years,
	"m": Months, "month": Months, "months": Months,
	"w": Weeks, "week": Weeks, "weeks": Weeks,
	"d": Days, "day": Days, "days": Days,
}

// DefaultIncrement effectively visits only the start date.
const DefaultIncrement = "100 years"

// DefaultStart is the earliest date iterated when neither page nor caller sets one.
var DefaultStart = time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)

// Increment is a positive step of Count units.
type Increment struct {
	Count int
	Unit  Unit
}

// ParseIncrement parses "<n> <unit>", e.g. "1 years" or "6 months".
func ParseIncrement(s string) (Increment, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return Increment{}, fmt.Errorf("increment %q: want \"<n> <unit>\"", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return Increment{}, fmt.Errorf("increment %q: count: %w", s, err)
	}
	if n <= 0 {
		return Increment{}, fmt.Errorf("increment %q: count must be > 0", s)
	}
	unit, ok := unitAliases[strings.ToLower(fields[1])]
	if !ok {
		return Increment{}, fmt.Errorf("increment %q: unknown unit %q", s, fields[1])
	}
	return Increment{Count: n, Unit: unit}, nil
}

// MustParseIncrement is ParseIncrement for constants.
func MustParseIncrement(s string) Increment {
	inc, err := ParseIncrement(s)
	if err != nil {
		panic(err)
	}
	return inc
}

func (i Increment) String() string {
	return fmt.Sprintf("%d %s", i.Count, i.Unit)
}

// Step returns start advanced by n increments. Month and year steps clamp
// to the last day of the target month instead of overflowing into the next.
func (i Increment) Step(start time.Time, n int) time.Time {
	switch i.Unit {
	case Years:
		return addMonths(start, 12*i.Count*n)
	case Months:
		return addMonths(start, i.Count*n)
	case Weeks:
		return start.AddDate(0, 0, 7*i.Count*n)
	default:
		return start.AddDate(0, 0, i.Count*n)
	}
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	ty := y + total/12
	tm := total % 12
	if tm < 0 {
		tm += 12
		ty--
	}
	target := time.Month(tm + 1)
	if last := daysIn(ty, target, t.Location()); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(ty, target, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Range is the half-open interval [Start, End) stepped by Step.
type Range struct {
	Start time.Time
	End   time.Time
	Step  Increment
}

// All yields each date in the range in increasing order. Each cursor is
// computed from Start so the sequence can be restarted and does not drift.
func (r Range) All() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if r.Step.Count <= 0 {
			return
		}
		for n := 0; ; n++ {
			cursor := r.Step.Step(r.Start, n)
			if !cursor.Before(r.End) {
				return
			}
			if !yield(cursor) {
				return
			}
		}
	}
}

// Dates collects All into a slice.
func (r Range) Dates() []time.Time {
	var out []time.Time
	for d := range r.All() {
		out = append(out, d)
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"20060102150405",
	"20060102",
	"2006",
}

// ParseDate accepts a day, an RFC 3339 timestamp, or a 14-digit archive
// timestamp, and returns it in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Pick returns the first non-empty value parsed as a date, or fallback.
func Pick(fallback time.Time, values ...string) (time.Time, error) {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		return ParseDate(v)
	}
	return fallback, nil
}
