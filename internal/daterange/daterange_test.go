package daterange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseIncrement(t *testing.T) {
	t.Parallel()

	cases := map[string]Increment{
		"1 years":   {1, Years},
		"100 years": {100, Years},
		"6 month":   {6, Months},
		"2 Weeks":   {2, Weeks},
		" 3 d ":     {3, Days},
	}
	for in, want := range cases {
		got, err := ParseIncrement(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "years", "1", "0 days", "-1 days", "x days", "1 fortnights", "1 2 days"} {
		_, err := ParseIncrement(bad)
		require.Error(t, err, bad)
	}
}

func TestRangeSingleUnitWhenStepExceedsEnd(t *testing.T) {
	t.Parallel()

	r := Range{Start: day(2010, 1, 1), End: day(2010, 1, 2), Step: MustParseIncrement("1 years")}
	require.Equal(t, []time.Time{day(2010, 1, 1)}, r.Dates())
}

func TestRangeIsHalfOpen(t *testing.T) {
	t.Parallel()

	r := Range{Start: day(2010, 1, 1), End: day(2013, 1, 1), Step: MustParseIncrement("1 years")}
	require.Equal(t, []time.Time{day(2010, 1, 1), day(2011, 1, 1), day(2012, 1, 1)}, r.Dates())

	empty := Range{Start: day(2013, 1, 1), End: day(2013, 1, 1), Step: MustParseIncrement("1 days")}
	require.Empty(t, empty.Dates())
}

func TestRangeMonthClampsWithoutDrift(t *testing.T) {
	t.Parallel()

	r := Range{Start: day(2020, 1, 31), End: day(2020, 5, 1), Step: MustParseIncrement("1 months")}
	require.Equal(t, []time.Time{
		day(2020, 1, 31),
		day(2020, 2, 29),
		day(2020, 3, 31),
		day(2020, 4, 30),
	}, r.Dates())
}

func TestRangeLeapYearStep(t *testing.T) {
	t.Parallel()

	inc := MustParseIncrement("1 years")
	require.Equal(t, day(2021, 2, 28), inc.Step(day(2020, 2, 29), 1))
	require.Equal(t, day(2024, 2, 29), inc.Step(day(2020, 2, 29), 4))
}

func TestRangeIsRestartableAndStoppable(t *testing.T) {
	t.Parallel()

	r := Range{Start: day(2020, 1, 1), End: day(2020, 2, 1), Step: MustParseIncrement("1 weeks")}
	first := r.Dates()
	second := r.Dates()
	require.Len(t, first, 5)
	require.Equal(t, first, second)

	var seen []time.Time
	for d := range r.All() {
		seen = append(seen, d)
		if len(seen) == 2 {
			break
		}
	}
	require.Equal(t, first[:2], seen)
}

func TestRangeDefaultIncrementVisitsOnlyStart(t *testing.T) {
	t.Parallel()

	r := Range{Start: DefaultStart, End: day(2026, 10, 19), Step: MustParseIncrement(DefaultIncrement)}
	require.Equal(t, []time.Time{DefaultStart}, r.Dates())
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]time.Time{
		"2010-01-01":                day(2010, 1, 1),
		"20100101123000":            time.Date(2010, 1, 1, 12, 30, 0, 0, time.UTC),
		"2010-01-01T05:00:00Z":      time.Date(2010, 1, 1, 5, 0, 0, 0, time.UTC),
		"2010-01-01T00:00:00-05:00": time.Date(2010, 1, 1, 5, 0, 0, 0, time.UTC),
	} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s: got %v", in, got)
		require.Equal(t, time.UTC, got.Location())
	}
	_, err := ParseDate("yesterday")
	require.Error(t, err)
}

func TestPick(t *testing.T) {
	t.Parallel()

	fallback := day(1995, 1, 1)
	got, err := Pick(fallback, "", "2001-02-03", "2005-01-01")
	require.NoError(t, err)
	require.Equal(t, day(2001, 2, 3), got)

	got, err = Pick(fallback, "", " ")
	require.NoError(t, err)
	require.Equal(t, fallback, got)

	_, err = Pick(fallback, "nope")
	require.Error(t, err)
}
