// Package costinsights computes the reporting periods used by cost views:
// where a period starts and ends, the ISO-8601 repeating interval that
// describes it, and its human label.
//
// All dates are calendar days formatted as YYYY-MM-DD.
package costinsights

import (
	"fmt"
	"math"
	"time"

	"github.com/jinzhu/now"

	"github.com/phin3has/argolens/internal/apierr"
)

const dateLayout = "2006-01-02"

type Duration string

const (
	P7D    Duration = "P7D"
	P30D   Duration = "P30D"
	P90D   Duration = "P90D"
	P3M    Duration = "P3M"
	Custom Duration = "CUSTOM"
)

// Durations lists every supported duration.
var Durations = []Duration{P7D, P30D, P90D, P3M, Custom}

// DateRange is the inclusive range a Custom duration covers.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParseDuration accepts the canonical duration names.
func ParseDuration(s string) (Duration, error) {
	for _, d := range Durations {
		if string(d) == s {
			return d, nil
		}
	}
	return "", apierr.Configuration("unknown duration %q", s)
}

func (d Duration) fixedDays() (int, bool) {
	switch d {
	case P7D:
		return 7, true
	case P30D:
		return 30, true
	case P90D:
		return 90, true
	}
	return 0, false
}

func errMissingRange() error {
	return apierr.Configuration("CUSTOM duration requires customDateRange parameter")
}

func errUnhandled(d Duration) error {
	return apierr.ProgramInvariant("Unhandled duration: %q", string(d))
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, apierr.Configuration("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

func format(t time.Time) string { return t.Format(dateLayout) }

// inclusiveDays counts the days of r, both ends included.
func (r DateRange) inclusiveDays() (int, error) {
	start, err := parseDate(r.Start)
	if err != nil {
		return 0, err
	}
	end, err := parseDate(r.End)
	if err != nil {
		return 0, err
	}
	return int(math.Round(end.Sub(start).Hours()/24)) + 1, nil
}

// QuarterEndDate returns inclusiveEndDate when it is the last day of a
// quarter, and otherwise the last day of the previous quarter. A date inside
// a quarter belongs to a period still in progress, so it never rounds forward.
func QuarterEndDate(inclusiveEndDate string) (string, error) {
	d, err := parseDate(inclusiveEndDate)
	if err != nil {
		return "", err
	}
	return format(quarterEnd(d)), nil
}

func quarterEnd(d time.Time) time.Time {
	end := now.With(d).EndOfQuarter()
	if end.Year() == d.Year() && end.YearDay() == d.YearDay() {
		return d
	}
	return now.With(d).BeginningOfQuarter().AddDate(0, 0, -1)
}

// ExclusiveEndDateOf is the first day after the period ending at inclusiveEndDate.
func ExclusiveEndDateOf(d Duration, inclusiveEndDate string, r *DateRange) (string, error) {
	t, err := exclusiveEnd(d, inclusiveEndDate, r)
	if err != nil {
		return "", err
	}
	return format(t), nil
}

func exclusiveEnd(d Duration, inclusiveEndDate string, r *DateRange) (time.Time, error) {
	switch d {
	case P7D, P30D, P90D:
		end, err := parseDate(inclusiveEndDate)
		if err != nil {
			return time.Time{}, err
		}
		return end.AddDate(0, 0, 1), nil
	case P3M:
		end, err := parseDate(inclusiveEndDate)
		if err != nil {
			return time.Time{}, err
		}
		return quarterEnd(end).AddDate(0, 0, 1), nil
	case Custom:
		if r == nil {
			return time.Time{}, errMissingRange()
		}
		end, err := parseDate(r.End)
		if err != nil {
			return time.Time{}, err
		}
		return end.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, errUnhandled(d)
	}
}

// InclusiveEndDateOf is always the day before ExclusiveEndDateOf.
func InclusiveEndDateOf(d Duration, inclusiveEndDate string, r *DateRange) (string, error) {
	t, err := exclusiveEnd(d, inclusiveEndDate, r)
	if err != nil {
		return "", err
	}
	return format(t.AddDate(0, 0, -1)), nil
}

// InclusiveStartDateOf returns the first day of the two periods being
// compared. Fixed durations reach back twice their length; a custom range
// starts where it says, or in comparison mode one range-length earlier.
func InclusiveStartDateOf(d Duration, inclusiveEndDate string, r *DateRange, comparisonMode bool) (string, error) {
	switch d {
	case P7D, P30D, P90D:
		end, err := parseDate(inclusiveEndDate)
		if err != nil {
			return "", err
		}
		days, _ := d.fixedDays()
		return format(end.AddDate(0, 0, -2*days)), nil
	case P3M:
		excl, err := exclusiveEnd(d, inclusiveEndDate, r)
		if err != nil {
			return "", err
		}
		return format(now.With(excl).BeginningOfQuarter().AddDate(0, -6, 0)), nil
	case Custom:
		if r == nil {
			return "", errMissingRange()
		}
		if !comparisonMode {
			return r.Start, nil
		}
		start, err := parseDate(r.Start)
		if err != nil {
			return "", err
		}
		days, err := r.inclusiveDays()
		if err != nil {
			return "", err
		}
		return format(start.AddDate(0, 0, -days)), nil
	default:
		return "", errUnhandled(d)
	}
}

// IntervalsOf renders the ISO-8601 repeating interval R{repeating}/{period}/{exclusiveEnd}.
// A custom range is one period of its own length, or two halves (rounded
// down) in comparison mode.
func IntervalsOf(d Duration, inclusiveEndDate string, repeating int, r *DateRange, comparisonMode bool) (string, error) {
	excl, err := ExclusiveEndDateOf(d, inclusiveEndDate, r)
	if err != nil {
		return "", err
	}
	if d != Custom {
		return fmt.Sprintf("R%d/%s/%s", repeating, d, excl), nil
	}
	days, err := r.inclusiveDays()
	if err != nil {
		return "", err
	}
	if comparisonMode {
		days /= 2
	}
	return fmt.Sprintf("R%d/P%dD/%s", repeating, days, excl), nil
}

// FormatPeriod labels the first (isEndDate false) or last period of a comparison.
func FormatPeriod(d Duration, date string, isEndDate bool, r *DateRange, comparisonMode bool) (string, error) {
	switch d {
	case P7D, P30D, P90D:
		days, _ := d.fixedDays()
		return firstOrLast(isEndDate, days), nil
	case P3M:
		var (
			q   string
			err error
		)
		if isEndDate {
			q, err = InclusiveEndDateOf(d, date, r)
		} else {
			q, err = InclusiveStartDateOf(d, date, r, comparisonMode)
		}
		if err != nil {
			return "", err
		}
		t, _ := parseDate(q)
		return quarterLabel(t), nil
	case Custom:
		if r == nil {
			t, err := parseDate(date)
			if err != nil {
				return "", err
			}
			return t.Format("Jan 2, 2006"), nil
		}
		if comparisonMode {
			n, err := r.inclusiveDays()
			if err != nil {
				return "", err
			}
			first := n / 2
			if isEndDate {
				return firstOrLast(true, n-first), nil
			}
			return firstOrLast(false, first), nil
		}
		return rangeLabel(*r)
	default:
		return "", errUnhandled(d)
	}
}

func firstOrLast(last bool, days int) string {
	if last {
		return fmt.Sprintf("Last %d Days", days)
	}
	return fmt.Sprintf("First %d Days", days)
}

func quarterLabel(t time.Time) string {
	return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
}

// rangeLabel renders "Jan 1 - Jan 31, 2020", repeating the year on the start
// when the range spans two years.
func rangeLabel(r DateRange) (string, error) {
	start, err := parseDate(r.Start)
	if err != nil {
		return "", err
	}
	end, err := parseDate(r.End)
	if err != nil {
		return "", err
	}
	if start.Year() != end.Year() {
		return start.Format("Jan 2, 2006") + " - " + end.Format("Jan 2, 2006"), nil
	}
	return start.Format("Jan 2") + " - " + end.Format("Jan 2, 2006"), nil
}
