// Package epiweek implements the MMWR week-numbering calendar used as the
// time axis throughout the nowcasting pipeline. A week is encoded as an
// integer YYYYWW, e.g. 201740 for week 40 of 2017.
package epiweek

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Week is an integer-encoded (year, week-of-year) pair. Total order is
// integer order.
type Week int

// Join builds a Week from a year and a week-of-year.
func Join(year, week int) Week {
	return Week(year*100 + week)
}

// Split decomposes a Week into (year, week-of-year).
func (w Week) Split() (int, int) {
	return int(w) / 100, int(w) % 100
}

// Year returns the calendar year component.
func (w Week) Year() int {
	return int(w) / 100
}

// WeekOfYear returns the week-of-year component.
func (w Week) WeekOfYear() int {
	return int(w) % 100
}

// Valid reports whether the encoded week exists in the MMWR calendar.
func (w Week) Valid() bool {
	year, week := w.Split()
	return year >= 1 && week >= 1 && week <= NumWeeks(year)
}

// Check returns an error describing why the week is invalid, or nil.
func (w Week) Check() error {
	if !w.Valid() {
		return eris.Errorf("epiweek: invalid week %d", int(w))
	}
	return nil
}

func (w Week) String() string {
	return fmt.Sprintf("%06d", int(w))
}

// weekStart returns the first day (Sunday) of week 1 of the given year.
// MMWR week 1 is the Sunday-started week containing January 4.
func weekStart(year int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return jan4.AddDate(0, 0, -int(jan4.Weekday()))
}

// NumWeeks returns the number of MMWR weeks (52 or 53) in the given year.
func NumWeeks(year int) int {
	days := weekStart(year+1).Sub(weekStart(year)) / (24 * time.Hour)
	return int(days) / 7
}

// Time returns the first day of the week.
func (w Week) Time() time.Time {
	year, week := w.Split()
	return weekStart(year).AddDate(0, 0, 7*(week-1))
}

// FromTime returns the Week containing the given time.
func FromTime(t time.Time) Week {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	year := t.Year()
	if t.Before(weekStart(year)) {
		year--
	} else if !t.Before(weekStart(year + 1)) {
		year++
	}
	days := int(t.Sub(weekStart(year)) / (24 * time.Hour))
	return Join(year, days/7+1)
}

// Add returns the week n weeks after w (n may be negative).
func (w Week) Add(n int) Week {
	return FromTime(w.Time().AddDate(0, 0, 7*n))
}

// Delta returns the signed number of weeks from other to w.
func (w Week) Delta(other Week) int {
	return int(w.Time().Sub(other.Time()) / (7 * 24 * time.Hour))
}

// Range returns every week from a to b inclusive, in order.
func Range(a, b Week) []Week {
	if b < a {
		return nil
	}
	weeks := make([]Week, 0, b.Delta(a)+1)
	for w := a; w <= b; w = w.Add(1) {
		weeks = append(weeks, w)
	}
	return weeks
}

// Season returns the surveillance season a week belongs to. Seasons start on
// week 40: weeks 40 and later belong to their own calendar year's season,
// earlier weeks belong to the previous year's.
func (w Week) Season() int {
	year, week := w.Split()
	if week >= 40 {
		return year
	}
	return year - 1
}

// IsHoliday reports whether the week is the new-year holiday week
// (week-of-year 1).
func (w Week) IsHoliday() bool {
	return w.WeekOfYear() == 1
}
