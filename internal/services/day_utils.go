package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dayLayout       = "2006-01-02"
	yearMonthLayout = "2006-01"
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidYearMonth = errors.New("invalid year-month")
)

func DateAtLocation(value time.Time, location *time.Location) time.Time {
	if location == nil {
		location = time.UTC
	}
	localized := value.In(location)
	year, month, day := localized.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, location)
}

func DayRange(value time.Time, location *time.Location) (time.Time, time.Time) {
	start := DateAtLocation(value, location)
	return start, start.AddDate(0, 0, 1)
}

// CivilDay returns the calendar day value falls on in location, encoded as
// UTC midnight. Runs and day marks store days in this form.
func CivilDay(value time.Time, location *time.Location) time.Time {
	localized := DateAtLocation(value, location)
	year, month, day := localized.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func ParseDay(raw string) (time.Time, error) {
	parsed, err := time.Parse(dayLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return parsed, nil
}

func FormatDay(day time.Time) string {
	return day.Format(dayLayout)
}

func YearMonthOf(day time.Time) string {
	return day.Format(yearMonthLayout)
}

// MonthBounds returns [first day of month, first day of next month).
func MonthBounds(yearMonth string) (time.Time, time.Time, error) {
	start, err := time.Parse(yearMonthLayout, strings.TrimSpace(yearMonth))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidYearMonth, yearMonth)
	}
	return start, start.AddDate(0, 1, 0), nil
}

// MonthsSpanned lists the year-months touched by the half-open interval
// [start, end). An empty interval touches no month.
func MonthsSpanned(start time.Time, end time.Time) []string {
	months := make([]string, 0, 2)
	if !start.Before(end) {
		return months
	}
	cursor := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(end) {
		months = append(months, YearMonthOf(cursor))
		cursor = cursor.AddDate(0, 1, 0)
	}
	return months
}
