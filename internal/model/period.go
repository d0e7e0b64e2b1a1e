package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Period is the resolution timestamps are truncated to at extraction time.
type Period string

const (
	PeriodNone  Period = "none"
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod converts a config value into a Period. The empty string means
// PeriodNone.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PeriodNone:
		return PeriodNone, nil
	case PeriodHour, PeriodDay, PeriodMonth:
		return p, nil
	default:
		return "", eris.Errorf("model: unknown period %q (valid: none, hour, day, month)", s)
	}
}

// Truncate rounds t down to the start of its period, in UTC.
func (p Period) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Layout is the time layout used for the Data column.
func (p Period) Layout() string {
	switch p {
	case PeriodDay:
		return "2006-01-02"
	case PeriodMonth:
		return "2006-01"
	default:
		return "2006-01-02 15:04:05"
	}
}

// Format renders t using the period layout.
func (p Period) Format(t time.Time) string {
	return t.UTC().Format(p.Layout())
}
