package grid

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBadTimeAxis is returned when a file's time variable cannot be decoded.
var ErrBadTimeAxis = eris.New("grid: bad time axis")

// DefaultCalendar applies when the time variable declares none.
const DefaultCalendar = "standard"

var unitSteps = map[string]time.Duration{
	"second":  time.Second,
	"seconds": time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"s":       time.Second,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"h":       time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
	"d":       24 * time.Hour,
}

// Go's calendar is the proleptic Gregorian one; for data after 1582 the
// three names agree.
var calendars = map[string]bool{
	"standard":            true,
	"gregorian":           true,
	"proleptic_gregorian": true,
}

var refLayouts = []string{
	"2006-1-2 15:4:5Z07:00",
	"2006-1-2 15:4:5 Z07:00",
	"2006-1-2 15:4:5",
	"2006-1-2 15:4Z07:00",
	"2006-1-2 15:4",
	"2006-1-2 15",
	"2006-1-2",
}

// ParseUnits splits a CF "<unit> since <reference>" string.
func ParseUnits(units string) (time.Duration, time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(units))
	if len(fields) < 3 || !strings.EqualFold(fields[1], "since") {
		return 0, time.Time{}, eris.Wrapf(ErrBadTimeAxis, "grid: units %q are not \"<unit> since <date>\"", units)
	}
	step, ok := unitSteps[strings.ToLower(fields[0])]
	if !ok {
		return 0, time.Time{}, eris.Wrapf(ErrBadTimeAxis, "grid: unsupported time unit %q", fields[0])
	}

	ref := strings.Join(fields[2:], " ")
	for _, suffix := range []string{" UTC", " GMT", "Z"} {
		if strings.HasSuffix(ref, suffix) {
			ref = strings.TrimSuffix(ref, suffix)
			break
		}
	}
	ref = strings.Replace(ref, "T", " ", 1)
	for _, layout := range refLayouts {
		if t, err := time.Parse(layout, ref); err == nil {
			return step, t.UTC(), nil
		}
	}
	return 0, time.Time{}, eris.Wrapf(ErrBadTimeAxis, "grid: unparseable reference date %q", strings.Join(fields[2:], " "))
}

// DecodeTimes converts numeric offsets into UTC timestamps. An empty calendar
// means DefaultCalendar.
func DecodeTimes(values []float64, units, calendar string) ([]time.Time, error) {
	if strings.TrimSpace(units) == "" {
		return nil, eris.Wrap(ErrBadTimeAxis, "grid: time variable has no units")
	}
	cal := strings.ToLower(strings.TrimSpace(calendar))
	if cal == "" {
		cal = DefaultCalendar
	}
	if !calendars[cal] {
		return nil, eris.Wrapf(ErrBadTimeAxis, "grid: unsupported calendar %q", calendar)
	}

	step, ref, err := ParseUnits(units)
	if err != nil {
		return nil, err
	}

	out := make([]time.Time, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, eris.Wrapf(ErrBadTimeAxis, "grid: time value %d is not finite", i)
		}
		t, ok := offset(ref, v, step)
		if !ok {
			return nil, eris.Wrapf(ErrBadTimeAxis, "grid: time value %d (%g) out of range for %q", i, v, units)
		}
		out[i] = t
	}
	return out, nil
}

// maxOffsetSecs bounds an offset to roughly ±300k years.
const maxOffsetSecs = 1e13

// offset adds v steps to ref in whole seconds plus a nanosecond remainder,
// so reference epochs centuries back do not overflow time.Duration.
func offset(ref time.Time, v float64, step time.Duration) (time.Time, bool) {
	secs := v * step.Seconds()
	if math.Abs(secs) > maxOffsetSecs {
		return time.Time{}, false
	}
	whole := math.Floor(secs)
	nsec := int64(math.Round((secs - whole) * 1e9))
	t := time.Unix(ref.Unix()+int64(whole), int64(ref.Nanosecond())+nsec).UTC()
	return t.Round(time.Millisecond), true
}
