package domain

import (
	"fmt"
	"time"
)

// Range kinds understood by DateRangeBuilder.
const (
	RangeToday     = "today"
	RangeYesterday = "yesterday"
	RangeLastWeek  = "last_week"
)

// Format hints understood by FormatValue. Any other hint renders ISO 8601
// with the local offset.
const (
	FormatDate         = "date"
	FormatDateTimeNoTZ = "datetime_no_tz"
)

const (
	isoLayout      = "2006-01-02T15:04:05-07:00"
	noTZLayout     = "2006-01-02T15:04:05"
	dateOnlyLayout = "2006-01-02"
)

// ResolveTimezone returns the location for an IANA name. An empty name is UTC.
func ResolveTimezone(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &DateRangeError{Message: fmt.Sprintf("Unknown timezone '%s'", name)}
	}
	return loc, nil
}

// DateRange is a closed calendar window in a fixed location.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DateRangeBuilder computes calendar windows in one timezone.
// It holds no state besides the location and the clock.
type DateRangeBuilder struct {
	loc *time.Location
	now func() time.Time
}

// NewDateRangeBuilder creates a builder for loc using the wall clock.
func NewDateRangeBuilder(loc *time.Location) *DateRangeBuilder {
	return NewDateRangeBuilderWithClock(loc, time.Now)
}

// NewDateRangeBuilderWithClock creates a builder with an injected clock.
// This is primarily used for testing.
func NewDateRangeBuilderWithClock(loc *time.Location, now func() time.Time) *DateRangeBuilder {
	if loc == nil {
		loc = time.UTC
	}
	return &DateRangeBuilder{loc: loc, now: now}
}

// Location returns the builder's timezone.
func (b *DateRangeBuilder) Location() *time.Location {
	return b.loc
}

// BuildRange returns the window of the given kind around reference.
// A zero reference means now.
//
//   - today: local midnight through 23:59:59
//   - yesterday: the same window one day earlier
//   - last_week: seven days before today's midnight through the end of today
func (b *DateRangeBuilder) BuildRange(kind string, reference time.Time) (DateRange, error) {
	if reference.IsZero() {
		reference = b.now()
	}
	local := reference.In(b.loc)
	y, m, d := local.Date()

	// Calendar arithmetic on the date keeps DST transitions on wall-clock time
	dayWindow := func(offset int) DateRange {
		return DateRange{
			Start: time.Date(y, m, d+offset, 0, 0, 0, 0, b.loc),
			End:   time.Date(y, m, d+offset, 23, 59, 59, 0, b.loc),
		}
	}

	switch kind {
	case RangeToday:
		return dayWindow(0), nil
	case RangeYesterday:
		return dayWindow(-1), nil
	case RangeLastWeek:
		return DateRange{
			Start: time.Date(y, m, d-7, 0, 0, 0, 0, b.loc),
			End:   time.Date(y, m, d, 23, 59, 59, 0, b.loc),
		}, nil
	default:
		return DateRange{}, &DateRangeError{Message: fmt.Sprintf("Unsupported range type '%s'", kind)}
	}
}

// FormatValue renders t according to hint.
func FormatValue(t time.Time, hint string) string {
	switch hint {
	case FormatDate:
		return t.Format(dateOnlyLayout)
	case FormatDateTimeNoTZ:
		return t.Format(noTZLayout)
	default:
		return t.Format(isoLayout)
	}
}

// Placeholders returns the named strings a warning template may reference
// for the given kind: {kind}_start, {kind}_end, range_start and range_end,
// plus today_date, today_start_no_tz and today_end_no_tz for today.
func (b *DateRangeBuilder) Placeholders(kind, hint string) (map[string]string, error) {
	window, err := b.BuildRange(kind, time.Time{})
	if err != nil {
		return nil, err
	}

	values := map[string]string{
		kind + "_start": FormatValue(window.Start, ""),
		kind + "_end":   FormatValue(window.End, ""),
		"range_start":   FormatValue(window.Start, hint),
		"range_end":     FormatValue(window.End, hint),
	}
	if kind == RangeToday {
		values["today_date"] = FormatValue(window.Start, FormatDate)
		values["today_start_no_tz"] = FormatValue(window.Start, FormatDateTimeNoTZ)
		values["today_end_no_tz"] = FormatValue(window.End, FormatDateTimeNoTZ)
	}
	return values, nil
}

// WeekPlaceholders returns week_start and week_end for the last_week window.
func (b *DateRangeBuilder) WeekPlaceholders() map[string]string {
	// last_week is always a known kind
	window, _ := b.BuildRange(RangeLastWeek, time.Time{})
	return map[string]string{
		"week_start": FormatValue(window.Start, ""),
		"week_end":   FormatValue(window.End, ""),
	}
}
