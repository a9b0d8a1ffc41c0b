package domain

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolveTimezone(t *testing.T) {
	loc, err := ResolveTimezone("")
	if err != nil || loc != time.UTC {
		t.Errorf("ResolveTimezone(\"\") = %v, %v; want UTC", loc, err)
	}

	loc, err = ResolveTimezone("Europe/Moscow")
	if err != nil {
		t.Fatalf("ResolveTimezone() error = %v", err)
	}
	if loc.String() != "Europe/Moscow" {
		t.Errorf("location = %s, want Europe/Moscow", loc)
	}

	_, err = ResolveTimezone("Nowhere/Special")
	if err == nil {
		t.Fatal("ResolveTimezone() error = nil, want DateRangeError")
	}
	if _, ok := err.(*DateRangeError); !ok {
		t.Errorf("error type = %T, want *DateRangeError", err)
	}
	if err.Error() != "Unknown timezone 'Nowhere/Special'" {
		t.Errorf("error = %s", err.Error())
	}
}

func TestBuildRange(t *testing.T) {
	loc, _ := ResolveTimezone("Europe/Moscow")
	// 2024-03-15 10:30 UTC is 13:30 in Moscow
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	builder := NewDateRangeBuilderWithClock(loc, fixedClock(now))

	tests := []struct {
		kind      string
		wantStart string
		wantEnd   string
	}{
		{RangeToday, "2024-03-15T00:00:00+03:00", "2024-03-15T23:59:59+03:00"},
		{RangeYesterday, "2024-03-14T00:00:00+03:00", "2024-03-14T23:59:59+03:00"},
		{RangeLastWeek, "2024-03-08T00:00:00+03:00", "2024-03-15T23:59:59+03:00"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			window, err := builder.BuildRange(tt.kind, time.Time{})
			if err != nil {
				t.Fatalf("BuildRange() error = %v", err)
			}
			if got := FormatValue(window.Start, ""); got != tt.wantStart {
				t.Errorf("Start = %s, want %s", got, tt.wantStart)
			}
			if got := FormatValue(window.End, ""); got != tt.wantEnd {
				t.Errorf("End = %s, want %s", got, tt.wantEnd)
			}
		})
	}
}

func TestBuildRange_ReferenceCrossesMidnight(t *testing.T) {
	loc, _ := ResolveTimezone("Asia/Tokyo")
	builder := NewDateRangeBuilder(loc)

	// 2024-01-31 20:00 UTC is already 2024-02-01 in Tokyo
	window, err := builder.BuildRange(RangeToday, time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildRange() error = %v", err)
	}
	if got := FormatValue(window.Start, FormatDate); got != "2024-02-01" {
		t.Errorf("Start date = %s, want 2024-02-01", got)
	}
}

func TestBuildRange_UnknownKind(t *testing.T) {
	builder := NewDateRangeBuilder(time.UTC)

	_, err := builder.BuildRange("fortnight", time.Time{})
	if err == nil {
		t.Fatal("BuildRange() error = nil, want error")
	}
	if err.Error() != "Unsupported range type 'fortnight'" {
		t.Errorf("error = %s", err.Error())
	}
	if _, ok := err.(*DateRangeError); !ok {
		t.Errorf("error type = %T, want *DateRangeError", err)
	}
}

func TestFormatValue(t *testing.T) {
	loc := time.FixedZone("MSK", 3*60*60)
	ts := time.Date(2024, 3, 15, 9, 5, 7, 0, loc)

	tests := []struct {
		hint string
		want string
	}{
		{FormatDate, "2024-03-15"},
		{FormatDateTimeNoTZ, "2024-03-15T09:05:07"},
		{"", "2024-03-15T09:05:07+03:00"},
		{"iso", "2024-03-15T09:05:07+03:00"},
	}

	for _, tt := range tests {
		if got := FormatValue(ts, tt.hint); got != tt.want {
			t.Errorf("FormatValue(%q) = %s, want %s", tt.hint, got, tt.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	builder := NewDateRangeBuilderWithClock(time.UTC, fixedClock(now))

	values, err := builder.Placeholders(RangeToday, FormatDate)
	if err != nil {
		t.Fatalf("Placeholders() error = %v", err)
	}

	want := map[string]string{
		"today_start":       "2024-03-15T00:00:00+00:00",
		"today_end":         "2024-03-15T23:59:59+00:00",
		"range_start":       "2024-03-15",
		"range_end":         "2024-03-15",
		"today_date":        "2024-03-15",
		"today_start_no_tz": "2024-03-15T00:00:00",
		"today_end_no_tz":   "2024-03-15T23:59:59",
	}
	for key, value := range want {
		if values[key] != value {
			t.Errorf("%s = %q, want %q", key, values[key], value)
		}
	}

	values, err = builder.Placeholders(RangeYesterday, "")
	if err != nil {
		t.Fatalf("Placeholders() error = %v", err)
	}
	if values["yesterday_start"] != "2024-03-14T00:00:00+00:00" {
		t.Errorf("yesterday_start = %q", values["yesterday_start"])
	}
	if _, ok := values["today_date"]; ok {
		t.Error("today_date should only be present for the today kind")
	}

	if _, err := builder.Placeholders("decade", ""); err == nil {
		t.Error("Placeholders() error = nil for unknown kind")
	}
}

func TestWeekPlaceholders(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	builder := NewDateRangeBuilderWithClock(time.UTC, fixedClock(now))

	week := builder.WeekPlaceholders()
	if week["week_start"] != "2024-03-08T00:00:00+00:00" {
		t.Errorf("week_start = %s", week["week_start"])
	}
	if week["week_end"] != "2024-03-15T23:59:59+00:00" {
		t.Errorf("week_end = %s", week["week_end"])
	}
}
