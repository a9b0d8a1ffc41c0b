package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyZones = []string{"UTC", "Europe/Moscow", "America/New_York", "Asia/Kolkata", "Australia/Adelaide"}

// TestDateRangeProperties verifies the calendar windows for arbitrary instants.
func TestDateRangeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Second precision keeps the reference comparable with the 23:59:59 bound
	instants := gen.Int64Range(946684800, 2524608000)
	zones := gen.IntRange(0, len(propertyZones)-1)

	properties.Property("today contains the reference instant", prop.ForAll(
		func(unix int64, zone int) bool {
			loc, err := ResolveTimezone(propertyZones[zone])
			if err != nil {
				return false
			}
			reference := time.Unix(unix, 0)
			window, err := NewDateRangeBuilder(loc).BuildRange(RangeToday, reference)
			if err != nil {
				return false
			}
			return !reference.Before(window.Start) && !reference.After(window.End)
		},
		instants, zones,
	))

	properties.Property("windows start at local midnight and end at 23:59:59", prop.ForAll(
		func(unix int64, zone int) bool {
			loc, _ := ResolveTimezone(propertyZones[zone])
			builder := NewDateRangeBuilder(loc)
			for _, kind := range []string{RangeToday, RangeYesterday, RangeLastWeek} {
				window, err := builder.BuildRange(kind, time.Unix(unix, 0))
				if err != nil {
					return false
				}
				if FormatValue(window.End, FormatDateTimeNoTZ)[11:] != "23:59:59" {
					return false
				}
				if window.Start.Location() != loc || !window.Start.Before(window.End) {
					return false
				}
			}
			return true
		},
		instants, zones,
	))

	properties.Property("last_week starts seven calendar days before today", prop.ForAll(
		func(unix int64, zone int) bool {
			loc, _ := ResolveTimezone(propertyZones[zone])
			builder := NewDateRangeBuilder(loc)
			reference := time.Unix(unix, 0)

			today, _ := builder.BuildRange(RangeToday, reference)
			week, _ := builder.BuildRange(RangeLastWeek, reference)

			y, m, d := today.Start.Date()
			want := time.Date(y, m, d-7, 12, 0, 0, 0, time.UTC).Format("2006-01-02")
			return FormatValue(week.Start, FormatDate) == want && week.End.Equal(today.End)
		},
		instants, zones,
	))

	properties.Property("yesterday ends before today starts", prop.ForAll(
		func(unix int64, zone int) bool {
			loc, _ := ResolveTimezone(propertyZones[zone])
			builder := NewDateRangeBuilder(loc)
			reference := time.Unix(unix, 0)

			today, _ := builder.BuildRange(RangeToday, reference)
			yesterday, _ := builder.BuildRange(RangeYesterday, reference)
			return yesterday.End.Before(today.Start)
		},
		instants, zones,
	))

	properties.TestingRun(t)
}

// TestPayloadWithAuthProperties verifies token attachment never mutates the input.
func TestPayloadWithAuthProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("input map is never mutated", prop.ForAll(
		func(keys []string, token string, include bool) bool {
			payload := make(map[string]interface{}, len(keys))
			for _, k := range keys {
				payload[k] = k
			}
			before := len(payload)
			_, hadAuth := payload[AuthField]

			got := PayloadWithAuth(payload, token, include)

			if len(payload) != before {
				return false
			}
			if _, hasAuth := payload[AuthField]; hasAuth != hadAuth {
				return false
			}
			if include && token != "" && !hadAuth {
				return got[AuthField] == token && len(got) == before+1
			}
			return len(got) == before
		},
		gen.SliceOf(gen.OneConstOf("id", "filter", "select", "auth", "start")),
		gen.OneConstOf("", "secret", "another"),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestWebhookURLProperties verifies webhook detection for generated URLs.
func TestWebhookURLProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("rest/<digits>/<secret> is a webhook", prop.ForAll(
		func(userID int, secret string) bool {
			url := fmt.Sprintf("https://portal.bitrix24.ru/rest/%d/%s", userID, secret)
			return IsIncomingWebhookBaseURL(url)
		},
		gen.IntRange(1, 100000),
		gen.Identifier(),
	))

	properties.Property("rest/<identifier>/<secret> is not a webhook", prop.ForAll(
		func(user string, secret string) bool {
			url := fmt.Sprintf("https://portal.bitrix24.ru/rest/%s/%s", user, secret)
			return !IsIncomingWebhookBaseURL(url)
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// TestUpstreamMappingProperties verifies every upstream status maps to an application code.
func TestUpstreamMappingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("upstream errors map to -32002..-32005", prop.ForAll(
		func(status int) bool {
			rpcErr := MapError(&UpstreamError{Message: "failed", StatusCode: status})
			return rpcErr.Code <= AuthenticationError && rpcErr.Code >= RateLimitError
		},
		gen.IntRange(0, 599),
	))

	properties.TestingRun(t)
}
