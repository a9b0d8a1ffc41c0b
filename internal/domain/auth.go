package domain

import (
	"net/url"
	"strings"
)

// AuthField is the payload key Bitrix24 reads the access token from.
const AuthField = "auth"

// PayloadWithAuth returns the payload with the access token attached.
// The original map is returned untouched when auth is disabled, when no
// token is configured, or when the caller already supplied an auth value.
// Otherwise a shallow copy is returned so the caller's map is not mutated.
func PayloadWithAuth(payload map[string]interface{}, token string, includeAuth bool) map[string]interface{} {
	if !includeAuth || token == "" {
		return payload
	}
	if _, ok := payload[AuthField]; ok {
		return payload
	}

	merged := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged[AuthField] = token
	return merged
}

// IsIncomingWebhookBaseURL reports whether baseURL has the incoming webhook
// shape /rest/<user id>/<secret>, in which case the secret is part of the
// URL and no token has to be sent in the payload.
func IsIncomingWebhookBaseURL(baseURL string) bool {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return false
	}

	segments := strings.FieldsFunc(parsed.Path, func(r rune) bool { return r == '/' })
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] != "rest" {
			continue
		}
		if isDigits(segments[i+1]) && segments[i+2] != "" {
			return true
		}
	}
	return false
}

// RedactedBaseURL returns baseURL safe for logs: user info and query are
// dropped, and the secret segment of an incoming webhook path is masked.
func RedactedBaseURL(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "<unparseable>"
	}
	parsed.User = nil
	parsed.RawQuery = ""
	parsed.Fragment = ""

	segments := strings.Split(parsed.Path, "/")
	for i := 0; i+2 < len(segments); i++ {
		if segments[i] == "rest" && isDigits(segments[i+1]) && segments[i+2] != "" {
			segments[i+2] = "REDACTED"
		}
	}
	parsed.Path = strings.Join(segments, "/")
	parsed.RawPath = ""
	return parsed.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
