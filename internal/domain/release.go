package domain

import "context"

// Release statuses.
const (
	ReleaseReleased   = "released"
	ReleaseDraft      = "draft"
	ReleasePrerelease = "prerelease"
)

// Release is one entry of the release history resource.
type Release struct {
	Version     string   `json:"version"`
	Status      string   `json:"status"`
	Title       string   `json:"title"`
	Notes       []string `json:"notes"`
	URL         string   `json:"url,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
}

// ReleaseSource lists releases, newest first.
type ReleaseSource interface {
	ListReleases(ctx context.Context) ([]Release, error)
}

// CloneReleases returns a copy that shares no slices with releases.
func CloneReleases(releases []Release) []Release {
	out := make([]Release, len(releases))
	for i, r := range releases {
		r.Notes = append([]string(nil), r.Notes...)
		out[i] = r
	}
	return out
}
