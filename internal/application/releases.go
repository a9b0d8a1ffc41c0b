package application

import (
	"context"

	"bitrix24-mcp-server/internal/domain"
)

// releaseHistory is the built-in release list, newest first.
var releaseHistory = []domain.Release{
	{
		Version: "Unreleased",
		Status:  domain.ReleaseDraft,
		Title:   "Incoming improvements",
		Notes: []string{
			"Tool results share one envelope across HTTP, JSON-RPC, SSE and WebSocket clients.",
			"getLeads reuses cached dictionaries and returns _meta, aggregates, a copyable last-week filter and timezone hints.",
			"callBitrixMethod proxies arbitrary REST methods; getLeadCalls returns call logs with recordings.",
		},
	},
	{
		Version: "0.2.0",
		Status:  domain.ReleaseReleased,
		Title:   "Release history API with GitHub sync",
		Notes: []string{
			"New versions/releases resource exposes structured release notes over MCP.",
			"github.releases_repo, github.token and cache settings keep the history in sync with GitHub releases.",
		},
	},
	{
		Version: "0.1.0",
		Status:  domain.ReleaseReleased,
		Title:   "Initial public release",
		Notes: []string{
			"Resources for CRM deals, leads, contacts, companies, tasks, users, dictionaries and the leads playbook.",
			"List tools with advisory date-range warnings and pagination metadata.",
		},
	},
}

// StaticReleaseSource serves the built-in release list.
type StaticReleaseSource struct{}

// NewStaticReleaseSource creates a StaticReleaseSource.
func NewStaticReleaseSource() *StaticReleaseSource {
	return &StaticReleaseSource{}
}

// ListReleases implements domain.ReleaseSource.
func (s *StaticReleaseSource) ListReleases(ctx context.Context) ([]domain.Release, error) {
	return domain.CloneReleases(releaseHistory), nil
}
