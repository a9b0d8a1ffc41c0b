package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bitrix24-mcp-server/internal/domain"
)

// GitHubReleaseSource reads release notes from the GitHub releases API.
// Successful fetches are cached for the configured TTL; any failure falls
// back to the fallback source.
type GitHubReleaseSource struct {
	repo       string
	token      string
	apiURL     string
	ttl        time.Duration
	httpClient *http.Client
	fallback   domain.ReleaseSource
	logger     *zap.Logger
	now        func() time.Time

	mu          sync.Mutex
	cache       []domain.Release
	lastRefresh time.Time
}

// NewGitHubReleaseSource creates a release source for cfg.ReleasesRepo.
func NewGitHubReleaseSource(cfg domain.GitHubConfig, fallback domain.ReleaseSource, logger *zap.Logger) *GitHubReleaseSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = domain.DefaultGitHubAPIURL
	}
	return &GitHubReleaseSource{
		repo:       strings.Trim(cfg.ReleasesRepo, "/"),
		token:      cfg.Token,
		apiURL:     strings.TrimRight(apiURL, "/"),
		ttl:        time.Duration(cfg.CacheTTLSeconds) * time.Second,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds * float64(time.Second))},
		fallback:   fallback,
		logger:     logger,
		now:        time.Now,
	}
}

// ListReleases implements domain.ReleaseSource.
func (s *GitHubReleaseSource) ListReleases(ctx context.Context) ([]domain.Release, error) {
	if s.repo == "" {
		return s.fallbackReleases(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) > 0 && s.now().Sub(s.lastRefresh) < s.ttl {
		return domain.CloneReleases(s.cache), nil
	}

	releases, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch github releases", zap.String("repo", s.repo), zap.Error(err))
	}
	if len(releases) > 0 {
		s.cache = releases
		s.lastRefresh = s.now()
		return domain.CloneReleases(releases), nil
	}

	return s.fallbackReleases(ctx)
}

func (s *GitHubReleaseSource) fallbackReleases(ctx context.Context) ([]domain.Release, error) {
	if s.fallback == nil {
		return []domain.Release{}, nil
	}
	return s.fallback.ListReleases(ctx)
}

// githubRelease mirrors the fields read from the releases API.
type githubRelease struct {
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Body        string `json:"body"`
	Draft       bool   `json:"draft"`
	Prerelease  bool   `json:"prerelease"`
	HTMLURL     string `json:"html_url"`
	PublishedAt string `json:"published_at"`
}

// fetch downloads the 20 most recent releases.
func (s *GitHubReleaseSource) fetch(ctx context.Context) ([]domain.Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/releases?%s", s.apiURL, s.repo, url.Values{"per_page": {"20"}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("github returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload []githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode releases: %w", err)
	}

	releases := make([]domain.Release, 0, len(payload))
	for _, r := range payload {
		status := domain.ReleaseReleased
		if r.Draft {
			status = domain.ReleaseDraft
		} else if r.Prerelease {
			status = domain.ReleasePrerelease
		}

		title := r.Name
		if title == "" {
			title = r.TagName
		}
		if title == "" {
			title = "Untitled release"
		}
		version := r.TagName
		if version == "" {
			version = title
		}

		releases = append(releases, domain.Release{
			Version:     version,
			Status:      status,
			Title:       title,
			Notes:       notesFromBody(r.Body),
			URL:         r.HTMLURL,
			PublishedAt: r.PublishedAt,
		})
	}
	return releases, nil
}

// notesFromBody splits a release body into its non-blank lines.
func notesFromBody(body string) []string {
	notes := []string{}
	for _, line := range strings.Split(body, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			notes = append(notes, trimmed)
		}
	}
	return notes
}
