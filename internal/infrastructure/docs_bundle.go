package infrastructure

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"bitrix24-mcp-server/internal/domain"
)

//go:embed docs/default_bundle.jsonc
var defaultBundle []byte

// Markers delimiting the JSON data block inside a Markdown bundle.
const (
	markdownDataStart = "<!-- prompts:data"
	markdownDataEnd   = "-->"
)

// DefaultDocsBundle parses the embedded documentation bundle.
func DefaultDocsBundle() (*domain.DocsBundle, error) {
	bundle, err := ParseDocsBundle(defaultBundle, ".jsonc")
	if err != nil {
		return nil, fmt.Errorf("embedded docs bundle: %w", err)
	}
	return bundle, nil
}

// LoadDocsBundle reads a documentation bundle from path. The format follows
// the extension: .json and .jsonc (comments and trailing commas allowed),
// .yaml and .yml, or .md with a "<!-- prompts:data {...} -->" block.
// An empty path returns the embedded default bundle.
func LoadDocsBundle(path string) (*domain.DocsBundle, error) {
	if path == "" {
		return DefaultDocsBundle()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading docs bundle %s: %w", path, err)
	}

	bundle, err := ParseDocsBundle(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bundle, nil
}

// ParseDocsBundle decodes a bundle in the format named by ext.
func ParseDocsBundle(data []byte, ext string) (*domain.DocsBundle, error) {
	var bundle domain.DocsBundle

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("parsing docs bundle yaml: %w", err)
		}
	case ".md", ".markdown":
		block, err := extractMarkdownData(string(data))
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(jsonc.ToJSON([]byte(block)), &bundle); err != nil {
			return nil, fmt.Errorf("parsing docs bundle markdown data: %w", err)
		}
	case ".json", ".jsonc", "":
		if err := json.Unmarshal(jsonc.ToJSON(data), &bundle); err != nil {
			return nil, fmt.Errorf("parsing docs bundle json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported docs bundle format %q", ext)
	}

	if err := validateBundle(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// extractMarkdownData returns the JSON object embedded after the data marker.
func extractMarkdownData(markdown string) (string, error) {
	markerPos := strings.Index(markdown, markdownDataStart)
	if markerPos == -1 {
		return "", fmt.Errorf("docs bundle markdown has no %q block", markdownDataStart)
	}
	jsonStart := strings.Index(markdown[markerPos:], "{")
	if jsonStart == -1 {
		return "", fmt.Errorf("docs bundle markdown block has no JSON object")
	}
	jsonStart += markerPos
	end := strings.Index(markdown[jsonStart:], markdownDataEnd)
	if end == -1 {
		return "", fmt.Errorf("docs bundle markdown block is not closed with %q", markdownDataEnd)
	}
	return strings.TrimSpace(markdown[jsonStart : jsonStart+end]), nil
}

// validateBundle rejects warning rules that could never fire.
func validateBundle(bundle *domain.DocsBundle) error {
	var problems []string
	for tool, rules := range bundle.ToolWarnings {
		for i, rule := range rules {
			if rule.Check == "" {
				problems = append(problems, fmt.Sprintf("toolWarnings.%s[%d]: check is required", tool, i))
			}
			if rule.Message == "" {
				problems = append(problems, fmt.Sprintf("toolWarnings.%s[%d]: message is required", tool, i))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid docs bundle: %s", strings.Join(problems, "; "))
	}
	return nil
}
