package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"bitrix24-mcp-server/internal/domain"
)

// userEntry is a cached user record; a nil user marks an ID that Bitrix24
// could not resolve, so it is not requested again.
type userEntry struct {
	user map[string]interface{}
}

// UserDirectory resolves user IDs through user.get and remembers both hits
// and misses. It is bounded by an LRU and shared by every request.
type UserDirectory struct {
	gateway domain.Gateway
	users   *lru.Cache[string, userEntry]
	logger  *StructuredLogger
}

// NewUserDirectory creates a directory caching at most maxUsers IDs.
func NewUserDirectory(gateway domain.Gateway, maxUsers int, logger *StructuredLogger) (*UserDirectory, error) {
	if maxUsers <= 0 {
		maxUsers = domain.DefaultCacheMaxUsers
	}
	users, err := lru.New[string, userEntry](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to create user cache: %w", err)
	}
	if logger == nil {
		logger = NewStructuredLogger(nil)
	}
	return &UserDirectory{gateway: gateway, users: users, logger: logger}, nil
}

// Load returns the user records for ids, keyed by the requested ID and by
// the ID Bitrix24 reports when they differ. Unknown users are omitted.
// IDs are fetched one by one; an upstream failure marks that ID as unknown.
func (d *UserDirectory) Load(ctx context.Context, ids []string) (map[string]map[string]interface{}, error) {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			unique[id] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(unique))
	for id := range unique {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	result := make(map[string]map[string]interface{}, len(ordered))
	for _, id := range ordered {
		if entry, ok := d.users.Get(id); ok {
			if entry.user != nil {
				result[id] = entry.user
			}
			continue
		}

		user, err := d.fetch(ctx, id)
		if err != nil {
			var upstream *domain.UpstreamError
			if !errors.As(err, &upstream) {
				return nil, err
			}
			d.logger.LogWarn("user lookup failed", map[string]interface{}{
				"user_id": id,
				"error":   err.Error(),
			})
			d.users.Add(id, userEntry{})
			continue
		}
		if user == nil {
			d.users.Add(id, userEntry{})
			continue
		}

		d.users.Add(id, userEntry{user: user})
		result[id] = user
		if resolved := stringValue(user["ID"]); resolved != "" && resolved != id {
			d.users.Add(resolved, userEntry{user: user})
			result[resolved] = user
		}
	}
	return result, nil
}

// fetch requests one user. Numeric IDs are sent as integers.
func (d *UserDirectory) fetch(ctx context.Context, id string) (map[string]interface{}, error) {
	var payloadID interface{} = id
	if n, err := strconv.Atoi(id); err == nil {
		payloadID = n
	}

	response, err := d.gateway.Call(ctx, "user.get", map[string]interface{}{"ID": payloadID})
	if err != nil {
		return nil, err
	}

	switch result := response["result"].(type) {
	case map[string]interface{}:
		return result, nil
	case []interface{}:
		for _, item := range result {
			if user, ok := item.(map[string]interface{}); ok {
				return user, nil
			}
		}
	}
	return nil, nil
}

// UserSummary is the _meta entry describing a user.
func UserSummary(id string, user map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"name":         userDisplayName(user),
		"firstName":    user["NAME"],
		"lastName":     user["LAST_NAME"],
		"email":        user["EMAIL"],
		"workPosition": user["WORK_POSITION"],
		"raw":          deepCopyMap(user),
	}
}

// userDisplayName joins first and last name, then falls back to the login
// and finally to the ID.
func userDisplayName(user map[string]interface{}) string {
	var parts []string
	for _, key := range []string{"NAME", "LAST_NAME"} {
		if part := trimmedString(user[key]); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		return joinSpace(parts)
	}
	if login := stringValue(user["LOGIN"]); login != "" {
		return login
	}
	if id := stringValue(user["ID"]); id != "" {
		return id
	}
	return "unknown"
}
