package models

import (
	"strings"
	"time"
)

// Permissions understood by the API
const (
	PermBuildsWrite = "builds:write"
	PermGameRead    = "game:read"
	PermGameWrite   = "game:write"
)

// ApiClient is a CI host or dashboard allowed to call the API
type ApiClient struct {
	ID          int        `json:"id"`
	Name        string     `json:"name"`
	ApiKey      string     `json:"-"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	Permissions []string   `json:"permissions"`

	// Projects restricts the client to the listed projects; empty means all
	Projects []string `json:"projects,omitempty"`
}

// HasPermission checks a permission. "game:*" grants every game permission, "*" grants all.
func (c *ApiClient) HasPermission(required string) bool {
	if c == nil || !c.IsActive {
		return false
	}

	for _, perm := range c.Permissions {
		switch {
		case perm == "*", perm == required:
			return true
		case strings.HasSuffix(perm, ":*") && strings.HasPrefix(required, strings.TrimSuffix(perm, "*")):
			return true
		}
	}
	return false
}

// CanAccessProject reports whether the client may act on project
func (c *ApiClient) CanAccessProject(project string) bool {
	if c == nil {
		return false
	}
	if len(c.Projects) == 0 {
		return true
	}
	for _, p := range c.Projects {
		if p == project {
			return true
		}
	}
	return false
}

// MaskedApiKey returns the key prefix for logging
func (c *ApiClient) MaskedApiKey() string {
	if len(c.ApiKey) < 8 {
		return "***"
	}
	return c.ApiKey[:8] + "..."
}
