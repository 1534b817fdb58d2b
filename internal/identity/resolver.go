// Package identity maps version-control authors to users of the directory.
package identity

import (
	"strings"
	"sync"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Author is a commit author as recorded by git
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Resolve maps author to a user. Alias sets are checked first for every user,
// then first and last name tokens against full names, then emails.
func Resolve(author Author, users []models.User) (models.User, bool) {
	for _, u := range users {
		if u.HasGitName(author.Name) {
			return u, true
		}
	}

	if first, last, ok := nameTokens(author.Name); ok {
		for _, u := range users {
			if strings.Contains(u.FullName, first) && strings.Contains(u.FullName, last) {
				return u, true
			}
		}
	}

	if author.Email != "" {
		for _, u := range users {
			if u.Email != "" && strings.EqualFold(u.Email, author.Email) {
				return u, true
			}
		}
	}

	return models.User{}, false
}

func nameTokens(name string) (string, string, bool) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", "", false
	}
	return fields[0], fields[len(fields)-1], true
}

// Cache memoizes resolutions for one scan over a fixed user list
type Cache struct {
	users []models.User

	mu       sync.Mutex
	resolved map[Author]cached
}

type cached struct {
	user models.User
	ok   bool
}

// NewCache creates a resolver cache over users
func NewCache(users []models.User) *Cache {
	return &Cache{
		users:    users,
		resolved: make(map[Author]cached),
	}
}

// Resolve returns the cached resolution of author
func (c *Cache) Resolve(author Author) (models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.resolved[author]; ok {
		return r.user, r.ok
	}
	u, ok := Resolve(author, c.users)
	c.resolved[author] = cached{user: u, ok: ok}
	return u, ok
}

// Users returns the directory the cache resolves against
func (c *Cache) Users() []models.User {
	return c.users
}
