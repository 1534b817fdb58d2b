package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/challenge-engine/internal/models"
)

func directory() []models.User {
	return []models.User{
		{ID: "jdoe", FullName: "Jane Doe", Email: "jane@x.com", GitNames: []string{"jane"}},
		{ID: "jsmith", FullName: "John Smith", Email: "john@x.com"},
		{ID: "ci", FullName: "Build Bot", Email: "bot@x.com", GitNames: []string{"Jane Doe"}},
	}
}

func TestResolve_AliasWinsOverName(t *testing.T) {
	// "Jane Doe" is an explicit alias of the bot; alias pass runs before name matching
	u, ok := Resolve(Author{Name: "Jane Doe", Email: "jane@x.com"}, directory())
	require.True(t, ok)
	assert.Equal(t, "ci", u.ID)
}

func TestResolve_Alias(t *testing.T) {
	u, ok := Resolve(Author{Name: "jane", Email: "other@y.com"}, directory())
	require.True(t, ok)
	assert.Equal(t, "jdoe", u.ID)
}

func TestResolve_NameTokens(t *testing.T) {
	u, ok := Resolve(Author{Name: "John Q Smith", Email: "nobody@y.com"}, directory())
	require.True(t, ok)
	assert.Equal(t, "jsmith", u.ID)
}

func TestResolve_Email(t *testing.T) {
	u, ok := Resolve(Author{Name: "jsm", Email: "JOHN@x.com"}, directory())
	require.True(t, ok)
	assert.Equal(t, "jsmith", u.ID)
}

func TestResolve_Unattributed(t *testing.T) {
	_, ok := Resolve(Author{Name: "Mallory", Email: "m@evil.com"}, directory())
	assert.False(t, ok)

	_, ok = Resolve(Author{}, directory())
	assert.False(t, ok)
}

func TestCache(t *testing.T) {
	c := NewCache(directory())

	u, ok := c.Resolve(Author{Name: "jane"})
	require.True(t, ok)
	assert.Equal(t, "jdoe", u.ID)

	// second lookup served from the cache
	u, ok = c.Resolve(Author{Name: "jane"})
	require.True(t, ok)
	assert.Equal(t, "jdoe", u.ID)
	assert.Len(t, c.resolved, 1)
}
