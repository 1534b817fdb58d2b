package models

import (
	"github.com/google/uuid"
)

// pseudonymNamespace scopes user pseudonyms so they never collide with class ids
var pseudonymNamespace = uuid.MustParse("5b0f7c1e-3c9a-4f55-9a51-0e6c2d7f4b1a")

// User is an entry of the user directory
type User struct {
	ID       string   `json:"id" yaml:"id"`
	FullName string   `json:"full_name" yaml:"full_name"`
	Email    string   `json:"email,omitempty" yaml:"email"`
	GitNames []string `json:"git_names,omitempty" yaml:"git_names"`
}

// Pseudonym returns a stable opaque identifier used in exported statistics
func (u User) Pseudonym() string {
	return uuid.NewSHA1(pseudonymNamespace, []byte(u.ID)).String()
}

// HasGitName reports whether name is one of the user's explicit git aliases
func (u User) HasGitName(name string) bool {
	for _, alias := range u.GitNames {
		if alias == name {
			return true
		}
	}
	return false
}
