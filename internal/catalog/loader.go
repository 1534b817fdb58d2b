package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Default JaCoCo report locations applied to projects that leave them empty
const (
	DefaultResultsPath = "**/target/site/jacoco/"
	DefaultCSVPath     = "**/target/site/jacoco/jacoco.csv"
)

// Loader holds the project descriptors and the user directory
type Loader struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
	users    []models.User
	logger   *zap.SugaredLogger
}

// NewLoader creates an empty catalog
func NewLoader(logger *zap.SugaredLogger) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loader{
		projects: make(map[string]*models.Project),
		logger:   logger,
	}
}

// LoadFromDir loads dir/users.yaml and every YAML file below dir/projects.
// Broken project files are skipped; a broken user directory is an error.
func (l *Loader) LoadFromDir(dir string) error {
	l.logger.Infow("loading catalog from directory", "dir", dir)

	for _, name := range []string{"users.yaml", "users.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := l.LoadUsersFile(path); err != nil {
			return err
		}
		break
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, "projects", pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}

	loaded := 0
	for _, file := range files {
		if err := l.LoadProjectFile(file); err != nil {
			l.logger.Warnw("failed to load project", "file", file, "error", err)
			continue
		}
		loaded++
	}

	l.logger.Infow("catalog loaded",
		"projects", loaded,
		"total_files", len(files),
		"users", len(l.Users()),
	)
	return nil
}

// LoadProjectFile loads a single project descriptor
func (l *Loader) LoadProjectFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var project models.Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.AddProject(&project); err != nil {
		return err
	}

	l.logger.Infow("project loaded", "project", project.Name, "activated", project.Activated)
	return nil
}

// LoadUsersFile replaces the user directory with the contents of path
func (l *Loader) LoadUsersFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var uf usersFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return l.SetUsers(uf.Users)
}

// AddProject validates project, applies defaults and registers it
func (l *Loader) AddProject(project *models.Project) error {
	if project.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if project.SearchCommitCount < 0 {
		return fmt.Errorf("search_commit_count must not be negative")
	}

	p := *project
	p.Teams = append([]string(nil), project.Teams...)
	if p.JacocoResultsPath == "" {
		p.JacocoResultsPath = DefaultResultsPath
	}
	if p.JacocoCSVPath == "" {
		p.JacocoCSVPath = DefaultCSVPath
	}

	l.mu.Lock()
	l.projects[p.Name] = &p
	l.mu.Unlock()
	return nil
}

// SetUsers replaces the user directory. User ids must be unique and non-empty.
func (l *Loader) SetUsers(users []models.User) error {
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("user id is required")
		}
		if seen[u.ID] {
			return fmt.Errorf("duplicate user id %q", u.ID)
		}
		seen[u.ID] = true
	}

	l.mu.Lock()
	l.users = copyUsers(users)
	l.mu.Unlock()
	return nil
}

// Project returns a copy of the named project
func (l *Loader) Project(name string) (*models.Project, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.projects[name]
	if !ok {
		return nil, false
	}
	out := *p
	out.Teams = append([]string(nil), p.Teams...)
	return &out, true
}

// ListProjects returns all projects sorted by name
func (l *Loader) ListProjects() []*models.Project {
	l.mu.RLock()
	names := make([]string, 0, len(l.projects))
	for name := range l.projects {
		names = append(names, name)
	}
	l.mu.RUnlock()

	sort.Strings(names)
	result := make([]*models.Project, 0, len(names))
	for _, name := range names {
		if p, ok := l.Project(name); ok {
			result = append(result, p)
		}
	}
	return result
}

// ActivatedProjects returns the names of projects the game runs for
func (l *Loader) ActivatedProjects() []string {
	var names []string
	for _, p := range l.ListProjects() {
		if p.Activated {
			names = append(names, p.Name)
		}
	}
	return names
}

// Users returns a copy of the user directory
func (l *Loader) Users() []models.User {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyUsers(l.users)
}

// User looks up a user by id
func (l *Loader) User(id string) (models.User, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, u := range l.users {
		if u.ID == id {
			u.GitNames = append([]string(nil), u.GitNames...)
			return u, true
		}
	}
	return models.User{}, false
}

func copyUsers(users []models.User) []models.User {
	out := make([]models.User, len(users))
	for i, u := range users {
		u.GitNames = append([]string(nil), u.GitNames...)
		out[i] = u
	}
	return out
}

// usersFile represents the YAML structure of users.yaml
type usersFile struct {
	Users []models.User `yaml:"users"`
}
