package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/models"
)

type projectKey struct {
	project string
	user    string
}

type runKey struct {
	project string
	branch  string
	number  int
}

// MemoryRepository implements Repository in process memory. Every value is
// copied on the way in and out.
type MemoryRepository struct {
	mu             sync.RWMutex
	participations map[projectKey]*challenge.Participation
	builds         map[runKey]models.Build
	runs           map[runKey]models.RunEntry
	clients        map[string]*models.ApiClient
	nextClientID   int
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		participations: make(map[projectKey]*challenge.Participation),
		builds:         make(map[runKey]models.Build),
		runs:           make(map[runKey]models.RunEntry),
		clients:        make(map[string]*models.ApiClient),
		nextClientID:   1,
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }
func (r *MemoryRepository) Close() error               { return nil }

func (r *MemoryRepository) GetParticipation(_ context.Context, project, userID string) (*challenge.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participations[projectKey{project, userID}]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (r *MemoryRepository) ListParticipations(_ context.Context, project string) ([]*challenge.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*challenge.Participation
	for key, p := range r.participations {
		if key.project == project {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *MemoryRepository) SaveParticipation(_ context.Context, p *challenge.Participation) error {
	cp := p.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.participations[projectKey{p.Project, p.UserID}] = cp
	return nil
}

func (r *MemoryRepository) DeleteParticipation(_ context.Context, project, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := projectKey{project, userID}
	if _, ok := r.participations[key]; !ok {
		return fmt.Errorf("participation not found: %s/%s", project, userID)
	}
	delete(r.participations, key)
	return nil
}

func (r *MemoryRepository) RecordBuild(_ context.Context, b models.Build) error {
	if b.TestCount != nil {
		n := *b.TestCount
		b.TestCount = &n
	}
	b.Branches = copyStrings(b.Branches)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds[runKey{b.Project, b.Branch, b.Number}] = b
	return nil
}

func (r *MemoryRepository) ListBuilds(_ context.Context, project string) ([]models.Build, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Build
	for key, b := range r.builds {
		if key.project != project {
			continue
		}
		if b.TestCount != nil {
			n := *b.TestCount
			b.TestCount = &n
		}
		b.Branches = copyStrings(b.Branches)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch != out[j].Branch {
			return out[i].Branch < out[j].Branch
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (r *MemoryRepository) ListRunEntries(_ context.Context, project string) ([]models.RunEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.RunEntry
	for key, e := range r.runs {
		if key.project == project {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Branch != out[j].Branch {
			return out[i].Branch < out[j].Branch
		}
		return out[i].Number < out[j].Number
	})
	return out, nil
}

func (r *MemoryRepository) AddRunEntries(_ context.Context, project string, entries []models.RunEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		key := runKey{project, e.Branch, e.Number}
		if _, ok := r.runs[key]; ok {
			continue
		}
		r.runs[key] = e
	}
	return nil
}

func (r *MemoryRepository) GetClientByApiKey(_ context.Context, apiKey string) (*models.ApiClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[apiKey]
	if !ok {
		return nil, nil
	}
	return copyClient(c), nil
}

func (r *MemoryRepository) UpdateClientLastUsed(_ context.Context, apiKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[apiKey]; ok {
		now := time.Now().UTC()
		c.LastUsedAt = &now
	}
	return nil
}

func (r *MemoryRepository) CreateClient(_ context.Context, client *models.ApiClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ApiKey]; ok {
		return fmt.Errorf("api client already exists: %s", client.MaskedApiKey())
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	client.ID = r.nextClientID
	r.nextClientID++
	r.clients[client.ApiKey] = copyClient(client)
	return nil
}

func copyClient(c *models.ApiClient) *models.ApiClient {
	cp := *c
	cp.Permissions = copyStrings(c.Permissions)
	cp.Projects = copyStrings(c.Projects)
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

// copyStrings keeps the distinction between nil and empty
func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
