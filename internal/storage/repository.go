package storage

import (
	"context"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// Repository defines the interface for game state persistence
type Repository interface {
	// Participations
	GetParticipation(ctx context.Context, project, userID string) (*challenge.Participation, error)
	ListParticipations(ctx context.Context, project string) ([]*challenge.Participation, error)
	SaveParticipation(ctx context.Context, p *challenge.Participation) error
	DeleteParticipation(ctx context.Context, project, userID string) error

	// Builds reported by the CI host
	RecordBuild(ctx context.Context, b models.Build) error
	ListBuilds(ctx context.Context, project string) ([]models.Build, error)

	// Run entries; adding an existing (branch, number) is a no-op
	ListRunEntries(ctx context.Context, project string) ([]models.RunEntry, error)
	AddRunEntries(ctx context.Context, project string, entries []models.RunEntry) error

	// API Clients
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
	CreateClient(ctx context.Context, client *models.ApiClient) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
