package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/models"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 2
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Pool exposes the connection pool for migrations
func (r *PostgresRepository) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// --- Participations ---

const participationColumns = `project, user_id, team, score, current_challenges, completed_challenges, rejected_challenges, updated_at`

// GetParticipation retrieves the state of one user in one project
func (r *PostgresRepository) GetParticipation(ctx context.Context, project, userID string) (*challenge.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE project = $1 AND user_id = $2`

	p, err := scanParticipation(r.pool.QueryRow(ctx, query, project, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return p, nil
}

// ListParticipations returns every participant of a project ordered by user id
func (r *PostgresRepository) ListParticipations(ctx context.Context, project string) ([]*challenge.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM participations WHERE project = $1 ORDER BY user_id`

	rows, err := r.pool.Query(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list participations: %w", err)
	}
	defer rows.Close()

	var out []*challenge.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participations: %w", err)
	}
	return out, nil
}

// SaveParticipation inserts or replaces the state of one user in one project
func (r *PostgresRepository) SaveParticipation(ctx context.Context, p *challenge.Participation) error {
	current, err := challenge.EncodeList(p.Current)
	if err != nil {
		return fmt.Errorf("failed to marshal current challenges: %w", err)
	}
	completed, err := challenge.EncodeList(p.Completed)
	if err != nil {
		return fmt.Errorf("failed to marshal completed challenges: %w", err)
	}
	rejected, err := challenge.EncodeRejected(p.Rejected)
	if err != nil {
		return fmt.Errorf("failed to marshal rejected challenges: %w", err)
	}

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO participations (` + participationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project, user_id) DO UPDATE
		SET team = EXCLUDED.team,
			score = EXCLUDED.score,
			current_challenges = EXCLUDED.current_challenges,
			completed_challenges = EXCLUDED.completed_challenges,
			rejected_challenges = EXCLUDED.rejected_challenges,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.pool.Exec(ctx, query,
		p.Project,
		p.UserID,
		p.Team,
		p.Score,
		current,
		completed,
		rejected,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save participation: %w", err)
	}
	return nil
}

// DeleteParticipation removes a user from a project
func (r *PostgresRepository) DeleteParticipation(ctx context.Context, project, userID string) error {
	query := `DELETE FROM participations WHERE project = $1 AND user_id = $2`

	result, err := r.pool.Exec(ctx, query, project, userID)
	if err != nil {
		return fmt.Errorf("failed to delete participation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("participation not found: %s/%s", project, userID)
	}

	return nil
}

func scanParticipation(row pgx.Row) (*challenge.Participation, error) {
	var p challenge.Participation
	var current, completed, rejected []byte

	err := row.Scan(
		&p.Project,
		&p.UserID,
		&p.Team,
		&p.Score,
		&current,
		&completed,
		&rejected,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.Current, err = challenge.DecodeList(current); err != nil {
		return nil, err
	}
	if p.Completed, err = challenge.DecodeList(completed); err != nil {
		return nil, err
	}
	if p.Rejected, err = challenge.DecodeRejected(rejected); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Builds ---

// RecordBuild stores a build notification, replacing an earlier report of the same run
func (r *PostgresRepository) RecordBuild(ctx context.Context, b models.Build) error {
	branchesJSON, err := json.Marshal(b.Branches)
	if err != nil {
		return fmt.Errorf("failed to marshal branches: %w", err)
	}

	query := `
		INSERT INTO builds (project, branch, number, result, started_at, test_count, author_name, author_email, branches)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project, branch, number) DO UPDATE
		SET result = EXCLUDED.result,
			started_at = EXCLUDED.started_at,
			test_count = EXCLUDED.test_count,
			author_name = EXCLUDED.author_name,
			author_email = EXCLUDED.author_email,
			branches = EXCLUDED.branches
	`

	_, err = r.pool.Exec(ctx, query,
		b.Project,
		b.Branch,
		b.Number,
		string(b.Result),
		b.StartedAt,
		nullInt(b.TestCount),
		nullString(b.AuthorName),
		nullString(b.AuthorEmail),
		branchesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to record build: %w", err)
	}
	return nil
}

// ListBuilds returns the recorded builds of a project ordered by branch and number
func (r *PostgresRepository) ListBuilds(ctx context.Context, project string) ([]models.Build, error) {
	query := `
		SELECT project, branch, number, result, started_at, test_count, author_name, author_email, branches
		FROM builds
		WHERE project = $1
		ORDER BY branch, number
	`

	rows, err := r.pool.Query(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var builds []models.Build
	for rows.Next() {
		var b models.Build
		var result string
		var testCount sql.NullInt64
		var authorName, authorEmail sql.NullString
		var branchesJSON []byte

		err := rows.Scan(
			&b.Project,
			&b.Branch,
			&b.Number,
			&result,
			&b.StartedAt,
			&testCount,
			&authorName,
			&authorEmail,
			&branchesJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build: %w", err)
		}

		b.Result = models.BuildResult(result)
		b.AuthorName = authorName.String
		b.AuthorEmail = authorEmail.String
		if testCount.Valid {
			n := int(testCount.Int64)
			b.TestCount = &n
		}
		if branchesJSON != nil {
			if err := json.Unmarshal(branchesJSON, &b.Branches); err != nil {
				return nil, fmt.Errorf("failed to unmarshal branches: %w", err)
			}
		}

		builds = append(builds, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating builds: %w", err)
	}
	return builds, nil
}

// --- Run entries ---

// ListRunEntries returns the statistics of a project ordered by branch and number
func (r *PostgresRepository) ListRunEntries(ctx context.Context, project string) ([]models.RunEntry, error) {
	query := `
		SELECT number, branch, result, start_time, generated, solved, tests, coverage
		FROM run_entries
		WHERE project = $1
		ORDER BY branch, number
	`

	rows, err := r.pool.Query(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list run entries: %w", err)
	}
	defer rows.Close()

	var entries []models.RunEntry
	for rows.Next() {
		var e models.RunEntry
		var result string
		err := rows.Scan(
			&e.Number,
			&e.Branch,
			&result,
			&e.StartTime,
			&e.Generated,
			&e.Solved,
			&e.TestCount,
			&e.Coverage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run entry: %w", err)
		}
		e.Result = models.BuildResult(result)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run entries: %w", err)
	}
	return entries, nil
}

// AddRunEntries appends run entries in one batch; existing runs are kept
func (r *PostgresRepository) AddRunEntries(ctx context.Context, project string, entries []models.RunEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO run_entries (project, branch, number, result, start_time, generated, solved, tests, coverage)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project, branch, number) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query,
			project,
			e.Branch,
			e.Number,
			string(e.Result),
			e.StartTime,
			e.Generated,
			e.Solved,
			e.TestCount,
			e.Coverage,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to add run entries: %w", err)
	}
	return nil
}

// --- API Clients ---

// GetClientByApiKey retrieves an API client by its key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions, projects
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON, projectsJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
		&projectsJSON,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if permissionsJSON != nil {
		if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	if projectsJSON != nil {
		if err := json.Unmarshal(projectsJSON, &client.Projects); err != nil {
			return nil, fmt.Errorf("failed to unmarshal projects: %w", err)
		}
	}

	return &client, nil
}

// UpdateClientLastUsed updates the last_used_at timestamp for a client
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	query := `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`

	_, err := r.pool.Exec(ctx, query, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}

	return nil
}

// CreateClient registers a new API client
func (r *PostgresRepository) CreateClient(ctx context.Context, client *models.ApiClient) error {
	permissionsJSON, err := json.Marshal(client.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	projectsJSON, err := json.Marshal(client.Projects)
	if err != nil {
		return fmt.Errorf("failed to marshal projects: %w", err)
	}

	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO api_clients (name, api_key, is_active, created_at, permissions, projects)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err = r.pool.QueryRow(ctx, query,
		client.Name,
		client.ApiKey,
		client.IsActive,
		client.CreatedAt,
		permissionsJSON,
		projectsJSON,
	).Scan(&client.ID)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
