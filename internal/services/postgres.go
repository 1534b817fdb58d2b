package services

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
)

// PostgresProvider probes the game database through database/sql
type PostgresProvider struct {
	BaseProvider
	db   *sql.DB
	host string
	port string
}

// NewPostgresProvider opens a probe connection for dsn
func NewPostgresProvider(ctx context.Context, dsn string) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	host, port := parseEndpoint(dsn)
	return &PostgresProvider{
		BaseProvider: BaseProvider{serviceType: "postgres"},
		db:           db,
		host:         host,
		port:         port,
	}, nil
}

// parseEndpoint extracts host and port from a URL or key=value DSN
func parseEndpoint(dsn string) (string, string) {
	host, port := "localhost", "5432"

	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		if h, p, err := net.SplitHostPort(u.Host); err == nil {
			return h, p
		}
		return u.Host, port
	}

	for _, field := range strings.Fields(dsn) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			host = value
		case "port":
			port = value
		}
	}
	return host, port
}

// Endpoint returns host:port of the database, without credentials
func (p *PostgresProvider) Endpoint() string {
	return net.JoinHostPort(p.host, p.port)
}

// HealthCheck verifies PostgreSQL connectivity and that migrations ran
func (p *PostgresProvider) HealthCheck(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return err
	}

	var applied int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&applied)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	if applied == 0 {
		return fmt.Errorf("no migrations applied on %s", p.Endpoint())
	}
	return nil
}

// Close closes the probe connection
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}
