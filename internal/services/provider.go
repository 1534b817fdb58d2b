package services

import (
	"context"
)

// Provider is a backing service the engine depends on
type Provider interface {
	// Type returns the service type name
	Type() string

	// HealthCheck checks if the service is available
	HealthCheck(ctx context.Context) error

	// Close releases the connection to the service
	Close() error
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	serviceType string
}

// Type returns the service type
func (p *BaseProvider) Type() string {
	return p.serviceType
}
