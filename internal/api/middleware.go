package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/terra-clan/challenge-engine/internal/models"
)

type ctxKey struct{}

// ClientFromContext returns the authenticated API client, or nil
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, _ := ctx.Value(ctxKey{}).(*models.ApiClient)
	return client
}

// ClientStore looks up API clients
type ClientStore interface {
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
}

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	clients ClientStore
	logger  *zap.SugaredLogger
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(clients ClientStore, logger *zap.SugaredLogger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AuthMiddleware{clients: clients, logger: logger}
}

// Authenticate verifies API key from Authorization header
// Supports formats: "Bearer sk_xxx" or "sk_xxx" in Authorization header,
// the X-API-Key header, and an api_key query parameter for websocket clients
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing api key", "provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		client, err := m.clients.GetClientByApiKey(r.Context(), apiKey)
		if err != nil {
			m.logger.Errorw("failed to lookup api client", "error", err, "key_prefix", maskKey(apiKey))
			writeAuthError(w, http.StatusInternalServerError, "authentication error", "internal server error")
			return
		}

		if client == nil {
			m.logger.Warnw("invalid api key attempt", "key_prefix", maskKey(apiKey), "remote_addr", r.RemoteAddr)
			writeAuthError(w, http.StatusUnauthorized, "invalid api key", "the provided api key is not valid")
			return
		}

		if !client.IsActive {
			m.logger.Warnw("inactive client attempt", "client", client.Name, "key_prefix", maskKey(apiKey))
			writeAuthError(w, http.StatusUnauthorized, "client inactive", "this api key has been deactivated")
			return
		}

		// Update last_used_at without blocking the request
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.clients.UpdateClientLastUsed(ctx, apiKey); err != nil {
				m.logger.Errorw("failed to update client last_used_at", "error", err, "client", client.Name)
			}
		}()

		m.logger.Debugw("authenticated request", "client", client.Name, "key_prefix", client.MaskedApiKey())

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, client)))
	})
}

// RequirePermission returns middleware that checks for specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated", "authentication required")
				return
			}

			if !client.HasPermission(permission) {
				m.logger.Warnw("permission denied",
					"client", client.Name,
					"required", permission,
					"has", client.Permissions,
				)
				writeAuthError(w, http.StatusForbidden, "permission denied",
					"client does not have required permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireProject rejects clients restricted to other projects
func (m *AuthMiddleware) RequireProject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := chi.URLParam(r, "project")
		client := ClientFromContext(r.Context())
		if client == nil {
			writeAuthError(w, http.StatusUnauthorized, "not authenticated", "authentication required")
			return
		}
		if !client.CanAccessProject(project) {
			m.logger.Warnw("project access denied", "client", client.Name, "project", project)
			writeAuthError(w, http.StatusForbidden, "permission denied",
				"client may not access project: "+project)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractAPIKey extracts API key from request headers
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}

	// Browsers cannot set headers on websocket handshakes
	return r.URL.Query().Get("api_key")
}

// maskKey returns first 8 chars of key for safe logging
func maskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}

// AuthError represents an authentication error response
type AuthError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeAuthError writes JSON error response
func writeAuthError(w http.ResponseWriter, status int, error, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(AuthError{
		Error:   error,
		Message: message,
	})
}
