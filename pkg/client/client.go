package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Client is a Go SDK for the challenge-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new challenge-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is an error response of the API
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

// ReportBuild reports a finished build and returns what the game did with it
func (c *Client) ReportBuild(ctx context.Context, project string, req models.ReportBuildRequest) (*models.RunSummary, error) {
	var summary models.RunSummary
	if err := c.call(ctx, "POST", projectPath(project, "builds"), req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Challenges retrieves the game state of a user
func (c *Client) Challenges(ctx context.Context, project, userID string) (*models.ParticipationView, error) {
	var view models.ParticipationView
	if err := c.call(ctx, "GET", userPath(project, userID, "challenges"), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Leaderboard retrieves the user and team standings of a project
func (c *Client) Leaderboard(ctx context.Context, project string) (*models.Leaderboard, error) {
	var board models.Leaderboard
	if err := c.call(ctx, "GET", projectPath(project, "leaderboard"), nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// Join makes a user participate in a project for a team
func (c *Client) Join(ctx context.Context, project, userID, team string) (*models.ParticipationView, error) {
	var view models.ParticipationView
	if err := c.call(ctx, "POST", userPath(project, userID, "participation"), models.JoinRequest{Team: team}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Leave removes a user from a project
func (c *Client) Leave(ctx context.Context, project, userID string) error {
	return c.call(ctx, "DELETE", userPath(project, userID, "participation"), nil, nil)
}

// RejectChallenge gives up a current challenge of a user
func (c *Client) RejectChallenge(ctx context.Context, project, userID, challengeID, reason string) (*models.ChallengeView, error) {
	var view models.ChallengeView
	path := userPath(project, userID, "challenges/"+url.PathEscape(challengeID)+"/reject")
	if err := c.call(ctx, "POST", path, models.RejectRequest{Reason: reason}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Statistics retrieves the statistics XML document of a project
func (c *Client) Statistics(ctx context.Context, project string) (string, error) {
	body, err := c.doRequest(ctx, "GET", projectPath(project, "statistics"), nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, "GET", "/health", nil)
	return err
}

func projectPath(project, rest string) string {
	return "/api/v1/projects/" + url.PathEscape(project) + "/" + rest
}

func userPath(project, userID, rest string) string {
	return projectPath(project, "users/"+url.PathEscape(userID)+"/"+rest)
}

// call sends in as JSON and decodes the data of the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result envelope
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !result.Success {
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("API error: unsuccessful response")
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response data: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var result envelope
		if json.Unmarshal(respBody, &result) == nil && result.Error != nil {
			result.Error.Status = resp.StatusCode
			return nil, result.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: string(respBody)}
	}

	return respBody, nil
}
