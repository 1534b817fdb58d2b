package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/terra-clan/challenge-engine/internal/challenge"
	"github.com/terra-clan/challenge-engine/internal/config"
	"github.com/terra-clan/challenge-engine/internal/engine"
	"github.com/terra-clan/challenge-engine/internal/models"
	"github.com/terra-clan/challenge-engine/internal/services"
	"github.com/terra-clan/challenge-engine/internal/storage"
)

const (
	ciKey        = "sk_ci_0123456789"
	dashboardKey = "sk_dash_0123456789"
	otherKey     = "sk_other_0123456789"
)

type fakeGame struct {
	builds  []models.Build
	runErrs []error
	rejects []string
	err     error
	p       *challenge.Participation
}

func (g *fakeGame) RunForBuild(ctx context.Context, b models.Build) (models.RunSummary, error) {
	g.builds = append(g.builds, b)
	g.runErrs = append(g.runErrs, ctx.Err())
	return models.RunSummary{Generated: 2, Solved: 1}, g.err
}

func (g *fakeGame) Join(_ context.Context, project, userID, team string) (*challenge.Participation, error) {
	if g.err != nil {
		return nil, g.err
	}
	return challenge.NewParticipation(userID, project, team), nil
}

func (g *fakeGame) Leave(context.Context, string, string) error { return g.err }

func (g *fakeGame) RejectChallenge(_ context.Context, _, _, id, reason string) (challenge.Challenge, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.rejects = append(g.rejects, id+":"+reason)
	return challenge.NewBuildChallenge(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), nil
}

func (g *fakeGame) Challenges(_ context.Context, _, _ string) (*models.ParticipationView, error) {
	if g.err != nil {
		return nil, g.err
	}
	return engine.View(g.p), nil
}

func (g *fakeGame) Leaderboard(_ context.Context, project string) (*models.Leaderboard, error) {
	return &models.Leaderboard{Project: project, Users: []models.LeaderboardEntry{{Name: "Alice", Score: 4}}}, g.err
}

type fakeStats struct{}

func (fakeStats) XML(_ context.Context, project string) (string, error) {
	return `<Statistics project="` + project + `"/>`, nil
}

type fakeHealth struct{ err error }

func (h fakeHealth) Ready(context.Context) error { return h.err }

type testServer struct {
	server *Server
	game   *fakeGame
	bus    *services.LocalBus
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()

	repo := storage.NewMemoryRepository()
	require.NoError(t, repo.CreateClient(ctx, &models.ApiClient{
		Name: "ci", ApiKey: ciKey, IsActive: true,
		Permissions: []string{models.PermBuildsWrite},
	}))
	require.NoError(t, repo.CreateClient(ctx, &models.ApiClient{
		Name: "dashboard", ApiKey: dashboardKey, IsActive: true,
		Permissions: []string{"game:*"},
	}))
	require.NoError(t, repo.CreateClient(ctx, &models.ApiClient{
		Name: "other", ApiKey: otherKey, IsActive: true,
		Permissions: []string{"*"}, Projects: []string{"other"},
	}))

	game := &fakeGame{p: challenge.NewParticipation("alice", "demo", "red")}
	bus := services.NewLocalBus(logger)
	s := NewServer(config.ServerConfig{}, game, fakeStats{}, bus, fakeHealth{}, repo, logger)
	return &testServer{server: s, game: game, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestHealthAndReady(t *testing.T) {
	ts := setupTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/ready", "", nil).Code)

	ts.server.health = fakeHealth{err: errors.New("postgres: connection refused")}
	w := ts.do(t, "GET", "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAuthentication(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		want   int
	}{
		{"missing key", "GET", "/api/v1/projects/demo/leaderboard", "", http.StatusUnauthorized},
		{"unknown key", "GET", "/api/v1/projects/demo/leaderboard", "sk_nope_000000", http.StatusUnauthorized},
		{"ci cannot read game", "GET", "/api/v1/projects/demo/leaderboard", ciKey, http.StatusForbidden},
		{"dashboard cannot report builds", "POST", "/api/v1/projects/demo/builds", dashboardKey, http.StatusForbidden},
		{"project restricted client", "GET", "/api/v1/projects/demo/leaderboard", otherKey, http.StatusForbidden},
		{"project restricted client on own project", "GET", "/api/v1/projects/other/leaderboard", otherKey, http.StatusOK},
		{"wildcard game permission", "GET", "/api/v1/projects/demo/leaderboard", dashboardKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, tt.key, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestReportBuild(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "POST", "/api/v1/projects/demo/builds", ciKey, map[string]interface{}{
		"number":       7,
		"branch":       "master",
		"result":       "FAILURE",
		"author_email": "alice@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary models.RunSummary
	decodeData(t, w, &summary)
	assert.Equal(t, models.RunSummary{Generated: 2, Solved: 1}, summary)

	require.Len(t, ts.game.builds, 1)
	b := ts.game.builds[0]
	assert.Equal(t, "demo", b.Project)
	assert.Equal(t, 7, b.Number)
	assert.Equal(t, models.ResultFailure, b.Result)
	assert.False(t, b.StartedAt.IsZero())
}

func TestReportBuild_SurvivesClientDisconnect(t *testing.T) {
	ts := setupTestServer(t)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{"number": 8, "result": "SUCCESS"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/v1/projects/demo/builds", &buf).WithContext(ctx)
	req.Header.Set("X-API-Key", ciKey)
	ts.server.Router().ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, ts.game.runErrs, 1)
	assert.NoError(t, ts.game.runErrs[0], "the run context is detached from the request")
}

func TestReportBuild_Validation(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "POST", "/api/v1/projects/demo/builds", ciKey, map[string]interface{}{
		"number": 0,
		"result": "EXPLODED",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "number must satisfy")
	assert.Contains(t, w.Body.String(), "result must satisfy oneof")
	assert.Empty(t, ts.game.builds)

	req := httptest.NewRequest("POST", "/api/v1/projects/demo/builds", strings.NewReader("{"))
	req.Header.Set("X-API-Key", ciKey)
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGameErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrProjectNotFound, http.StatusNotFound},
		{engine.ErrNotParticipating, http.StatusNotFound},
		{engine.ErrChallengeNotFound, http.StatusNotFound},
		{engine.ErrUnknownTeam, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := setupTestServer(t)
			ts.game.err = tt.err
			w := ts.do(t, "GET", "/api/v1/projects/demo/users/alice/challenges", dashboardKey, nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestParticipationAndReject(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "POST", "/api/v1/projects/demo/users/alice/participation", dashboardKey, models.JoinRequest{Team: "red"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view models.ParticipationView
	decodeData(t, w, &view)
	assert.Equal(t, "alice", view.UserID)
	assert.Equal(t, "red", view.Team)

	w = ts.do(t, "POST", "/api/v1/projects/demo/users/alice/participation", dashboardKey, models.JoinRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/v1/projects/demo/users/alice/challenges/abc/reject", dashboardKey, models.RejectRequest{Reason: "legacy code"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rejected models.ChallengeView
	decodeData(t, w, &rejected)
	assert.Equal(t, "build", rejected.Kind)
	assert.Equal(t, "legacy code", rejected.Reason)
	assert.Equal(t, []string{"abc:legacy code"}, ts.game.rejects)

	w = ts.do(t, "POST", "/api/v1/projects/demo/users/alice/challenges/abc/reject", dashboardKey, models.RejectRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "DELETE", "/api/v1/projects/demo/users/alice/participation", dashboardKey, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatisticsIsXML(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "GET", "/api/v1/projects/demo/statistics", dashboardKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Equal(t, `<Statistics project="demo"/>`, w.Body.String())
}

func TestEventStream(t *testing.T) {
	ts := setupTestServer(t)
	srv := httptest.NewServer(ts.server.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/projects/demo/events?api_key=" + dashboardKey
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello StreamMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)

	require.NoError(t, ts.bus.Publish(context.Background(), models.Event{Type: models.EventSolved, Project: "other", UserID: "bob"}))
	require.NoError(t, ts.bus.Publish(context.Background(), models.Event{Type: models.EventGenerated, Project: "demo", UserID: "alice", Kind: "build"}))

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, models.EventGenerated, msg.Event.Type)
	assert.Equal(t, "alice", msg.Event.UserID)
}
