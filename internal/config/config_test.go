package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Game.Quota)
	assert.Equal(t, 50, cfg.Game.CommitLimit)
	assert.InDelta(t, 0.1, cfg.Game.TestProbability, 1e-9)
	assert.InDelta(t, 1.5, cfg.Game.RankBias, 1e-9)
	assert.Equal(t, 5, cfg.Game.MaxAttempts)
	assert.Equal(t, 3, cfg.Game.UniquenessAttempts)
	assert.Equal(t, 200, cfg.Game.BackfillLimit)
	assert.Equal(t, []string{".java", ".kt"}, cfg.Game.Extensions)
	assert.Equal(t, 10*time.Minute, cfg.Backfill.Interval)
	assert.Empty(t, cfg.Redis.Address)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
game:
  quota: 5
  rank_bias: 1.2
backfill:
  interval: 30s
redis:
  address: redis:6379
`), 0o644))

	t.Setenv("GAME_QUOTA", "4")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Game.Quota, "environment wins over the file")
	assert.InDelta(t, 1.2, cfg.Game.RankBias, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Backfill.Interval)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Server.Port = 0
	bad.Game.RankBias = 2.5
	bad.Game.TestProbability = -0.1
	bad.Game.Extensions = []string{"java"}
	bad.Log.Level = "loud"

	err = bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"server port", "rank bias", "test probability", `"java"`, "log level"} {
		assert.Contains(t, err.Error(), want)
	}
}
