package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "meshos.yml")

	validConfig := `version: "1"
workspace: ws-label
store:
  backend: sqlite
  sqlite:
    path: ./data/mesh.db
oracle:
  provider: anthropic
  model: claude-3-5-sonnet-latest
  timeout: 30s
log:
  level: debug
  format: json
mesh:
  max_team_size: 4
  source_timeout: 2s
metrics:
  addr: 127.0.0.1:9464
sources:
  fusion: ./fusion.json
`
	require.NoError(t, os.WriteFile(configPath, []byte(validConfig), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "ws-label", cfg.Workspace)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "./data/mesh.db", cfg.Store.SQLite.Path)
	assert.Equal(t, ProviderAnthropic, cfg.Oracle.Provider)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Mesh.MaxTeamSize)
	assert.Equal(t, 2*time.Second, cfg.Mesh.SourceTimeout)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
	assert.Equal(t, "./fusion.json", cfg.Sources["fusion"])
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/meshos.yml")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestParse_InvalidYAML(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1\"\nstore:\n  - nope\n    broken"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`version: "1"`))
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, ProviderNone, cfg.Oracle.Provider)
	assert.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Mesh.MaxTeamSize)
	assert.Empty(t, cfg.Metrics.Addr)

	assert.Equal(t, cfg, Default())
}

func TestParse_RedisDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1\"\nstore:\n  backend: redis\n"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "meshos", cfg.Store.Redis.Instance)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "missing version", yaml: "store:\n  backend: memory\n", wantErr: "unsupported version"},
		{name: "unknown backend", yaml: "version: \"1\"\nstore:\n  backend: postgres\n", wantErr: "unknown store.backend"},
		{name: "sqlite without path", yaml: "version: \"1\"\nstore:\n  backend: sqlite\n", wantErr: "store.sqlite.path"},
		{name: "unknown provider", yaml: "version: \"1\"\noracle:\n  provider: llama\n", wantErr: "unknown oracle.provider"},
		{name: "bad log format", yaml: "version: \"1\"\nlog:\n  format: xml\n", wantErr: "unknown log.format"},
		{name: "bad log level", yaml: "version: \"1\"\nlog:\n  level: loud\n", wantErr: "unknown log.level"},
		{name: "negative team size", yaml: "version: \"1\"\nmesh:\n  max_team_size: -1\n", wantErr: "mesh.max_team_size"},
		{name: "unknown source", yaml: "version: \"1\"\nsources:\n  weather: ./w.json\n", wantErr: "unknown collaborator system"},
		{name: "bad metrics addr", yaml: "version: \"1\"\nmetrics:\n  addr: nine-four-six-four\n", wantErr: "metrics.addr"},
		{name: "empty source path", yaml: "version: \"1\"\nsources:\n  fusion: \"\"\n", wantErr: "sources.fusion"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOracleConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("OPENAI_API_KEY", "env-openai")

	assert.Equal(t, "explicit", OracleConfig{Provider: ProviderAnthropic, APIKey: "explicit"}.ResolveAPIKey())
	assert.Equal(t, "env-anthropic", OracleConfig{Provider: ProviderAnthropic}.ResolveAPIKey())
	assert.Equal(t, "env-openai", OracleConfig{Provider: ProviderOpenAI}.ResolveAPIKey())
	assert.Empty(t, OracleConfig{Provider: ProviderNone}.ResolveAPIKey())
}
