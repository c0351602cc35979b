// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1, cfg.Engine.IterationConcurrency)
	assert.Equal(t, 5, cfg.Engine.MaxFlowDepth)
	assert.Equal(t, 256, cfg.Engine.CallbackBuffer)
	assert.Equal(t, 30*time.Minute, cfg.Engine.RunTimeout)

	assert.Equal(t, "memory", cfg.EventRegistry.Backend)
	assert.Equal(t, 10*time.Minute, cfg.EventRegistry.DefaultTimeout)

	assert.Equal(t, "local", cfg.Sandbox.Mode)
	assert.Equal(t, "python3", cfg.Sandbox.PythonPath)
	assert.Contains(t, cfg.Sandbox.DeniedImports, "subprocess")
	assert.Contains(t, cfg.Sandbox.DeniedImports, "builtins")

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "flowengine", cfg.Metrics.Namespace)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  iteration_concurrency: 4
  node_timeout: 45s

event_registry:
  backend: "redis"
  default_timeout: 2m

sandbox:
  mode: "remote"
  remote_url: "http://sandbox:8080"
  denied_imports: ["os", "socket"]

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithValidator((*Config).Validate).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.IterationConcurrency)
	assert.Equal(t, 45*time.Second, cfg.Engine.NodeTimeout)
	assert.Equal(t, "redis", cfg.EventRegistry.Backend)
	assert.Equal(t, 2*time.Minute, cfg.EventRegistry.DefaultTimeout)
	assert.Equal(t, "remote", cfg.Sandbox.Mode)
	assert.Equal(t, []string{"os", "socket"}, cfg.Sandbox.DeniedImports)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 5, cfg.Engine.MaxFlowDepth)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("FLOWENGINE_ENGINE_ITERATION_CONCURRENCY", "8")
	t.Setenv("FLOWENGINE_ENGINE_RUN_TIMEOUT", "90s")
	t.Setenv("FLOWENGINE_LLM_MODEL", "qwen-max")
	t.Setenv("FLOWENGINE_LLM_RATE_LIMIT_RPS", "2.5")
	t.Setenv("FLOWENGINE_METRICS_ENABLED", "false")
	t.Setenv("FLOWENGINE_SANDBOX_DENIED_IMPORTS", "os, sys ,socket")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.IterationConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Engine.RunTimeout)
	assert.Equal(t, "qwen-max", cfg.LLM.Model)
	assert.InDelta(t, 2.5, cfg.LLM.RateLimitRPS, 0.0001)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, []string{"os", "sys", "socket"}, cfg.Sandbox.DeniedImports)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
llm:
  model: "yaml-model"
  base_url: "http://yaml"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("FLOWENGINE_LLM_MODEL", "env-model")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "http://yaml", cfg.LLM.BaseURL)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_REDIS_ADDR", "custom:6379")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, "custom:6379", cfg.Redis.Addr)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("FLOWENGINE_ENGINE_NODE_TIMEOUT", "not-a-duration")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Engine.IterationConcurrency > 100 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("FLOWENGINE_ENGINE_ITERATION_CONCURRENCY", "500")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.EventRegistry.Backend)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
engine:
  iteration_concurrency: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "zero iteration concurrency", modify: func(c *Config) { c.Engine.IterationConcurrency = 0 }, wantErr: true},
		{name: "zero flow depth", modify: func(c *Config) { c.Engine.MaxFlowDepth = 0 }, wantErr: true},
		{name: "negative callback buffer", modify: func(c *Config) { c.Engine.CallbackBuffer = -1 }, wantErr: true},
		{name: "unknown registry backend", modify: func(c *Config) { c.EventRegistry.Backend = "etcd" }, wantErr: true},
		{name: "zero resume timeout", modify: func(c *Config) { c.EventRegistry.DefaultTimeout = 0 }, wantErr: true},
		{name: "negative resume timeout", modify: func(c *Config) { c.EventRegistry.DefaultTimeout = -time.Second }, wantErr: true},
		{name: "unknown sandbox mode", modify: func(c *Config) { c.Sandbox.Mode = "docker" }, wantErr: true},
		{name: "remote sandbox without url", modify: func(c *Config) { c.Sandbox.Mode = "remote" }, wantErr: true},
		{
			name: "remote sandbox with url",
			modify: func(c *Config) {
				c.Sandbox.Mode = "remote"
				c.Sandbox.RemoteURL = "http://sandbox"
			},
		},
		{name: "unknown database driver", modify: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: true},
		{name: "sample rate too high", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_flow_depth: 3\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 3, cfg.Engine.MaxFlowDepth)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("FLOWENGINE_KNOWLEDGE_BASE_URL", "http://kb")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://kb", cfg.Knowledge.BaseURL)
}
