package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadAppliesFileAndEnv 验证 YAML 覆盖默认值、环境变量覆盖敏感信息。
func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
qualification:
  meeting_qualification_score: 0.7
  scheduling_url: "https://cal.example.com/me"
llm:
  primary:
    provider: anthropic
    model: claude-sonnet
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("LLM_API_KEY", "k-123")
	t.Setenv("SCHEDULING_URL", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Qualification.MeetingQualificationScore)
	assert.Equal(t, 0.8, cfg.Qualification.MinConfidence, "未覆盖的字段保留默认值")
	assert.Equal(t, "https://cal.example.com/me", cfg.Qualification.SchedulingURL)
	assert.Equal(t, "anthropic", cfg.LLM.Primary.Provider)
	assert.Equal(t, "k-123", cfg.LLM.Primary.APIKey)
	assert.Equal(t, "k-123", cfg.LLM.Fallback.APIKey)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults with key", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing key", mutate: func(c *Config) { c.LLM.Primary.APIKey = "" }, wantErr: true},
		{name: "threshold out of range", mutate: func(c *Config) { c.Qualification.MeetingQualificationScore = 1.2 }, wantErr: true},
		{name: "empty scheduling url", mutate: func(c *Config) { c.Qualification.SchedulingURL = " " }, wantErr: true},
		{name: "redis without addr", mutate: func(c *Config) { c.Session.Backend = "redis" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Session.Backend = "mongo" }, wantErr: true},
		{name: "sqlite with dsn", mutate: func(c *Config) { c.Session.Backend = "sqlite"; c.Session.DSN = "file::memory:" }, wantErr: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.Primary.APIKey = "k"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestValidateFallbackInheritsPrimary 验证未配置降级模型时沿用主模型。
func TestValidateFallbackInheritsPrimary(t *testing.T) {
	cfg := Default()
	cfg.LLM.Primary.APIKey = "k"
	cfg.LLM.Fallback = LLMProviderConfig{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.LLM.Primary.Model, cfg.LLM.Fallback.Model)
}
