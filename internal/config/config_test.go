package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PARLEY_HOME", home)
	t.Setenv("PARLEY_CONFIG", "")
	t.Setenv("PARLEY_ENV_FILE", filepath.Join(home, "missing.env"))
	for _, key := range []string{"OPENAI_API_KEY", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Chdir(home)
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.Store.Capacity)
	assert.Equal(t, 360*time.Minute, cfg.Store.HistoryWindow())
	assert.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
	assert.Equal(t, 3, cfg.Orchestrator.MaxFollowups)
	assert.Equal(t, 2.0, cfg.Orchestrator.BackoffBase)
	assert.False(t, cfg.Audit.Enabled())
}

func TestValidateReportsMissingCredentials(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack.botToken")
	assert.Contains(t, err.Error(), "openai.apiKey")

	cfg.Slack.BotToken = "xoxb"
	cfg.Slack.AppToken = "xapp"
	cfg.OpenAI.APIKey = "sk"
	assert.NoError(t, cfg.Validate())

	cfg.Store.RetentionCron = "not a cron"
	assert.ErrorContains(t, cfg.Validate(), "retentionCron")
}

func TestLoadFromFileAndEnv(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"slack": {"botToken": "${TEST_BOT_TOKEN}", "backfillLimit": 5},
		"store": {"capacity": 42}
	}`), 0600))

	t.Setenv("TEST_BOT_TOKEN", "xoxb-from-file")
	t.Setenv("PARLEY_STORE_CAPACITY", "7")
	t.Setenv("PARLEY_ORCHESTRATOR_MAX_FOLLOWUPS", "5")
	t.Setenv("PARLEY_AUDIT_BROKERS", "a:9092,b:9092")
	t.Setenv("PARLEY_LOG_LEVEL", "DEBUG")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-from-file", cfg.Slack.BotToken)
	assert.Equal(t, 5, cfg.Slack.BackfillLimit)
	assert.Equal(t, 7, cfg.Store.Capacity, "env wins over file")
	assert.Equal(t, 5, cfg.Orchestrator.MaxFollowups)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Audit.Brokers)
	assert.True(t, cfg.Audit.Enabled())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(home, ".parley", "feedback.db"), cfg.Feedback.DBPath)
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	home := isolateEnv(t)
	cfg, err := LoadFrom(filepath.Join(home, "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Store.Capacity, cfg.Store.Capacity)
}

func TestLoadFromInvalidJSON(t *testing.T) {
	home := isolateEnv(t)
	path := filepath.Join(home, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0600))
	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestIncludeMergesAndDetectsCycles(t *testing.T) {
	home := isolateEnv(t)
	base := filepath.Join(home, "base.json")
	main := filepath.Join(home, "main.json")
	require.NoError(t, os.WriteFile(base, []byte(`{"store": {"capacity": 11, "maxContentLength": 50}}`), 0600))
	require.NoError(t, os.WriteFile(main, []byte(`{"$include": "base.json", "store": {"capacity": 12}}`), 0600))

	cfg, err := LoadFrom(main)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Store.Capacity)
	assert.Equal(t, 50, cfg.Store.MaxContentLength)

	require.NoError(t, os.WriteFile(base, []byte(`{"$include": "main.json"}`), 0600))
	_, err = LoadFrom(main)
	assert.ErrorContains(t, err, "cycle")
}

func TestMissingIncludeIsAnError(t *testing.T) {
	home := isolateEnv(t)
	main := filepath.Join(home, "main.json")
	require.NoError(t, os.WriteFile(main, []byte(`{"$include": "missing.json", "store": {"capacity": 12}}`), 0600))

	_, err := LoadFrom(main)
	require.Error(t, err)
	assert.ErrorContains(t, err, "read config")
	assert.ErrorContains(t, err, "missing.json")
}

func TestEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	home := isolateEnv(t)
	envPath := filepath.Join(home, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("OPENAI_API_KEY=from-file\nPARLEY_SLACK_APP_TOKEN=xapp-file\n"), 0600))
	t.Setenv("PARLEY_ENV_FILE", envPath)
	t.Setenv("PARLEY_SLACK_APP_TOKEN", "xapp-process")

	cfg, err := LoadFrom("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "xapp-process", cfg.Slack.AppToken)
}

func TestConfigPathHonoursOverride(t *testing.T) {
	home := isolateEnv(t)
	p, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".parley", "config.json"), p)

	t.Setenv("PARLEY_CONFIG", "/tmp/custom.json")
	p, err = ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.json", p)
}
