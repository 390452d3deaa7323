package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scalytics/parley/internal/config"
	"github.com/scalytics/parley/internal/feedback"
	"github.com/scalytics/parley/internal/session"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	configFlag, feedbackDBFlag, feedbackOutFlag = "", "", ""
	configInitForce = false
	return strings.TrimSpace(buf.String()), err
}

// isolate points every config lookup at an empty temp home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PARLEY_HOME", home)
	t.Setenv("PARLEY_CONFIG", "")
	t.Setenv("PARLEY_ENV_FILE", filepath.Join(home, "none.env"))
	for _, k := range []string{"OPENAI_API_KEY", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN"} {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(home))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: "+version)
}

func TestConfigPath(t *testing.T) {
	home := isolate(t)
	out, err := runRootCommand(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".parley", "config.json"), out)

	out, err = runRootCommand(t, "--config", "/tmp/custom.json", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.json", out)
}

func TestConfigValidate(t *testing.T) {
	home := isolate(t)
	out, err := runRootCommand(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, out, "Configuration invalid")
	assert.Contains(t, err.Error(), "slack.botToken is required")

	path := filepath.Join(home, "parley.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"slack":{"botToken":"xoxb","appToken":"xapp"},"openai":{"apiKey":"${TEST_OPENAI_KEY}"}}`), 0o600))
	t.Setenv("TEST_OPENAI_KEY", "sk-test")
	out, err = runRootCommand(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func TestConfigInitWritesLoadableDefaults(t *testing.T) {
	home := isolate(t)
	out, err := runRootCommand(t, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(home, ".parley", "config.json")
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().Store.Capacity, cfg.Store.Capacity)

	_, err = runRootCommand(t, "config", "init")
	assert.ErrorContains(t, err, "already exists")
	_, err = runRootCommand(t, "config", "init", "--force")
	require.NoError(t, err)

	custom := filepath.Join(home, "custom.json")
	_, err = runRootCommand(t, "--config", custom, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, custom)
}

func TestFeedbackExport(t *testing.T) {
	home := isolate(t)
	dbPath := filepath.Join(home, "fb.db")
	store, err := feedback.Open(dbPath)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), feedback.Example{
		MessageID: "m1", ChannelID: "C1", ReactorID: "U1", Emoji: "+1",
		CapturedAt: time.Unix(100, 0).UTC(),
		Messages: []session.Message{
			{Role: session.RoleUser, Content: "alice: hi", MessageID: "m0"},
			{Role: session.RoleAssistant, Content: "hello alice", MessageID: "m1"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	outPath := filepath.Join(home, "train.jsonl")
	out, err := runRootCommand(t, "feedback", "export", "--db", dbPath, "--out", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 1 examples")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"role":"system"`)
	assert.Contains(t, lines[0], "You are Parley")
	assert.Contains(t, lines[0], `"content":"hello alice"`)
}

func TestSetupLoggerLevels(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := setupLogger("warn", buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
