// ABOUTME: Tests for the gateway binary's config resolution, logging and init/send commands.
// ABOUTME: Runs the interactive init against scripted input in a temp directory.

package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wormhole-gateway/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("WORMHOLE_CONFIG", "")
	assert.Equal(t, filepath.Join("/xdg", "wormhole", "gateway.yaml"), getConfigPath())

	t.Setenv("WORMHOLE_CONFIG", "/etc/wormhole.toml")
	assert.Equal(t, "/etc/wormhole.toml", getConfigPath())

	cfgFile = "/flag.yaml"
	t.Cleanup(func() { cfgFile = "" })
	assert.Equal(t, "/flag.yaml", getConfigPath())
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "http://localhost:11434/health", localURL("0.0.0.0:11434", "/health"))
	assert.Equal(t, "http://localhost:80/health", localURL(":80", "/health"))
	assert.Equal(t, "http://10.0.0.5:8080/x", localURL("10.0.0.5:8080", "/x"))
	assert.Equal(t, "http://[::1]:9/x", localURL("[::1]:9", "/x"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))
	logger.With("component", "relay").WithGroup("peer").Info("connection opened", "id", "abc")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "INF connection opened component=relay peer.id=abc")
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WORMHOLE_RELAY_URL", "")
	t.Setenv("WORMHOLE_HTTP_ADDR", "")
	t.Setenv("WORMHOLE_RELAY_ADDR", "")
	configPath := filepath.Join(dir, "conf", "gateway.yaml")
	dataDir := filepath.Join(dir, "data")

	answers := strings.Join([]string{
		configPath,
		"",          // relay address
		"",          // API address
		"",          // relay URL
		"exclusive", // routing
		dataDir,
		"no", // tailscale
		"debug",
		"json",
		"yes", // prompt templates
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+configPath)

	cfg, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.RoutingExclusive, cfg.Relay.Routing)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, dataDir, cfg.Transcript.Dir)
	assert.Equal(t, filepath.Join(dir, "conf", "prompts.yaml"), cfg.Agent.PromptsFile)

	_, err = os.Stat(cfg.Agent.PromptsFile)
	assert.NoError(t, err)
	_, err = os.Stat(dataDir)
	assert.NoError(t, err)
}

func TestRunInit_KeepsExistingFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(configPath+"\nno\n"), &out))

	got, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
	assert.Contains(t, out.String(), "Aborted.")
}

func TestSendCmd_ValidatesArguments(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"send"})
	cmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "a command or --code is required")

	cmd = newRootCmd()
	cmd.SetArgs([]string{"send", "sendMessage", "{not json"})
	cmd.SetOut(&bytes.Buffer{})
	assert.ErrorContains(t, cmd.Execute(), "not valid JSON")
}
