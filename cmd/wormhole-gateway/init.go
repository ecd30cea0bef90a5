// ABOUTME: init subcommand: interactive config file setup
// ABOUTME: Also writes the default prompt templates next to the config for customisation

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/wormhole-gateway/internal/assets"
	"github.com/2389/wormhole-gateway/internal/config"
)

// getDataPath returns the path to the wormhole data directory.
// Priority: XDG_DATA_HOME/wormhole > ~/.local/share/wormhole
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "wormhole")
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// initAnswers are the values collected by runInit.
type initAnswers struct {
	RelayAddr        string
	HTTPAddr         string
	RelayURL         string
	Routing          string
	TranscriptDir    string
	TailscaleEnabled bool
	TailscaleHost    string
	TailscaleAuthKey string
	TailscaleHTTPS   bool
	LogLevel         string
	LogFormat        string
	PromptsFile      string
	SystemFile       string
}

func runInit(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	defaults := config.Default()

	fmt.Fprintln(out, "wormhole-gateway configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.RelayAddr = prompt(reader, out, "Relay address", defaults.Server.RelayAddr)
	a.HTTPAddr = prompt(reader, out, "API address", defaults.Server.HTTPAddr)
	a.RelayURL = prompt(reader, out, "Relay URL used by the API", defaults.Transport.RelayURL)
	a.Routing = prompt(reader, out, "Routing (broadcast/exclusive)", defaults.Relay.Routing)

	fmt.Fprintln(out, "\n--- Transcripts ---")
	a.TranscriptDir = prompt(reader, out, "Transcript directory", getDataPath())

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = isYes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHost = prompt(reader, out, "Tailscale hostname", defaults.Tailscale.Hostname)
		a.TailscaleAuthKey = prompt(reader, out, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		a.TailscaleHTTPS = isYes(prompt(reader, out, "Serve the API over HTTPS?", "no"))
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	configDir := filepath.Dir(outputFile)
	if isYes(prompt(reader, out, "Write default prompt templates for editing?", "yes")) {
		written, err := assets.WriteDefaults(configDir, false)
		if err != nil {
			return fmt.Errorf("writing prompt templates: %w", err)
		}
		for _, p := range written {
			fmt.Fprintf(out, "Wrote %s\n", p)
		}
		a.PromptsFile = filepath.Join(configDir, "prompts.yaml")
		a.SystemFile = filepath.Join(configDir, "system.md")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(a.TranscriptDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	if _, err := config.Load(outputFile); err != nil {
		return fmt.Errorf("generated config does not load: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  wormhole-gateway serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# wormhole-gateway configuration\n")
	cfg.WriteString("# Generated by wormhole-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  relay_addr: %q\n", a.RelayAddr)
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	cfg.WriteString("\n")

	cfg.WriteString("relay:\n")
	fmt.Fprintf(&cfg, "  routing: %q\n", a.Routing)
	cfg.WriteString("  request_timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("transport:\n")
	fmt.Fprintf(&cfg, "  relay_url: %q\n", a.RelayURL)
	cfg.WriteString("  max_retries: 3\n")
	cfg.WriteString("  timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString("  max_steps: 20\n")
	if a.PromptsFile != "" {
		fmt.Fprintf(&cfg, "  prompts_file: %q\n", a.PromptsFile)
		fmt.Fprintf(&cfg, "  system_file: %q\n", a.SystemFile)
	}
	cfg.WriteString("\n")

	cfg.WriteString("transcript:\n")
	cfg.WriteString("  enabled: true\n")
	fmt.Fprintf(&cfg, "  dir: %q\n", a.TranscriptDir)
	fmt.Fprintf(&cfg, "  database: %q\n", filepath.Join(a.TranscriptDir, "transcripts.db"))
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TailscaleHost)
		if a.TailscaleAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TailscaleAuthKey)
		}
		fmt.Fprintf(&cfg, "  https: %t\n", a.TailscaleHTTPS)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
