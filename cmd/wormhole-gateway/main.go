// ABOUTME: Entry point for wormhole-gateway: relay, OpenAI-compatible API and proxy servers
// ABOUTME: Cobra root command with serve, relay, api, proxy, send, init and health subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/wormhole-gateway/internal/config"
	"github.com/2389/wormhole-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _           _
 __      _____  _ __ _ __ ___ | |__   ___ | | ___
 \ \ /\ / / _ \| '__| '_ ' _ \| '_ \ / _ \| |/ _ \
  \ V  V / (_) | |  | | | | | | | | | (_) | |  __/
   \_/\_/ \___/|_|  |_| |_| |_|_| |_|\___/|_|\___|
`

var cfgFile string

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > WORMHOLE_CONFIG env var > XDG_CONFIG_HOME/wormhole/gateway.yaml > ~/.config/wormhole/gateway.yaml
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if envPath := os.Getenv("WORMHOLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "wormhole", "gateway.yaml")
}

func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wormhole-gateway",
		Short:         "OpenAI-compatible gateway to a chat session running in a browser page",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $WORMHOLE_CONFIG or $XDG_CONFIG_HOME/wormhole/gateway.yaml)")

	var withProxy bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay and the API in one process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), gateway.Options{Relay: true, API: true, Proxy: withProxy})
		},
	}
	serve.Flags().BoolVar(&withProxy, "proxy", false, "also run the WebSocket proxy")

	root.AddCommand(
		serve,
		&cobra.Command{
			Use:   "relay",
			Short: "Run only the WebSocket relay",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), gateway.Options{Relay: true})
			},
		},
		&cobra.Command{
			Use:   "api",
			Short: "Run only the API, using the relay at transport.relay_url",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), gateway.Options{API: true})
			},
		},
		&cobra.Command{
			Use:   "proxy",
			Short: "Run only the WebSocket proxy to transport.relay_url",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), gateway.Options{Proxy: true})
			},
		},
		newSendCmd(),
		newInitCmd(),
		newHealthCmd(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, opts gateway.Options) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	if opts.Relay {
		green.Print("    ▶ ")
		fmt.Printf("Relay:     %s\n", cfg.Server.RelayAddr)
	}
	if opts.API {
		green.Print("    ▶ ")
		fmt.Printf("API:       %s\n", cfg.Server.HTTPAddr)
		if !opts.Relay {
			green.Print("    ▶ ")
			fmt.Printf("Upstream:  %s\n", cfg.Transport.RelayURL)
		}
	}
	if opts.Proxy {
		green.Print("    ▶ ")
		fmt.Printf("Proxy:     %s -> %s\n", cfg.Server.ProxyAddr, cfg.Transport.RelayURL)
	}
	if cfg.Transcript.Enabled && opts.API {
		green.Print("    ▶ ")
		fmt.Printf("Transcripts: %s\n", cfg.Transcript.Dir)
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting wormhole-gateway",
		"config", configPath,
		"relay", opts.Relay,
		"api", opts.API,
		"proxy", opts.Proxy,
	)

	gw, err := gateway.New(cfg, opts, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// localURL turns a listen address into one a local client can dial.
func localURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func newHealthCmd() *cobra.Command {
	var ready bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			path := "/health"
			if ready {
				path = "/health/ready"
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, localURL(cfg.Server.HTTPAddr, path), nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness (an execution client is connected) instead of liveness")
	return cmd
}
