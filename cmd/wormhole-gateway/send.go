// ABOUTME: send subcommand: relays one command (or legacy code body) to an execution client
// ABOUTME: Prints the client's result; exits non-zero when the reply is unsuccessful

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/wormhole-gateway/internal/transport"
)

func newSendCmd() *cobra.Command {
	var (
		code     string
		relayURL string
		timeout  time.Duration
		verbose  bool
	)

	cmd := &cobra.Command{
		Use:   "send [command] [params-json]",
		Short: "Send a command through the relay and print the result",
		Example: `  wormhole-gateway send createConversation '{"prompt":"hi","model":"GPT-4o"}'
  wormhole-gateway send --code 'document.title'`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" && len(args) == 0 {
				return errors.New("a command or --code is required")
			}
			if code != "" && len(args) > 0 {
				return errors.New("use either a command or --code, not both")
			}

			params := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			tcfg := transport.ConfigFrom(cfg.Transport)
			if relayURL != "" {
				tcfg.RelayURL = relayURL
			}
			if timeout > 0 {
				tcfg.Timeout = timeout
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = setupLogger(cfg.Logging)
			}
			client := transport.New(tcfg, logger, nil)

			var res transport.Result
			if code != "" {
				res = client.SendCode(cmd.Context(), code)
			} else {
				res = client.Send(cmd.Context(), args[0], params)
			}

			if !res.Success {
				return fmt.Errorf("command failed: %s", res.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Text())
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "send a legacy code body instead of a command")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL (default transport.relay_url)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt timeout (default transport.timeout)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log transport activity")
	return cmd
}
