// Package config handles configuration loading for wormhole-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion. Values missing from the file keep the
// defaults returned by Default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WORMHOLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wormhole/gateway.yaml
//  3. ~/.config/wormhole/gateway.yaml
//
// A missing file is not an error for the serve commands; defaults apply.
//
// # Environment Variable Expansion
//
//	transport:
//	  relay_url: "ws://${WORMHOLE_RELAY_HOST}:8765"
//
// WORMHOLE_RELAY_URL, WORMHOLE_RELAY_ADDR and WORMHOLE_HTTP_ADDR override the
// corresponding fields after the file is parsed.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  request_timeout: "5m"   # 0s disables the deadline
//	transport:
//	  timeout: "5m"
//	  initial_backoff: "500ms"
package config
