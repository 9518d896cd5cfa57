// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Missing optional values receive defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/relay.yaml
//  3. ~/.config/coven/relay.yaml
//
// A file whose name ends in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	matrix:
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	provider:
//	  request_timeout: "100s"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  driver: "sqlite"
//	  path: "~/.local/share/coven/relay.db"
//	provider:
//	  base_url: "http://localhost:3000"
//	  default: "chatgpt"
//	  clients:
//	    - key: "chatgpt"
//	      kind: "thread"
//	    - key: "bing"
//	      kind: "bound"
//	relay:
//	  max_segment_length: 2000
//	matrix:
//	  homeserver: "https://matrix.org"
//	  user_id: "@relay:matrix.org"
//	  access_token: "${MATRIX_ACCESS_TOKEN}"
//
// # Validation
//
// Validate returns the first failure it finds: a listener (http_addr or
// tailscale), database path and driver, provider URL and clients, a positive
// segment limit, Matrix credentials, and the log format.
package config
