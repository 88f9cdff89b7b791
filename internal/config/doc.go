// Package config handles configuration loading for copilot-super.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Every key has a default, so the file is optional.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COPILOT_SUPER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/copilot-super/config.yaml
//  3. ~/.config/copilot-super/config.yaml
//
// A path ending in .toml is parsed as TOML; anything else as YAML.
// `copilot-super init` writes a commented default YAML file.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  port: ${COPILOT_SUPER_PORT}
//
// Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Listener:
//
//	server:
//	  port: 55433
//	  port_attempts: 10
//	  max_body_bytes: 4194304
//
// Stream keepalives, in time.ParseDuration syntax:
//
//	sse:
//	  heartbeat_interval: "15s"
//	  call_keepalive_interval: "120s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Terminal replies:
//
//	console:
//	  enabled: true
//
// # Usage
//
//	cfg, found, err := config.LoadOrDefault(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
