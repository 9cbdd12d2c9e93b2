// Package config handles configuration loading for odoo-bridge.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. A .env file beside the config file (or in the working directory)
// is loaded first. Defaults are applied and the result is validated once at
// startup; it is never mutated afterwards.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ODOO_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/odoo-bridge/bridge.yaml
//  3. ~/.config/odoo-bridge/bridge.yaml
//
// Files with a .toml extension are decoded as TOML.
//
// # Environment Variable Expansion
//
//	backend:
//	  password: "${ODOO_PASSWORD}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3000"
//	  request_timeout: "30s"
//	  shutdown_grace_period: "10s"
//
//	database:
//	  path: "/var/lib/odoo-bridge/bridge.db"
//
//	auth:
//	  jwt_secret: "${ODOO_BRIDGE_JWT_SECRET}"   # at least 32 characters
//	  hash_cost: 10
//
//	backend:
//	  url: "https://odoo.example.com"
//	  database: "production"
//	  username: "admin"
//	  api_key: "${ODOO_API_KEY}"
//	  protocol: "auto"          # auto, xml, json
//	  json_min_version: 19
//	  health_check_timeout: "10s"
//	  retry:
//	    max_attempts: 3
//	    initial_backoff: "200ms"
//	    max_backoff: "2s"
//
//	rate_limit:
//	  default_per_minute: 300
//	  window: "1m"
//	  store: "memory"           # memory, redis
//	  redis_url: "redis://localhost:6379/0"
//
//	request_log:
//	  retention: "720h"
//	  max_entries: 100000       # 0 disables count pruning
//	  prune_interval: "1h"
//
//	mcp:
//	  enabled: true
//	  allow_key_in_path: false  # accept /mcp/<api-key>
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
