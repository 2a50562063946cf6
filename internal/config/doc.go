// Package config handles configuration loading for fabricd.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and the resolved defaults
// for every open-question setting (liveness timeout, minimum semantic
// score, late-result retention).
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FABRIC_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  liveness_timeout: "90s"
//	hub:
//	  late_result_retention: "15m"
//	  dedupe_ttl: "5m"
//	rate:
//	  cooldown_backoff: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # admin/control API
//
//	database:
//	  path: "/var/lib/fabric/fabric.db"  # empty disables persistence
//
//	auth:
//	  jwt_secret: "${FABRIC_JWT_SECRET}"
//	  rp_display_name: "Agent Fabric"
//	  rp_id: "fabric.local"
//	  rp_origin: "https://fabric.local"
//
//	agents:
//	  liveness_timeout: "90s"
//	  inbox_capacity: 128
//
//	capability:
//	  min_score: 0.35
//
//	hub:
//	  late_result_retention: "15m"
//	  dedupe_ttl: "5m"
//
//	rate:
//	  per_minute: 60
//	  per_hour: 1000
//	  max_turns: 50
//	  cooldown_backoff: "30s"
//
//	packs:
//	  dir: "/etc/fabric/packs"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "json"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/fabric/fabricd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
