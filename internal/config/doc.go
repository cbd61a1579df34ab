// Package config loads, normalizes, and validates conveyor configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// CONVEYOR_NODE_URL. The Config type centralizes every knob the node, the
// stage workers and the CLI need, including the per-stage property tables
// served to workers through the node's getProperties endpoint.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
