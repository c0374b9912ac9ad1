// Package config loads, normalizes, and validates datastudio configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks for object
// storage credentials. Always obtain settings through this package so
// downstream code receives sanitized paths and clear validation errors.
package config
