// Package config loads, normalizes, and validates shelfarr configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SHELFARR_ABS_TOKEN or per-client SHELFARR_<ID>_PASSWORD. The Config type
// centralizes every knob the daemon and CLI need: media and data directories,
// the configured download clients, ffmpeg tuning, library confirmation and
// job scheduling intervals.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
