// Package config loads pomegranate settings from TOML, the environment and
// built-in defaults, and derives the on-disk layout under the data directory.
package config
