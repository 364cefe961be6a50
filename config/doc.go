// Package config loads engine configuration from YAML with environment
// variable overrides. Precedence: built-in defaults, then the YAML file,
// then BERU_* environment variables.
package config
