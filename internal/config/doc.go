// Package config loads and validates the arbiter YAML configuration,
// expanding ${VAR} environment references and parsing duration strings.
package config
