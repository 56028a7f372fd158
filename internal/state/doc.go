// Package state provides the pluggable key/value store with sliding
// expiration that all runtime coordination components share. Two backends
// conform to the same Store contract: an in-process map for single-instance
// deployments and a redis client for multi-instance ones.
package state
