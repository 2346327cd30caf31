// Package stores provides the SQLite persistence layer for pioide.
// It holds the persisted provisioning state, run history with step events,
// and IDE settings written by the housekeeping step.
package stores
