// Package stores provides sqlite-backed persistence for checkpoints, the
// remediation attempt log, and deployment events.
//
// The settings file remains the source of truth for deployment progress;
// this store holds the records that need history, querying, or append-only
// semantics. Migrations are embedded and run at startup.
package stores
