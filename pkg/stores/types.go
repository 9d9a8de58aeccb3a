package stores

import (
	"time"
)

// CheckpointStatus is the lifecycle state of a checkpoint.
type CheckpointStatus string

const (
	// CheckpointStatusActive marks a restorable checkpoint.
	CheckpointStatusActive CheckpointStatus = "active"

	// CheckpointStatusRolledBack marks a checkpoint consumed by a restore.
	CheckpointStatusRolledBack CheckpointStatus = "rolled_back"
)

// Checkpoint is a recorded, restorable snapshot of a deployment target's
// dataset taken before a risky operation.
type Checkpoint struct {
	ID             string           `json:"id"`
	SiteID         string           `json:"site_id"`
	Environment    string           `json:"environment"`
	CreatedAt      time.Time        `json:"created_at"`
	DataPath       string           `json:"data_path"`
	SourceRevision string           `json:"source_revision,omitempty"`
	Status         CheckpointStatus `json:"status"`
}

// RemediationResult is the outcome of a remediation attempt.
type RemediationResult string

const (
	RemediationResultSuccess RemediationResult = "success"
	RemediationResultFailed  RemediationResult = "failed"
)

// RemediationAttempt is one append-only remediation log entry.
type RemediationAttempt struct {
	ID          int64             `json:"id"`
	PatternID   string            `json:"pattern_id"`
	SiteID      string            `json:"site_id"`
	Command     string            `json:"command"`
	StateBefore string            `json:"state_before,omitempty"`
	StateAfter  string            `json:"state_after,omitempty"`
	Result      RemediationResult `json:"result"`
	Duration    time.Duration     `json:"duration"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DeployEvent is one append-only deployment event record.
type DeployEvent struct {
	ID          int64     `json:"id"`
	SiteID      string    `json:"site_id"`
	Environment string    `json:"environment"`
	StepKey     string    `json:"step_key,omitempty"`
	Type        string    `json:"type"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
