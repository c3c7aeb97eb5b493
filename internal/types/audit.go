package types

import "time"

// RunStatus summarizes where a recorded run ended up.
type RunStatus string

const (
	RunStatusScanned RunStatus = "scanned"  // recommendations recorded, nothing executed
	RunStatusDryRun  RunStatus = "dry-run"  // executed without mutation
	RunStatusApplied RunStatus = "applied"  // executed, no group errors
	RunStatusPartial RunStatus = "partial"  // executed with skipped or failed groups
)

// ScanRecord is what the audit store keeps from a scan.
type ScanRecord struct {
	RunID           string
	Root            string
	StartedAt       time.Time
	FinishedAt      time.Time
	Groups          []DuplicateGroup
	Recommendations []Recommendation
	FileErrors      int
}

// RunRecord is one row of the run history.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Groups      int    `json:"groups"`
	Automatic   int    `json:"automatic"`
	Manual      int    `json:"manual"`
	WastedBytes uint64 `json:"wasted_bytes"`
	FileErrors  int    `json:"file_errors"`

	// Execution fields are zero until the run is executed
	Mode          ApplyMode `json:"mode,omitempty"`
	BytesSaved    uint64    `json:"bytes_saved"`
	AppliedGroups int       `json:"applied_groups"`
	SkippedGroups int       `json:"skipped_groups"`

	Status RunStatus `json:"status"`
}

// BackupRecord ties a removed file to its backup copy.
type BackupRecord struct {
	RunID        string    `json:"run_id"`
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	CreatedAt    time.Time `json:"created_at"`
}
