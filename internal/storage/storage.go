package storage

import (
	"context"
	"path/filepath"

	"github.com/steveyegge/dupescan/internal/storage/sqlite"
	"github.com/steveyegge/dupescan/internal/types"
)

// Storage is the durable audit log. Only recommendations and execution
// outcomes are persisted; file records and groups live for one run.
type Storage interface {
	// Scans
	RecordScan(ctx context.Context, scan *types.ScanRecord) error
	GetRecommendations(ctx context.Context, runID string) ([]types.Recommendation, error)

	// Executions
	RecordExecution(ctx context.Context, res *types.ExecutionResult) error
	GetBackups(ctx context.Context, runID string) ([]types.BackupRecord, error)

	// Run history. GetRun returns nil, nil for an unknown run.
	GetRun(ctx context.Context, runID string) (*types.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]*types.RunRecord, error)
	DeleteRun(ctx context.Context, runID string) error

	Close() error
}

// Config holds database configuration
type Config struct {
	Path string
}

// DefaultConfig returns the default audit database location
func DefaultConfig() *Config {
	return &Config{
		Path: filepath.Join(DirName, "audit.db"),
	}
}

// NewStorage opens the audit store described by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	store, err := sqlite.New(cfg.Path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
