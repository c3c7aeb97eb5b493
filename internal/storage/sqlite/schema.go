package sqlite

const schema = `
-- One row per scan; execution columns are filled in when the run is executed
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    root TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    groups_found INTEGER NOT NULL DEFAULT 0,
    automatic INTEGER NOT NULL DEFAULT 0,
    manual INTEGER NOT NULL DEFAULT 0,
    wasted_bytes INTEGER NOT NULL DEFAULT 0,
    file_errors INTEGER NOT NULL DEFAULT 0,
    mode TEXT NOT NULL DEFAULT '',
    bytes_saved INTEGER NOT NULL DEFAULT 0,
    applied_groups INTEGER NOT NULL DEFAULT 0,
    skipped_groups INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'scanned'
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

-- Recommendations with the group they were made for
CREATE TABLE IF NOT EXISTS recommendations (
    run_id TEXT NOT NULL,
    group_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    method TEXT NOT NULL,
    members TEXT NOT NULL,
    canonical_path TEXT NOT NULL,
    remove_paths TEXT NOT NULL,
    similarity REAL NOT NULL,
    total_bytes INTEGER NOT NULL DEFAULT 0,
    wasted_bytes INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL CHECK(confidence >= 0 AND confidence <= 1),
    safety_threshold REAL NOT NULL,
    automatic INTEGER NOT NULL,
    rationale TEXT NOT NULL DEFAULT '',
    review_note TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, group_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

-- Execution attempts (a run can be dry-run first and applied later)
CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    applied_groups TEXT NOT NULL,
    skipped_groups TEXT NOT NULL,
    resolved_groups TEXT NOT NULL,
    would_apply_groups TEXT NOT NULL,
    bytes_saved INTEGER NOT NULL DEFAULT 0,
    bytes_reclaimable INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_executions_run ON executions(run_id);

CREATE TABLE IF NOT EXISTS execution_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id INTEGER NOT NULL,
    group_id TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS backups (
    run_id TEXT NOT NULL,
    original_path TEXT NOT NULL,
    backup_path TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (run_id, original_path),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
`
