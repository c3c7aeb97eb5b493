package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirName is the per-project directory holding the audit database.
const DirName = ".dupescan"

// DiscoverDatabase looks for .dupescan/*.db in the current directory only.
// Returns the absolute path to the database file, or an error if not found.
// DUPESCAN_DB_PATH takes precedence and is returned without checks.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("DUPESCAN_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	// Parent directories are not searched, so a nested checkout never
	// writes into an enclosing project's log
	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .dupescan/*.db in dir. When several
// databases exist the lexically first one wins.
func discoverDatabaseInDir(dir string) (string, error) {
	auditDir := filepath.Join(dir, DirName)

	if info, err := os.Stat(auditDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(auditDir)
		if err == nil {
			var names []string
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					names = append(names, entry.Name())
				}
			}
			sort.Strings(names)
			if len(names) > 0 {
				absPath, err := filepath.Abs(filepath.Join(auditDir, names[0]))
				if err != nil {
					return "", fmt.Errorf("failed to get absolute path: %w", err)
				}
				return absPath, nil
			}
		}
	}

	return "", fmt.Errorf(
		"no %s/*.db found in %s\n"+
			"  Use --db to create an audit log at an explicit path",
		DirName, dir)
}

// GetProjectRoot returns the directory containing the .dupescan/ directory
// that holds dbPath.
//
// Example:
//
//	dbPath: /home/user/photos/.dupescan/audit.db
//	returns: /home/user/photos
func GetProjectRoot(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	dbDir := filepath.Dir(absPath)
	if filepath.Base(dbDir) != DirName {
		return "", fmt.Errorf("database must be in a %s/ directory, got: %s", DirName, dbPath)
	}

	return filepath.Dir(dbDir), nil
}
