package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAuditDir(t *testing.T, dir string, dbs ...string) {
	t.Helper()
	auditDir := filepath.Join(dir, DirName)
	require.NoError(t, os.MkdirAll(auditDir, 0755))
	for _, name := range dbs {
		require.NoError(t, os.WriteFile(filepath.Join(auditDir, name), nil, 0644))
	}
}

// A database in a parent directory must not be picked up from a child.
func TestDiscoverDatabaseInDir_CurrentDirOnly(t *testing.T) {
	parentDir := filepath.Join(t.TempDir(), "parent")
	childDir := filepath.Join(parentDir, "child")
	makeAuditDir(t, parentDir, "audit.db")
	require.NoError(t, os.MkdirAll(childDir, 0755))

	_, err := discoverDatabaseInDir(childDir)
	assert.Error(t, err)

	dbPath, err := discoverDatabaseInDir(parentDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(parentDir, DirName, "audit.db"), dbPath)
}

func TestDiscoverDatabaseInDir(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, dir string)
		expected string
		wantErr  bool
	}{
		{
			name:     "lexically first database wins",
			setup:    func(t *testing.T, dir string) { makeAuditDir(t, dir, "zzz.db", "aaa.db") },
			expected: "aaa.db",
		},
		{
			name:    "no audit directory",
			setup:   func(t *testing.T, dir string) {},
			wantErr: true,
		},
		{
			name:    "empty audit directory",
			setup:   func(t *testing.T, dir string) { makeAuditDir(t, dir) },
			wantErr: true,
		},
		{
			name:    "non-database files ignored",
			setup:   func(t *testing.T, dir string) { makeAuditDir(t, dir, "notes.txt") },
			wantErr: true,
		},
		{
			name: "audit path is a file",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, DirName), nil, 0644))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			dbPath, err := discoverDatabaseInDir(dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, DirName, tt.expected), dbPath)
		})
	}
}

func TestDiscoverDatabase_WithEnvVar(t *testing.T) {
	t.Setenv("DUPESCAN_DB_PATH", "/custom/audit.db")

	dbPath, err := DiscoverDatabase()
	require.NoError(t, err)
	assert.Equal(t, "/custom/audit.db", dbPath)
}

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot("/home/user/photos/.dupescan/audit.db")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/photos", root)

	_, err = GetProjectRoot("/home/user/photos/audit.db")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, filepath.Join(".dupescan", "audit.db"), DefaultConfig().Path)
}
