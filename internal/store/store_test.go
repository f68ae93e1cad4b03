package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "open %d", i)
		assert.Equal(t, schemaVersion, userVersion(t, s.db), "open %d", i)
		require.NoError(t, s.Close())
	}
	assert.FileExists(t, path)
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Query(context.Background(), "SELECT COUNT(*) FROM objects")
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var n int
	require.NoError(t, rows.Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/tether.db")
	assert.Error(t, err)
}

func TestClose_Twice(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })

	assert.NoError(t, (&Store{}).Close())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			require.NoError(t, s.db.QueryRow("PRAGMA "+tt.name).Scan(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema(t *testing.T) {
	s := createTestStore(t)

	tables := map[string][]string{
		"objects":            {"type", "id", "version", "data"},
		"contexts":           {"id", "phase", "status", "seq", "data"},
		"external_objects":   {"resource", "id", "data"},
		"external_sequences": {"resource", "last_id"},
	}
	for table, want := range tables {
		assert.Subset(t, tableColumns(t, s.db, table), want, table)
	}
	assert.Contains(t, tableIndexes(t, s.db, "contexts"), "idx_contexts_phase")
	assert.Contains(t, tableIndexes(t, s.db, "objects"), "idx_objects_shadow_resource")
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.db")

	// A database created before migrations existed: schema only, no index.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, schemaVersion, userVersion(t, s.db))
	assert.Contains(t, tableIndexes(t, s.db, "objects"), "idx_objects_shadow_resource")
}

func userVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&v))
	return v
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	return columns
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	require.NoError(t, err)
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())
	return indexes
}
