package repositories

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"graphqueue/internal/db"
)

// setupTestDB creates a fresh migrated sqlite database for one test.
func setupTestDB(t *testing.T) (*db.DB, *Repositories) {
	t.Helper()
	tempFile := filepath.Join(t.TempDir(), "test.db")
	testDB, err := db.New(tempFile)
	require.NoError(t, err)
	require.NoError(t, testDB.Migrate())

	repos := New(testDB)
	return testDB, repos
}
