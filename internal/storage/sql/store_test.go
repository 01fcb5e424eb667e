package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailport/backend/internal/config"
	"mailport/backend/internal/storage"
	"mailport/backend/internal/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "mailport.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore(config.DatabaseConfig{Type: "oracle", DSN: "x"}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.migrate(ctx))

	var versions int
	require.NoError(t, store.db.GetContext(ctx, &versions, `SELECT COUNT(*) FROM schema_version`))
	assert.Equal(t, len(migrations), versions)
}

func TestDatabaseSize(t *testing.T) {
	store := newSQLiteStore(t)

	size, err := store.DatabaseSize(context.Background())
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestDBTimeScan(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 30, 15, 500000000, time.UTC)

	testCases := []struct {
		name  string
		value interface{}
	}{
		{"time.Time", want},
		{"SQLite 文本", "2024-03-01 09:30:15.5+00:00"},
		{"RFC3339", []byte("2024-03-01T09:30:15.5Z")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got dbTime
			require.NoError(t, got.Scan(tc.value))
			assert.True(t, want.Equal(got.Time), "got %v", got.Time)
		})
	}

	var bad dbTime
	assert.Error(t, bad.Scan("yesterday"))
	assert.Error(t, bad.Scan(42))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db?mode=rwc"))
	assert.Equal(t, "a.db?_pragma=foreign_keys(0)", sqliteDSN("a.db?_pragma=foreign_keys(0)"))
}
