package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewStore(t *testing.T) {
	t.Run("自动创建多级目录", func(t *testing.T) {
		newPath := filepath.Join(t.TempDir(), "new", "nested", "path")

		store, err := NewStore(newPath)

		require.NoError(t, err)
		assert.True(t, filepath.IsAbs(store.BasePath()))
		_, err = os.Stat(newPath)
		assert.NoError(t, err)
	})

	t.Run("拒绝路径遍历", func(t *testing.T) {
		_, err := NewStore("../uploads")
		assert.Error(t, err)
	})

	t.Run("拒绝空路径", func(t *testing.T) {
		_, err := NewStore("")
		assert.Error(t, err)
	})
}

func TestStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	location, err := store.Put(ctx, "1700000000000-abc123-report.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-abc123-report.pdf", location)

	data, err := store.Open(ctx, location)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), data)

	_, err = os.Stat(filepath.Join(store.BasePath(), location+".part"))
	assert.True(t, os.IsNotExist(err), "临时文件应被改名")

	require.NoError(t, store.Delete(ctx, location))
	_, err = store.Open(ctx, location)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.ErrorIs(t, store.Delete(ctx, location), ErrBlobNotFound)
}

func TestStore_RejectsUnsafeLocations(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	for _, name := range []string{"../escape.txt", "a/b.txt", "..", "", "  ", strings.Repeat("a", 300)} {
		_, err := store.Put(ctx, name, []byte("x"))
		assert.Error(t, err, "name %q", name)
		_, err = store.Open(ctx, name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestStore_Usage(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	usage, err := store.Usage()
	require.NoError(t, err)
	assert.Equal(t, Usage{}, usage)

	_, err = store.Put(ctx, "a.txt", []byte("hello"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "b.txt", []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(store.BasePath(), "sub"), 0o755))

	usage, err = store.Usage()
	require.NoError(t, err)
	assert.Equal(t, Usage{Files: 2, Bytes: 8}, usage)
}

func TestPlatformUtils(t *testing.T) {
	utils := NewPlatformUtils()

	testCases := []struct {
		name  string
		input string
		valid bool
	}{
		{"普通文件名", "document.pdf", true},
		{"带空格", "test file.txt", true},
		{"包含斜杠", "path/to/file.txt", false},
		{"包含反斜杠", "path\\file.txt", false},
		{"只有点", "...", false},
		{"空字符", "file\x00name.txt", false},
		{"临时文件后缀", "file.part", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.valid, utils.IsValidFilename(tc.input))
		})
	}

	assert.NoError(t, utils.ValidatePath("./uploads"))
	assert.NoError(t, utils.ValidatePath("/var/lib/mailport..old"))
	assert.Error(t, utils.ValidatePath("/var/../etc"))
}
