package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveIntoDir(t *testing.T) {
	t.Run("moves a file and creates the destination", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "chapter.zip")
		require.NoError(t, os.WriteFile(src, []byte("archive"), 0644))

		dest := filepath.Join(dir, "uploaded")
		moved, err := MoveIntoDir(src, dest)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dest, "chapter.zip"), moved)
		assert.NoFileExists(t, src)
		data, err := os.ReadFile(moved)
		require.NoError(t, err)
		assert.Equal(t, "archive", string(data))
	})

	t.Run("moves a folder", func(t *testing.T) {
		dir := t.TempDir()
		src := filepath.Join(dir, "chapter")
		require.NoError(t, os.MkdirAll(src, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "01.png"), []byte("page"), 0644))

		dest := filepath.Join(dir, "uploaded")
		moved, err := MoveIntoDir(src, dest)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dest, "chapter"), moved)
		assert.NoDirExists(t, src)
		assert.FileExists(t, filepath.Join(moved, "01.png"))
	})

	t.Run("appends version suffixes on collisions", func(t *testing.T) {
		dir := t.TempDir()
		dest := filepath.Join(dir, "uploaded")

		for i, expected := range []string{"chapter.zip", "chapter{v2}.zip", "chapter{v3}.zip"} {
			src := filepath.Join(dir, "chapter.zip")
			require.NoError(t, os.WriteFile(src, []byte{byte(i)}, 0644))

			moved, err := MoveIntoDir(src, dest)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dest, expected), moved)
		}

		// Nothing got overwritten along the way.
		first, err := os.ReadFile(filepath.Join(dest, "chapter.zip"))
		require.NoError(t, err)
		assert.Equal(t, []byte{0}, first)
	})

	t.Run("missing source", func(t *testing.T) {
		dir := t.TempDir()
		_, err := MoveIntoDir(filepath.Join(dir, "nope.zip"), filepath.Join(dir, "uploaded"))
		assert.Error(t, err)
	})
}
