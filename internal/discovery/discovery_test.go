package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latheerrors "github.com/five82/lathe/internal/errors"
)

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
}

func TestFindVideoFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.mkv")
	touch(t, dir, "a.mp4")
	touch(t, dir, "notes.txt")
	touch(t, dir, ".hidden.mkv")
	touch(t, dir, "movie-sample.mkv")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	files, err := FindVideoFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.mp4", filepath.Base(files[0]))
	assert.Equal(t, "b.mkv", filepath.Base(files[1]))
}

func TestFindVideoFilesEmpty(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "readme.md")

	_, err := FindVideoFiles(dir)
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindNoFilesFound))
}

func TestFindVideoFilesMissingDir(t *testing.T) {
	_, err := FindVideoFiles(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, latheerrors.IsKind(err, latheerrors.KindInputValidation))
}
