package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVideoFile(t *testing.T) {
	dir := t.TempDir()

	mkv := filepath.Join(dir, "movie.MKV")
	require.NoError(t, os.WriteFile(mkv, []byte("x"), 0o644))
	assert.True(t, IsVideoFile(mkv))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	assert.False(t, IsVideoFile(txt))

	assert.False(t, IsVideoFile(dir), "directories are not video files")
	assert.False(t, IsVideoFile(filepath.Join(dir, "missing.mkv")))
}

func TestGetFileStem(t *testing.T) {
	assert.Equal(t, "movie", GetFileStem("/media/movie.mkv"))
	assert.Equal(t, "archive.tar", GetFileStem("archive.tar.gz"))
}

func TestResolveOutputPath(t *testing.T) {
	assert.Equal(t, "/out/movie.mkv", ResolveOutputPath("/in/movie.avi", "/out", ""))
	assert.Equal(t, "/out/custom.mkv", ResolveOutputPath("/in/movie.avi", "/out", "custom.mkv"))
}

func TestResolveOutputArg(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mkv")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0o644))

	// File input + .mkv output = filename override.
	info, err := ResolveOutputArg(input, filepath.Join(dir, "out", "renamed.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "renamed.mkv", info.FilenameOverride)
	assert.Equal(t, filepath.Join(dir, "out"), info.OutputDir)

	// File input + non-mkv extension is an error.
	_, err = ResolveOutputArg(input, filepath.Join(dir, "out.mp4"))
	assert.Error(t, err)

	// File input + plain directory.
	info, err = ResolveOutputArg(input, filepath.Join(dir, "outdir"))
	require.NoError(t, err)
	assert.Empty(t, info.FilenameOverride)

	// Directory input always treats output as a directory.
	info, err = ResolveOutputArg(dir, filepath.Join(dir, "whatever"))
	require.NoError(t, err)
	assert.Empty(t, info.FilenameOverride)
}

func TestFileAndDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.True(t, DirectoryExists(dir))
	assert.False(t, DirectoryExists(file))

	size, err := GetFileSize(file)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), size)
}
