package fsio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanakamedala-rajesh/SecureStorage/secerr"
)

func TestAtomicWriteCreates(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")

	require.NoError(t, fs.AtomicWrite(path, []byte("payload")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	// Mode is 0644 before umask; owner must be able to read and write,
	// nobody else to write.
	info, err := os.Stat(path)
	require.NoError(t, err)
	perm := info.Mode().Perm()
	assert.EqualValues(t, 0o600, perm&0o600)
	assert.Zero(t, perm&0o022)
}

func TestAtomicWriteReplaces(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.bin")

	require.NoError(t, fs.AtomicWrite(path, []byte("old content, longer")))
	require.NoError(t, fs.AtomicWrite(path, []byte("new")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestAtomicWriteLeavesNoTemp(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	require.NoError(t, fs.AtomicWrite(filepath.Join(dir, "a"), []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name())
}

func TestAtomicWriteCreatesParents(t *testing.T) {
	fs := New()
	dir := t.TempDir()
	path := filepath.Join(dir, "x", "y", "blob.bin")

	require.NoError(t, fs.AtomicWrite(path, []byte("deep")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("deep"), got)
}

func TestAtomicWriteEmpty(t *testing.T) {
	fs := New()
	path := filepath.Join(t.TempDir(), "empty")

	require.NoError(t, fs.AtomicWrite(path, nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestReadAll(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	got, err := fs.ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestReadAllEmptyFile(t *testing.T) {
	fs := New()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	got, err := fs.ReadAll(path)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReadAllMissing(t *testing.T) {
	fs := New()
	_, err := fs.ReadAll(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, secerr.KindPathNotFound, secerr.KindOf(err))
}

func TestDeleteIdempotent(t *testing.T) {
	fs := New()
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, fs.Delete(path))
	require.NoError(t, fs.Delete(path))
	assert.False(t, fs.Exists(path))
}

func TestExists(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	assert.True(t, fs.Exists(dir))
	assert.False(t, fs.Exists(filepath.Join(dir, "missing")))

	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, fs.Exists(path))
}

func TestListRegular(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "a"), filepath.Join(dir, "link")))

	names, err := fs.ListRegular(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestListRegularMissingDir(t *testing.T) {
	fs := New()
	_, err := fs.ListRegular(filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, secerr.KindPathNotFound, secerr.KindOf(err))
}

func TestEnsureDir(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	deep := filepath.Join(dir, "a", "b", "c")
	require.NoError(t, fs.EnsureDir(deep))
	assert.True(t, fs.Exists(deep))

	// Existing directory is fine.
	require.NoError(t, fs.EnsureDir(deep))
}

func TestEnsureDirOverFile(t *testing.T) {
	fs := New()
	dir := t.TempDir()

	file := filepath.Join(dir, "occupied")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	err := fs.EnsureDir(filepath.Join(file, "child"))
	assert.Equal(t, secerr.KindOperationFailed, secerr.KindOf(err))
}
