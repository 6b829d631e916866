package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFileDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: x\n")

	lock, err := LockFile(path, true)
	require.NoError(t, err)
	assert.False(t, lock.Written)
	assert.Len(t, lock.Hash, 64)
	assert.Equal(t, filepath.Join(dir, ChecksumFile), lock.Manifest)

	_, err = os.Stat(lock.Manifest)
	assert.True(t, os.IsNotExist(err), ".checksums written in dry run")
}

func TestLoadVerifiesLockedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  log_level: info\n")

	lock, err := LockFile(path, false)
	require.NoError(t, err)
	require.True(t, lock.Written)

	info, err := os.Stat(lock.Manifest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = Load(dir)
	require.NoError(t, err, "locked, unmodified config")

	require.NoError(t, os.WriteFile(path, []byte("service:\n  log_level: debug\n"), 0o644))
	_, err = Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigModified))
	assert.Contains(t, err.Error(), "dropwatch config lock")

	_, err = LockFile(path, false)
	require.NoError(t, err)
	_, err = Load(dir)
	assert.NoError(t, err, "relocked config")
}

func TestLockFileKeepsOtherEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")
	other := filepath.Join(dir, "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("x: 1\n"), 0o644))

	_, err := LockFile(other, false)
	require.NoError(t, err)

	// config.yaml is not listed yet.
	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not listed")

	_, err = LockFile(path, false)
	require.NoError(t, err)

	m, err := readManifest(dir)
	require.NoError(t, err)
	assert.Len(t, m.Files, 2)
}

func TestReadManifestRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ChecksumFile), []byte("version: 9\nfiles: {}\n"), 0o600))

	_, err := readManifest(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestHashFileIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	a, err := hashFile(path)
	require.NoError(t, err)
	b, err := hashFile(path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	_, err = hashFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
