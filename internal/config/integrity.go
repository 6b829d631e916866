package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest written next to a locked config file.
const ChecksumFile = ".checksums"

const manifestVersion = 1

// ErrConfigModified is returned by Load when a locked config file no longer
// matches the hash recorded for it.
var ErrConfigModified = errors.New("config file changed since it was locked")

// manifest maps file base names to BLAKE3 hashes. One manifest can cover
// several config files in the same directory.
type manifest struct {
	Version  int               `yaml:"version"`
	LockedAt time.Time         `yaml:"locked_at"`
	Files    map[string]string `yaml:"files"`
}

// Lock is the outcome of LockFile.
type Lock struct {
	File     string
	Manifest string
	Hash     string
	Written  bool
}

// LockFile hashes file and records the hash in the manifest beside it.
// Entries for other files already in the manifest are kept. With dryRun
// nothing is written.
func LockFile(file string, dryRun bool) (Lock, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return Lock{}, err
	}
	dir := filepath.Dir(abs)
	lock := Lock{File: abs, Manifest: filepath.Join(dir, ChecksumFile)}

	lock.Hash, err = hashFile(abs)
	if err != nil {
		return Lock{}, err
	}
	if dryRun {
		return lock, nil
	}

	m, err := readManifest(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m = &manifest{Version: manifestVersion, Files: map[string]string{}}
	case err != nil:
		return Lock{}, err
	}
	m.LockedAt = time.Now().UTC().Truncate(time.Second)
	m.Files[filepath.Base(abs)] = lock.Hash

	data, err := yaml.Marshal(m)
	if err != nil {
		return Lock{}, fmt.Errorf("encode %s: %w", ChecksumFile, err)
	}
	// Only the owner may rewrite what the loader trusts.
	if err := os.WriteFile(lock.Manifest, data, 0o600); err != nil {
		return Lock{}, fmt.Errorf("write %s: %w", lock.Manifest, err)
	}
	lock.Written = true
	return lock, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readManifest(dir string) (*manifest, error) {
	path := filepath.Join(dir, ChecksumFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("%s: unsupported version %d", path, m.Version)
	}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	return &m, nil
}

// verifyLocked checks path against the manifest in its directory. Without a
// manifest the directory is unlocked and anything passes.
func verifyLocked(path string) error {
	m, err := readManifest(filepath.Dir(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	want, ok := m.Files[name]
	if !ok {
		return fmt.Errorf("%w: %s is not listed in %s; run: dropwatch config lock --config %s",
			ErrConfigModified, name, ChecksumFile, path)
	}
	got, err := hashFile(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s hash is %s, locked as %s; if the edit was intended run: dropwatch config lock --config %s",
			ErrConfigModified, name, got, want, path)
	}
	return nil
}
