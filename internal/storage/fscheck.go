package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrRemoteFilesystem is wrapped by ValidateLocalFilesystem when a path sits
// on a network mount.
var ErrRemoteFilesystem = errors.New("remote filesystem")

// Changes made on another host never raise local watch events on these, and
// flock is unreliable.
var remoteMounts = []string{"9p", "afpfs", "ceph", "cifs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

// ValidateLocalFilesystem fails if path, or the closest ancestor that exists,
// is on a network mount. setting is the config key reported in the error.
// A platform that cannot report mount types passes.
func ValidateLocalFilesystem(path, setting string) error {
	return checkLocal(path, setting, mountType)
}

func checkLocal(path, setting string, probe func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s: path is empty", setting)
	}

	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("%s: %w", setting, err)
	}

	kind, err := probe(dir)
	if err != nil {
		return nil
	}
	if isRemote(kind) {
		return fmt.Errorf("%w: %s %q is on %s; dropwatch needs local disk to watch files and hold locks",
			ErrRemoteFilesystem, setting, path, kind)
	}
	return nil
}

// existingAncestor walks up from path until something exists.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("nothing on the way to %q exists", abs)
		}
		dir = up
	}
}

func isRemote(kind string) bool {
	return slices.Contains(remoteMounts, strings.ToLower(strings.TrimSpace(kind)))
}
