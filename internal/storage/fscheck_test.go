package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func fixedProbe(kind string) func(string) (string, error) {
	return func(string) (string, error) { return kind, nil }
}

func TestCheckLocal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		probe   func(string) (string, error)
		wantErr bool
	}{
		{name: "ext4", probe: fixedProbe("ext4")},
		{name: "unknown magic", probe: fixedProbe("0x12345")},
		{name: "nfs", probe: fixedProbe("nfs"), wantErr: true},
		{name: "cifs any case", probe: fixedProbe(" CIFS "), wantErr: true},
		{name: "9p share", probe: fixedProbe("9p"), wantErr: true},
		{name: "probe fails", probe: func(string) (string, error) { return "", errors.New("unsupported") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := checkLocal(filepath.Join(t.TempDir(), "input"), "input.dir", tc.probe)
			if (err != nil) != tc.wantErr {
				t.Fatalf("checkLocal() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrRemoteFilesystem) {
				t.Fatalf("error %v does not wrap ErrRemoteFilesystem", err)
			}
			if !strings.Contains(err.Error(), "input.dir") {
				t.Fatalf("error %q does not name the setting", err)
			}
		})
	}
}

func TestCheckLocalProbesClosestExistingAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var probed string
	err := checkLocal(filepath.Join(root, "a", "b", "state.db"), "state.path", func(p string) (string, error) {
		probed = p
		return "xfs", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if probed != root {
		t.Fatalf("probed %q, want %q", probed, root)
	}
}

func TestCheckLocalEmptyPath(t *testing.T) {
	t.Parallel()

	if err := ValidateLocalFilesystem("", "state.path"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestValidateLocalFilesystemOnTempDir(t *testing.T) {
	t.Parallel()

	if err := ValidateLocalFilesystem(t.TempDir(), "input.dir"); err != nil {
		t.Fatalf("temp dir rejected: %v", err)
	}
}
