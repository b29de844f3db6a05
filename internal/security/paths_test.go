package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWithinDir(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "captures")
	unsafeDir := filepath.Join(tmpDir, "elsewhere")
	for _, d := range []string{safeDir, unsafeDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	if err := os.WriteFile(filepath.Join(unsafeDir, "secret.txt"), []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(unsafeDir, filepath.Join(safeDir, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(safeDir, "capture.xrcap.zst"), false},
		{"nested new file", filepath.Join(safeDir, "2026", "a.xrcap.zst"), false},
		{"dot dot", filepath.Join(safeDir, "..", "elsewhere", "secret.txt"), true},
		{"absolute outside", "/etc/passwd", true},
		{"the dir itself", safeDir, false},
		{"through symlink", filepath.Join(safeDir, "link", "secret.txt"), true},
		{"new file under symlink", filepath.Join(safeDir, "link", "new.txt"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, safeDir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithinDir(%q) = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrOutsideDir) {
				t.Errorf("error %v does not wrap ErrOutsideDir", err)
			}
		})
	}

	if err := WithinDir(filepath.Join(safeDir, "x"), filepath.Join(tmpDir, "missing")); err == nil {
		t.Error("missing directory should be an error")
	}
}

func TestResolveIn(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveIn(dir, "capture-20260314T120000Z.xrcap.zst")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "capture-20260314T120000Z.xrcap.zst"); got != want {
		t.Errorf("ResolveIn = %q, want %q", got, want)
	}

	for _, bad := range []string{"", ".", "..", "../x", "a/b", `a\b`} {
		if _, err := ResolveIn(dir, bad); !errors.Is(err, ErrOutsideDir) {
			t.Errorf("ResolveIn(%q) = %v, want ErrOutsideDir", bad, err)
		}
	}
}
