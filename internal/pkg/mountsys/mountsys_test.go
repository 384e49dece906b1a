package mountsys

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_MkdirIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := MkdirIdempotent(dir, 0o755); err != nil {
		t.Fatalf("MkdirIdempotent() first call error = %v", err)
	}
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		t.Fatalf("MkdirIdempotent() did not create %s", dir)
	}

	if err := MkdirIdempotent(dir, 0o755); err != nil {
		t.Errorf("MkdirIdempotent() on existing dir error = %v, want nil", err)
	}
}

func Test_CgroupUnified_DetectsControllersFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cgroup.controllers"), []byte("cpu memory\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	unified, err := CgroupUnified(dir)
	if err != nil {
		t.Fatalf("CgroupUnified() error = %v", err)
	}
	if !unified {
		t.Error("CgroupUnified() = false, want true when cgroup.controllers exists")
	}
}
