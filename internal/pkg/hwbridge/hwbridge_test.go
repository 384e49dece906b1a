package hwbridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func Test_hasWholeWordMember(t *testing.T) {
	cases := []struct {
		list string
		name string
		want bool
	}{
		{"root", "root", true},
		{"alice,root,bob", "root", true},
		{"alice,bob", "root", false},
		{"", "root", false},
		{"rootish", "root", false},
	}
	for _, c := range cases {
		if got := hasWholeWordMember(c.list, c.name); got != c.want {
			t.Errorf("hasWholeWordMember(%q, %q) = %v, want %v", c.list, c.name, got, c.want)
		}
	}
}

func writeGroupFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "group")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_ReconcileGPUGroups_AppendsMissingEntry(t *testing.T) {
	dir := t.TempDir()
	writeGroupFile(t, dir, "root:x:0:\nshell:x:2000:\n")

	if err := ReconcileGPUGroups(dir, []uint32{3003}); err != nil {
		t.Fatalf("ReconcileGPUGroups() error = %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "group"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "gpu_3003:x:3003:root") {
		t.Errorf("group file missing synthesized gpu group, got:\n%s", out)
	}
}

func Test_ReconcileGPUGroups_AddsRootToExistingGroup(t *testing.T) {
	dir := t.TempDir()
	writeGroupFile(t, dir, "root:x:0:\nvideo:x:44:alice\n")

	if err := ReconcileGPUGroups(dir, []uint32{44}); err != nil {
		t.Fatalf("ReconcileGPUGroups() error = %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "group"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "video:x:44:alice,root") {
		t.Errorf("group file missing root membership, got:\n%s", out)
	}
}

func Test_ReconcileGPUGroups_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeGroupFile(t, dir, "root:x:0:\nvideo:x:44:alice\n")

	if err := ReconcileGPUGroups(dir, []uint32{44}); err != nil {
		t.Fatalf("first ReconcileGPUGroups() error = %v", err)
	}
	first, err := os.ReadFile(filepath.Join(dir, "group"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ReconcileGPUGroups(dir, []uint32{44}); err != nil {
		t.Fatalf("second ReconcileGPUGroups() error = %v", err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "group"))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Errorf("ReconcileGPUGroups is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func Test_ReconcileGPUGroups_NoGids(t *testing.T) {
	dir := t.TempDir()
	// No group file at all; with zero gids this must short-circuit before
	// ever touching the filesystem.
	if err := ReconcileGPUGroups(dir, nil); err != nil {
		t.Errorf("ReconcileGPUGroups() with no gids error = %v, want nil", err)
	}
}

func Test_ReconcileGPUGroups_AlreadyMember(t *testing.T) {
	dir := t.TempDir()
	writeGroupFile(t, dir, "video:x:44:alice,root\n")

	if err := ReconcileGPUGroups(dir, []uint32{44}); err != nil {
		t.Fatalf("ReconcileGPUGroups() error = %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "group"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(string(out), "root") != 1 {
		t.Errorf("ReconcileGPUGroups duplicated an existing root membership, got:\n%s", out)
	}
}
