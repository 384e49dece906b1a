package seccomp

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

func Test_Build_AssemblesWithoutNamespaceCheck(t *testing.T) {
	cfg := &config.Config{IsSystemd: false}
	kernel := config.KernelVersion{Major: 6, Minor: 1}

	p, err := Build(cfg, kernel)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
}

func Test_Build_AssemblesWithNamespaceCheck(t *testing.T) {
	cfg := &config.Config{IsSystemd: true}
	kernel := config.KernelVersion{Major: 4, Minor: 14}

	p, err := Build(cfg, kernel)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, err := p.Assemble(); err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
}

func Test_Build_SkipsNamespaceCheckOnNewKernel(t *testing.T) {
	cfg := &config.Config{IsSystemd: true}
	kernel := config.KernelVersion{Major: 5, Minor: 10}

	p, err := Build(cfg, kernel)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, n := range p.nodes {
		if n.label == "ns_check" || n.label == "ns_deny" {
			t.Errorf("Build() with kernel >= 5 should not emit namespace-check labels, found %q", n.label)
		}
	}
}

func Test_keyringSyscalls_Distinct(t *testing.T) {
	nrs := keyringSyscalls()
	if len(nrs) != 3 {
		t.Fatalf("keyringSyscalls() returned %d entries, want 3", len(nrs))
	}
	seen := make(map[uint32]bool)
	for _, nr := range nrs {
		if seen[nr] {
			t.Errorf("keyringSyscalls() returned duplicate entry %d", nr)
		}
		seen[nr] = true
	}
}

func Test_nsFlagsMask_IncludesExpectedFlags(t *testing.T) {
	want := []uint32{
		unix.CLONE_NEWNS, unix.CLONE_NEWUTS, unix.CLONE_NEWIPC,
		unix.CLONE_NEWUSER, unix.CLONE_NEWPID, unix.CLONE_NEWNET, unix.CLONE_NEWCGROUP,
	}
	for _, f := range want {
		if nsFlagsMask&f == 0 {
			t.Errorf("nsFlagsMask missing flag %#x", f)
		}
	}
}
