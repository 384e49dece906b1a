package terminal

import (
	"testing"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

func Test_SlaveNames(t *testing.T) {
	p := &Provisioner{
		Console: config.TerminalInfo{SlaveName: "/dev/pts/0"},
		Auxiliary: []config.TerminalInfo{
			{SlaveName: "/dev/pts/1"},
			{SlaveName: "/dev/pts/2"},
		},
	}

	got := p.SlaveNames()
	want := []string{"/dev/pts/1", "/dev/pts/2"}
	if len(got) != len(want) {
		t.Fatalf("SlaveNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SlaveNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func Test_SlaveNames_Empty(t *testing.T) {
	p := &Provisioner{}
	got := p.SlaveNames()
	if len(got) != 0 {
		t.Errorf("SlaveNames() on empty provisioner = %v, want empty", got)
	}
}

func Test_Bind_ConsoleFailureIsFatal(t *testing.T) {
	// Bind always attempts the console first; in a sandbox without mount
	// privilege this fails, which is the fatal case Bind is meant to
	// surface (unlike the tty5/tty6 case, which is degradable — see
	// SPEC_FULL.md §12 Q2 and the no-bind-target skip inside Bind).
	p := &Provisioner{Console: config.TerminalInfo{SlaveName: "/dev/pts/0"}}

	if err := p.Bind("/nonexistent-rootfs-for-test"); err == nil {
		t.Fatal("Bind() with an unmountable console should error")
	}
}

func Test_RestoreTermios_NoPriorMakeRaw(t *testing.T) {
	p := &Provisioner{}
	if err := p.RestoreTermios(); err != nil {
		t.Errorf("RestoreTermios() without MakeRaw error = %v, want nil", err)
	}
}
