// Package terminal implements the Terminal Provisioner component
// (spec.md §4.3): PTY allocation for the console and auxiliary TTYs,
// bind-mount wiring into the guest /dev, and raw-mode pass-through on the
// host side. Controlling-terminal handoff itself is left to
// exec.Cmd's SysProcAttr.Setctty, set by the orchestrator. Grounded on
// the teacher's use of github.com/creack/pty and golang.org/x/term in
// internal/app/apptainer/oci_attach_linux.go.
package terminal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/creack/pty"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/mountsys"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// Provisioner owns the lifetime of every PTY it allocates. Masters survive
// pivot-root (I1); the scoped Close restores termios and closes masters on
// every exit path, per the Design Notes' "PTY lifetime" guidance.
type Provisioner struct {
	Console   config.TerminalInfo
	Auxiliary []config.TerminalInfo

	savedState *term.State
	ttyFd      int
}

// Allocate opens the console PTY plus cfg.TTYCount auxiliary PTYs. Both
// ends of every pair are marked close-on-exec so a later fork-exec of an
// external helper (e2fsck, getprop, iptables, ...) never leaks them.
func Allocate(cfg *config.Config) (*Provisioner, error) {
	p := &Provisioner{}

	console, err := openPair()
	if err != nil {
		return nil, errors.Wrap(err, "allocating console PTY")
	}
	p.Console = console

	for i := 0; i < cfg.TTYCount; i++ {
		aux, err := openPair()
		if err != nil {
			p.Close()
			return nil, errors.Wrapf(err, "allocating auxiliary TTY %d", i+1)
		}
		p.Auxiliary = append(p.Auxiliary, aux)
	}

	return p, nil
}

func openPair() (config.TerminalInfo, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return config.TerminalInfo{}, err
	}
	if err := setCloexec(master); err != nil {
		master.Close()
		slave.Close()
		return config.TerminalInfo{}, err
	}
	if err := setCloexec(slave); err != nil {
		master.Close()
		slave.Close()
		return config.TerminalInfo{}, err
	}
	return config.TerminalInfo{
		Master:    master,
		Slave:     slave,
		MasterFD:  int(master.Fd()),
		SlaveFD:   int(slave.Fd()),
		SlaveName: slave.Name(),
	}, nil
}

func setCloexec(f *os.File) error {
	_, _, errno := unix.Syscall(unix.SYS_FCNTL, f.Fd(), unix.F_SETFD, unix.FD_CLOEXEC)
	if errno != 0 {
		return errno
	}
	return nil
}

// Bind implements §4.3's binding step: after /dev is provisioned, bind
// each slave device over its guest target — console to /dev/console,
// auxiliary i to /dev/tty{i+1}. Per SPEC_FULL.md §12 Q2, targets beyond
// tty4 don't exist; that case is logged and skipped rather than failing
// the whole bring-up, matching the degradable-error handling elsewhere in
// the pipeline (e.g. guestinit.go's GPU group reconciliation).
func (p *Provisioner) Bind(rootfs string) error {
	if err := mountsys.BindMount(p.Console.SlaveName, filepath.Join(rootfs, "dev", "console"), false, 0); err != nil {
		return errors.Wrap(err, "binding console")
	}
	for i, aux := range p.Auxiliary {
		ttyNum := i + 1
		if ttyNum > 4 {
			sylog.Warnf("tty%d has no bind target inside the guest (placeholders stop at tty4), skipping", ttyNum)
			continue
		}
		target := filepath.Join(rootfs, "dev", fmt.Sprintf("tty%d", ttyNum))
		if err := mountsys.BindMount(aux.SlaveName, target, false, 0); err != nil {
			return errors.Wrapf(err, "binding tty%d", ttyNum)
		}
	}
	return nil
}

// MakeRaw applies raw termios to the host's copy of the console's
// interactive endpoint (normally the process's own stdin), capturing the
// prior state so RestoreTermios can undo it on any exit path.
func (p *Provisioner) MakeRaw(fd int) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return errors.Wrap(err, "setting raw mode")
	}
	p.savedState = state
	p.ttyFd = fd
	return applyPassthroughTermios(fd)
}

// applyPassthroughTermios layers the spec's exact termios adjustments on
// top of term.MakeRaw: preserve output post-processing but drop ONLCR, and
// set VMIN=1/VTIME=0 for byte-at-a-time pass-through.
func applyPassthroughTermios(fd int) error {
	tios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.Wrap(err, "getting termios")
	}
	tios.Oflag |= unix.OPOST
	tios.Oflag &^= unix.ONLCR
	tios.Cc[unix.VMIN] = 1
	tios.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, tios)
}

// RestoreTermios restores the termios captured by MakeRaw. Safe to call
// multiple times or without a prior MakeRaw.
func (p *Provisioner) RestoreTermios() error {
	if p.savedState == nil {
		return nil
	}
	err := term.Restore(p.ttyFd, p.savedState)
	p.savedState = nil
	return err
}

// Close restores termios (if raw mode was entered) and closes every
// master this provisioner owns. Slaves are never closed here — they are
// handed to the guest (bind-mounted, or dup'd onto its stdio), then
// closed by the guest itself (I1).
func (p *Provisioner) Close() error {
	restoreErr := p.RestoreTermios()
	if p.Console.Master != nil {
		p.Console.Master.Close()
	}
	for _, aux := range p.Auxiliary {
		if aux.Master != nil {
			aux.Master.Close()
		}
	}
	return restoreErr
}

// SlaveNames returns the slave pathnames of the auxiliary TTYs, in
// allocation order, for the Environment Sealer's container_ttys
// boot-extra. The console is not included, since it is not part of
// container_ttys; with tty_count 0 the result is empty (B1).
func (p *Provisioner) SlaveNames() []string {
	names := make([]string, 0, len(p.Auxiliary))
	for _, aux := range p.Auxiliary {
		names = append(names, aux.SlaveName)
	}
	return names
}
