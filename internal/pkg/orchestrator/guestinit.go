// guestinit.go is the guest-facing half of the Orchestrator's control
// flow: everything spec.md's ordering places after the pivot-root
// boundary. It runs as PID 1 of the new namespaces cloneFlags created,
// re-exec'd from Run via GuestInitStageArg, and ends by syscall.Exec-ing
// the real guest init so PID 1 identity is preserved end to end.
package orchestrator

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/envseal"
	"github.com/droidspaces/droidspaces/internal/pkg/hwbridge"
	"github.com/droidspaces/droidspaces/internal/pkg/identity"
	"github.com/droidspaces/droidspaces/internal/pkg/seccomp"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// RunGuestInit is invoked by main() when os.Args[1] == GuestInitStageArg.
// It never returns on success — it ends in syscall.Exec — and returns an
// error (fatal-bring-up, per §7) on any failure before that point.
func RunGuestInit() error {
	stateFile := os.Getenv("DROIDSPACES_STATE_FILE")
	if stateFile == "" {
		return errors.New("DROIDSPACES_STATE_FILE not set")
	}
	state, err := readState(stateFile)
	if err != nil {
		return errors.Wrap(err, "reading handoff state")
	}

	if err := pivotRootFn("."); err != nil {
		return errors.Wrap(err, "pivot_root")
	}

	if err := identity.Apply("/etc", state.Config.Hostname, state.Probe); err != nil {
		return errors.Wrap(err, "identity writer")
	}

	if err := hwbridge.ReconcileGPUGroups("/etc", state.Probe.GPUGids); err != nil {
		sylog.Warnf("GPU group reconciliation: %s", err)
	}
	hwbridge.BridgeDisplay("", state.Probe.IsAndroid, state.Config.TermuxX11)

	prog, err := seccomp.Build(state.Config, state.Probe.Kernel)
	if err != nil {
		return errors.Wrap(err, "building seccomp filter")
	}
	if err := seccomp.Install(prog); err != nil {
		return errors.Wrap(err, "installing seccomp filter")
	}

	envseal.ScrubAndDefault()
	if err := envseal.MergeEtcEnvironment("/etc/environment"); err != nil {
		sylog.Warnf("merging /etc/environment: %s", err)
	}
	envseal.ApplyBootExtras(state.AuxSlaveNames)

	os.Remove(stateFile)

	argv := append([]string{state.InitPath}, state.InitArgs...)
	return errors.Wrap(syscall.Exec(state.InitPath, argv, os.Environ()), "exec guest init")
}

// pivotRootFn is called by RunGuestInit in place of pivotRoot directly, so
// tests can substitute a stub that records the argument without performing
// the real (privileged, namespace-dependent) pivot_root syscall sequence.
var pivotRootFn = pivotRoot

// pivotRoot performs the standard pivot_root dance: the new root is
// already mounted at cwd's current directory (the Mount Builder built it
// there before this process was cloned), so this only needs to create a
// scratch mountpoint for the old root, pivot, reattach at /, and lazily
// detach+remove the old root (I5's mount ordering guarantees nothing
// guest-visible was written before this point).
func pivotRoot(newroot string) error {
	if err := unix.Chdir(newroot); err != nil {
		return errors.Wrapf(err, "chdir %s", newroot)
	}

	const oldroot = ".oldroot"
	if err := os.Mkdir(oldroot, 0o700); err != nil && !os.IsExist(err) {
		return errors.Wrap(err, "mkdir .oldroot")
	}

	if err := unix.PivotRoot(".", oldroot); err != nil {
		return errors.Wrap(err, "pivot_root syscall")
	}

	if err := unix.Chdir("/"); err != nil {
		return errors.Wrap(err, "chdir /")
	}

	if err := unix.Unmount("/"+oldroot, unix.MNT_DETACH); err != nil {
		sylog.Warnf("lazy-unmounting old root: %s", err)
	}
	if err := os.Remove("/" + oldroot); err != nil {
		sylog.Debugf("removing old root mountpoint: %s", err)
	}
	return nil
}
