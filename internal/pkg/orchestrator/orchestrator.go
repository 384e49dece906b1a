// Package orchestrator implements the control flow described in spec.md
// §2's "Orchestrator": Host Probe, then Mount Builder, then Terminal
// Provisioner, then the pivot-root boundary, then Identity Writer,
// Hardware Bridge, Syscall Filter, Environment Sealer, then exec of the
// guest init. The guest-facing half (everything after pivot-root) runs in
// a re-exec'd copy of this same binary — see guestinit.go — because
// CLONE_NEWPID requires the namespace-creating process to be the first
// process in the new namespace, which rules out doing all of this from
// goroutines in the original process.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/android"
	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/hostprobe"
	"github.com/droidspaces/droidspaces/internal/pkg/hwbridge"
	"github.com/droidspaces/droidspaces/internal/pkg/mountbuilder"
	"github.com/droidspaces/droidspaces/internal/pkg/netprep"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
	"github.com/droidspaces/droidspaces/internal/pkg/terminal"
)

// GuestInitStageArg is the argv[1] value that tells main() to dispatch
// into RunGuestInit instead of Run: both stages live in the same binary,
// selected by a reserved subcommand the CLI layer never exposes to users.
const GuestInitStageArg = "__droidspaces_guest_init"

// cloneFlags is the set of namespaces given to every container: a
// private mount namespace, UTS (hostname), IPC, PID and network
// identity. CLONE_NEWUSER is deliberately not included — spec.md's
// Non-goals state root inside the guest is host-root-equivalent by
// design when hardware access is requested, and a user namespace would
// undermine the GID-membership trick the Hardware Bridge relies on.
const cloneFlags = unix.CLONE_NEWNS |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWNET

// ttyGracePeriodSeconds is how long the supervisor waits after writing
// the INTR character before escalating to SIGKILL on SIGTERM/SIGINT.
const ttyGracePeriodSeconds = 3

// Options bundles the pieces the (out-of-scope) CLI layer supplies beyond
// the Configuration Record: the workspace directory for loop-mount
// points, and the guest init command to exec.
type Options struct {
	Workspace       string
	InitPath        string
	InitArgs        []string
	ContainerSubnet string // empty disables the Android MASQUERADE rule
}

// Run executes the full bring-up pipeline and then supervises the guest
// until it exits, returning the guest's exit code (0 for a clean
// guest-initiated reboot).
func Run(cfg *config.Config, opts Options) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 1, errors.Wrap(err, "invalid configuration")
	}

	probe, err := hostprobe.Probe(cfg)
	if err != nil {
		return 1, errors.Wrap(err, "host probe")
	}
	sylog.Infof("host probe: android=%v kernel=%d.%d selinux=%s gpu_gids=%v",
		probe.IsAndroid, probe.Kernel.Major, probe.Kernel.Minor, probe.SELinux, probe.GPUGids)

	if probe.IsAndroid {
		android.ApplyRuntimeOptimizations()
		android.RelaxSELinux(cfg, probe)
	}
	netprep.Prepare(probe.IsAndroid, cfg.EnableIPv6, opts.ContainerSubnet)

	builder := mountbuilder.New(cfg, probe)
	if err := builder.Build(opts.Workspace); err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "mount builder")
	}

	if probe.IsAndroid {
		android.SetupStorage(builder.Rootfs)
	}

	term, err := terminal.Allocate(cfg)
	if err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "terminal provisioner")
	}
	defer term.Close()

	if err := term.Bind(builder.Rootfs); err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "binding terminals")
	}

	hwbridge.BridgeDisplay(builder.Rootfs, probe.IsAndroid, cfg.TermuxX11)

	stateFile, err := stageState(cfg, probe, term, opts)
	if err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "staging guest-init handoff")
	}
	defer os.Remove(stateFile)

	consoleSlave := term.Console.Slave
	defer consoleSlave.Close()

	self, err := os.Executable()
	if err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "resolving self executable")
	}

	cmd := exec.Command(self, GuestInitStageArg)
	cmd.Dir = builder.Rootfs
	cmd.Stdin = consoleSlave
	cmd.Stdout = consoleSlave
	cmd.Stderr = consoleSlave
	cmd.Env = append(os.Environ(), "DROIDSPACES_STATE_FILE="+stateFile, sylog.EnvVar())
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: cloneFlags,
		Setsid:     true,
		Setctty:    true,
		Ctty:       0,
	}

	if err := term.MakeRaw(unix.Stdin); err != nil {
		sylog.Warnf("could not set host terminal to raw mode: %s", err)
	}

	if err := cmd.Start(); err != nil {
		builder.Teardown()
		return 1, errors.Wrap(err, "starting guest init")
	}

	sup := newSupervisor(cmd.Process.Pid, term.Console.MasterFD)
	code := sup.Run()

	builder.Teardown()
	return code, nil
}

func stageState(cfg *config.Config, probe *config.HostProbe, term *terminal.Provisioner, opts Options) (string, error) {
	dir := filepath.Join(opts.Workspace, "state")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.json", cfg.ContainerName))
	state := &guestState{
		Config:        cfg,
		Probe:         probe,
		AuxSlaveNames: term.SlaveNames(),
		InitPath:      opts.InitPath,
		InitArgs:      opts.InitArgs,
	}
	return path, writeState(path, state)
}
