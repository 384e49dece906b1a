// Package android implements the Android-only supplemental features from
// SPEC_FULL.md §9 (S1, S2, S4, S5), grounded on original_source/src/android.c
// and original_source/src/network.c: best-effort runtime tuning, the
// opt-in SELinux permissive toggle, the internal-storage bridge, and a
// diagnostic IPv6 introspection helper for the out-of-scope enter/stop
// commands.
package android

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/pkg/errors"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/mountsys"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// maxPhantomProcesses disables the phantom-process killer by setting the
// activity_manager device_config flag to the largest positive int32.
const maxPhantomProcesses = "2147483647"

// ApplyRuntimeOptimizations is S1: best-effort, fire-and-forget host
// tuning that makes a long-lived container less likely to be killed or
// throttled by Android's own process management. Both commands' failures
// are silently ignored — there is no supported way to distinguish "flag
// unsupported on this Android version" from "shell not privileged enough",
// and neither is worth surfacing to the user for a convenience tweak.
func ApplyRuntimeOptimizations() {
	runQuiet("device_config", "put", "activity_manager", "max_phantom_processes", maxPhantomProcesses)
	runQuiet("dumpsys", "deviceidle", "whitelist", "+com.android.shell")
}

func runQuiet(name string, args ...string) {
	if err := exec.Command(name, args...).Run(); err != nil {
		sylog.Debugf("%s %v: %s", name, args, err)
	}
}

// RelaxSELinux is S2: when SELinux is enforcing and the configuration
// opted in (config.Config.RelaxSELinux), flips it to permissive. It
// prefers writing /sys/fs/selinux/enforce directly via go-selinux and
// falls back to the external setenforce binary, matching the original's
// two-path approach for hosts where the direct write is blocked by a
// policy the shell tool itself is exempted from.
func RelaxSELinux(cfg *config.Config, probe *config.HostProbe) {
	if !cfg.RelaxSELinux || probe.SELinux != config.SELinuxEnforcing {
		return
	}

	if err := selinux.SetEnforceMode(selinux.Permissive); err == nil {
		return
	}

	if err := exec.Command("setenforce", "0").Run(); err != nil {
		sylog.Warnf("could not relax selinux to permissive: %s", err)
	}
}

// storageSources is tried in order for S4's internal-storage bridge.
var storageSources = []string{"/storage/emulated/0", "/sdcard"}

// SetupStorage is S4: recursively bind-mounts the host's internal storage
// onto <rootfs>/sdcard. Non-fatal — logged and skipped on any error.
func SetupStorage(rootfs string) {
	var source string
	for _, candidate := range storageSources {
		if _, err := os.Stat(candidate); err == nil {
			source = candidate
			break
		}
	}
	if source == "" {
		sylog.Warnf("no android internal storage source found, skipping /sdcard bridge")
		return
	}

	target := rootfs + "/sdcard"
	if err := mountsys.MkdirIdempotent(target, 0o755); err != nil {
		sylog.Warnf("creating %s: %s", target, err)
		return
	}
	if err := mountsys.BindMount(source, target, true, 0); err != nil {
		sylog.Warnf("bind-mounting %s onto %s: %s", source, target, err)
	}
}

// DetectIPv6InContainer is S5: a diagnostic helper for the out-of-scope
// enter/stop commands, reading disable_ipv6 out of the guest's network
// namespace via its /proc/<pid>/root view.
func DetectIPv6InContainer(pid int) (enabled bool, err error) {
	path := fmt.Sprintf("/proc/%d/root/proc/sys/net/ipv6/conf/all/disable_ipv6", pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", path)
	}
	return len(data) > 0 && data[0] == '0', nil
}
