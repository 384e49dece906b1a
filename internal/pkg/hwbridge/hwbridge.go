// Package hwbridge implements the Hardware Bridge component (spec.md
// §4.5): GPU group reconciliation against the guest /etc/group, and the
// display/compute socket bridge (generic X11 and Android Termux). Every
// failure in this package is non-fatal — callers log and continue, per
// §7's "the Hardware Bridge in particular swallows all failures".
package hwbridge

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/opencontainers/selinux/go-selinux"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/mountsys"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// fallbackTermuxContext is the SELinux context applied to the unified
// Termux tmpfs when the source directory's own context can't be read.
const fallbackTermuxContext = "u:object_r:app_data_file:s0"

const termuxDataDir = "/data/data/com.termux"
const termuxTmpDir = termuxDataDir + "/files/usr/tmp"

// ReconcileGPUGroups implements §4.5's GPU group reconciliation algorithm
// against the guest's /etc/group, satisfying P2/P3/P4/R1/B2.
func ReconcileGPUGroups(etcDir string, gids []uint32) error {
	if len(gids) == 0 {
		return nil
	}

	path := etcDir + "/group"
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	lines := strings.Split(string(data), "\n")
	trailingNewline := strings.HasSuffix(string(data), "\n")
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}

	matched := make(map[uint32]bool, len(gids))
	for _, g := range gids {
		matched[g] = false
	}

	changed := false
	for i, line := range lines {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ":", 4)
		if len(fields) < 3 {
			continue
		}
		gid64, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		gid := uint32(gid64)
		if _, probed := matched[gid]; !probed {
			continue
		}
		matched[gid] = true

		userList := ""
		if len(fields) == 4 {
			userList = fields[3]
		}
		if hasWholeWordMember(userList, "root") {
			continue
		}
		newList := "root"
		if userList != "" {
			newList = userList + ",root"
		}
		lines[i] = fields[0] + ":" + fields[1] + ":" + fields[2] + ":" + newList
		changed = true
	}

	for _, g := range gids {
		if !matched[g] {
			lines = append(lines, fmt.Sprintf("gpu_%d:x:%d:root", g, g))
			changed = true
		}
	}

	if !changed {
		return nil
	}

	out := strings.Join(lines, "\n") + "\n"
	return atomicWrite(path, []byte(out), 0o644)
}

// hasWholeWordMember reports whether name appears as a whole comma-delimited
// entry of a comma-separated user list.
func hasWholeWordMember(userList, name string) bool {
	for _, u := range strings.Split(userList, ",") {
		if u == name {
			return true
		}
	}
	return false
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// BridgeDisplay wires up display/compute sockets: the generic X11 path on
// non-Android hosts, the Termux path on Android. Every failure is logged
// and swallowed, matching the component's error policy.
func BridgeDisplay(rootfs string, isAndroid, termuxX11 bool) {
	if isAndroid {
		if termuxX11 {
			if err := bridgeTermux(rootfs); err != nil {
				sylog.Warnf("termux display bridge: %s", err)
			}
		}
		return
	}

	if err := bridgeGenericX11(rootfs); err != nil {
		sylog.Warnf("X11 display bridge: %s", err)
	}
}

func bridgeGenericX11(rootfs string) error {
	const x11 = "/tmp/.X11-unix"
	if _, err := os.Stat(x11); err != nil {
		return nil
	}

	guestTmp := rootfs + "/tmp"
	guestX11 := guestTmp + "/.X11-unix"
	if err := mountsys.MkdirIdempotent(guestTmp, 0o777); err != nil {
		return err
	}
	if err := os.Chmod(guestTmp, 0o1777); err != nil {
		sylog.Warnf("chmod %s: %s", guestTmp, err)
	}
	if err := mountsys.MkdirIdempotent(guestX11, 0o1777); err != nil {
		return err
	}
	return mountsys.BindMount(x11, guestX11, true, 0)
}

// bridgeTermux implements §4.5's Android branch: detect Termux, force-stop
// it if running, build a unified tmpfs at the Termux tmp directory that
// preserves owner uid/gid and SELinux context, and bind it into the
// guest's /tmp. The whole host /tmp is never bound on Android (encrypted
// storage key-up keyring conflicts).
func bridgeTermux(rootfs string) error {
	if _, err := os.Stat(termuxDataDir); err != nil {
		return errors.New("termux not installed")
	}

	forceStopTermux()

	fi, err := os.Stat(termuxDataDir)
	if err != nil {
		return errors.Wrap(err, "stat termux data dir")
	}
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return errors.New("unsupported stat type for termux data dir")
	}

	ctx, err := selinux.FileLabel(termuxDataDir)
	if err != nil || ctx == "" {
		sylog.Warnf("reading termux selinux context: %v, falling back to %s", err, fallbackTermuxContext)
		ctx = fallbackTermuxContext
	}

	if err := mountsys.MkdirIdempotent(termuxTmpDir, 0o770); err != nil {
		return err
	}
	if err := mountsys.Mount("tmpfs", termuxTmpDir, "tmpfs", 0, "mode=770"); err != nil {
		return err
	}
	if err := os.Chown(termuxTmpDir, int(st.Uid), int(st.Gid)); err != nil {
		sylog.Warnf("chown %s: %s", termuxTmpDir, err)
	}
	if err := selinux.SetFileLabel(termuxTmpDir, ctx); err != nil {
		sylog.Warnf("setting selinux context on %s: %s", termuxTmpDir, err)
	}

	guestTmp := rootfs + "/tmp"
	if err := mountsys.MkdirIdempotent(guestTmp, 0o1777); err != nil {
		return err
	}
	return mountsys.BindMount(termuxTmpDir, guestTmp, true, 0)
}

func forceStopTermux() {
	if err := exec.Command("am", "force-stop", "com.termux").Run(); err != nil {
		sylog.Debugf("am force-stop com.termux: %s", err)
	}
}
