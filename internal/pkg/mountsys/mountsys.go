// Package mountsys wraps the raw mount(2)/umount2(2) syscalls and the
// handful of filesystem-introspection helpers the Mount Builder needs,
// grounded on the teacher's RPC mount server
// (internal/pkg/runtime/engine/apptainer/rpc/server/server_linux.go),
// reimplemented in-process here since this core has no privilege-separated
// RPC boundary of its own.
package mountsys

import (
	"bufio"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mount performs mount(2), treating EBUSY as the silent-idempotent
// "already mounted" case per spec.md §4.2's error policy and §7's
// taxonomy.
func Mount(source, target, fstype string, flags uintptr, data string) error {
	err := unix.Mount(source, target, fstype, flags, data)
	if err == nil {
		return nil
	}
	if err == unix.EBUSY {
		return nil
	}
	return errors.Wrapf(err, "mount %s -> %s (%s)", source, target, fstype)
}

// BindMount is Mount with MS_BIND (and MS_REC when recursive is set).
func BindMount(source, target string, recursive bool, extraFlags uintptr) error {
	flags := uintptr(unix.MS_BIND) | extraFlags
	if recursive {
		flags |= unix.MS_REC
	}
	return Mount(source, target, "", flags, "")
}

// Remount applies MS_REMOUNT with the given additional flags.
func Remount(target string, flags uintptr, data string) error {
	return Mount("", target, "", uintptr(unix.MS_REMOUNT)|flags, data)
}

// LazyUnmount performs umount2 with MNT_DETACH, matching §5's rollback
// policy ("lazy-unmount everything mounted so far, in reverse order").
// ENOENT and EINVAL (already gone) are treated as success.
func LazyUnmount(target string) error {
	err := unix.Unmount(target, unix.MNT_DETACH)
	if err == nil || err == unix.EINVAL || err == unix.ENOENT {
		return nil
	}
	return errors.Wrapf(err, "lazy unmount %s", target)
}

// MkdirIdempotent creates dir (and parents) ignoring EEXIST, per §7's
// silent-idempotent taxonomy entry for mkdir/EEXIST.
func MkdirIdempotent(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	return nil
}

// CgroupUnified reports whether /sys/fs/cgroup is (or can be) mounted as
// the cgroup v2 unified hierarchy, by checking /proc/mounts for a
// "cgroup2" entry and, if the hierarchy is already mounted, for the
// presence of cgroup.controllers.
func CgroupUnified(cgroupRoot string) (bool, error) {
	if _, err := os.Stat(cgroupRoot + "/cgroup.controllers"); err == nil {
		return true, nil
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return false, errors.Wrap(err, "open /proc/mounts")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "cgroup2") {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Fsck runs e2fsck -p (preen mode, non-interactive) on the given image
// path, matching §4.2 step 1's "run a filesystem check" before loop-mount.
// A non-zero exit in the range e2fsck documents as "errors corrected" (1
// or 2) is not treated as fatal; anything else is.
func Fsck(imagePath string) error {
	path, err := exec.LookPath("e2fsck")
	if err != nil {
		return errors.Wrap(err, "e2fsck not found on PATH")
	}
	cmd := exec.Command(path, "-p", "-f", imagePath)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err = cmd.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return errors.Wrap(err, "e2fsck")
	}
	code := exitErr.ExitCode()
	if code == 1 || code == 2 {
		return nil
	}
	return errors.Wrapf(err, "e2fsck exited %d", code)
}
