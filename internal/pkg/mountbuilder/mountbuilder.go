// Package mountbuilder implements the Mount Builder component (spec.md
// §4.2): assembly of the guest filesystem tree on the host side, in the
// ordering §4.2 and §5 require. It is the largest component by line share
// because every step interacts with kernel mount semantics and must
// tolerate EBUSY/EEXIST as silent-idempotent (§7).
package mountbuilder

import (
	"fmt"
	"os"
	"path/filepath"

	units "github.com/docker/go-units"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/loopdevice"
	"github.com/droidspaces/droidspaces/internal/pkg/mountsys"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// devNode describes one entry of the fixed device-node roster from §4.2
// step 2's table.
type devNode struct {
	name  string
	mode  uint32 // permission bits, S_IFCHR is added in
	major uint32
	minor uint32
}

var devRoster = []devNode{
	{"null", 0o666, 1, 3},
	{"zero", 0o666, 1, 5},
	{"full", 0o666, 1, 7},
	{"random", 0o666, 1, 8},
	{"urandom", 0o666, 1, 9},
	{"tty", 0o666, 5, 0},
	{"console", 0o600, 5, 1},
	{"ptmx", 0o666, 5, 2},
}

// placeholderTTYs is fixed at tty1..tty4 regardless of tty_count — see
// SPEC_FULL.md §12 Q2.
const placeholderTTYs = 4

// devTmpfsSize is the 4 MiB tmpfs budget for the device-node tmpfs from
// §4.2 step 2, expressed through go-units so the byte count is never a
// bare magic literal.
var devTmpfsSize = mustRAMInBytes("4MiB")

func mustRAMInBytes(s string) int64 {
	n, err := units.RAMInBytes(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Builder assembles the guest tree and remembers every mount it made so
// the orchestrator can roll them back in reverse on failure.
type Builder struct {
	Rootfs string
	cfg    *config.Config
	probe  *config.HostProbe
	loop   *loopdevice.Device
	mounts []config.MountRecord
}

// New constructs a Builder bound to cfg and the already-populated host
// probe record.
func New(cfg *config.Config, probe *config.HostProbe) *Builder {
	return &Builder{cfg: cfg, probe: probe}
}

// Mounts returns every mount record created so far, in the order they were
// created (rollback callers should walk it in reverse).
func (b *Builder) Mounts() []config.MountRecord {
	return b.mounts
}

func (b *Builder) remember(target, fstype string) {
	b.mounts = append(b.mounts, config.MountRecord{Target: target, FSType: fstype})
}

// guestPath resolves a rootfs-relative path through securejoin so that no
// step can be tricked by a symlink inside the (attacker-influenced) guest
// tree into writing outside Rootfs.
func (b *Builder) guestPath(rel string) (string, error) {
	return securejoin.SecureJoin(b.Rootfs, rel)
}

// Build runs the full ordered sequence from §4.2: optional loop mount,
// /dev, /dev/pts, /proc+/sys(+Android /data remount), /sys/fs/cgroup.
func (b *Builder) Build(workspace string) error {
	if err := b.resolveRootfs(workspace); err != nil {
		return errors.Wrap(err, "resolving rootfs")
	}
	if err := b.buildDev(); err != nil {
		return errors.Wrap(err, "building /dev")
	}
	if err := b.mountDevPts(); err != nil {
		return errors.Wrap(err, "mounting /dev/pts")
	}
	if err := b.mountProcSys(); err != nil {
		return errors.Wrap(err, "mounting /proc and /sys")
	}
	if err := b.mountCgroup(); err != nil {
		return errors.Wrap(err, "mounting /sys/fs/cgroup")
	}
	return nil
}

// resolveRootfs handles §4.2 step 1: if an image is configured, resolve a
// mount point under workspace/mounts/<image-stem>/, fsck it, and loop-mount
// it there; the mount point becomes the effective rootfs.
func (b *Builder) resolveRootfs(workspace string) error {
	if b.cfg.RootfsImage == "" {
		b.Rootfs = b.cfg.RootfsPath
		return nil
	}

	stem := filepath.Base(b.cfg.RootfsImage)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	mountPoint := filepath.Join(workspace, "mounts", stem)
	if err := mountsys.MkdirIdempotent(mountPoint, 0o755); err != nil {
		return err
	}

	if err := mountsys.Fsck(b.cfg.RootfsImage); err != nil {
		return errors.Wrap(err, "fsck")
	}

	b.loop = &loopdevice.Device{}
	if err := b.loop.AttachFromPath(b.cfg.RootfsImage, os.O_RDWR); err != nil {
		return errors.Wrap(err, "attaching loop device")
	}

	if err := mountsys.Mount(b.loop.Path(), mountPoint, "ext4", 0, ""); err != nil {
		return errors.Wrap(err, "mounting loop device")
	}
	b.remember(mountPoint, "ext4")

	b.Rootfs = mountPoint
	return nil
}

// buildDev implements §4.2 step 2.
func (b *Builder) buildDev() error {
	devDir, err := b.guestPath("dev")
	if err != nil {
		return err
	}
	if err := mountsys.MkdirIdempotent(devDir, 0o755); err != nil {
		return err
	}

	if b.cfg.HWAccess {
		if err := mountsys.BindMount("/dev", devDir, false, unix.MS_NOSUID|unix.MS_NOEXEC); err != nil {
			return err
		}
		b.remember(devDir, "")
		return nil
	}

	data := fmt.Sprintf("mode=755,size=%d", devTmpfsSize)
	if err := mountsys.Mount("tmpfs", devDir, "tmpfs", 0, data); err != nil {
		return err
	}
	b.remember(devDir, "tmpfs")

	for _, n := range devRoster {
		if err := b.createOrBindDevNode(devDir, n); err != nil {
			sylog.Warnf("device node %s: %s", n.name, err)
		}
	}

	for i := 1; i <= placeholderTTYs; i++ {
		path := filepath.Join(devDir, fmt.Sprintf("tty%d", i))
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o666); err == nil {
			f.Close()
		}
	}

	if err := os.Symlink("/proc/self/fd", filepath.Join(devDir, "fd")); err != nil && !os.IsExist(err) {
		sylog.Warnf("symlink /dev/fd: %s", err)
	}
	for fd, name := range map[int]string{0: "stdin", 1: "stdout", 2: "stderr"} {
		target := fmt.Sprintf("/proc/self/fd/%d", fd)
		if err := os.Symlink(target, filepath.Join(devDir, name)); err != nil && !os.IsExist(err) {
			sylog.Warnf("symlink /dev/%s: %s", name, err)
		}
	}

	return nil
}

// createOrBindDevNode mknods a character device node for n; if that fails
// (typical in an unprivileged user namespace), it falls back to
// bind-mounting the same-named host node, per §4.2 step 2.
func (b *Builder) createOrBindDevNode(devDir string, n devNode) error {
	path := filepath.Join(devDir, n.name)
	dev := int(unix.Mkdev(n.major, n.minor))
	err := unix.Mknod(path, unix.S_IFCHR|n.mode, dev)
	if err == nil {
		return nil
	}

	hostPath := filepath.Join("/dev", n.name)
	if _, statErr := os.Stat(hostPath); statErr != nil {
		return errors.Wrapf(err, "mknod %s failed and host node %s is unavailable for bind fallback", n.name, hostPath)
	}
	if f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, n.mode); err == nil {
		f.Close()
	}
	if err := mountsys.BindMount(hostPath, path, false, 0); err != nil {
		return err
	}
	b.remember(path, "")
	return nil
}

// mountDevPts implements §4.2 step 3.
func (b *Builder) mountDevPts() error {
	target, err := b.guestPath("dev/pts")
	if err != nil {
		return err
	}
	if err := mountsys.MkdirIdempotent(target, 0o755); err != nil {
		return err
	}
	data := "newinstance,ptmxmode=0666,mode=0620,gid=5"
	if err := mountsys.Mount("devpts", target, "devpts", 0, data); err != nil {
		return err
	}
	b.remember(target, "devpts")
	return nil
}

// mountProcSys implements §4.2 step 4, including the Android /data
// remount-with-suid so a loop-mounted image retains executability.
func (b *Builder) mountProcSys() error {
	proc, err := b.guestPath("proc")
	if err != nil {
		return err
	}
	if err := mountsys.MkdirIdempotent(proc, 0o555); err != nil {
		return err
	}
	if err := mountsys.Mount("proc", proc, "proc", 0, ""); err != nil {
		return err
	}
	b.remember(proc, "proc")

	sys, err := b.guestPath("sys")
	if err != nil {
		return err
	}
	if err := mountsys.MkdirIdempotent(sys, 0o555); err != nil {
		return err
	}
	if err := mountsys.Mount("sysfs", sys, "sysfs", 0, ""); err != nil {
		return err
	}
	b.remember(sys, "sysfs")

	if b.probe.IsAndroid {
		if err := mountsys.Remount("/data", unix.MS_SUID, ""); err != nil {
			sylog.Warnf("remounting /data suid: %s", err)
		}
	}

	return nil
}

// legacyControllers is the set of cgroup v1 controller hierarchies mounted
// when the host lacks the unified v2 hierarchy.
var legacyControllers = []string{"cpu", "cpuacct", "devices", "memory", "freezer", "blkio", "pids", "systemd"}

// mountCgroup implements §4.2 step 5.
func (b *Builder) mountCgroup() error {
	root, err := b.guestPath("sys/fs/cgroup")
	if err != nil {
		return err
	}
	if err := mountsys.MkdirIdempotent(root, 0o755); err != nil {
		return err
	}

	unified, err := mountsys.CgroupUnified("/sys/fs/cgroup")
	if err != nil {
		sylog.Warnf("cgroup v2 detection failed, assuming legacy: %s", err)
	}

	if unified {
		if err := mountsys.Mount("cgroup2", root, "cgroup2", 0, ""); err != nil {
			return err
		}
		b.remember(root, "cgroup2")
		return nil
	}

	if err := mountsys.Mount("tmpfs", root, "tmpfs", 0, "mode=755"); err != nil {
		return err
	}
	b.remember(root, "tmpfs")

	for _, ctrl := range legacyControllers {
		ctrlDir := filepath.Join(root, ctrl)
		if err := mountsys.MkdirIdempotent(ctrlDir, 0o755); err != nil {
			return err
		}
		if err := mountsys.Mount("cgroup", ctrlDir, "cgroup", 0, ctrl); err != nil {
			sylog.Warnf("mounting legacy cgroup controller %s: %s", ctrl, err)
			continue
		}
		b.remember(ctrlDir, "cgroup")
	}
	return nil
}

// Teardown lazy-unmounts every recorded mount in reverse order and
// detaches the loop device, matching §5's rollback policy.
func (b *Builder) Teardown() {
	for i := len(b.mounts) - 1; i >= 0; i-- {
		if err := mountsys.LazyUnmount(b.mounts[i].Target); err != nil {
			sylog.Warnf("rollback unmount %s: %s", b.mounts[i].Target, err)
		}
	}
	if b.loop != nil {
		if err := b.loop.Close(); err != nil {
			sylog.Warnf("detaching loop device: %s", err)
		}
	}
}
