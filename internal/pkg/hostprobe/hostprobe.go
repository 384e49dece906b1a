// Package hostprobe implements the Host Probe component: one-shot
// interrogation of the host for its class (generic Linux vs Android),
// kernel version, SELinux enforcement, GPU device group ownership and DNS
// sources. Everything it discovers is captured into a config.HostProbe
// value and threaded explicitly through the rest of the pipeline — there is
// no package-global memoization, unlike the C source this core replaces.
package hostprobe

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
	"github.com/opencontainers/selinux/go-selinux"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// androidAppProcess is the canonical path probed when ANDROID_ROOT is not
// set in the environment.
const androidAppProcess = "/system/bin/app_process"

// IsAndroid reports whether this host is Android: ANDROID_ROOT is set in
// the environment, or androidAppProcess exists.
func IsAndroid() bool {
	if os.Getenv("ANDROID_ROOT") != "" {
		return true
	}
	_, err := os.Stat(androidAppProcess)
	return err == nil
}

// gpuCandidates is the curated, fixed list of device paths probed for GPU
// group ownership. Globs are expanded at probe time.
var gpuCandidates = []string{
	"/dev/dri/*",
	"/dev/nvidia*",
	"/dev/mali*",
	"/dev/kgsl-3d0",
	"/dev/kfd",
	"/dev/dma_heap/*",
	"/dev/nvhost-*",
	"/dev/nvmap",
	"/dev/pvr_sync",
}

// maxGPUGids bounds the number of distinct GIDs the probe will ever report,
// matching §3's "capped at an implementation-defined bound".
const maxGPUGids = 32

// Probe runs the full Host Probe component and returns the populated
// record. It must be called strictly before any pivot-root (I2).
func Probe(cfg *config.Config) (*config.HostProbe, error) {
	hp := &config.HostProbe{
		IsAndroid: IsAndroid(),
	}

	kv, err := kernelVersion()
	if err != nil {
		sylog.Warnf("could not parse kernel release, assuming modern kernel: %s", err)
		kv = config.KernelVersion{Major: 5, Minor: 0}
	}
	hp.Kernel = kv

	hp.SELinux = selinuxState()

	gids, err := scanGPUGids()
	if err != nil {
		sylog.Warnf("GPU GID scan failed: %s", err)
	}
	hp.GPUGids = gids

	primary, secondary := discoverDNS(hp.IsAndroid)
	hp.DNSPrimary = primary
	hp.DNSSecondary = secondary

	_ = cfg
	return hp, nil
}

// kernelVersion parses the (major, minor) pair out of uname's release
// string. A parse failure is reported to the caller, which per §4.1 treats
// it as "modern" (B3).
func kernelVersion() (config.KernelVersion, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return config.KernelVersion{}, errors.Wrap(err, "uname")
	}
	release := charsToString(uts.Release[:])
	return parseKernelRelease(release)
}

func charsToString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func parseKernelRelease(release string) (config.KernelVersion, error) {
	fields := strings.SplitN(release, ".", 3)
	if len(fields) < 2 {
		return config.KernelVersion{}, errors.Errorf("unparseable kernel release %q", release)
	}
	major, err := strconv.Atoi(fields[0])
	if err != nil {
		return config.KernelVersion{}, errors.Wrapf(err, "kernel major %q", fields[0])
	}
	minorField := fields[1]
	if i := strings.IndexAny(minorField, "-+"); i >= 0 {
		minorField = minorField[:i]
	}
	minor, err := strconv.Atoi(minorField)
	if err != nil {
		return config.KernelVersion{}, errors.Wrapf(err, "kernel minor %q", fields[1])
	}
	return config.KernelVersion{Major: major, Minor: minor}, nil
}

// selinuxState reports the tri-state SELinux enforcement status via
// go-selinux, which reads /sys/fs/selinux/enforce itself (and reports
// "disabled" when selinuxfs isn't mounted at all).
func selinuxState() config.SELinuxState {
	if !selinux.GetEnabled() {
		return config.SELinuxUnavailable
	}
	switch selinux.EnforceMode() {
	case selinux.Enforcing:
		return config.SELinuxEnforcing
	case selinux.Permissive:
		return config.SELinuxPermissive
	default:
		return config.SELinuxUnavailable
	}
}

// scanGPUGids probes gpuCandidates, expanding globs, and returns the
// unique non-root GIDs of the nodes that exist, preserving first-seen
// order.
func scanGPUGids() ([]uint32, error) {
	seen := make(map[uint32]struct{})
	var gids []uint32

	for _, pattern := range gpuCandidates {
		matches, err := globOrSelf(pattern)
		if err != nil {
			continue
		}
		for _, path := range matches {
			if len(gids) >= maxGPUGids {
				return gids, nil
			}
			gid, err := nodeGid(path)
			if err != nil {
				continue
			}
			if gid == 0 {
				continue
			}
			if _, ok := seen[gid]; ok {
				continue
			}
			seen[gid] = struct{}{}
			gids = append(gids, gid)
		}
	}
	return gids, nil
}

func globOrSelf(pattern string) ([]string, error) {
	if strings.ContainsAny(pattern, "*?[") {
		return filepath.Glob(pattern)
	}
	if _, err := os.Lstat(pattern); err != nil {
		return nil, err
	}
	return []string{pattern}, nil
}

func nodeGid(path string) (uint32, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	st, ok := fi.Sys().(*unix.Stat_t)
	if !ok {
		return 0, errors.Errorf("unsupported stat type for %s", path)
	}
	return st.Gid, nil
}

// discoverDNS implements §4.1's DNS discovery. On non-Android it returns
// the guest's configured fallback resolvers. On Android it queries the
// system-property store in the documented order and stops advancing pairs
// once dns1 is non-empty for a pair, matching Q1's literal resolution even
// when dns2 of that same pair is empty.
func discoverDNS(isAndroid bool) (primary, secondary string) {
	if !isAndroid {
		return "8.8.8.8", "8.8.4.4"
	}

	pairs := [][2]string{
		{"net.dns1", "net.dns2"},
		{"net.eth0.dns1", "net.eth0.dns2"},
		{"net.wlan0.dns1", "net.wlan0.dns2"},
	}
	for _, pair := range pairs {
		dns1 := getprop(pair[0])
		if dns1 == "" {
			continue
		}
		dns2 := getprop(pair[1])
		return dns1, dns2
	}
	return "", ""
}

// getprop queries a single Android system property via the external
// getprop binary, per §6's "Files read on the host" note that this value
// is unavailable any other way.
func getprop(key string) string {
	out, err := exec.Command("getprop", key).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
