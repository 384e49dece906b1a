// Package netprep implements S3 from SPEC_FULL.md §9, the host-side
// network preparation that backs spec.md's enable_ipv6 configuration
// field: it runs once, host-side, before the guest starts. Grounded on
// original_source/src/network.c: fix_networking_host.
package netprep

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// Prepare always enables IPv4 forwarding, enables IPv6 forwarding when
// requested, and on Android hosts configures a permissive FORWARD policy
// plus a MASQUERADE rule for the container's subnet. Every step is
// best-effort: a host without write access to /proc/sys or without
// iptables installed still produces a usable (if unrouted) container.
func Prepare(isAndroid, enableIPv6 bool, containerSubnet string) {
	if err := writeSysctl("/proc/sys/net/ipv4/ip_forward", "1"); err != nil {
		sylog.Warnf("enabling ipv4 forwarding: %s", err)
	}

	if enableIPv6 {
		if err := writeSysctl("/proc/sys/net/ipv6/conf/all/forwarding", "1"); err != nil {
			sylog.Warnf("enabling ipv6 forwarding: %s", err)
		}
	}

	if !isAndroid {
		return
	}

	if err := runIptables("-P", "FORWARD", "ACCEPT"); err != nil {
		sylog.Warnf("setting permissive FORWARD policy: %s", err)
	}

	if containerSubnet != "" {
		args := []string{"-t", "nat", "-C", "POSTROUTING", "-s", containerSubnet, "-j", "MASQUERADE"}
		if err := exec.Command(iptablesBinary(), args...).Run(); err != nil {
			if err := runIptables("-t", "nat", "-A", "POSTROUTING", "-s", containerSubnet, "-j", "MASQUERADE"); err != nil {
				sylog.Warnf("installing MASQUERADE rule for %s: %s", containerSubnet, err)
			}
		}
	}
}

func writeSysctl(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// iptablesBinary prefers iptables-nft (per the Design Notes' guidance
// that netlink-based firewall editing is impractical here and fork-exec
// of the iptables/nft family remains acceptable) and falls back to plain
// iptables.
func iptablesBinary() string {
	if path, err := exec.LookPath("iptables-nft"); err == nil {
		return path
	}
	return "iptables"
}

func runIptables(args ...string) error {
	cmd := exec.Command(iptablesBinary(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w", string(out), err)
	}
	return nil
}
