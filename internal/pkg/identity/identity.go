// Package identity implements the Identity Writer component (spec.md
// §4.4). It runs inside the guest view, after pivot-root, and populates
// /etc/hostname, /etc/hosts, /etc/resolv.conf and the Android network
// group entries in /etc/group.
package identity

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

// SetHostname sets the kernel hostname and writes /etc/hostname. B4: an
// empty hostname is a no-op on both counts.
func SetHostname(etcDir, hostname string) error {
	if hostname == "" {
		return nil
	}
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return errors.Wrap(err, "sethostname")
	}
	return os.WriteFile(etcDir+"/hostname", []byte(hostname+"\n"), 0o644)
}

// WriteHosts writes the exact /etc/hosts content from §4.4. B4: the
// 127.0.1.1 line is omitted when hostname is empty.
func WriteHosts(etcDir, hostname string) error {
	var b strings.Builder
	b.WriteString("127.0.0.1\tlocalhost\n")
	b.WriteString("::1\t\tlocalhost ip6-localhost ip6-loopback\n")
	if hostname != "" {
		fmt.Fprintf(&b, "127.0.1.1\t%s\n", hostname)
	}
	return os.WriteFile(etcDir+"/hosts", []byte(b.String()), 0o644)
}

// WriteResolvConf emits nameserver lines for the probed DNS servers.
func WriteResolvConf(etcDir, primary, secondary string) error {
	var b strings.Builder
	if primary != "" {
		fmt.Fprintf(&b, "nameserver %s\n", primary)
	}
	if secondary != "" {
		fmt.Fprintf(&b, "nameserver %s\n", secondary)
	}
	return os.WriteFile(etcDir+"/resolv.conf", []byte(b.String()), 0o644)
}

// androidNetGroups are the three group records §4.4 appends when
// /etc/group lacks the paranoid-network gid "aid_inet".
var androidNetGroups = []string{
	"aid_inet:x:3003:",
	"aid_net_raw:x:3004:",
	"aid_net_admin:x:3005:",
}

// EnsureAndroidNetGroups appends the paranoid-network group records if
// /etc/group doesn't already have "aid_inet". The file is rewritten
// atomically via write-to-temp-then-rename on the same filesystem (I4).
func EnsureAndroidNetGroups(etcDir string) error {
	path := etcDir + "/group"
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}

	if hasGroupName(string(data), "aid_inet") {
		return nil
	}

	out := string(data)
	if len(out) > 0 && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += strings.Join(androidNetGroups, "\n") + "\n"

	return atomicWrite(path, []byte(out), 0o644)
}

func hasGroupName(data, name string) bool {
	for _, line := range strings.Split(data, "\n") {
		fields := strings.SplitN(line, ":", 2)
		if len(fields) > 0 && fields[0] == name {
			return true
		}
	}
	return false
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// Apply runs the full Identity Writer component.
func Apply(etcDir string, hostname string, probe *config.HostProbe) error {
	if err := SetHostname(etcDir, hostname); err != nil {
		return errors.Wrap(err, "setting hostname")
	}
	if err := WriteHosts(etcDir, hostname); err != nil {
		return errors.Wrap(err, "writing /etc/hosts")
	}
	if err := WriteResolvConf(etcDir, probe.DNSPrimary, probe.DNSSecondary); err != nil {
		return errors.Wrap(err, "writing /etc/resolv.conf")
	}
	if probe.IsAndroid {
		if err := EnsureAndroidNetGroups(etcDir); err != nil {
			return errors.Wrap(err, "ensuring android network groups")
		}
	}
	return nil
}
