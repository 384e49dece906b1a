// Package envseal implements the Environment Sealer component (spec.md
// §4.7): scrub-and-default, /etc/environment merge, and boot-extras modes
// for rebuilding the guest process environment.
package envseal

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
const defaultTerm = "xterm-256color"

// ScrubAndDefault captures the current TERM (defaulting it if unset),
// erases the environment, and repopulates it with PATH, TERM, HOME and
// the container marker. Applying it twice yields the same set both times
// (R2): the second application observes the TERM it set on the first.
func ScrubAndDefault() {
	term := os.Getenv("TERM")
	if term == "" {
		term = defaultTerm
	}

	os.Clearenv()
	os.Setenv("PATH", defaultPath)
	os.Setenv("TERM", term)
	os.Setenv("HOME", "/root")
	os.Setenv("container", "droidspaces")
}

// MergeEtcEnvironment parses the guest's /etc/environment line by line and
// assigns each KEY=VALUE it finds, skipping blank lines and comments.
// Surrounding single or double quotes on the value are stripped only when
// matched on both ends — escape sequences inside quoted values are left
// untouched (SPEC_FULL.md §12 Q3).
func MergeEtcEnvironment(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		os.Setenv(key, stripMatchingQuotes(value))
	}
	return scanner.Err()
}

func stripMatchingQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	first, last := value[0], value[len(value)-1]
	if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
		return value[1 : len(value)-1]
	}
	return value
}

// ApplyBootExtras sets container_ttys (space-joined slave names) and
// defaults LANG when unset. Per B1, when slaveNames is empty container_ttys
// is left unset entirely rather than set to an empty string.
func ApplyBootExtras(slaveNames []string) {
	if len(slaveNames) > 0 {
		os.Setenv("container_ttys", strings.Join(slaveNames, " "))
	}
	if os.Getenv("LANG") == "" {
		os.Setenv("LANG", "en_US.UTF-8")
	}
}
