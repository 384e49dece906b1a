package envseal

import (
	"os"
	"path/filepath"
	"testing"
)

func Test_stripMatchingQuotes(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{`"mismatched'`, `"mismatched'`},
		{`no quotes`, "no quotes"},
		{`"`, `"`},
		{``, ``},
		{`"esc\"aped"`, `esc\"aped`},
	}
	for _, c := range cases {
		if got := stripMatchingQuotes(c.in); got != c.want {
			t.Errorf("stripMatchingQuotes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func Test_ScrubAndDefault_Idempotent(t *testing.T) {
	os.Setenv("TERM", "vt220")
	os.Setenv("SOME_HOST_VAR", "leftover")

	ScrubAndDefault()
	firstTerm := os.Getenv("TERM")
	firstPath := os.Getenv("PATH")
	if os.Getenv("SOME_HOST_VAR") != "" {
		t.Error("ScrubAndDefault left a pre-existing host variable behind")
	}
	if firstTerm != "vt220" {
		t.Errorf("ScrubAndDefault TERM = %q, want preserved vt220", firstTerm)
	}

	ScrubAndDefault()
	if os.Getenv("TERM") != firstTerm {
		t.Errorf("second ScrubAndDefault changed TERM: %q -> %q", firstTerm, os.Getenv("TERM"))
	}
	if os.Getenv("PATH") != firstPath {
		t.Errorf("second ScrubAndDefault changed PATH: %q -> %q", firstPath, os.Getenv("PATH"))
	}
	if os.Getenv("container") != "droidspaces" {
		t.Errorf("container marker = %q, want droidspaces", os.Getenv("container"))
	}
}

func Test_MergeEtcEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "environment")
	content := "# a comment\n\nFOO=bar\nQUOTED=\"baz\"\nSINGLE='qux'\nMISMATCHED=\"oops'\nBLANKKEY=\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	os.Unsetenv("FOO")
	os.Unsetenv("QUOTED")
	os.Unsetenv("SINGLE")
	os.Unsetenv("MISMATCHED")

	if err := MergeEtcEnvironment(path); err != nil {
		t.Fatalf("MergeEtcEnvironment() error = %v", err)
	}

	if got := os.Getenv("FOO"); got != "bar" {
		t.Errorf("FOO = %q, want bar", got)
	}
	if got := os.Getenv("QUOTED"); got != "baz" {
		t.Errorf("QUOTED = %q, want baz", got)
	}
	if got := os.Getenv("SINGLE"); got != "qux" {
		t.Errorf("SINGLE = %q, want qux", got)
	}
	if got := os.Getenv("MISMATCHED"); got != `"oops'` {
		t.Errorf("MISMATCHED = %q, want unmodified literal", got)
	}
	if got := os.Getenv("BLANKKEY"); got != "" {
		t.Errorf("BLANKKEY = %q, want empty", got)
	}
}

func Test_MergeEtcEnvironment_MissingFile(t *testing.T) {
	if err := MergeEtcEnvironment("/nonexistent/path/environment"); err != nil {
		t.Errorf("MergeEtcEnvironment() on missing file error = %v, want nil", err)
	}
}

func Test_ApplyBootExtras(t *testing.T) {
	os.Unsetenv("container_ttys")
	os.Unsetenv("LANG")

	ApplyBootExtras(nil)
	if got := os.Getenv("container_ttys"); got != "" {
		t.Errorf("container_ttys = %q, want unset for empty slave list", got)
	}
	if got := os.Getenv("LANG"); got != "en_US.UTF-8" {
		t.Errorf("LANG = %q, want default", got)
	}

	os.Setenv("LANG", "fr_FR.UTF-8")
	ApplyBootExtras([]string{"pts/1", "pts/2"})
	if got := os.Getenv("container_ttys"); got != "pts/1 pts/2" {
		t.Errorf("container_ttys = %q, want space-joined names", got)
	}
	if got := os.Getenv("LANG"); got != "fr_FR.UTF-8" {
		t.Errorf("ApplyBootExtras overwrote a pre-set LANG: %q", got)
	}
}
