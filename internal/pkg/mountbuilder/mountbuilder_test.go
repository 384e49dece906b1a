package mountbuilder

import "testing"

func Test_Builder_remember_and_Mounts(t *testing.T) {
	b := &Builder{}
	b.remember("/a", "tmpfs")
	b.remember("/b", "")
	b.remember("/c", "proc")

	got := b.Mounts()
	if len(got) != 3 {
		t.Fatalf("Mounts() returned %d records, want 3", len(got))
	}
	if got[0].Target != "/a" || got[0].FSType != "tmpfs" {
		t.Errorf("Mounts()[0] = %+v, want Target=/a FSType=tmpfs", got[0])
	}
	if got[2].Target != "/c" || got[2].FSType != "proc" {
		t.Errorf("Mounts()[2] = %+v, want Target=/c FSType=proc", got[2])
	}
}

func Test_devRoster_Consistency(t *testing.T) {
	seen := make(map[string]bool)
	for _, n := range devRoster {
		if n.name == "" {
			t.Error("devRoster entry with empty name")
		}
		if seen[n.name] {
			t.Errorf("devRoster has duplicate entry %q", n.name)
		}
		seen[n.name] = true
		if n.mode == 0 {
			t.Errorf("devRoster entry %q has zero mode", n.name)
		}
	}
	for _, want := range []string{"null", "zero", "full", "random", "urandom", "tty", "console", "ptmx"} {
		if !seen[want] {
			t.Errorf("devRoster missing expected entry %q", want)
		}
	}
}

func Test_mustRAMInBytes(t *testing.T) {
	if devTmpfsSize != 4*1024*1024 {
		t.Errorf("devTmpfsSize = %d, want 4MiB (%d)", devTmpfsSize, 4*1024*1024)
	}
}

func Test_legacyControllers_NonEmpty(t *testing.T) {
	if len(legacyControllers) == 0 {
		t.Error("legacyControllers is empty")
	}
	seen := make(map[string]bool)
	for _, c := range legacyControllers {
		if seen[c] {
			t.Errorf("legacyControllers has duplicate entry %q", c)
		}
		seen[c] = true
	}
}
