package hostprobe

import (
	"testing"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

func TestParseKernelRelease(t *testing.T) {
	cases := []struct {
		release string
		want    config.KernelVersion
		wantErr bool
	}{
		{"5.15.0-generic", config.KernelVersion{Major: 5, Minor: 15}, false},
		{"4.14.180+", config.KernelVersion{Major: 4, Minor: 14}, false},
		{"6.1.0-android13-9-gabcdef", config.KernelVersion{Major: 6, Minor: 1}, false},
		{"bogus", config.KernelVersion{}, true},
		{"5", config.KernelVersion{}, true},
	}

	for _, c := range cases {
		got, err := parseKernelRelease(c.release)
		if (err != nil) != c.wantErr {
			t.Errorf("parseKernelRelease(%q) error = %v, wantErr %v", c.release, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("parseKernelRelease(%q) = %+v, want %+v", c.release, got, c.want)
		}
	}
}

func TestKernelVersionAtLeast(t *testing.T) {
	v := config.KernelVersion{Major: 5, Minor: 4}
	if !v.AtLeast(5, 0) {
		t.Error("5.4 should be at least 5.0")
	}
	if v.AtLeast(5, 10) {
		t.Error("5.4 should not be at least 5.10")
	}
	if v.AtLeast(6, 0) {
		t.Error("5.4 should not be at least 6.0")
	}
	if !v.AtLeast(4, 99) {
		t.Error("5.4 should be at least 4.99")
	}
}

func TestDiscoverDNSNonAndroid(t *testing.T) {
	primary, secondary := discoverDNS(false)
	if primary != "8.8.8.8" || secondary != "8.8.4.4" {
		t.Errorf("discoverDNS(false) = (%q, %q), want Google fallback resolvers", primary, secondary)
	}
}
