package config

import "testing"

func Test_Config_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid with rootfs path", Config{ContainerName: "c1", RootfsPath: "/rootfs", TTYCount: 2}, false},
		{"valid with rootfs image", Config{ContainerName: "c1", RootfsImage: "/img.ext4"}, false},
		{"missing name", Config{RootfsPath: "/rootfs"}, true},
		{"missing rootfs", Config{ContainerName: "c1"}, true},
		{"hostname too long", Config{ContainerName: "c1", RootfsPath: "/r", Hostname: string(make([]byte, 65))}, true},
		{"tty count negative", Config{ContainerName: "c1", RootfsPath: "/r", TTYCount: -1}, true},
		{"tty count too high", Config{ContainerName: "c1", RootfsPath: "/r", TTYCount: 7}, true},
		{"tty count boundary ok", Config{ContainerName: "c1", RootfsPath: "/r", TTYCount: 6}, false},
	}

	for _, c := range cases {
		err := c.cfg.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func Test_SELinuxState_String(t *testing.T) {
	cases := []struct {
		s    SELinuxState
		want string
	}{
		{SELinuxUnavailable, "unavailable"},
		{SELinuxPermissive, "permissive"},
		{SELinuxEnforcing, "enforcing"},
		{SELinuxState(99), "unavailable"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("SELinuxState(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func Test_KernelVersion_AtLeast(t *testing.T) {
	v := KernelVersion{Major: 5, Minor: 10}
	cases := []struct {
		major, minor int
		want         bool
	}{
		{5, 10, true},
		{5, 9, true},
		{5, 11, false},
		{4, 99, true},
		{6, 0, false},
	}
	for _, c := range cases {
		if got := v.AtLeast(c.major, c.minor); got != c.want {
			t.Errorf("AtLeast(%d, %d) = %v, want %v", c.major, c.minor, got, c.want)
		}
	}
}
