package loopdevice

import "testing"

func Test_Device_Path(t *testing.T) {
	d := &Device{Number: 7}
	if got := d.Path(); got != "/dev/loop7" {
		t.Errorf("Path() = %q, want /dev/loop7", got)
	}
}

func Test_Device_Close_NoFD(t *testing.T) {
	d := &Device{}
	if err := d.Close(); err != nil {
		t.Errorf("Close() on never-attached device error = %v, want nil", err)
	}
}
