package sylog

import (
	"bytes"
	"strings"
	"testing"
)

func Test_SetLevel_GetLevel(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(int(DebugLevel))
	if GetLevel() != int(DebugLevel) {
		t.Errorf("GetLevel() = %d, want %d", GetLevel(), DebugLevel)
	}
}

func Test_EnvVar(t *testing.T) {
	old := GetLevel()
	defer SetLevel(old)

	SetLevel(int(VerboseLevel))
	got := EnvVar()
	want := "DROIDSPACES_MESSAGELEVEL=2"
	if got != want {
		t.Errorf("EnvVar() = %q, want %q", got, want)
	}
}

func Test_writef_RespectsLevel(t *testing.T) {
	old := GetLevel()
	oldWriter := SetWriter(nil)
	defer func() {
		SetLevel(old)
		SetWriter(oldWriter)
	}()

	var buf bytes.Buffer
	SetWriter(&buf)
	SetLevel(int(WarnLevel))

	Infof("should be suppressed")
	if buf.Len() != 0 {
		t.Errorf("Infof() wrote output at WarnLevel, got %q", buf.String())
	}

	Warnf("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("Warnf() output missing message, got %q", buf.String())
	}
}

func Test_messageLevel_String(t *testing.T) {
	cases := []struct {
		l    messageLevel
		want string
	}{
		{FatalLevel, "FATAL"},
		{ErrorLevel, "ERROR"},
		{WarnLevel, "WARNING"},
		{LogLevel, "LOG"},
		{InfoLevel, "INFO"},
		{VerboseLevel, "VERBOSE"},
		{DebugLevel, "DEBUG"},
		{messageLevel(99), "LOG"},
	}
	for _, c := range cases {
		if got := c.l.String(); got != c.want {
			t.Errorf("messageLevel(%d).String() = %q, want %q", c.l, got, c.want)
		}
	}
}
