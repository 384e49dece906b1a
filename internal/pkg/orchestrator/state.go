// state.go defines the handoff record written to a temp file by the
// orchestrator before it re-execs itself into the guest-init stage across
// the clone(2) boundary (see orchestrator.go). Using a plain JSON file
// instead of passing live file descriptors keeps the boundary simple: the
// only things that must survive as open fds are the PTY masters (retained
// by the orchestrator itself, per I1) and the console slave, which
// exec.Cmd's Stdin/Stdout/Stderr already carry across the clone.
package orchestrator

import (
	"encoding/json"
	"os"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

// guestState is everything the guest-init stage needs that it cannot
// recompute itself (because it would be recomputing it from inside the
// guest's own, now-pivoted, view of the world).
type guestState struct {
	Config        *config.Config
	Probe         *config.HostProbe
	AuxSlaveNames []string
	InitPath      string
	InitArgs      []string
}

func writeState(path string, s *guestState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readState(path string) (*guestState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s guestState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
