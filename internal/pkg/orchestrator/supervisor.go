// supervisor.go implements the orchestrator's post-exec responsibility
// described in spec.md §5: a single-threaded, readiness-multiplexed byte
// pump between the console's master PTY fd and the orchestrator's own
// stdio, plus the guest's reboot-as-shutdown-request convention and
// SIGTERM/SIGINT escalation.
package orchestrator

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/sylog"
)

// interruptChar is the INTR control character written to the master PTY
// when the orchestrator itself receives SIGTERM/SIGINT, asking the guest
// session to shut down cooperatively before the grace-period SIGKILL.
const interruptChar = 0x03

type supervisor struct {
	guestPID int
	masterFD int
}

func newSupervisor(guestPID, masterFD int) *supervisor {
	return &supervisor{guestPID: guestPID, masterFD: masterFD}
}

// Run pumps bytes between masterFD and the orchestrator's stdio until the
// guest exits, returning a process exit code: 0 for a clean guest exit or
// a guest-initiated reboot (SIGSYS from the trapped reboot syscall), and
// the guest's own exit status otherwise.
func (s *supervisor) Run() int {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGCHLD)
	defer signal.Stop(sigCh)

	done := make(chan waitResult, 1)
	go s.waitGuest(done)

	pumpDone := make(chan struct{})
	go s.pump(pumpDone)

	killTimer := (<-chan time.Time)(nil)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				sylog.Infof("received %s, requesting guest shutdown", sig)
				s.writeInterrupt()
				killTimer = time.After(ttyGracePeriodSeconds * time.Second)
			case syscall.SIGCHLD:
				// handled by waitGuest; nothing to do here.
			}
		case <-killTimer:
			sylog.Warnf("guest did not exit within grace period, sending SIGKILL")
			syscall.Kill(s.guestPID, syscall.SIGKILL)
		case res := <-done:
			<-pumpDone
			return res.exitCode()
		}
	}
}

type waitResult struct {
	exited     bool
	code       int
	signaled   bool
	signal     syscall.Signal
	rebootTrap bool
}

func (r waitResult) exitCode() int {
	if r.rebootTrap {
		return 0
	}
	if r.signaled {
		return 128 + int(r.signal)
	}
	return r.code
}

// waitGuest blocks in wait4 for the guest PID1 to exit, classifying a
// SIGSYS termination (the kernel's default action when the seccomp filter
// TRAPs the reboot syscall) as the guest's cooperative shutdown request,
// per §5's "trapped reboot syscall is its own cooperative shutdown
// channel".
func (s *supervisor) waitGuest(done chan<- waitResult) {
	var status syscall.WaitStatus
	for {
		_, err := syscall.Wait4(s.guestPID, &status, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			sylog.Errorf("wait4: %s", err)
			done <- waitResult{code: 1}
			return
		}
		break
	}

	switch {
	case status.Exited():
		done <- waitResult{exited: true, code: status.ExitStatus()}
	case status.Signaled():
		sig := status.Signal()
		done <- waitResult{signaled: true, signal: sig, rebootTrap: sig == unix.SIGSYS}
	default:
		done <- waitResult{code: 1}
	}
}

// pump bidirectionally copies bytes between masterFD and the
// orchestrator's own stdio using readiness-based multiplexing (poll),
// matching §5's "single-threaded, uses readiness-based multiplexing over
// the two fds; there are no shared data structures between it and any
// other task".
func (s *supervisor) pump(done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	fds := []unix.PollFd{
		{Fd: int32(s.masterFD), Events: unix.POLLIN},
		{Fd: int32(unix.Stdin), Events: unix.POLLIN},
	}

	for {
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			nr, err := unix.Read(s.masterFD, buf)
			if nr > 0 {
				unix.Write(unix.Stdout, buf[:nr])
			}
			if err != nil || nr == 0 {
				return
			}
		}
		if fds[1].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			nr, err := unix.Read(unix.Stdin, buf)
			if nr > 0 {
				unix.Write(s.masterFD, buf[:nr])
			}
			if err != nil || nr == 0 {
				return
			}
		}
	}
}

func (s *supervisor) writeInterrupt() {
	b := []byte{interruptChar}
	if _, err := unix.Write(s.masterFD, b); err != nil {
		sylog.Warnf("writing INTR to master pty: %s", err)
	}
}
