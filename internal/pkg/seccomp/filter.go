// filter.go builds and installs the classifying filter described in
// spec.md §4.6, on top of the DSL in dsl.go.
package seccomp

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/droidspaces/droidspaces/internal/pkg/config"
)

// nsFlagsMask is the bitwise OR of the namespace-creation clone/unshare
// flags recognized by Linux 4.x (NEWNS, NEWUTS, NEWIPC, NEWUSER, NEWPID,
// NEWNET, NEWCGROUP), sourced from golang.org/x/sys/unix's UAPI constants
// rather than hard-coded as the bare literal 0x7E020000 the Design Notes
// warn against.
const nsFlagsMask = unix.CLONE_NEWNS |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWUSER |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWCGROUP

// recognizedArches holds the audit architecture tokens the kernel puts in
// seccomp_data.arch, one per architecture this filter recognizes. The
// values match <linux/audit.h>'s AUDIT_ARCH_* constants, which
// golang.org/x/sys/unix re-exports.
var recognizedArches = []uint32{
	unix.AUDIT_ARCH_AARCH64,
	unix.AUDIT_ARCH_X86_64,
	unix.AUDIT_ARCH_ARM,
	unix.AUDIT_ARCH_I386,
}

// Build assembles the seccomp program for the given configuration and
// host kernel version, implementing §4.6's ordered, first-match-wins
// semantics.
func Build(cfg *config.Config, kernel config.KernelVersion) (*Program, error) {
	p := &Program{}

	p.LoadArch()
	for _, arch := range recognizedArches {
		p.JumpEqualElse(arch, "arch_ok")
	}
	p.Allow()
	p.Label("arch_ok")

	p.LoadNR()
	p.JumpEqualElse(uint32(unix.SYS_REBOOT), "reboot")

	for _, nr := range keyringSyscalls() {
		p.JumpEqualElse(nr, "keyring")
	}

	if cfg.IsSystemd && kernel.Major < 5 {
		p.JumpEqualElse(uint32(unix.SYS_UNSHARE), "ns_check")
		p.JumpEqualElse(uint32(unix.SYS_CLONE), "ns_check")
	}

	p.Allow()

	p.Label("reboot")
	p.Trap()

	p.Label("keyring")
	p.Errno(uint16(unix.ENOSYS))

	if cfg.IsSystemd && kernel.Major < 5 {
		p.Label("ns_check")
		p.LoadArgLow(0)
		p.JumpSetElse(nsFlagsMask, "ns_deny")
		p.Allow()
		p.Label("ns_deny")
		p.Errno(uint16(unix.EPERM))
	}

	return p, nil
}

// keyringSyscalls returns the SYS_KEYCTL/SYS_ADD_KEY/SYS_REQUEST_KEY
// numbers for the native build architecture.
func keyringSyscalls() []uint32 {
	return []uint32{
		uint32(unix.SYS_KEYCTL),
		uint32(unix.SYS_ADD_KEY),
		uint32(unix.SYS_REQUEST_KEY),
	}
}

// Install assembles p and installs it via PR_SET_SECCOMP in filter mode,
// the last privileged operation before exec-ing the guest init (I3).
func Install(p *Program) error {
	raw, err := p.Assemble()
	if err != nil {
		return errors.Wrap(err, "assembling seccomp program")
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "PR_SET_NO_NEW_PRIVS")
	}

	prog := sockFprog{
		Len:    uint16(len(raw)),
		Filter: (*sockFilter)(unsafe.Pointer(&raw[0])),
	}

	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&prog)), 0, 0); err != nil {
		return errors.Wrap(err, "PR_SET_SECCOMP")
	}
	return nil
}

// sockFilter and sockFprog mirror struct sock_filter / sock_fprog from
// <linux/filter.h>; bpf.RawInstruction's field layout matches sock_filter
// exactly (Op uint16, Jt/Jf uint8, K uint32), so it is reused directly
// where possible, with this pair only needed for the sock_fprog header
// prctl(2) expects.
type sockFilter = struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

type sockFprog struct {
	Len    uint16
	_      [6]byte // padding to match the kernel's pointer alignment
	Filter *sockFilter
}
