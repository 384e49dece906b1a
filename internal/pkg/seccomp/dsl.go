// Package seccomp implements the Syscall Filter component (spec.md §4.6):
// a namespace-aware classifying BPF filter installed via PR_SET_SECCOMP.
// Per the Design Notes, the filter is expressed as a small typed DSL
// (load_arch, load_nr, load_arg(i), eq(k), jset(k), allow, errno(k), trap)
// whose linearizer resolves forward jumps after layout, rather than as a
// literal sequence of instructions with a hand-computed jump offset. The
// DSL nodes translate directly onto golang.org/x/net/bpf's classic-BPF
// instruction set, which Assemble()s into the same RawInstruction encoding
// the kernel's sock_filter program expects.
package seccomp

import (
	"golang.org/x/net/bpf"
)

// These offsets mirror struct seccomp_data from <linux/seccomp.h>: the
// input the BPF program reads via LoadAbsolute.
//
//	struct seccomp_data {
//	    int   nr;
//	    __u32 arch;
//	    __u64 instruction_pointer;
//	    __u64 args[6];
//	};
const (
	offNR   = 0
	offArch = 4
	offArgsBase = 16
	argWidth    = 8
)

// argLowOffset returns the byte offset of the low 32 bits of args[i],
// valid on little-endian architectures (aarch64, x86_64, arm, i386 are all
// little-endian in their default ABI, which is all this filter targets).
func argLowOffset(i int) uint32 {
	return offArgsBase + uint32(i)*argWidth
}

// node is one instruction of the classifying DSL. Only a handful of shapes
// are needed for this filter: the public constructors below build them;
// node itself stays unexported so callers can't hand-assemble malformed
// jump targets.
type node struct {
	label string // if non-empty, a jump target other nodes may reference
	inst  bpf.Instruction
	// jumpTrue is the label reference used by conditional nodes; the
	// linearizer resolves it into a relative skip count. The false branch
	// always falls through to the next instruction.
	jumpTrue string
	isJump   bool
	k        uint32
	cond     bpf.JumpTest
}

// Program is a sequence of DSL nodes built by the constructors below.
type Program struct {
	nodes []node
}

func (p *Program) add(n node) {
	p.nodes = append(p.nodes, n)
}

// LoadArch loads the syscall's audit architecture into the accumulator.
func (p *Program) LoadArch() {
	p.add(node{inst: bpf.LoadAbsolute{Off: offArch, Size: 4}})
}

// LoadNR loads the syscall number into the accumulator.
func (p *Program) LoadNR() {
	p.add(node{inst: bpf.LoadAbsolute{Off: offNR, Size: 4}})
}

// LoadArgLow loads the low 32 bits of argument i into the accumulator.
func (p *Program) LoadArgLow(i int) {
	p.add(node{inst: bpf.LoadAbsolute{Off: argLowOffset(i), Size: 4}})
}

// JumpEqualElse emits "if A == k goto ifTrue label; else fall through",
// where ifTrue is a label later defined with Label. Used for architecture
// and syscall-number dispatch.
func (p *Program) JumpEqualElse(k uint32, ifTrueLabel string) {
	p.add(node{isJump: true, k: k, cond: bpf.JumpEqual, jumpTrue: ifTrueLabel})
}

// JumpSetElse emits "if A & k != 0 goto ifTrue label; else fall through",
// the DSL's jset node, used for the clone/unshare namespace-flag test.
func (p *Program) JumpSetElse(k uint32, ifTrueLabel string) {
	p.add(node{isJump: true, k: k, cond: bpf.JumpBitsSet, jumpTrue: ifTrueLabel})
}

// Label marks the current position as a jump target.
func (p *Program) Label(name string) {
	p.add(node{label: name})
}

// Allow emits SECCOMP_RET_ALLOW.
func (p *Program) Allow() {
	p.add(node{inst: bpf.RetConstant{Val: retAllow}})
}

// Errno emits SECCOMP_RET_ERRNO with the given errno value in the low 16
// bits of the return value, per the kernel's SECCOMP_RET_DATA mask.
func (p *Program) Errno(errno uint16) {
	p.add(node{inst: bpf.RetConstant{Val: retErrno | uint32(errno)}})
}

// Trap emits SECCOMP_RET_TRAP.
func (p *Program) Trap() {
	p.add(node{inst: bpf.RetConstant{Val: retTrap}})
}

// Seccomp return-action constants from <linux/seccomp.h>, shifted into the
// high 16 bits per SECCOMP_RET_ACTION_FULL.
const (
	retAllow uint32 = 0x7FFF0000
	retTrap  uint32 = 0x00030000
	retErrno uint32 = 0x00050000
	retKill  uint32 = 0x00000000
)

// Assemble lowers the DSL into raw classic-BPF instructions via
// golang.org/x/net/bpf, resolving every label reference into the
// concrete forward-jump skip count bpf.JumpIf expects. This is the
// "linearizer that resolves forward jumps after layout" the Design Notes
// call for — callers never see or compute a raw offset.
func (p *Program) Assemble() ([]bpf.RawInstruction, error) {
	// First pass: determine the instruction index of every label. Label
	// nodes themselves emit no instruction, so indices are computed over
	// the elided sequence.
	positions := make(map[string]int)
	idx := 0
	for _, n := range p.nodes {
		if n.label != "" {
			positions[n.label] = idx
			continue
		}
		idx++
	}

	insts := make([]bpf.Instruction, 0, idx)
	cur := 0
	for _, n := range p.nodes {
		if n.label != "" {
			continue
		}
		if n.isJump {
			target, ok := positions[n.jumpTrue]
			if !ok {
				return nil, errUndefinedLabel(n.jumpTrue)
			}
			skipTrue := uint8(target - cur - 1)
			insts = append(insts, bpf.JumpIf{Cond: n.cond, Val: n.k, SkipTrue: skipTrue})
		} else {
			insts = append(insts, n.inst)
		}
		cur++
	}

	return bpf.Assemble(insts)
}

type errUndefinedLabel string

func (e errUndefinedLabel) Error() string {
	return "seccomp: undefined jump label " + string(e)
}
