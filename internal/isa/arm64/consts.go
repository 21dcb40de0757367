// Package arm64 is the AArch64 secondary-target encoder and backend (spec
// §1, §4.9's "three backends implement the same operation set"). Grounded
// on wazero's internal/asm/arm64 (consts.go's register numbering and
// impl.go's instruction-word composition) for the encoding side, and on
// wazero's internal/engine/compiler archContext for the pinned-register/ABI
// conventions this package mirrors from isa/amd64.
//
// AArch64 is a fixed-width (32-bit instruction words), load/store ISA: ALU
// instructions never accept a memory operand the way amd64's ADD r/m64, r64
// form does, so every BinOpCandidates entry below offers exactly one
// register/register form -- not a simplification chosen for this compiler,
// but the only form the architecture has.
package arm64

import "github.com/herrcai0907/wasmjit/internal/isa"

// X0-X30 are the 31 general-purpose registers, numbered by their 5-bit
// encoding field. XZR/XSP share encoding 31 (disambiguated by instruction
// class, exactly as the architecture itself overloads it); this package
// only ever uses it as the zero register.
const (
	X0 isa.Register = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29 // frame pointer (FP)
	X30 // link register (LR)
	XZR // zero register / stack pointer, context-dependent
)

// V0-V31 are the float/vector registers. Like amd64's shared GPR/XMM 0-15
// numbering, these reuse register numbers 0-31 in their own namespace;
// every encoder entry point that takes a register also takes an isFloat
// bool (or, one level up, isa.RegisterType) to pick the right namespace.
const (
	V0 isa.Register = iota
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31
)

// ABI is the AAPCS64 parameter/return/volatility table (spec §4.6), the
// only calling convention AArch64 Linux/macOS/*BSD hosts use (unlike amd64,
// which distinguishes SysV from Win64).
type ABI struct {
	GPParams   []isa.Register
	FLParams   []isa.Register
	VolRegs    isa.RegMask
	NonvolRegs isa.RegMask
	GPRetReg   isa.Register
	FPRetReg   isa.Register
}

// AAPCS64ABI is the standard AArch64 procedure-call standard: X0-X7/V0-V7
// carry arguments, X0/V0 carry the first return value, X19-X28/V8-V15 are
// callee-saved.
var AAPCS64ABI = ABI{
	GPParams:   []isa.Register{X0, X1, X2, X3, X4, X5, X6, X7},
	FLParams:   []isa.Register{V0, V1, V2, V3, V4, V5, V6, V7},
	VolRegs:    isa.MaskOf(X0, X1, X2, X3, X4, X5, X6, X7, X9, X10, X11, X12, X13, X14, X15),
	NonvolRegs: isa.MaskOf(X19, X20, X21, X22, X23, X24, X25, X26, X27, X28, X29),
	GPRetReg:   X0,
	FPRetReg:   V0,
}

// REGS holds the registers with dedicated, pinned meaning in this
// compiler's own generated code (spec §4.6), mirroring isa/amd64's REGS.
// LinMem, TrapReg, BytecodePos, MemBase and MemSize are picked from the
// callee-saved X19-X28 range so they survive calls this compiler itself
// emits without needing their own save/restore dance; MoveHelper (X9),
// IndirectCall (X10) and FPHelper (V31) are caller-saved scratch.
var REGS = struct {
	LinMem       isa.Register // base of the link-data region
	TrapReg      isa.Register // holds the TrapCode on trap
	BytecodePos  isa.Register // holds the current bytecode position (debug builds)
	MoveHelper   isa.Register // GPR scratch used internally by multi-step moves
	FPHelper     isa.Register // float scratch used internally by multi-step float moves/compares
	IndirectCall isa.Register // holds the resolved target of an indirect/imported call
	MemBase      isa.Register // base of linear memory
	MemSize      isa.Register // cached (actual_size - 8), spec §4.13
}{
	LinMem:       X19,
	TrapReg:      X20,
	BytecodePos:  X21,
	MoveHelper:   X9,
	FPHelper:     V31,
	IndirectCall: X10,
	MemBase:      X22,
	MemSize:      X23,
}

// scratchGPRs are the registers the instruction selector and register
// allocator may freely reserve and spill (spec §4.6). X16/X17 (IP0/IP1, used
// by linker veneers) and X18 (platform register on some AAPCS64 hosts) are
// deliberately excluded even though this compiler does not go through a
// dynamic linker, to keep the pool portable across hosts that do reserve
// them.
var scratchGPRs = []isa.Register{X0, X1, X2, X3, X4, X5, X6, X7, X11, X12, X13, X14, X15}

// localGPRs are additionally available to hold locals bound to registers at
// function-prologue time. Unlike isa/amd64 (whose GPR file has no spare
// callee-saved registers once REGS claims its share), AArch64's 31 GPRs
// leave room for a dedicated local-binding pool out of X24-X28.
var localGPRs = []isa.Register{X24, X25, X26, X27, X28}

var scratchFPRs = []isa.Register{V0, V1, V2, V3, V4, V5, V16, V17, V18, V19, V20, V21}
var localFPRs = []isa.Register{V8, V9, V10, V11}

// ScratchPool returns the allocatable pool for registers of type tp.
func ScratchPool(tp isa.RegisterType) []isa.Register {
	if tp == isa.Float {
		return scratchFPRs
	}
	return scratchGPRs
}

// LocalPool returns the registers available for binding locals of type tp.
func LocalPool(tp isa.RegisterType) []isa.Register {
	if tp == isa.Float {
		return localFPRs
	}
	return localGPRs
}

