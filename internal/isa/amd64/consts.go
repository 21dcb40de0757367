// Package amd64 is the x86-64 instruction encoder and backend: the primary
// target named in spec §1. Grounded on wazero's internal/asm/amd64 (its own
// hand-written encoder, built to replace golang-asm for exactly the reasons
// spec §4.4 describes — a builder that accumulates operand fields and
// emits bytes directly) and, for register/ABI layout conventions, on
// wazero's internal/engine/compiler/engine.go archContext and
// internal/wasm/jit's older x86 backend.
package amd64

import "github.com/herrcai0907/wasmjit/internal/isa"

// General-purpose registers, numbered by their ModRM/SIB encoding (0-15);
// RSP and RBP are excluded from the allocatable pool below because they are
// pinned (frame pointer, stack pointer).
const (
	RAX isa.Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XMM0-XMM15 float/vector registers, same numbering scheme as the GPRs.
const (
	XMM0 isa.Register = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

// Platform distinguishes the two host ABIs amd64 supports (spec §4.6).
type Platform byte

const (
	SysV Platform = iota
	Win64
)

// ABI is the per-platform register ABI table (spec §4.6).
type ABI struct {
	Platform Platform

	GPParams      []isa.Register
	FLParams      []isa.Register
	VolRegs       isa.RegMask
	NonvolRegs    isa.RegMask
	GPRetReg      isa.Register
	FPRetReg      isa.Register
	ShadowSpace   int
	// SeparateArgCounters is true for SysV, where GP and FP arguments are
	// allocated from independent counters, and false for Win64, where each
	// argument consumes one slot of the single positional sequence
	// regardless of GP/FP.
	SeparateArgCounters bool
}

// SysVABI is the System V AMD64 calling convention (Linux, macOS, *BSD).
var SysVABI = ABI{
	Platform:            SysV,
	GPParams:            []isa.Register{RDI, RSI, RDX, RCX, R8, R9},
	FLParams:            []isa.Register{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7},
	VolRegs:             isa.MaskOf(RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11),
	NonvolRegs:          isa.MaskOf(RBX, R12, R13, R14, R15, RBP),
	GPRetReg:            RAX,
	FPRetReg:            XMM0,
	ShadowSpace:         0,
	SeparateArgCounters: true,
}

// Win64ABI is the Microsoft x64 calling convention.
var Win64ABI = ABI{
	Platform:            Win64,
	GPParams:            []isa.Register{RCX, RDX, R8, R9},
	FLParams:            []isa.Register{XMM0, XMM1, XMM2, XMM3},
	VolRegs:             isa.MaskOf(RAX, RCX, RDX, R8, R9, R10, R11),
	NonvolRegs:          isa.MaskOf(RBX, RBP, RDI, RSI, R12, R13, R14, R15),
	GPRetReg:            RAX,
	FPRetReg:            XMM0,
	ShadowSpace:         32,
	SeparateArgCounters: false,
}

// REGS holds the registers with dedicated, pinned meaning in this
// compiler's own generated code (spec §4.6): never entered into the
// allocatable pool.
var REGS = struct {
	LinMem        isa.Register // base of the link-data region
	TrapReg       isa.Register // holds the TrapCode on trap
	BytecodePos   isa.Register // holds the current bytecode position (debug builds)
	MoveHelper    isa.Register // GPR scratch used internally by multi-step moves
	FPHelper      isa.Register // XMM scratch used internally by multi-step float moves/compares
	IndirectCall  isa.Register // holds the resolved target of an indirect/imported call
	MemBase       isa.Register // base of linear memory
	MemSize       isa.Register // cached (actual_size - 8), spec §4.13
}{
	LinMem:       R14,
	TrapReg:      R15,
	BytecodePos:  R13,
	MoveHelper:   R11,
	FPHelper:     XMM15,
	IndirectCall: R10,
	MemBase:      R12,
	MemSize:      RBX,
}

// scratchGPRs are the registers the instruction selector and register
// allocator may freely reserve and spill (spec §4.6: "ordered such that the
// first k slots hold locals and the last r slots are reserved scratch").
// RAX/RCX/RDX double as fixed operands for IDIV/shift-by-CL/etc and so are
// kept at the front of the pool, which is also where selectInstr's
// candidate tables expect them.
var scratchGPRs = []isa.Register{RAX, RCX, RDX, RSI, RDI, R8, R9}

// localGPRs are additionally available to hold locals bound to registers at
// function-prologue time; they are disjoint from scratchGPRs so a local
// pinned to a register is never silently stolen by the allocator mid-block.
// Empty here: every GPR not in scratchGPRs is either RSP/RBP (stack/frame
// pointer) or one of REGS' pinned roles, leaving nothing spare to dedicate
// to locals. GP locals are always addressed out of stack memory instead;
// only the FP pool below has room for register-bound locals.
var localGPRs = []isa.Register{}

var scratchFPRs = []isa.Register{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5}
var localFPRs = []isa.Register{XMM6, XMM7}

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

func needsREX(r isa.Register) bool { return r >= R8 }
