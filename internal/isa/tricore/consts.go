// Package tricore is the TriCore secondary-target encoder and backend
// (spec §1's third target). Unlike isa/amd64 and isa/arm64, nothing in the
// example pack ships a Go TriCore backend -- not even wazero, which has no
// TriCore support at all -- so this package is grounded directly on
// original_source/.../tricore/tricore_instruction.{hpp,cpp} (the reference
// compiler's own C++ Instruction builder) for register-field bit positions
// and immediate/displacement encodings, and on isa/arm64.Backend for the Go
// package shape (pinned REGS convention, Op-enum Instruction builder,
// RelPatch implementations). See DESIGN.md for why this grounding is
// necessarily weaker than arm64's.
//
// TriCore is a genuinely different machine from both prior targets:
//   - Two separate general register files, not one: D0-D15 (data) and
//     A0-A15 (address). Only D registers hold values this compiler computes
//     on; A registers are pure addressing plumbing (base pointers, the
//     return-address register, the stack pointer) and are never handed out
//     by ScratchPool/LocalPool/ArgRegisters -- isa.Register values this
//     package exposes to the rest of the module are always D-register
//     numbers.
//   - D registers are 32 bits wide; there is no 64-bit integer ALU. A 64-bit
//     value occupies an "extended register" Ed, the even:odd D-register
//     pair named by its even half (tricore_instruction.cpp's setEc/setEd
//     simply alias setDc/setDd with an even-register assertion) -- this
//     package's pools for 64-bit-capable types only ever hand out the even
//     half, implicitly reserving its odd partner as the high word.
//   - The FPU is single-precision only on real TriCore silicon; f64 has no
//     native instruction at all, so every f64 operation (and every i64
//     operation beyond a same-width move) is lowered to a call through a
//     host-linked runtime helper thunk -- the same call mechanism
//     EmitMemoryGrow already uses for memory.grow -- rather than hand-coding
//     the carry-chained multi-instruction sequences real silicon would need
//     (DVINIT/DVSTEP/DVADJ for integer divide, ADD/ADDC pairs for 64-bit
//     add, etc). See DESIGN.md for the full list.
//   - TriCore has no condition-flags register. Comparisons either fuse
//     directly into a conditional branch instruction (JEQ/JNE/JLT/JGE/
//     JLT.U/JGE.U Da, Db, disp15) or materialize a 0/1 boolean into a D
//     register via dedicated EQ/NE/LT/GE/LT.U/GE.U Dc, Da, Db instructions.
//     This package's Backend therefore caches the operands of the most
//     recent EmitCompare itself (pendingLHS/pendingRHS/pendingFloat) and
//     re-reads them from the subsequent EmitMaterializeBool/EmitSelect/
//     EmitCondJumpPlaceholder/EmitCondJumpBackTo call, the software stand-in
//     for the flags register amd64/arm64 get from hardware.
package tricore

import "github.com/herrcai0907/wasmjit/internal/isa"

// D0-D15 are the data registers: the only file wasm values ever live in.
// Numbered 0-15, matching tricore_instruction.cpp's 4-bit Da/Db/Dc/Dd
// register fields directly.
const (
	D0 isa.Register = iota
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
)

// A0-A15 are the address registers, numbered in the same 0-31 isa.Register
// space continuing past D15 (mirroring how isa/arm64 gives V0-V31 its own
// disjoint sub-range). These never appear in a VariableStorage this package
// hands back to the ISA-neutral driver; they are internal addressing
// plumbing only, analogous to isa/arm64 pinning XZR-as-SP outside its
// allocatable pools.
const (
	A0 isa.Register = iota + 16
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	A8
	A9
	A10 // implicit stack pointer (SP)
	A11 // implicit return-address register (RA), written by CALL/CALLI, read by RET
	A12
	A13
	A14
	A15
)

// ABI is this compiler's own TriCore EABI-derived parameter/return table. A
// genuine TriCore architectural fact (not a simplification) drives its
// shape: the FPU computes on D registers directly, so float and integer
// arguments share the same D4-D7 argument window the way the real TriCore
// EABI passes both in the data-register file -- there is no separate
// float-argument range the way AAPCS64's V0-V7 or SysV's XMM0-7 provide.
//
// Only the even halves of the window are listed: a 64-bit argument
// (i64/f64, lowered to a pair per the package doc) consumes a slot and its
// implicit odd partner, halving the usable slot count versus a registers-
// are-all-32-bit-and-independent ABI -- an accepted simplification over the
// real EABI's packing rules, documented in DESIGN.md.
type ABI struct {
	GPParams []isa.Register
	FLParams []isa.Register
	GPRetReg isa.Register
	FPRetReg isa.Register
}

// TriCoreEABI mirrors the real TriCore EABI's D2 (primary return)/D4-D7
// (argument window) convention, narrowed to even registers per this
// package's register-pair simplification.
var TriCoreEABI = ABI{
	GPParams: []isa.Register{D4, D6},
	FLParams: []isa.Register{D4, D6},
	GPRetReg: D2,
	FPRetReg: D2,
}

// REGS holds this compiler's own pinned registers (spec §4.6), mirroring
// isa/amd64 and isa/arm64's REGS. LinMem/MemBase live in address registers,
// the natural TriCore base-pointer file; the others live in data registers
// since they hold values this compiler's own code reads and writes as
// ordinary 32-bit integers.
var REGS = struct {
	LinMem       isa.Register // A-reg: base of the link-data region
	MemBase      isa.Register // A-reg: base of linear memory
	IndirectCall isa.Register // A-reg: resolved call target for CALLI
	ScratchAddr  isa.Register // A-reg: materializes an effective address that off10sx can't reach directly
	TrapReg      isa.Register // D-reg: holds the TrapCode on trap
	MoveHelper   isa.Register // D-reg: scratch used internally by multi-step moves
	CallStage    isa.Register // D-reg: stages a call target's low bits before it is moved into an A-reg
	MemSize      isa.Register // D-reg: cached (actual_size - 8), spec §4.13
}{
	LinMem:       A12,
	MemBase:      A13,
	IndirectCall: A14,
	ScratchAddr:  A2,
	TrapReg:      D0,
	MoveHelper:   D1,
	CallStage:    D8,
	MemSize:      D9,
}

// scratchGPRs/scratchFPRs list only even D registers: this package's
// register-pair simplification for 64-bit types (see package doc) requires
// that whichever register the allocator hands out, its odd partner is free
// to serve as the implicit high word, so the pools never offer two
// registers that are odd/even partners of each other.
var scratchGPRs = []isa.Register{D10, D12}
var scratchFPRs = []isa.Register{D14}

// localGPRs/localFPRs are empty: with D0/D1/D8/D9 pinned and D4-D7 claimed
// by the ABI window, too little of the 16-register D file remains to also
// fund a dedicated local-binding pool, so this package follows isa/amd64's
// convention (no register-bound locals) rather than isa/arm64's.
var localGPRs = []isa.Register{}
var localFPRs = []isa.Register{}

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
