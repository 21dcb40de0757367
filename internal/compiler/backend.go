// Package compiler holds the ISA-neutral driver (spec §4.9/§4.7): the
// top-level loop that walks a wasmir.InstructionReader, drives the
// opstack.Stack, and calls out to whichever Backend implements the current
// target ISA for anything that has to become actual bytes.
//
// Grounded on wazero's internal/engine/compiler/compiler.go "compiler"
// interface, which plays the same role (one method per WebAssembly
// instruction, implemented once per architecture) but is itself coupled to
// wazero's callEngine; this package keeps the same per-opcode-method shape
// while depending only on the types this module defines.
package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/trapcode"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// CallKind distinguishes the four call-site shapes spec §4.10 describes.
type CallKind byte

const (
	CallInternal CallKind = iota
	CallIndirect
	CallImportedV1
	CallImportedV2
)

// Backend is the per-ISA code generator the driver is built against. Every
// method either appends bytes to w directly or returns a RelPatch the
// driver is responsible for linking once the target position is known.
type Backend interface {
	PointerWidth() int
	ScratchPool(tp isa.RegisterType) []isa.Register
	LocalPool(tp isa.RegisterType) []isa.Register
	// ArgRegisters returns the ABI's positional argument registers of type
	// tp, in order. The driver uses this to marshal call arguments into
	// place before EmitCallInternal/EmitCallIndirect/EmitCallImported (spec
	// §4.10); an argument beyond len(ArgRegisters(tp)) is a
	// LimitArgumentCount error (wasm functions with enough same-typed
	// arguments to exhaust the ABI's register file are out of scope for the
	// baseline compiler, spec §5).
	ArgRegisters(tp isa.RegisterType) []isa.Register

	// EmitMove relocates a value from src to dst (register<->register,
	// register<->stack, register<->link-data, constant->anything). A no-op
	// if src and dst are already EqualLocation.
	EmitMove(w *memwriter.MemWriter, t wasmtypes.MachineType, src, dst isa.VariableStorage) error
	// EmitLoadConst materializes the constant bit pattern bits, read as a
	// value of type t, into dst.
	EmitLoadConst(w *memwriter.MemWriter, t wasmtypes.MachineType, bits uint64, dst isa.VariableStorage) error

	// BinOpCandidates/EmitBinOp and UnOpCandidates/EmitUnOp implement
	// selectInstr (spec §4.8): the driver asks for candidates, picks one via
	// isa.ArgType.Accepts, lifts operands as needed, then calls Emit.
	BinOpCandidates(op wasmir.Opcode) []isa.AbstrInstr
	EmitBinOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst, src isa.VariableStorage) error
	UnOpCandidates(op wasmir.Opcode) []isa.AbstrInstr
	EmitUnOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst isa.VariableStorage) error

	// EmitCompare emits the flags-setting instruction only (CMP/UCOMISS/...);
	// the PendingComparison StackElement records which BranchCondition to
	// read later (spec §4.11). It never writes a result register.
	EmitCompare(w *memwriter.MemWriter, t wasmtypes.MachineType, lhs, rhs isa.VariableStorage) error
	// EmitMaterializeBool turns a pending comparison into a 0/1 value in dst
	// (SETcc), used when a comparison result feeds something other than
	// BrIf/Select/Eqz.
	EmitMaterializeBool(w *memwriter.MemWriter, cond opstack.BranchCondition, dst isa.VariableStorage) error
	// EmitSelect implements the select opcode: on entry dst already holds a
	// (the true-case value); if cond does not hold, dst is overwritten with
	// b (CMOVcc for integers; a compare-and-branch sequence for floats,
	// which have no floating-point CMOV).
	EmitSelect(w *memwriter.MemWriter, t wasmtypes.MachineType, cond opstack.BranchCondition, negate bool, dst, b isa.VariableStorage) error

	// EmitCondJumpPlaceholder appends a jump taken when cond holds (when it
	// does not hold, if negate is true) with an unresolved target and
	// returns its patch handle.
	EmitCondJumpPlaceholder(w *memwriter.MemWriter, cond opstack.BranchCondition, negate bool) (opstack.RelPatch, error)
	EmitJumpPlaceholder(w *memwriter.MemWriter) (opstack.RelPatch, error)
	// EmitJumpBackTo emits an unconditional jump to a known, already-emitted
	// binary position (a Loop's start, spec §4.9's br to a loop header).
	EmitJumpBackTo(w *memwriter.MemWriter, targetPos int) error
	// EmitCondJumpBackTo is EmitJumpBackTo's conditional counterpart, used by
	// BrIf/BrTable targeting a Loop whose header is already at a known
	// position.
	EmitCondJumpBackTo(w *memwriter.MemWriter, cond opstack.BranchCondition, negate bool, targetPos int) error

	// EmitFunctionPrologue/Epilogue bracket a function body; frameSize is the
	// StackFrameSizeCeil computed once the whole body has been compiled,
	// fixed up by EmitFunctionPrologue's own RelPatch (the frame size is not
	// known until after the body is emitted, spec §4.9's two-pass frame-size
	// patch).
	EmitFunctionPrologue(w *memwriter.MemWriter, frameSize uint32) (opstack.RelPatch, error)
	EmitFunctionEpilogue(w *memwriter.MemWriter, frameSize uint32, results []wasmtypes.MachineType) error

	EmitCallInternal(w *memwriter.MemWriter, head *moduleinfo.FuncPatchHead) error
	EmitCallIndirect(w *memwriter.MemWriter, table *wasmtypes.Table, sigIndex uint32, tableIndexStorage isa.VariableStorage) error
	EmitCallImported(w *memwriter.MemWriter, sym *wasmtypes.NativeSymbol, sig wasmtypes.Signature) error

	EmitBoundsCheckAndLoad(w *memwriter.MemWriter, t wasmtypes.MachineType, extendKind LoadExtend, addr isa.VariableStorage, mem wasmir.MemArg, dst isa.VariableStorage) error
	EmitBoundsCheckAndStore(w *memwriter.MemWriter, t wasmtypes.MachineType, truncKind StoreTrunc, addr isa.VariableStorage, mem wasmir.MemArg, src isa.VariableStorage) error
	EmitMemorySize(w *memwriter.MemWriter, dst isa.VariableStorage) error
	EmitMemoryGrow(w *memwriter.MemWriter, deltaPages isa.VariableStorage, dst isa.VariableStorage) error

	// EmitTruncToInt lowers a float->int Trunc opcode including its
	// trap-on-NaN/overflow boundary checks (spec §4.12).
	EmitTruncToInt(w *memwriter.MemWriter, srcType, dstType wasmtypes.MachineType, signed bool, src, dst isa.VariableStorage) error

	EmitTrap(w *memwriter.MemWriter, code trapcode.Code) error
	// EmitGenericTrapHandler emits the one-per-function
	// (or one-per-module) landing pad every EmitTrap jumps to (spec §4.14).
	EmitGenericTrapHandler(w *memwriter.MemWriter) error
}

// LoadExtend selects how a narrow load widens into a register (spec §6.1's
// I32Load8S/U family).
type LoadExtend byte

const (
	ExtendNone LoadExtend = iota
	ExtendS8
	ExtendU8
	ExtendS16
	ExtendU16
	ExtendS32
	ExtendU32
)

// StoreTrunc selects how a wide value narrows before a store (the
// I32Store8/I64Store16/... family); only the width matters for a store.
type StoreTrunc byte

const (
	TruncNone StoreTrunc = iota
	Trunc8
	Trunc16
	Trunc32
)
