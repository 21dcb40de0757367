// Package wasmir models the pull stream of parsed WebAssembly instructions
// the compiler consumes (spec §6.1). The actual binary parser/validator is
// out of scope (spec §1); wasmir only describes the shape of what it
// produces, already validated — operand-stack types, block structure, and
// local/global/function indices are guaranteed correct by the time the
// compiler sees them.
package wasmir

import "github.com/herrcai0907/wasmjit/internal/wasmtypes"

// Opcode enumerates the WebAssembly 1.0 instructions the compiler handles.
// SIMD, reference-type and multi-memory opcodes are intentionally absent:
// a parser targeting those proposals is a different external collaborator
// and not addressed by this compiler (spec Non-goals).
type Opcode int

const (
	OpUnreachable Opcode = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect

	OpDrop
	OpSelect

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
	OpMemorySize
	OpMemoryGrow

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge

	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr
	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr

	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64
)

// MemArg is the {align, offset} immediate pair carried by every load/store
// instruction (spec §6.1).
type MemArg struct {
	Align  uint32
	Offset uint32
}

// BlockType names the signature of a structured control-flow region. A
// value-type block (no params, at most one result, pre-multi-value) and a
// full signature-index block are both represented via SigIndex into
// Module.Signatures; ValueOnly is kept for the common zero/one-result case
// so callers need not synthesize a one-off signature.
type BlockType struct {
	SigIndex  int32 // -1 if ValueOnly is used
	ValueOnly *wasmtypes.MachineType
}

// Instruction is one opcode plus whichever immediate fields it carries. Only
// the fields relevant to Op are populated; the rest are zero.
type Instruction struct {
	Op Opcode

	Block BlockType // OpBlock, OpLoop, OpIf

	Index uint32 // local/global/function/type index, br depth

	BrTableTargets []uint32 // OpBrTable: relative depths
	BrTableDefault uint32

	Mem MemArg

	ConstI32 int32
	ConstI64 int64
	ConstF32 float32
	ConstF64 float64
}

// InstructionReader is a pull stream of already-validated instructions for a
// single function body, produced by the out-of-scope parser/validator.
type InstructionReader interface {
	// Next returns the next instruction and true, or a zero Instruction and
	// false once the body (including its final OpEnd) is exhausted.
	Next() (Instruction, bool)
}

// SliceReader adapts a []Instruction, as produced by a test fixture or an
// already-fully-parsed function body, to InstructionReader.
type SliceReader struct {
	instrs []Instruction
	pos    int
}

func NewSliceReader(instrs []Instruction) *SliceReader {
	return &SliceReader{instrs: instrs}
}

func (r *SliceReader) Next() (Instruction, bool) {
	if r.pos >= len(r.instrs) {
		return Instruction{}, false
	}
	instr := r.instrs[r.pos]
	r.pos++
	return instr, true
}
