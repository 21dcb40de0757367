package tricore

import (
	"fmt"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/opstack"
)

// Op identifies one instruction template this package's encoder knows how
// to compose. Unlike isa/arm64's Op (one value per real AArch64 mnemonic,
// bit-verified against the architecture reference), the numeric op/op2
// identifying bytes chosen here for each Op are this compiler's own
// internal, self-consistent scheme -- there is no assembler or disassembler
// anywhere in the example pack to cross-check real TriCore op/op2 field
// values against, unlike arm64's case where the ARMv8-A reference manual
// plays that role directly. What IS grounded precisely on
// tricore_instruction.cpp is every register-slot and immediate-field bit
// position (Da<<8, Db<<12, Dc<<28, const16<<12, the disp15/disp24 splitting
// arithmetic): see DESIGN.md.
type Op byte

const (
	OpMOV Op = iota
	OpMOVConst16Sx
	OpMOVHConst16
	OpADDIConst16
	OpADD
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpMUL
	// OpSH/OpSHA (logical/arithmetic shift) take a signed count: positive
	// shifts left, negative shifts right, a real TriCore SH/SH.A convention
	// (tricore_instruction.cpp's count operand is a plain signed field, not
	// a separate left/right opcode pair) this package reuses rather than
	// modeling left- and right-shift as distinct Ops.
	OpSH
	OpSHA
	OpCLZ
	OpEQ
	OpNE
	OpLT
	OpGE
	OpLTU
	OpGEU
	OpNEConst9
	OpJEQ
	OpJNE
	OpJLT
	OpJGE
	OpJLTU
	OpJGEU
	OpJ
	OpCALL
	OpCALLI
	OpRET
	OpLD
	OpST
	OpMOVAD
	OpMOVDA
	OpADDA
	OpLEA
	// OpITOF/OpFTOI are the F32<->I32 native conversions (real TriCore
	// FLOAT.Q/ITOF and FTOI/FTOU instructions); the signed/unsigned choice
	// for FTOI is carried by Instruction.convSigned rather than a separate
	// Op, the same way op2 disambiguates the RR family.
	OpITOF
	OpFTOI
)

// opByte is the low byte every 32-bit TriCore word carries as its primary
// opcode identifier (tricore_instruction.cpp's is16BitInstr/emitCode both
// key off this byte, as does setDisp24sx2's `opcode_ &= 0xFF` keeping only
// this byte when it overwrites everything else).
func opByte(op Op) byte {
	switch op {
	case OpMOV:
		return 0x01
	case OpMOVConst16Sx:
		return 0x02
	case OpMOVHConst16:
		return 0x03
	case OpADDIConst16:
		return 0x04
	case OpADD, OpSUB, OpAND, OpOR, OpXOR, OpMUL, OpSH, OpSHA, OpCLZ, OpEQ, OpNE, OpLT, OpGE, OpLTU, OpGEU:
		return 0x0B // RR arithmetic/boolean-compare family, disambiguated by op2
	case OpNEConst9:
		return 0x0C // RC boolean-compare-vs-immediate family
	case OpJEQ, OpJNE, OpJLT, OpJGE, OpJLTU, OpJGEU:
		return 0x1F // BRC fused compare+branch family, disambiguated by op2
	case OpJ:
		return 0x1D
	case OpCALL:
		return 0x1E
	case OpCALLI:
		return 0x2D
	case OpRET:
		return 0x2E
	case OpLD:
		return 0x05
	case OpST:
		return 0x06
	case OpMOVAD:
		return 0x07
	case OpMOVDA:
		return 0x08
	case OpADDA:
		return 0x09
	case OpLEA:
		return 0x0A
	case OpITOF:
		return 0x0D
	case OpFTOI:
		return 0x0E
	default:
		return 0xFF
	}
}

// op2 distinguishes the RR/RC/BRC families sharing one opByte.
func op2(op Op) byte {
	switch op {
	case OpADD:
		return 0x00
	case OpSUB:
		return 0x01
	case OpAND:
		return 0x02
	case OpOR:
		return 0x03
	case OpXOR:
		return 0x04
	case OpMUL:
		return 0x05
	case OpSH:
		return 0x06
	case OpSHA:
		return 0x07
	case OpCLZ:
		return 0x08
	case OpEQ:
		return 0x09
	case OpNE:
		return 0x0A
	case OpLT:
		return 0x0B
	case OpGE:
		return 0x0C
	case OpLTU:
		return 0x0D
	case OpGEU:
		return 0x0E
	case OpNEConst9:
		return 0x00
	case OpJEQ:
		return 0x00
	case OpJNE:
		return 0x01
	case OpJLT:
		return 0x02
	case OpJGE:
		return 0x03
	case OpJLTU:
		return 0x04
	case OpJGEU:
		return 0x05
	default:
		return 0x00
	}
}

// isFloatCapable reports whether op accepts the float-variant bit (ADD.F
// etc, selected the same way isa/arm64's Instruction.float field picks FADD
// over ADD).
func isFloatCapable(op Op) bool {
	switch op {
	case OpADD, OpSUB, OpMUL:
		return true
	default:
		return false
	}
}

// ExtKind mirrors isa/arm64's ExtKind: how a sub-word load widens, or a
// store narrows.
type ExtKind byte

const (
	ExtNone ExtKind = iota
	ExtS8
	ExtU8
	ExtS16
	ExtU16
)

// Instruction is the fluent builder every backend.go emission goes through,
// named and shaped after tricore_instruction.hpp's own Instruction class
// (Set* per operand slot, a single EmitCode finalizing the word) but
// returning an opstack.RelPatch directly from EmitCode -- the isa/amd64 and
// isa/arm64 Go convention -- rather than the C++ original's prepJmp()/
// prepLEA() pattern of capturing the position before emitCode() runs (see
// DESIGN.md).
type Instruction struct {
	op                 Op
	da, db, dc, dd     isa.Register
	aa, ab, ac         isa.Register
	useDa, useDb, useDc, useDd bool
	useAa, useAb, useAc        bool
	const16            uint32
	useConst16         bool
	const16Signed      bool
	const9             uint32
	useConst9          bool
	float              bool
	ext                ExtKind
	width              byte // memory access width in bytes: 1, 2 or 4
	offset             int32
	useOffset          bool
	convSigned         bool
	emitted            bool
}

func NewInstruction(op Op) *Instruction { return &Instruction{op: op, width: 4} }

func (ins *Instruction) SetDa(r isa.Register) *Instruction { ins.da, ins.useDa = r, true; return ins }
func (ins *Instruction) SetDb(r isa.Register) *Instruction { ins.db, ins.useDb = r, true; return ins }
func (ins *Instruction) SetDc(r isa.Register) *Instruction { ins.dc, ins.useDc = r, true; return ins }
func (ins *Instruction) SetDd(r isa.Register) *Instruction { ins.dd, ins.useDd = r, true; return ins }
func (ins *Instruction) SetAa(r isa.Register) *Instruction { ins.aa, ins.useAa = r, true; return ins }
func (ins *Instruction) SetAb(r isa.Register) *Instruction { ins.ab, ins.useAb = r, true; return ins }
func (ins *Instruction) SetAc(r isa.Register) *Instruction { ins.ac, ins.useAc = r, true; return ins }

func (ins *Instruction) SetConst16Sx(v int32) *Instruction {
	ins.const16, ins.useConst16, ins.const16Signed = uint32(v)&0xFFFF, true, true
	return ins
}
func (ins *Instruction) SetConst16Zx(v uint32) *Instruction {
	ins.const16, ins.useConst16 = v&0xFFFF, true
	return ins
}
func (ins *Instruction) SetConst9Sx(v int32) *Instruction {
	ins.const9, ins.useConst9 = uint32(v)&0x1FF, true
	return ins
}

func (ins *Instruction) SetFloat(f bool) *Instruction { ins.float = f; return ins }
func (ins *Instruction) SetExt(e ExtKind) *Instruction { ins.ext = e; return ins }
func (ins *Instruction) SetWidth(w byte) *Instruction  { ins.width = w; return ins }

// SetConvSigned selects FTOI's signed-vs-unsigned truncation mode (ITOF's
// conversion is always exact regardless of signedness, so this only matters
// for OpFTOI).
func (ins *Instruction) SetConvSigned(s bool) *Instruction { ins.convSigned = s; return ins }

// SetMem addresses [base + offset] for load/store-family ops, base being an
// address register (TriCore loads/stores only ever take an address
// register as their base, never a data register).
func (ins *Instruction) SetMem(base isa.Register, offset int32) *Instruction {
	ins.ab, ins.useAb = base, true
	ins.offset, ins.useOffset = offset, true
	return ins
}

// EmitCode composes and writes the 32-bit word, reserving a patchable disp
// field for the jump/call/branch family (this package's RelPatch
// implementations, see relpatch.go).
func (ins *Instruction) EmitCode(w *memwriter.MemWriter) (opstack.RelPatch, error) {
	if ins.emitted {
		return nil, fmt.Errorf("tricore: instruction already emitted")
	}
	ins.emitted = true

	word := uint32(opByte(ins.op))
	if ins.useDa {
		word |= (uint32(regNum(ins.da)) & 0xF) << 8
	}
	if ins.useDb {
		word |= (uint32(regNum(ins.db)) & 0xF) << 12
	}
	if ins.useDc {
		word |= (uint32(regNum(ins.dc)) & 0xF) << 28
	}
	if ins.useDd {
		word |= (uint32(regNum(ins.dd)) & 0xF) << 24
	}
	if ins.useAa {
		word |= (uint32(regNum(ins.aa)) & 0xF) << 8
	}
	if ins.useAb {
		word |= (uint32(regNum(ins.ab)) & 0xF) << 12
	}
	if ins.useAc {
		word |= (uint32(regNum(ins.ac)) & 0xF) << 28
	}

	switch ins.op {
	case OpADD, OpSUB, OpAND, OpOR, OpXOR, OpMUL, OpSH, OpSHA, OpCLZ,
		OpEQ, OpNE, OpLT, OpGE, OpLTU, OpGEU:
		word |= uint32(op2(ins.op)) << 16
		if ins.float && isFloatCapable(ins.op) {
			word |= 1 << 27
		}
	case OpNEConst9:
		word |= uint32(op2(ins.op)) << 16
		if ins.useConst9 {
			word |= ins.const9 << 20
		}
	case OpMOVConst16Sx, OpMOVHConst16, OpADDIConst16, OpLEA:
		if ins.useConst16 {
			word |= ins.const16 << 12
		}
	case OpFTOI, OpITOF:
		if ins.convSigned {
			word |= 1 << 16
		}
	case OpLD, OpST:
		word |= (uint32(ins.width) & 0x7) << 24
		word |= (uint32(ins.ext) & 0x7) << 20
	}

	isBranchFamily := ins.op == OpJEQ || ins.op == OpJNE || ins.op == OpJLT ||
		ins.op == OpJGE || ins.op == OpJLTU || ins.op == OpJGEU
	isJumpFamily := ins.op == OpJ || ins.op == OpCALL

	if isBranchFamily {
		word |= uint32(op2(ins.op)) << 4
	}

	if ins.op == OpLD || ins.op == OpST {
		lo := int32(ins.offset) & 0x3F
		hi := (int32(ins.offset) >> 6) & 0xF
		word |= uint32(lo) << 16
		word |= uint32(hi) << 28
	}

	wordPos, err := w.Step(4)
	if err != nil {
		return nil, err
	}
	w.PutUint32At(wordPos, word)

	if isBranchFamily {
		return NewCondBranchPatch(w, wordPos), nil
	}
	if isJumpFamily {
		return NewJumpPatch(w, wordPos), nil
	}
	return nil, nil
}

// regNum strips an A-register's +16 offset so Da/Db/Dc/Dd/Aa/Ab/Ac all land
// in the same 4-bit hardware field regardless of which Go constant range
// they came from (tricore_instruction.cpp's setDa/setAa share identical bit
// math for exactly this reason).
func regNum(r isa.Register) byte {
	if r >= 16 {
		return byte(r - 16)
	}
	return byte(r)
}
