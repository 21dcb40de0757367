package arm64

import (
	"fmt"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/opstack"
)

// Op is the mnemonic-level instruction identifier, the same role
// isa/amd64.Op plays; unlike amd64's variable-length byte stream, every Op
// here resolves to exactly one 32-bit instruction word, so EmitCode never
// needs prefix/ModRM bookkeeping -- just field placement.
type Op byte

const (
	OpADD Op = iota
	OpSUB
	OpAND
	OpORR
	OpEOR
	OpADDImm
	OpSUBImm
	OpCMPReg // SUBS xzr, Rn, Rm
	OpCMPImm // SUBS xzr, Rn, #imm
	OpMUL    // MADD Rd, Rn, Rm, xzr
	OpMSUB   // Rd = Ra - Rn*Rm
	OpSDIV
	OpUDIV
	OpLSLV
	OpLSRV
	OpASRV
	OpRORV
	OpCLZ
	OpRBIT
	OpMOVZ
	OpMOVK
	OpMOVN
	OpMOVReg // ORR Rd, xzr, Rm
	OpCSEL
	OpCSINC // CSET aliases this with Rn=Rm=xzr
	OpB
	OpBL
	OpBR
	OpBLR
	OpRET
	OpBcond
	OpLDRImm // scaled unsigned-immediate load, GPR
	OpSTRImm
	OpLDRIndexed // register-offset load/store, GPR, width+ExtKind-sensitive
	OpSTRIndexed
	OpFLDRImm
	OpFSTRImm
	OpFLDRIndexed
	OpFSTRIndexed
	OpFADD
	OpFSUB
	OpFMUL
	OpFDIV
	OpFMAX
	OpFMIN
	OpFCMP
	OpFABS
	OpFNEG
	OpFSQRT
	OpFMOV // scalar<->scalar float move
	OpFRINTN
	OpFRINTP
	OpFRINTM
	OpFRINTZ
	OpSCVTF
	OpUCVTF
	OpFCVTZS
	OpFCVTZU
	OpFCVT          // single<->double
	OpFMOVGPRToFPR  // bit-reinterpret, Xn -> Dd/Sd
	OpFMOVFPRToGPR  // bit-reinterpret, Dn/Sn -> Xd
)

// ExtKind selects how a sub-word load widens, shared by the indexed
// load/store ops; TruncXX reuses the same constants for a store's narrowing
// width (only the width half of the value is meaningful there).
type ExtKind byte

const (
	ExtNone ExtKind = iota
	ExtS8
	ExtU8
	ExtS16
	ExtU16
	ExtS32
	ExtU32
	Trunc8
	Trunc16
	Trunc32
)

// CC is an AArch64 condition-code nibble, the same role isa/amd64.CC plays
// for Jcc/SETcc.
type CC byte

const (
	CCEQ CC = 0x0
	CCNE CC = 0x1
	CCCS CC = 0x2 // HS / carry-set (unsigned >=)
	CCCC CC = 0x3 // LO / carry-clear (unsigned <)
	CCMI CC = 0x4
	CCPL CC = 0x5
	CCVS CC = 0x6
	CCVC CC = 0x7
	CCHI CC = 0x8 // unsigned >
	CCLS CC = 0x9 // unsigned <=
	CCGE CC = 0xA // signed >=
	CCLT CC = 0xB // signed <
	CCGT CC = 0xC // signed >
	CCLE CC = 0xD // signed <=
	CCAL CC = 0xE
)

// invertCond returns the logical negation of cc, used by CSET's CSINC
// encoding (which always names the condition under which Rn -- not the
// incremented Rm path -- is selected).
func invertCond(cc CC) CC {
	return cc ^ 1
}

// Instruction is the single-word builder every EmitCode call assembles
// through. Unlike isa/amd64's form-tagged builder (driven by which Set*
// method was called, because x86 ModRM/SIB addressing is genuinely
// polymorphic), AArch64's fixed 4-byte instruction words collapse to a flat
// field struct: every Op knows which of these fields it reads.
type Instruction struct {
	op       Op
	rd, rn, rm, ra isa.Register
	imm      int64
	width    byte // 4 or 8
	float    bool
	cond     CC
	indexReg isa.Register
	useIndex bool
	base     isa.Register
	offset   int32
	ext      ExtKind
	hw       uint32 // MOVZ/MOVK/MOVN 16-bit lane selector (0-3)
	emitted  bool
}

func NewInstruction(op Op) *Instruction { return &Instruction{op: op, width: 4} }

func (ins *Instruction) SetRd(r isa.Register) *Instruction { ins.rd = r; return ins }
func (ins *Instruction) SetRn(r isa.Register) *Instruction { ins.rn = r; return ins }
func (ins *Instruction) SetRm(r isa.Register) *Instruction { ins.rm = r; return ins }
func (ins *Instruction) SetRa(r isa.Register) *Instruction { ins.ra = r; return ins }
func (ins *Instruction) SetImm(v int64) *Instruction       { ins.imm = v; return ins }
func (ins *Instruction) SetWidth(w byte) *Instruction      { ins.width = w; return ins }
func (ins *Instruction) SetFloat(f bool) *Instruction      { ins.float = f; return ins }
func (ins *Instruction) SetCC(cc CC) *Instruction          { ins.cond = cc; return ins }
func (ins *Instruction) SetExt(e ExtKind) *Instruction     { ins.ext = e; return ins }
func (ins *Instruction) SetHW(hw uint32) *Instruction      { ins.hw = hw; return ins }

// SetMem addresses a scaled-immediate [base, #offset] operand (stack
// spill slots and link-data, spec §3.2); offset must already be
// non-negative and a multiple of the operand width -- EmitMove's memory
// helpers are responsible for materializing an address register instead
// when it isn't (see backend.go's addrOperand).
func (ins *Instruction) SetMem(base isa.Register, offset int32) *Instruction {
	ins.base = base
	ins.offset = offset
	ins.useIndex = false
	return ins
}

// SetMemIndexed addresses a [base, index] register-offset operand (bounds
// checked linear-memory access, spec §4.13): AArch64's load/store
// register-offset form has no additional immediate displacement, so any
// mem.Offset must already be folded into index by the caller.
func (ins *Instruction) SetMemIndexed(base, index isa.Register) *Instruction {
	ins.base = base
	ins.indexReg = index
	ins.useIndex = true
	return ins
}

func regNum(r isa.Register) uint32 { return uint32(r) & 0x1F }

func sfBit(width byte) uint32 {
	if width == 8 {
		return 1
	}
	return 0
}

// floatType returns the 2-bit float size field: 00 = single, 01 = double.
func floatType(width byte) uint32 {
	if width == 8 {
		return 1
	}
	return 0
}

// EmitCode assembles ins into exactly one 32-bit word (branches return a
// RelPatch over that word; every other Op returns a nil patch, mirroring
// isa/amd64.Instruction.EmitCode's contract).
func (ins *Instruction) EmitCode(w *memwriter.MemWriter) (opstack.RelPatch, error) {
	if ins.emitted {
		return nil, fmt.Errorf("arm64: instruction already emitted")
	}
	ins.emitted = true

	switch ins.op {
	case OpADD, OpSUB, OpAND, OpORR, OpEOR, OpMOVReg:
		return nil, ins.writeWord(w, ins.logicalOrAddSub())
	case OpADDImm, OpSUBImm, OpCMPImm:
		return nil, ins.writeWord(w, ins.addSubImm())
	case OpCMPReg:
		return nil, ins.writeWord(w, ins.cmpReg())
	case OpMUL, OpMSUB:
		return nil, ins.writeWord(w, ins.dataProc3Src())
	case OpSDIV, OpUDIV, OpLSLV, OpLSRV, OpASRV, OpRORV:
		return nil, ins.writeWord(w, ins.dataProc2Src())
	case OpCLZ, OpRBIT:
		return nil, ins.writeWord(w, ins.dataProc1Src())
	case OpMOVZ, OpMOVK, OpMOVN:
		return nil, ins.writeWord(w, ins.moveWide())
	case OpCSEL, OpCSINC:
		return nil, ins.writeWord(w, ins.condSelect())
	case OpLDRImm, OpSTRImm:
		return nil, ins.writeWord(w, ins.loadStoreImm(false))
	case OpFLDRImm, OpFSTRImm:
		return nil, ins.writeWord(w, ins.loadStoreImm(true))
	case OpLDRIndexed, OpSTRIndexed:
		return nil, ins.writeWord(w, ins.loadStoreIndexed(false))
	case OpFLDRIndexed, OpFSTRIndexed:
		return nil, ins.writeWord(w, ins.loadStoreIndexed(true))
	case OpFADD, OpFSUB, OpFMUL, OpFDIV, OpFMAX, OpFMIN:
		return nil, ins.writeWord(w, ins.fpDataProc2Src())
	case OpFCMP:
		return nil, ins.writeWord(w, ins.fpCompare())
	case OpFABS, OpFNEG, OpFSQRT, OpFMOV, OpFRINTN, OpFRINTP, OpFRINTM, OpFRINTZ:
		return nil, ins.writeWord(w, ins.fpDataProc1Src())
	case OpSCVTF, OpUCVTF, OpFCVTZS, OpFCVTZU, OpFMOVGPRToFPR, OpFMOVFPRToGPR:
		return nil, ins.writeWord(w, ins.fpIntConvert())
	case OpFCVT:
		return nil, ins.writeWord(w, ins.fpSizeConvert())
	case OpB, OpBL:
		pos, err := w.Step(4)
		if err != nil {
			return nil, err
		}
		return NewBranchPatch(w, pos, ins.op == OpBL), nil
	case OpBcond:
		pos, err := w.Step(4)
		if err != nil {
			return nil, err
		}
		return NewCondBranchPatch(w, pos, ins.cond), nil
	case OpBR, OpBLR, OpRET:
		return nil, ins.writeWord(w, ins.branchReg())
	}
	return nil, fmt.Errorf("arm64: unhandled op %v", ins.op)
}

func (ins *Instruction) writeWord(w *memwriter.MemWriter, word uint32) error {
	return w.WriteBytesLE(uint64(word), 4)
}

// logicalOrAddSub covers ADD/SUB/AND/ORR/EOR (shifted register, shift
// amount always 0) and the MOV Rd,Rm alias (ORR Rd, xzr, Rm).
func (ins *Instruction) logicalOrAddSub() uint32 {
	sf := sfBit(ins.width)
	rn := ins.rn
	if ins.op == OpMOVReg {
		rn = XZR
	}
	switch ins.op {
	case OpADD:
		return 0x0B000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(rn)<<5 | regNum(ins.rd)
	case OpSUB:
		return 0x4B000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(rn)<<5 | regNum(ins.rd)
	case OpAND:
		return 0x0A000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(rn)<<5 | regNum(ins.rd)
	case OpORR, OpMOVReg:
		return 0x2A000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(rn)<<5 | regNum(ins.rd)
	case OpEOR:
		return 0x4A000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(rn)<<5 | regNum(ins.rd)
	}
	return 0
}

func (ins *Instruction) cmpReg() uint32 {
	sf := sfBit(ins.width)
	// SUBS xzr, Rn, Rm
	return 0x6B000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(ins.rn)<<5 | regNum(XZR)
}

// addSubImm covers ADD/SUB/CMP (immediate); imm must fit the 12-bit
// unshifted field (backend.go materializes larger constants into a
// register and reroutes through the shifted-register forms instead).
func (ins *Instruction) addSubImm() uint32 {
	sf := sfBit(ins.width)
	imm12 := uint32(ins.imm) & 0xFFF
	switch ins.op {
	case OpADDImm:
		return 0x11000000 | sf<<31 | imm12<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
	case OpSUBImm:
		return 0x51000000 | sf<<31 | imm12<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
	case OpCMPImm:
		return 0x71000000 | sf<<31 | imm12<<10 | regNum(ins.rn)<<5 | regNum(XZR)
	}
	return 0
}

func (ins *Instruction) dataProc3Src() uint32 {
	sf := sfBit(ins.width)
	switch ins.op {
	case OpMUL:
		return 0x1B000000 | sf<<31 | regNum(ins.rm)<<16 | regNum(XZR)<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
	case OpMSUB:
		return 0x1B008000 | sf<<31 | regNum(ins.rm)<<16 | regNum(ins.ra)<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
	}
	return 0
}

func (ins *Instruction) dataProc2Src() uint32 {
	sf := sfBit(ins.width)
	var opcode uint32
	switch ins.op {
	case OpUDIV:
		opcode = 0b000010
	case OpSDIV:
		opcode = 0b000011
	case OpLSLV:
		opcode = 0b001000
	case OpLSRV:
		opcode = 0b001001
	case OpASRV:
		opcode = 0b001010
	case OpRORV:
		opcode = 0b001011
	}
	return 0x1AC00000 | sf<<31 | regNum(ins.rm)<<16 | opcode<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
}

func (ins *Instruction) dataProc1Src() uint32 {
	sf := sfBit(ins.width)
	var opcode2 uint32
	if ins.op == OpCLZ {
		opcode2 = 0b000100
	}
	return 0x5AC00000 | sf<<31 | opcode2<<10 | regNum(ins.rn)<<5 | regNum(ins.rd)
}

func (ins *Instruction) moveWide() uint32 {
	sf := sfBit(ins.width)
	var opc uint32
	switch ins.op {
	case OpMOVN:
		opc = 0b00
	case OpMOVZ:
		opc = 0b10
	case OpMOVK:
		opc = 0b11
	}
	imm16 := uint32(ins.imm) & 0xFFFF
	return 0x12800000 | sf<<31 | opc<<29 | ins.hw<<21 | imm16<<5 | regNum(ins.rd)
}

func (ins *Instruction) condSelect() uint32 {
	sf := sfBit(ins.width)
	var op2 uint32
	rn, rm, cond := ins.rn, ins.rm, ins.cond
	if ins.op == OpCSINC {
		op2 = 0b01
	}
	return 0x1A800000 | sf<<31 | regNum(rm)<<16 | uint32(cond)<<12 | op2<<10 | regNum(rn)<<5 | regNum(ins.rd)
}

func (ins *Instruction) branchReg() uint32 {
	rn := ins.rn
	switch ins.op {
	case OpBR:
		return 0xD61F0000 | regNum(rn)<<5
	case OpBLR:
		return 0xD63F0000 | regNum(rn)<<5
	case OpRET:
		if rn == 0 && ins.rd == 0 {
			rn = X30
		}
		return 0xD65F0000 | regNum(rn)<<5
	}
	return 0
}

// loadStoreImm is the scaled unsigned-immediate [base, #offset] form used
// for stack spill slots and link-data (spec §3.2); offset is in bytes and
// must already be a multiple of the operand width.
func (ins *Instruction) loadStoreImm(float bool) uint32 {
	size := uint32(0b10)
	if ins.width == 8 {
		size = 0b11
	}
	var v uint32
	if float {
		v = 1
	}
	opc := uint32(0b00)
	if ins.op == OpLDRImm || ins.op == OpFLDRImm {
		opc = 0b01
	}
	imm12 := uint32(ins.offset) / uint32(ins.width)
	rt := ins.rd
	return size<<30 | 0b111<<27 | v<<26 | 0b01<<24 | opc<<22 | imm12<<10 | regNum(ins.base)<<5 | regNum(rt)
}

// loadStoreIndexed is the register-offset [base, index] form used for
// bounds-checked linear-memory access; size/opc are picked from ext
// (ExtKind) for GPR sub-word loads, or from width alone for stores and
// float operands.
func (ins *Instruction) loadStoreIndexed(float bool) uint32 {
	var size, opc, v uint32
	if float {
		v = 1
		if ins.width == 8 {
			size = 0b11
		} else {
			size = 0b10
		}
		if ins.op == OpFLDRIndexed {
			opc = 0b01
		}
	} else {
		isLoad := ins.op == OpLDRIndexed
		switch ins.ext {
		case ExtS8:
			size, opc = 0b00, 0b10
		case ExtU8, Trunc8:
			size = 0b00
			if isLoad {
				opc = 0b01
			}
		case ExtS16:
			size, opc = 0b01, 0b10
		case ExtU16, Trunc16:
			size = 0b01
			if isLoad {
				opc = 0b01
			}
		case ExtS32:
			size, opc = 0b10, 0b10
		default: // ExtNone, ExtU32, Trunc32 and full-width 8-byte
			if ins.width == 8 {
				size = 0b11
			} else {
				size = 0b10
			}
			if isLoad {
				opc = 0b01
			}
		}
	}
	rt := ins.rd
	const option = 0b011 // LSL/UXTX: index is a plain 64-bit register, no extension
	const sBit = 0       // no implicit shift; mem.Offset is pre-folded into the index register
	return size<<30 | 0b111<<27 | v<<26 | 0b00<<24 | opc<<22 | 1<<21 | regNum(ins.indexReg)<<16 |
		option<<13 | sBit<<12 | 0b10<<10 | regNum(ins.base)<<5 | regNum(rt)
}

func (ins *Instruction) fpDataProc2Src() uint32 {
	typ := floatType(ins.width)
	var opcode uint32
	switch ins.op {
	case OpFMUL:
		opcode = 0b0000
	case OpFDIV:
		opcode = 0b0001
	case OpFADD:
		opcode = 0b0010
	case OpFSUB:
		opcode = 0b0011
	case OpFMAX:
		opcode = 0b0100
	case OpFMIN:
		opcode = 0b0101
	}
	return 0x1E200800 | typ<<22 | regNum(ins.rm)<<16 | opcode<<12 | regNum(ins.rn)<<5 | regNum(ins.rd)
}

func (ins *Instruction) fpCompare() uint32 {
	typ := floatType(ins.width)
	return 0x1E202000 | typ<<22 | regNum(ins.rm)<<16 | regNum(ins.rn)<<5
}

func (ins *Instruction) fpDataProc1Src() uint32 {
	typ := floatType(ins.width)
	var opcode uint32
	switch ins.op {
	case OpFMOV:
		opcode = 0b000000
	case OpFABS:
		opcode = 0b000001
	case OpFNEG:
		opcode = 0b000010
	case OpFSQRT:
		opcode = 0b000011
	case OpFRINTN:
		opcode = 0b001000
	case OpFRINTP:
		opcode = 0b001001
	case OpFRINTM:
		opcode = 0b001010
	case OpFRINTZ:
		opcode = 0b001011
	}
	return 0x1E204000 | typ<<22 | opcode<<15 | regNum(ins.rn)<<5 | regNum(ins.rd)
}

// fpIntConvert covers SCVTF/UCVTF/FCVTZS/FCVTZU (float<->int) and the
// bit-reinterpret FMOV forms (GPR<->FPR), all members of the "conversion
// between floating-point and integer" instruction class.
func (ins *Instruction) fpIntConvert() uint32 {
	sf := sfBit(ins.width)
	typ := floatType(ins.width)
	var rmode, opcode uint32
	switch ins.op {
	case OpSCVTF:
		rmode, opcode = 0b00, 0b010
	case OpUCVTF:
		rmode, opcode = 0b00, 0b011
	case OpFCVTZS:
		rmode, opcode = 0b11, 0b000
	case OpFCVTZU:
		rmode, opcode = 0b11, 0b001
	case OpFMOVGPRToFPR:
		rmode, opcode = 0b00, 0b111
	case OpFMOVFPRToGPR:
		rmode, opcode = 0b00, 0b110
	}
	return 0x1E200000 | sf<<31 | typ<<22 | rmode<<19 | opcode<<16 | regNum(ins.rn)<<5 | regNum(ins.rd)
}

// fpSizeConvert is FCVT single<->double: typ is the *source* size (00 =
// single, 01 = double); opcode picks the destination (0b000101 = to
// double, 0b000100 = to single).
func (ins *Instruction) fpSizeConvert() uint32 {
	typ := floatType(ins.width) // source width
	opcode := uint32(0b000101)  // widen: single -> double
	if ins.width == 8 {
		opcode = 0b000100 // narrow: double -> single
	}
	return 0x1E204000 | typ<<22 | opcode<<15 | regNum(ins.rn)<<5 | regNum(ins.rd)
}
