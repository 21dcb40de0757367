package amd64

import (
	"fmt"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// Op is the mnemonic-level instruction identifier the builder and the
// opcode template table (spec §4.4's AbstrInstr.Template) are keyed on.
// Each Op knows how to lay out its own opcode bytes, prefix requirements
// (operand-size override, 0F map, REX.W) and which operand forms it
// accepts; see encodeInto.
type Op byte

const (
	OpMOV Op = iota
	OpMOVZX
	OpMOVSX
	OpLEA
	OpADD
	OpSUB
	OpAND
	OpOR
	OpXOR
	OpCMP
	OpTEST
	OpIMUL
	OpIDIV
	OpDIV
	OpNEG
	OpNOT
	OpSHL
	OpSHR
	OpSAR
	OpROL
	OpROR
	OpPUSH
	OpPOP
	OpRET
	OpCALL
	OpCALLIndirect
	OpJMP
	OpJMPIndirect
	OpJcc
	OpSETcc
	OpCMOVcc
	OpXCHG
	OpCDQE // CQO/CDQ sign-extend into DX:AX pair, used before IDIV
	OpPOPCNT
	OpLZCNT
	OpTZCNT

	// SSE2 float ops.
	OpMOVSS
	OpMOVSD
	OpMOVD // gpr<->xmm 32-bit
	OpMOVQ // gpr<->xmm 64-bit
	OpADDSS
	OpADDSD
	OpSUBSS
	OpSUBSD
	OpMULSS
	OpMULSD
	OpDIVSS
	OpDIVSD
	OpSQRTSS
	OpSQRTSD
	OpUCOMISS
	OpUCOMISD
	OpCVTSI2SS
	OpCVTSI2SD
	OpCVTTSS2SI
	OpCVTTSD2SI
	OpCVTSS2SD
	OpCVTSD2SS
	OpROUNDSS
	OpROUNDSD
	OpANDPS
	OpANDNPS
	OpORPS
	OpXORPS
	OpMINSS
	OpMINSD
	OpMAXSS
	OpMAXSD
)

// CC is an x86-64 condition-code nibble (the low 4 bits of Jcc/SETcc/CMOVcc
// opcodes), shared by the comparison-fusion machinery (spec §4.11).
type CC byte

const (
	CCO  CC = 0x0
	CCNO CC = 0x1
	CCB  CC = 0x2 // below / carry
	CCAE CC = 0x3 // above-or-equal / not-carry
	CCE  CC = 0x4
	CCNE CC = 0x5
	CCBE CC = 0x6
	CCA  CC = 0x7
	CCS  CC = 0x8
	CCNS CC = 0x9
	CCP  CC = 0xA
	CCNP CC = 0xB
	CCL  CC = 0xC
	CCGE CC = 0xD
	CCLE CC = 0xE
	CCG  CC = 0xF
)

func fromBranchCondition(c opstack.BranchCondition) (cc CC, needsParityGuard bool) {
	switch c {
	case opstack.CondEq:
		return CCE, false
	case opstack.CondNe:
		return CCNE, false
	case opstack.CondLtS:
		return CCL, false
	case opstack.CondGeS:
		return CCGE, false
	case opstack.CondGtS:
		return CCG, false
	case opstack.CondLeS:
		return CCLE, false
	case opstack.CondLtU:
		return CCB, false
	case opstack.CondGeU:
		return CCAE, false
	case opstack.CondGtU:
		return CCA, false
	case opstack.CondLeU:
		return CCBE, false
	case opstack.CondEqF:
		return CCE, true // AND in NP: equal-and-ordered
	case opstack.CondNeF:
		return CCNE, true // OR in P: not-equal-or-unordered
	case opstack.CondLtF:
		return CCB, true // AND in NP: below-and-ordered
	case opstack.CondGtF:
		return CCA, true // AND in NP: above-and-ordered
	case opstack.CondLeF:
		return CCBE, true // AND in NP: below-or-equal-and-ordered
	case opstack.CondGeF:
		return CCAE, true // AND in NP: above-or-equal-and-ordered
	default:
		return CCE, false
	}
}

// operandForm selects which of the builder's operand-setting methods were
// used, determining ModRM/SIB/immediate layout at emit time.
type operandForm byte

const (
	formNone operandForm = iota
	formRR               // reg, reg
	formRM               // reg, [mem]  (mem is the r/m operand)
	formMR               // [mem], reg
	formRI               // reg, imm
	formMI               // [mem], imm
	formR                // reg alone (unary: NEG/NOT/PUSH/POP/IDIV/DIV/CALL-indirect/JMP-indirect)
	formM                // [mem] alone
	formRel              // rel8/rel32 displacement (jumps/calls)
	formNoArgs
)

// Instruction is the per-ISA builder described in spec §4.4: callers
// accumulate operand fields with SetR/SetRR/SetM4RM/SetImm.../SetCC, then
// call EmitCode to finalize and append the bytes. Forgetting to call
// EmitCode after building is a caller bug that nothing here detects; only
// a second EmitCode on the same builder is rejected.
type Instruction struct {
	op   Op
	form operandForm

	dstReg, srcReg     isa.Register
	dstIsFloat, srcIsFloat bool

	memBase  isa.Register
	memDisp  int32
	memIndex isa.Register
	memScale byte
	memIsRIP bool
	hasIndex bool

	imm      int64
	immWidth byte // 1, 4, or 8

	cc CC

	// width is the operand width in bytes (4 or 8) for GPR forms, and
	// selects REX.W / operand-size-override prefixes.
	width byte

	emitted bool
}

// NewInstruction begins building op.
func NewInstruction(op Op) *Instruction {
	return &Instruction{op: op, width: 8}
}

func (ins *Instruction) SetWidth(w byte) *Instruction { ins.width = w; return ins }

func (ins *Instruction) SetR(dst isa.Register, dstFloat bool) *Instruction {
	ins.dstReg, ins.dstIsFloat = dst, dstFloat
	if ins.form == formNone {
		ins.form = formR
	}
	return ins
}

// SetRR records a register,register form: src is read, dst is read/written.
func (ins *Instruction) SetRR(src, dst isa.Register, srcFloat, dstFloat bool) *Instruction {
	ins.srcReg, ins.srcIsFloat = src, srcFloat
	ins.dstReg, ins.dstIsFloat = dst, dstFloat
	ins.form = formRR
	return ins
}

// SetM4RM sets a memory operand in the r/m (ModRM-encoded) slot: [base + disp].
func (ins *Instruction) SetM4RM(base isa.Register, disp int32) *Instruction {
	ins.memBase, ins.memDisp = base, disp
	return ins
}

// SetM4RMIndexed is SetM4RM plus a scaled index register: [base + index*scale + disp].
func (ins *Instruction) SetM4RMIndexed(base isa.Register, disp int32, index isa.Register, scale byte) *Instruction {
	ins.memBase, ins.memDisp = base, disp
	ins.memIndex, ins.memScale, ins.hasIndex = index, scale, true
	return ins
}

func (ins *Instruction) SetMIP4RM(disp int32) *Instruction {
	ins.memIsRIP = true
	ins.memDisp = disp
	return ins
}

// SetRegToMem builds a register,memory form (formRM): the memory operand
// is the source, dst is the destination register.
func (ins *Instruction) SetRegToMem(dst isa.Register, dstFloat bool) *Instruction {
	ins.dstReg, ins.dstIsFloat = dst, dstFloat
	ins.form = formRM
	return ins
}

// SetMemToReg builds a memory,register form (formMR): src is the source
// register, the memory operand (already set via SetM4RM) is the
// destination.
func (ins *Instruction) SetMemToReg(src isa.Register, srcFloat bool) *Instruction {
	ins.srcReg, ins.srcIsFloat = src, srcFloat
	ins.form = formMR
	return ins
}

func (ins *Instruction) SetImm8(v int8) *Instruction   { return ins.setImm(int64(v), 1) }
func (ins *Instruction) SetImm32(v int32) *Instruction  { return ins.setImm(int64(v), 4) }
func (ins *Instruction) SetImm64(v int64) *Instruction  { return ins.setImm(v, 8) }

func (ins *Instruction) setImm(v int64, w byte) *Instruction {
	ins.imm, ins.immWidth = v, w
	switch ins.form {
	case formR, formNone:
		ins.form = formRI
	case formM:
		ins.form = formMI
	}
	return ins
}

func (ins *Instruction) SetCC(cc CC) *Instruction { ins.cc = cc; return ins }

// MachineTypeWidth maps a MachineType to the encoder's operand width.
func MachineTypeWidth(t wasmtypes.MachineType) byte {
	if t == wasmtypes.I64 || t == wasmtypes.F64 {
		return 8
	}
	return 4
}

func regNum(r isa.Register) byte { return byte(r) & 0xF }

func modrmByte(mod, reg, rm byte) byte { return (mod << 6) | ((reg & 7) << 3) | (rm & 7) }

// rex computes the REX prefix byte for the given fields; returns (byte,
// present).
func rex(w bool, r, x, b isa.Register) (byte, bool) {
	var bits byte
	if w {
		bits |= 0x08
	}
	if needsREX(r) {
		bits |= 0x04
	}
	if needsREX(x) {
		bits |= 0x02
	}
	if needsREX(b) {
		bits |= 0x01
	}
	return 0x40 | bits, bits != 0 || w
}

// emitModRMOperand emits the ModRM(+SIB+disp) bytes for a register or
// memory r/m operand, given the already-decided reg-field byte.
func (ins *Instruction) emitModRMOperand(w *memwriter.MemWriter, regField byte, memOperand bool) error {
	if !memOperand {
		return w.WriteByte(modrmByte(3, regField, regNum(ins.dstReg)))
	}
	if ins.memIsRIP {
		if err := w.WriteByte(modrmByte(0, regField, 5)); err != nil {
			return err
		}
		return w.WriteBytesLE(uint64(uint32(ins.memDisp)), 4)
	}
	base := regNum(ins.memBase)
	low3 := base & 7
	mod := byte(2)
	if ins.memDisp == 0 && low3 != 5 {
		mod = 0
	} else if ins.memDisp >= -128 && ins.memDisp <= 127 {
		mod = 1
	}
	needsSIB := ins.hasIndex || low3 == 4 // RSP/R12 always needs a SIB byte
	rm := base
	if needsSIB {
		rm = 4
	}
	if err := w.WriteByte(modrmByte(mod, regField, rm)); err != nil {
		return err
	}
	if needsSIB {
		scale := byte(0)
		switch ins.memScale {
		case 2:
			scale = 1
		case 4:
			scale = 2
		case 8:
			scale = 3
		}
		idx := byte(4)
		if ins.hasIndex {
			idx = regNum(ins.memIndex)
		}
		if err := w.WriteByte((scale << 6) | (idx << 3) | base); err != nil {
			return err
		}
	}
	switch mod {
	case 1:
		return w.WriteByte(byte(int8(ins.memDisp)))
	case 2:
		return w.WriteBytesLE(uint64(uint32(ins.memDisp)), 4)
	default:
		return nil
	}
}

// EmitCode finalizes the instruction and appends its bytes to w, returning
// a RelPatch handle when the instruction is a branch/call whose
// displacement may need later rewriting. A second EmitCode on the same
// builder is rejected (emitted guards it); a builder that is never emitted
// is not detected.
func (ins *Instruction) EmitCode(w *memwriter.MemWriter) (opstack.RelPatch, error) {
	if ins.emitted {
		return nil, fmt.Errorf("amd64: instruction already emitted")
	}
	ins.emitted = true
	return encodeInto(w, ins)
}
