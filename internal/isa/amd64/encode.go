package amd64

import (
	"fmt"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/opstack"
)

// twoByteOpcode marks ops whose opcode lives in the 0x0F map (SSE and a few
// GPR forms like MOVZX/MOVSX/SETcc/CMOVcc/Jcc-near).
func twoByteOpcode(op Op) bool {
	switch op {
	case OpPOPCNT, OpLZCNT, OpTZCNT,
		OpMOVZX, OpMOVSX, OpSETcc, OpCMOVcc, OpJcc,
		OpMOVSS, OpMOVSD, OpMOVD, OpMOVQ, OpADDSS, OpADDSD, OpSUBSS, OpSUBSD,
		OpMULSS, OpMULSD, OpDIVSS, OpDIVSD, OpSQRTSS, OpSQRTSD, OpUCOMISS, OpUCOMISD,
		OpCVTSI2SS, OpCVTSI2SD, OpCVTTSS2SI, OpCVTTSD2SI, OpCVTSS2SD, OpCVTSD2SS,
		OpROUNDSS, OpROUNDSD, OpANDPS, OpANDNPS, OpORPS, OpXORPS,
		OpMINSS, OpMINSD, OpMAXSS, OpMAXSD:
		return true
	default:
		return false
	}
}

// mandatoryPrefix returns the 0xF2/0xF3/0x66 mandatory prefix byte SSE
// opcodes require, or 0 for none.
func mandatoryPrefix(op Op, width byte) byte {
	switch op {
	case OpMOVSD, OpADDSD, OpSUBSD, OpMULSD, OpDIVSD, OpSQRTSD,
		OpCVTSI2SD, OpCVTTSD2SI, OpCVTSD2SS, OpMINSD, OpMAXSD:
		return 0xF2
	case OpMOVSS, OpADDSS, OpSUBSS, OpMULSS, OpDIVSS, OpSQRTSS,
		OpCVTSI2SS, OpCVTTSS2SI, OpCVTSS2SD, OpMINSS, OpMAXSS:
		return 0xF3
	case OpPOPCNT, OpLZCNT, OpTZCNT:
		return 0xF3
	case OpMOVD:
		return 0x66
	case OpMOVQ:
		if width == 8 {
			return 0x66
		}
		return 0
	case OpUCOMISS:
		return 0
	case OpUCOMISD:
		return 0x66
	case OpROUNDSS, OpROUNDSD:
		return 0x66
	default:
		return 0
	}
}

// opcodeBytes returns the primary opcode byte(s) for register-register or
// register-memory forms of op. The ModRM.reg field convention (whether it
// holds the "true" register operand or a fixed digit extension) is decided
// by the emit* helper encodeInto dispatches the instruction to.
func opcodeBytes(op Op) []byte {
	switch op {
	case OpMOV:
		return []byte{0x89} // MOV r/m, r (store form); load form flips via direction bit in encodeInto
	case OpMOVZX:
		return []byte{0x0F, 0xB6} // width decides B6 (byte) vs B7 (word); handled in encodeInto
	case OpMOVSX:
		return []byte{0x0F, 0xBE}
	case OpLEA:
		return []byte{0x8D}
	case OpADD:
		return []byte{0x01}
	case OpSUB:
		return []byte{0x29}
	case OpAND:
		return []byte{0x21}
	case OpOR:
		return []byte{0x09}
	case OpXOR:
		return []byte{0x31}
	case OpCMP:
		return []byte{0x39}
	case OpTEST:
		return []byte{0x85}
	case OpIMUL:
		return []byte{0x0F, 0xAF}
	case OpPOPCNT:
		return []byte{0x0F, 0xB8}
	case OpLZCNT:
		return []byte{0x0F, 0xBD}
	case OpTZCNT:
		return []byte{0x0F, 0xBC}
	case OpNEG:
		return []byte{0xF7}
	case OpNOT:
		return []byte{0xF7}
	case OpIDIV:
		return []byte{0xF7}
	case OpDIV:
		return []byte{0xF7}
	case OpSHL:
		return []byte{0xD3}
	case OpSHR:
		return []byte{0xD3}
	case OpSAR:
		return []byte{0xD3}
	case OpROL:
		return []byte{0xD3}
	case OpROR:
		return []byte{0xD3}
	case OpPUSH:
		return []byte{0x50}
	case OpPOP:
		return []byte{0x58}
	case OpRET:
		return []byte{0xC3}
	case OpCALL:
		return []byte{0xE8}
	case OpCALLIndirect:
		return []byte{0xFF}
	case OpJMP:
		return []byte{0xE9}
	case OpJMPIndirect:
		return []byte{0xFF}
	case OpJcc:
		return []byte{0x0F, 0x80} // + cc, near form (rel32); rel8 handled separately
	case OpSETcc:
		return []byte{0x0F, 0x90}
	case OpCMOVcc:
		return []byte{0x0F, 0x40}
	case OpXCHG:
		return []byte{0x87}
	case OpCDQE:
		return []byte{0x99} // CDQ/CQO, width-dependent via REX.W
	case OpMOVSS, OpMOVSD:
		return []byte{0x0F, 0x10} // load form; store form is 0x11, handled in encodeInto
	case OpMOVD, OpMOVQ:
		return []byte{0x0F, 0x6E} // gpr->xmm; xmm->gpr is 0x7E, handled in encodeInto
	case OpADDSS, OpADDSD:
		return []byte{0x0F, 0x58}
	case OpSUBSS, OpSUBSD:
		return []byte{0x0F, 0x5C}
	case OpMULSS, OpMULSD:
		return []byte{0x0F, 0x59}
	case OpDIVSS, OpDIVSD:
		return []byte{0x0F, 0x5E}
	case OpSQRTSS, OpSQRTSD:
		return []byte{0x0F, 0x51}
	case OpUCOMISS:
		return []byte{0x0F, 0x2E}
	case OpUCOMISD:
		return []byte{0x0F, 0x2E} // mandatory 0x66 prefix distinguishes SD from SS
	case OpCVTSI2SS, OpCVTSI2SD:
		return []byte{0x0F, 0x2A}
	case OpCVTTSS2SI, OpCVTTSD2SI:
		return []byte{0x0F, 0x2C}
	case OpCVTSS2SD, OpCVTSD2SS:
		return []byte{0x0F, 0x5A}
	case OpROUNDSS:
		return []byte{0x0F, 0x3A, 0x0A}
	case OpROUNDSD:
		return []byte{0x0F, 0x3A, 0x0B}
	case OpANDPS:
		return []byte{0x0F, 0x54}
	case OpANDNPS:
		return []byte{0x0F, 0x55}
	case OpORPS:
		return []byte{0x0F, 0x56}
	case OpXORPS:
		return []byte{0x0F, 0x57}
	case OpMINSS, OpMINSD:
		return []byte{0x0F, 0x5D}
	case OpMAXSS, OpMAXSD:
		return []byte{0x0F, 0x5F}
	default:
		return nil
	}
}

// digitExtension returns the ModRM.reg-field "opcode extension" digit for
// group-1/group-3/shift ops whose real operand is encoded only in the r/m
// field, or (0, false) if op uses its reg field for a true register operand.
func digitExtension(op Op) (byte, bool) {
	switch op {
	case OpNEG:
		return 3, true
	case OpNOT:
		return 2, true
	case OpIDIV:
		return 7, true
	case OpDIV:
		return 6, true
	case OpSHL:
		return 4, true
	case OpSHR:
		return 5, true
	case OpSAR:
		return 7, true
	case OpROL:
		return 0, true
	case OpROR:
		return 1, true
	case OpCALLIndirect:
		return 2, true
	case OpJMPIndirect:
		return 4, true
	case OpPUSH, OpPOP:
		return 0, false // these use opcode+reg encoding, not ModRM at all
	default:
		return 0, false
	}
}

func isFloatOp(op Op) bool {
	switch op {
	case OpMOVSS, OpMOVSD, OpMOVD, OpMOVQ, OpADDSS, OpADDSD, OpSUBSS, OpSUBSD,
		OpMULSS, OpMULSD, OpDIVSS, OpDIVSD, OpSQRTSS, OpSQRTSD, OpUCOMISS, OpUCOMISD,
		OpCVTSI2SS, OpCVTSI2SD, OpCVTTSS2SI, OpCVTTSD2SI, OpCVTSS2SD, OpCVTSD2SS,
		OpROUNDSS, OpROUNDSD, OpANDPS, OpANDNPS, OpORPS, OpXORPS,
		OpMINSS, OpMINSD, OpMAXSS, OpMAXSD:
		return true
	default:
		return false
	}
}

// encodeInto is the single dispatch point every EmitCode call funnels
// through. It is deliberately one big switch keyed by operand form, mirroring
// how a real assembler's instruction tables are organized (c.f. golang-asm's
// oclass/asmand), rather than one method per Op: the ModRM/SIB/REX layout
// logic is shared across dozens of Ops and only the opcode bytes differ.
func encodeInto(w *memwriter.MemWriter, ins *Instruction) (opstack.RelPatch, error) {
	switch ins.op {
	case OpRET:
		return nil, w.WriteByte(0xC3)
	case OpCDQE:
		if ins.width == 8 {
			if err := w.WriteByte(0x48); err != nil {
				return nil, err
			}
		}
		return nil, w.WriteByte(0x99)
	case OpPUSH, OpPOP:
		return nil, emitPushPop(w, ins)
	case OpCALL:
		return emitRelCall(w, ins)
	case OpJMP:
		return emitRelJump(w, ins, 0, false)
	case OpJcc:
		return emitRelJump(w, ins, ins.cc, true)
	case OpSETcc:
		return nil, emitSetcc(w, ins)
	case OpCMOVcc:
		return nil, emitCmovcc(w, ins)
	}

	if isFloatOp(ins.op) {
		return nil, emitSSE(w, ins)
	}

	switch ins.form {
	case formRR:
		return nil, emitGPRForm(w, ins, false)
	case formRM, formMR:
		return nil, emitGPRForm(w, ins, true)
	case formR:
		return nil, emitUnaryReg(w, ins)
	case formRI:
		return nil, emitImmForm(w, ins, false)
	case formMI:
		return nil, emitImmForm(w, ins, true)
	}
	return nil, fmt.Errorf("amd64: unhandled instruction form for op %d", ins.op)
}

func emitPrefixes(w *memwriter.MemWriter, ins *Instruction, regField, indexReg, rmReg byte) error {
	if mp := mandatoryPrefix(ins.op, ins.width); mp != 0 {
		if err := w.WriteByte(mp); err != nil {
			return err
		}
	}
	wBit := ins.width == 8 && (!isFloatOp(ins.op) || ins.op == OpMOVQ ||
		ins.op == OpCVTSI2SS || ins.op == OpCVTSI2SD || ins.op == OpCVTTSS2SI || ins.op == OpCVTTSD2SI)
	rb, present := rex(wBit, isa.Register(regField), isa.Register(indexReg), isa.Register(rmReg))
	if present {
		return w.WriteByte(rb)
	}
	return nil
}

func emitGPRForm(w *memwriter.MemWriter, ins *Instruction, mem bool) error {
	opBytes := opcodeBytes(ins.op)
	if len(opBytes) == 0 {
		return fmt.Errorf("amd64: no opcode for op %d", ins.op)
	}
	var regField, indexReg, rmReg byte
	switch ins.form {
	case formRR:
		regField = regNum(ins.srcReg)
		rmReg = regNum(ins.dstReg)
		// MOV reg,reg keeps its default store-form orientation (opcode 0x89:
		// reg=source, r/m=destination). LEA/MOVZX/MOVSX/IMUL are load-form
		// opcodes (reg=destination, r/m=source) and need it flipped.
		if ins.op == OpLEA || ins.op == OpMOVZX || ins.op == OpMOVSX || ins.op == OpIMUL ||
			ins.op == OpPOPCNT || ins.op == OpLZCNT || ins.op == OpTZCNT {
			regField, rmReg = regNum(ins.dstReg), regNum(ins.srcReg)
		}
	case formRM:
		regField = regNum(ins.dstReg)
		rmReg = regNum(ins.memBase)
		if ins.hasIndex {
			indexReg = regNum(ins.memIndex)
		}
	case formMR:
		regField = regNum(ins.srcReg)
		rmReg = regNum(ins.memBase)
		if ins.hasIndex {
			indexReg = regNum(ins.memIndex)
		}
	}
	if err := emitPrefixes(w, ins, regField, indexReg, rmReg); err != nil {
		return err
	}
	direction := opBytes
	if ins.op == OpMOV && ins.form == formRM {
		direction = []byte{0x8B} // MOV r, r/m (load direction)
	}
	if ins.op == OpMOVZX && ins.width == 4 {
		direction = []byte{0x0F, 0xB7}
	}
	if ins.op == OpMOVSX && ins.width == 4 {
		direction = []byte{0x0F, 0xBF}
	}
	if err := w.WriteRaw(direction); err != nil {
		return err
	}
	if !mem {
		return w.WriteByte(modrmByte(3, regField, rmReg))
	}
	return ins.emitModRMOperand(w, regField, mem)
}

func emitUnaryReg(w *memwriter.MemWriter, ins *Instruction) error {
	opBytes := opcodeBytes(ins.op)
	digit, useDigit := digitExtension(ins.op)
	switch ins.op {
	case OpPUSH, OpPOP:
		return emitPushPop(w, ins)
	case OpCALLIndirect, OpJMPIndirect:
		if b, present := rex(false, 0, 0, ins.dstReg); present {
			if err := w.WriteByte(b); err != nil {
				return err
			}
		}
		if err := w.WriteRaw(opBytes); err != nil {
			return err
		}
		return w.WriteByte(modrmByte(3, digit, regNum(ins.dstReg)))
	}
	if err := emitPrefixes(w, ins, 0, 0, regNum(ins.dstReg)); err != nil {
		return err
	}
	if err := w.WriteRaw(opBytes); err != nil {
		return err
	}
	if useDigit {
		return w.WriteByte(modrmByte(3, digit, regNum(ins.dstReg)))
	}
	return nil
}

func emitPushPop(w *memwriter.MemWriter, ins *Instruction) error {
	reg := ins.dstReg
	base := byte(0x50)
	if ins.op == OpPOP {
		base = 0x58
	}
	if needsREX(reg) {
		if err := w.WriteByte(0x41); err != nil {
			return err
		}
	}
	return w.WriteByte(base + (regNum(reg) & 7))
}

func emitImmForm(w *memwriter.MemWriter, ins *Instruction, mem bool) error {
	digit, useDigit := digitExtension(ins.op)
	_ = useDigit
	rmReg := ins.dstReg
	if mem {
		rmReg = ins.memBase
	}
	if err := emitPrefixes(w, ins, 0, 0, regNum(rmReg)); err != nil {
		return err
	}
	opcode := byte(0x81)
	if ins.immWidth == 1 {
		opcode = 0x83
	}
	switch ins.op {
	case OpSHL, OpSHR, OpSAR, OpROL, OpROR:
		opcode = 0xC1
		if ins.immWidth == 1 && ins.imm == 1 {
			opcode = 0xD1
		}
	case OpMOV:
		opcode = 0xC7
	}
	if err := w.WriteByte(opcode); err != nil {
		return err
	}
	groupDigit := groupDigitFor(ins.op)
	if err := ins.emitModRMOperand(w, groupDigit, mem); err != nil {
		return err
	}
	switch opcode {
	case 0xC1:
		return w.WriteByte(byte(ins.imm))
	case 0xD1:
		return nil
	case 0xC7:
		return w.WriteBytesLE(uint64(uint32(ins.imm)), 4)
	default:
		switch ins.immWidth {
		case 1:
			return w.WriteByte(byte(ins.imm))
		default:
			return w.WriteBytesLE(uint64(uint32(ins.imm)), 4)
		}
	}
}

// groupDigitFor returns the ModRM.reg digit for group-1 arithmetic
// immediate forms (ADD/SUB/AND/OR/XOR/CMP share opcode 0x81/0x83, distinguished
// only by this digit) and for MOV/shift immediate forms.
func groupDigitFor(op Op) byte {
	switch op {
	case OpADD:
		return 0
	case OpOR:
		return 1
	case OpAND:
		return 4
	case OpSUB:
		return 5
	case OpXOR:
		return 6
	case OpCMP:
		return 7
	case OpTEST:
		return 0
	case OpSHL, OpROL:
		return 4
	case OpSHR:
		return 5
	case OpSAR:
		return 7
	case OpROR:
		return 1
	case OpMOV:
		return 0
	default:
		return 0
	}
}

func emitRelCall(w *memwriter.MemWriter, ins *Instruction) (opstack.RelPatch, error) {
	if err := w.WriteByte(0xE8); err != nil {
		return nil, err
	}
	fieldPos := w.Size()
	if err := w.WriteBytesLE(0, 4); err != nil {
		return nil, err
	}
	return NewRelPatch(w, fieldPos, w.Size(), rel32), nil
}

func emitRelJump(w *memwriter.MemWriter, ins *Instruction, cc CC, conditional bool) (opstack.RelPatch, error) {
	if conditional {
		if err := w.WriteByte(0x0F); err != nil {
			return nil, err
		}
		if err := w.WriteByte(0x80 | byte(cc)); err != nil {
			return nil, err
		}
	} else {
		if err := w.WriteByte(0xE9); err != nil {
			return nil, err
		}
	}
	fieldPos := w.Size()
	if err := w.WriteBytesLE(0, 4); err != nil {
		return nil, err
	}
	return NewRelPatch(w, fieldPos, w.Size(), rel32), nil
}

// emitSetcc encodes SETcc r/m8 (0F 90+cc /0): the condition is folded into
// the second opcode byte, the ModRM reg field is unused (digit 0), and the
// destination is always the register's low byte regardless of ins.width.
func emitSetcc(w *memwriter.MemWriter, ins *Instruction) error {
	// No REX.W; a plain REX is only needed to reach SPL/BPL/SIL/DIL and
	// R8B-R15B instead of AH/CH/DH/BH.
	if ins.dstReg >= RSP {
		rb, _ := rex(false, 0, 0, ins.dstReg)
		if err := w.WriteByte(rb); err != nil {
			return err
		}
	}
	if err := w.WriteByte(0x0F); err != nil {
		return err
	}
	if err := w.WriteByte(0x90 | byte(ins.cc)); err != nil {
		return err
	}
	return w.WriteByte(modrmByte(3, 0, regNum(ins.dstReg)))
}

// emitCmovcc encodes CMOVcc r, r/m (0F 40+cc /r).
func emitCmovcc(w *memwriter.MemWriter, ins *Instruction) error {
	regField := regNum(ins.dstReg)
	rmReg := regNum(ins.srcReg)
	if err := emitPrefixes(w, ins, regField, 0, rmReg); err != nil {
		return err
	}
	if err := w.WriteByte(0x0F); err != nil {
		return err
	}
	if err := w.WriteByte(0x40 | byte(ins.cc)); err != nil {
		return err
	}
	return w.WriteByte(modrmByte(3, regField, rmReg))
}

func emitSSE(w *memwriter.MemWriter, ins *Instruction) error {
	opBytes := opcodeBytes(ins.op)
	var regField, rmReg, indexReg byte
	store := false
	switch ins.op {
	case OpMOVSS, OpMOVSD:
		if ins.form == formMR {
			store = true
			opBytes = []byte{0x0F, 0x11}
		}
	case OpMOVD, OpMOVQ:
		if ins.form == formRR && !ins.dstIsFloat && ins.srcIsFloat {
			opBytes = []byte{0x0F, 0x7E} // xmm -> gpr
		}
	}
	switch ins.form {
	case formRR:
		regField = regNum(ins.dstReg)
		rmReg = regNum(ins.srcReg)
		if ins.op == OpMOVD || ins.op == OpMOVQ {
			if !ins.dstIsFloat && ins.srcIsFloat {
				regField, rmReg = regNum(ins.srcReg), regNum(ins.dstReg)
			}
		}
		if ins.op == OpCVTSI2SS || ins.op == OpCVTSI2SD {
			regField, rmReg = regNum(ins.dstReg), regNum(ins.srcReg)
		}
		if ins.op == OpCVTTSS2SI || ins.op == OpCVTTSD2SI {
			regField, rmReg = regNum(ins.dstReg), regNum(ins.srcReg)
		}
	case formRM:
		regField = regNum(ins.dstReg)
		rmReg = regNum(ins.memBase)
		if ins.hasIndex {
			indexReg = regNum(ins.memIndex)
		}
	case formMR:
		regField = regNum(ins.srcReg)
		rmReg = regNum(ins.memBase)
		if ins.hasIndex {
			indexReg = regNum(ins.memIndex)
		}
	}
	if err := emitPrefixes(w, ins, regField, indexReg, rmReg); err != nil {
		return err
	}
	if err := w.WriteRaw(opBytes); err != nil {
		return err
	}
	mem := ins.form == formRM || store
	if !mem {
		if err := w.WriteByte(modrmByte(3, regField, rmReg)); err != nil {
			return err
		}
	} else if err := ins.emitModRMOperand(w, regField, mem); err != nil {
		return err
	}
	if ins.op == OpROUNDSS || ins.op == OpROUNDSD {
		return w.WriteByte(byte(ins.imm))
	}
	return nil
}
