// Backend wires the encoder primitives in this package into the
// compiler.Backend interface (spec §4.9's seam). Grounded throughout on
// wazero's internal/engine/compiler/impl_amd64.go, which performs the same
// per-opcode lowering against its own (reflection-based) assembler; this
// version inlines directly against the builder in encoder.go/encode.go
// instead of going through an assembler.Builder abstraction, since spec §4.4
// already specifies the direct-encode shape.
package amd64

import (
	"fmt"
	"math"

	"github.com/herrcai0907/wasmjit/internal/compiler"
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/trapcode"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// Backend is the x86-64 compiler.Backend implementation. One instance is
// shared across every function of a module compiled for the same platform
// ABI.
type Backend struct {
	ABI ABI
	// trapHandlerPos is the binary position of the current function's
	// generic trap landing pad (spec §4.14), set by EmitGenericTrapHandler
	// and read by EmitTrap.
	trapHandlerPos int
}

// New constructs a Backend for the given host ABI (spec §4.6).
func New(abi ABI) *Backend { return &Backend{ABI: abi} }

func (b *Backend) PointerWidth() int { return 8 }

func (b *Backend) ScratchPool(tp isa.RegisterType) []isa.Register { return ScratchPool(tp) }
func (b *Backend) LocalPool(tp isa.RegisterType) []isa.Register   { return LocalPool(tp) }

func (b *Backend) ArgRegisters(tp isa.RegisterType) []isa.Register {
	if tp == isa.Float {
		return b.ABI.FLParams
	}
	return b.ABI.GPParams
}

func frameBase(v isa.VariableStorage) isa.Register {
	if v.IsLinkData() {
		return REGS.LinMem
	}
	return RSP
}

// loadImmediateGPR loads the low `width` bytes of bits into reg, choosing
// the cheapest encoding: MOV r32, imm32 for width 4, MOV r/m64, imm32
// (sign-extended) when the 64-bit value fits a signed 32-bit field, and the
// 10-byte MOV r64, imm64 form otherwise (spec §4.4's "constant materialized
// directly" case; there is no separate LoadConst opcode distinct from MOV).
func loadImmediateGPR(w *memwriter.MemWriter, reg isa.Register, bits uint64, width byte) error {
	if width == 4 || int64(bits) == int64(int32(bits)) {
		return NewInstruction(OpMOV).SetR(reg, false).SetImm32(int32(bits)).SetWidth(width).
			emitOrWrap(w)
	}
	if needsREX(reg) {
		if err := w.WriteByte(0x49); err != nil {
			return err
		}
	} else {
		if err := w.WriteByte(0x48); err != nil {
			return err
		}
	}
	if err := w.WriteByte(0xB8 + (regNum(reg) & 7)); err != nil {
		return err
	}
	return w.WriteBytesLE(bits, 8)
}

// emitOrWrap runs EmitCode and discards the RelPatch, which every non-branch
// builder call produces as nil.
func (ins *Instruction) emitOrWrap(w *memwriter.MemWriter) error {
	_, err := ins.EmitCode(w)
	return err
}

func loadImmediate(w *memwriter.MemWriter, reg isa.Register, bits uint64, width byte, float bool) error {
	if !float {
		return loadImmediateGPR(w, reg, bits, width)
	}
	if err := loadImmediateGPR(w, REGS.MoveHelper, bits, width); err != nil {
		return err
	}
	op := OpMOVD
	if width == 8 {
		op = OpMOVQ
	}
	return NewInstruction(op).SetRR(REGS.MoveHelper, reg, false, true).SetWidth(width).emitOrWrap(w)
}

func movRegReg(w *memwriter.MemWriter, dst, src isa.Register, float bool, width byte) error {
	if float {
		op := OpMOVSS
		if width == 8 {
			op = OpMOVSD
		}
		return NewInstruction(op).SetRR(src, dst, true, true).SetWidth(width).emitOrWrap(w)
	}
	return NewInstruction(OpMOV).SetRR(src, dst, false, false).SetWidth(width).emitOrWrap(w)
}

func movMemToReg(w *memwriter.MemWriter, dst, base isa.Register, disp int32, float bool, width byte) error {
	if float {
		op := OpMOVSS
		if width == 8 {
			op = OpMOVSD
		}
		return NewInstruction(op).SetRegToMem(dst, true).SetM4RM(base, disp).SetWidth(width).emitOrWrap(w)
	}
	return NewInstruction(OpMOV).SetRegToMem(dst, false).SetM4RM(base, disp).SetWidth(width).emitOrWrap(w)
}

func movRegToMem(w *memwriter.MemWriter, src, base isa.Register, disp int32, float bool, width byte) error {
	if float {
		op := OpMOVSS
		if width == 8 {
			op = OpMOVSD
		}
		return NewInstruction(op).SetM4RM(base, disp).SetMemToReg(src, true).SetWidth(width).emitOrWrap(w)
	}
	return NewInstruction(OpMOV).SetM4RM(base, disp).SetMemToReg(src, false).SetWidth(width).emitOrWrap(w)
}

// EmitMove is spec §3.2's moveValue, generalized over every
// register/stack/link-data/constant pairing; a constant source into a
// memory destination and a memory-to-memory move both route through
// REGS.MoveHelper, which the register allocator never hands out (spec
// §4.6), so this never collides with a live value.
func (b *Backend) EmitMove(w *memwriter.MemWriter, t wasmtypes.MachineType, src, dst isa.VariableStorage) error {
	if src.EqualLocation(dst) {
		return nil
	}
	width := MachineTypeWidth(t)
	float := t.IsFloat()
	switch {
	case dst.IsRegister() && src.IsRegister():
		return movRegReg(w, dst.Reg, src.Reg, float, width)
	case dst.IsRegister() && src.IsConstant():
		return loadImmediate(w, dst.Reg, src.Bits, width, float)
	case dst.IsRegister() && (src.IsStack() || src.IsLinkData()):
		return movMemToReg(w, dst.Reg, frameBase(src), src.Offset, float, width)
	case (dst.IsStack() || dst.IsLinkData()) && src.IsRegister():
		return movRegToMem(w, src.Reg, frameBase(dst), dst.Offset, float, width)
	case (dst.IsStack() || dst.IsLinkData()) && src.IsConstant():
		if err := loadImmediateGPR(w, REGS.MoveHelper, src.Bits, width); err != nil {
			return err
		}
		return movRegToMem(w, REGS.MoveHelper, frameBase(dst), dst.Offset, false, width)
	case (dst.IsStack() || dst.IsLinkData()) && (src.IsStack() || src.IsLinkData()):
		if err := movMemToReg(w, REGS.MoveHelper, frameBase(src), src.Offset, false, width); err != nil {
			return err
		}
		return movRegToMem(w, REGS.MoveHelper, frameBase(dst), dst.Offset, false, width)
	default:
		return fmt.Errorf("amd64: unhandled move %v -> %v", src, dst)
	}
}

func (b *Backend) EmitLoadConst(w *memwriter.MemWriter, t wasmtypes.MachineType, bits uint64, dst isa.VariableStorage) error {
	return b.EmitMove(w, t, isa.ConstantStorage(bits, t), dst)
}

// gprBinOp maps the integer family of wasmir opcodes onto a single Op; div,
// rem and shift instructions need fixed operand registers on amd64 and are
// special-cased directly in EmitBinOp rather than through this table (spec
// §4.4's candidate table is deliberately minimal: one ArgReg/ArgReg
// candidate per op, so selectBinOp always lifts both operands into
// registers -- see DESIGN.md's "no reg-mem direct forms" simplification).
func gprBinOp(op wasmir.Opcode) (Op, bool) {
	switch op {
	case wasmir.OpI32Add, wasmir.OpI64Add:
		return OpADD, true
	case wasmir.OpI32Sub, wasmir.OpI64Sub:
		return OpSUB, true
	case wasmir.OpI32And, wasmir.OpI64And:
		return OpAND, true
	case wasmir.OpI32Or, wasmir.OpI64Or:
		return OpOR, true
	case wasmir.OpI32Xor, wasmir.OpI64Xor:
		return OpXOR, true
	case wasmir.OpI32Mul, wasmir.OpI64Mul:
		return OpIMUL, true
	}
	return 0, false
}

func fpBinOp(op wasmir.Opcode) (Op, bool) {
	switch op {
	case wasmir.OpF32Add, wasmir.OpF64Add:
		return OpADDSS, true // width picked by caller (SS vs SD)
	case wasmir.OpF32Sub, wasmir.OpF64Sub:
		return OpSUBSS, true
	case wasmir.OpF32Mul, wasmir.OpF64Mul:
		return OpMULSS, true
	case wasmir.OpF32Div, wasmir.OpF64Div:
		return OpDIVSS, true
	case wasmir.OpF32Min, wasmir.OpF64Min:
		return OpMINSS, true
	case wasmir.OpF32Max, wasmir.OpF64Max:
		return OpMAXSS, true
	}
	return 0, false
}

func widenFP(op Op, width byte) Op {
	if width != 8 {
		return op
	}
	switch op {
	case OpADDSS:
		return OpADDSD
	case OpSUBSS:
		return OpSUBSD
	case OpMULSS:
		return OpMULSD
	case OpDIVSS:
		return OpDIVSD
	case OpMINSS:
		return OpMINSD
	case OpMAXSS:
		return OpMAXSD
	}
	return op
}

func isShift(op wasmir.Opcode) (Op, bool) {
	switch op {
	case wasmir.OpI32Shl, wasmir.OpI64Shl:
		return OpSHL, true
	case wasmir.OpI32ShrS, wasmir.OpI64ShrS:
		return OpSAR, true
	case wasmir.OpI32ShrU, wasmir.OpI64ShrU:
		return OpSHR, true
	case wasmir.OpI32Rotl, wasmir.OpI64Rotl:
		return OpROL, true
	case wasmir.OpI32Rotr, wasmir.OpI64Rotr:
		return OpROR, true
	}
	return 0, false
}

func isDivRem(op wasmir.Opcode) (signed, isRem bool, ok bool) {
	switch op {
	case wasmir.OpI32DivS, wasmir.OpI64DivS:
		return true, false, true
	case wasmir.OpI32DivU, wasmir.OpI64DivU:
		return false, false, true
	case wasmir.OpI32RemS, wasmir.OpI64RemS:
		return true, true, true
	case wasmir.OpI32RemU, wasmir.OpI64RemU:
		return false, true, true
	}
	return false, false, false
}

// BinOpCandidates implements spec §4.8's candidate-table half of
// selectInstr. div/rem/shift/copysign go through selectBinOp like every
// other binop, with a single reg/reg candidate here too; the fixed operand
// registers they need are arranged inside EmitBinOp once the driver hands
// it concrete locations.
func (b *Backend) BinOpCandidates(op wasmir.Opcode) []isa.AbstrInstr {
	if _, ok := gprBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg, IsCommutative: op != wasmir.OpI32Sub && op != wasmir.OpI64Sub}}
	}
	if _, ok := fpBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, ok := isShift(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, _, ok := isDivRem(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if op == wasmir.OpF32Copysign || op == wasmir.OpF64Copysign {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	return nil
}

// EmitBinOp dispatches on the wasmir.Opcode carried in tpl (selectBinOp
// never interprets Template itself, spec §4.4).
func (b *Backend) EmitBinOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst, src isa.VariableStorage) error {
	op := tpl.(wasmir.Opcode)
	width := MachineTypeWidth(t)

	if gop, ok := gprBinOp(op); ok {
		return NewInstruction(gop).SetRR(src.Reg, dst.Reg, false, false).SetWidth(width).emitOrWrap(w)
	}
	if fop, ok := fpBinOp(op); ok {
		return NewInstruction(widenFP(fop, width)).SetRR(src.Reg, dst.Reg, true, true).SetWidth(width).emitOrWrap(w)
	}
	if sop, ok := isShift(op); ok {
		return b.emitShift(w, sop, dst.Reg, src.Reg, width)
	}
	if signed, isRem, ok := isDivRem(op); ok {
		return b.emitDivRem(w, dst.Reg, src.Reg, width, signed, isRem)
	}
	if op == wasmir.OpF32Copysign || op == wasmir.OpF64Copysign {
		return b.emitCopysign(w, dst.Reg, src.Reg, width)
	}
	return fmt.Errorf("amd64: unhandled binop %v", op)
}

// emitShift moves the count into CL (the only GPR x86 accepts for a
// variable shift count) and shifts by CL. When the count isn't already in
// RCX, whatever RCX holds is stashed in REGS.MoveHelper first: if RCX is the
// destination the shift runs on the stash, otherwise RCX is restored from
// the stash after the shift.
func (b *Backend) emitShift(w *memwriter.MemWriter, op Op, dst, count isa.Register, width byte) error {
	if count != RCX {
		if dst == RCX {
			// The destination itself is RCX; stash it in MoveHelper first.
			if err := movRegReg(w, REGS.MoveHelper, RCX, false, width); err != nil {
				return err
			}
			if err := movRegReg(w, RCX, count, false, 4); err != nil {
				return err
			}
			if err := NewInstruction(op).SetR(REGS.MoveHelper, false).SetWidth(width).emitOrWrap(w); err != nil {
				return err
			}
			return movRegReg(w, dst, REGS.MoveHelper, false, width)
		}
		if err := movRegReg(w, REGS.MoveHelper, RCX, false, 8); err != nil {
			return err
		}
		if err := movRegReg(w, RCX, count, false, 4); err != nil {
			return err
		}
		if err := NewInstruction(op).SetR(dst, false).SetWidth(width).emitOrWrap(w); err != nil {
			return err
		}
		return movRegReg(w, RCX, REGS.MoveHelper, false, 8)
	}
	return NewInstruction(op).SetR(dst, false).SetWidth(width).emitOrWrap(w)
}

// emitDivRem pins the dividend into RAX, sign/zero-extends into RDX, issues
// IDIV/DIV, and moves the selected half (quotient in RAX, remainder in RDX)
// into dst (spec §4.4's div/rem being the canonical "fixed register"
// example selectInstr's three-try order doesn't otherwise model).
func (b *Backend) emitDivRem(w *memwriter.MemWriter, dst, divisor isa.Register, width byte, signed, isRem bool) error {
	if divisor == RAX || divisor == RDX {
		if err := movRegReg(w, REGS.MoveHelper, divisor, false, width); err != nil {
			return err
		}
		divisor = REGS.MoveHelper
	}
	if dst != RAX {
		if err := movRegReg(w, RAX, dst, false, width); err != nil {
			return err
		}
	}
	if signed {
		if err := NewInstruction(OpCDQE).SetWidth(width).emitOrWrap(w); err != nil {
			return err
		}
		op := OpIDIV
		if err := NewInstruction(op).SetR(divisor, false).SetWidth(width).emitOrWrap(w); err != nil {
			return err
		}
	} else {
		if err := NewInstruction(OpXOR).SetRR(RDX, RDX, false, false).SetWidth(width).emitOrWrap(w); err != nil {
			return err
		}
		if err := NewInstruction(OpDIV).SetR(divisor, false).SetWidth(width).emitOrWrap(w); err != nil {
			return err
		}
	}
	result := RAX
	if isRem {
		result = RDX
	}
	if dst != result {
		return movRegReg(w, dst, result, false, width)
	}
	return nil
}

// emitCopysign composes the IEEE bit pattern (a's magnitude, b's sign) via
// GPR bit-masking, using REGS.MoveHelper, REGS.IndirectCall and
// REGS.TrapReg (the mask) as scratch (all pinned outside the allocator's
// pools, spec §4.6).
func (b *Backend) emitCopysign(w *memwriter.MemWriter, dst, src isa.Register, width byte) error {
	signMask := uint64(1) << (uint(width)*8 - 1)
	movOp := OpMOVD
	if width == 8 {
		movOp = OpMOVQ
	}
	a, bReg := REGS.MoveHelper, REGS.IndirectCall
	if err := NewInstruction(movOp).SetRR(dst, a, true, false).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(movOp).SetRR(src, bReg, true, false).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	maskReg := REGS.TrapReg
	if err := loadImmediateGPR(w, maskReg, ^signMask, width); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetRR(maskReg, a, false, false).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	if err := loadImmediateGPR(w, maskReg, signMask, width); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetRR(maskReg, bReg, false, false).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpOR).SetRR(bReg, a, false, false).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	return NewInstruction(movOp).SetRR(a, dst, false, true).SetWidth(width).emitOrWrap(w)
}

// unOpTable maps the clz/ctz/popcnt/abs/neg/ceil/floor/trunc/nearest/sqrt
// family and the non-truncating conversions onto a single Op (spec §4.8's
// unary selectInstr).
func unOpTable(op wasmir.Opcode, width byte) (Op, bool) {
	switch op {
	case wasmir.OpI32Clz, wasmir.OpI64Clz:
		return OpLZCNT, true
	case wasmir.OpI32Ctz, wasmir.OpI64Ctz:
		return OpTZCNT, true
	case wasmir.OpI32Popcnt, wasmir.OpI64Popcnt:
		return OpPOPCNT, true
	case wasmir.OpF32Sqrt:
		return OpSQRTSS, true
	case wasmir.OpF64Sqrt:
		return OpSQRTSD, true
	case wasmir.OpF32Ceil, wasmir.OpF64Ceil, wasmir.OpF32Floor, wasmir.OpF64Floor,
		wasmir.OpF32Trunc, wasmir.OpF64Trunc, wasmir.OpF32Nearest, wasmir.OpF64Nearest:
		if width == 8 {
			return OpROUNDSD, true
		}
		return OpROUNDSS, true
	}
	return 0, false
}

func roundingImm(op wasmir.Opcode) int8 {
	switch op {
	case wasmir.OpF32Nearest, wasmir.OpF64Nearest:
		return 0
	case wasmir.OpF32Floor, wasmir.OpF64Floor:
		return 1
	case wasmir.OpF32Ceil, wasmir.OpF64Ceil:
		return 2
	case wasmir.OpF32Trunc, wasmir.OpF64Trunc:
		return 3
	}
	return 0
}

func (b *Backend) UnOpCandidates(op wasmir.Opcode) []isa.AbstrInstr {
	return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, IsUnop: true}}
}

func (b *Backend) EmitUnOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst isa.VariableStorage) error {
	op := tpl.(wasmir.Opcode)
	width := MachineTypeWidth(t)

	switch op {
	case wasmir.OpF32Abs, wasmir.OpF64Abs:
		return b.emitFPAbsNeg(w, dst.Reg, width, false)
	case wasmir.OpF32Neg, wasmir.OpF64Neg:
		return b.emitFPAbsNeg(w, dst.Reg, width, true)
	case wasmir.OpI32WrapI64:
		return NewInstruction(OpMOV).SetRR(dst.Reg, dst.Reg, false, false).SetWidth(4).emitOrWrap(w)
	case wasmir.OpI64ExtendI32S:
		return NewInstruction(OpMOVSX).SetRR(dst.Reg, dst.Reg, false, false).SetWidth(8).emitOrWrap(w)
	case wasmir.OpI64ExtendI32U:
		return NewInstruction(OpMOV).SetRR(dst.Reg, dst.Reg, false, false).SetWidth(4).emitOrWrap(w)
	case wasmir.OpF32ConvertI32S, wasmir.OpF32ConvertI64S, wasmir.OpF64ConvertI32S, wasmir.OpF64ConvertI64S:
		return b.emitConvertSigned(w, op, dst.Reg, width)
	case wasmir.OpF32ConvertI32U, wasmir.OpF32ConvertI64U, wasmir.OpF64ConvertI32U, wasmir.OpF64ConvertI64U:
		return b.emitConvertUnsigned(w, op, dst.Reg, width)
	case wasmir.OpF32DemoteF64:
		return NewInstruction(OpCVTSD2SS).SetRR(dst.Reg, dst.Reg, true, true).SetWidth(8).emitOrWrap(w)
	case wasmir.OpF64PromoteF32:
		return NewInstruction(OpCVTSS2SD).SetRR(dst.Reg, dst.Reg, true, true).SetWidth(4).emitOrWrap(w)
	case wasmir.OpI32ReinterpretF32, wasmir.OpI64ReinterpretF64,
		wasmir.OpF32ReinterpretI32, wasmir.OpF64ReinterpretI64:
		// These change MachineType but not bits; the driver's dst register
		// already holds the source's bit pattern because liftToRegInPlaceProt
		// loaded it into the same physical register class boundary only when
		// crossing GPR<->XMM, which reinterprets must actually do.
		return b.emitReinterpret(w, op, dst.Reg, width)
	}

	uop, ok := unOpTable(op, width)
	if !ok {
		return fmt.Errorf("amd64: unhandled unop %v", op)
	}
	ins := NewInstruction(uop).SetRR(dst.Reg, dst.Reg, isFloatOp(uop), isFloatOp(uop)).SetWidth(width)
	if uop == OpROUNDSS || uop == OpROUNDSD {
		ins.SetImm8(roundingImm(op))
	}
	return ins.emitOrWrap(w)
}

func (b *Backend) emitFPAbsNeg(w *memwriter.MemWriter, reg isa.Register, width byte, neg bool) error {
	signMask := uint64(1) << (uint(width)*8 - 1)
	mask := ^signMask
	op := OpANDPS
	if neg {
		mask = signMask
		op = OpXORPS
	}
	if err := loadImmediateGPR(w, REGS.MoveHelper, mask, width); err != nil {
		return err
	}
	movOp := OpMOVD
	if width == 8 {
		movOp = OpMOVQ
	}
	maskReg := REGS.IndirectCall
	if err := NewInstruction(movOp).SetRR(REGS.MoveHelper, maskReg, false, true).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	return NewInstruction(op).SetRR(maskReg, reg, true, true).SetWidth(width).emitOrWrap(w)
}

func (b *Backend) emitConvertSigned(w *memwriter.MemWriter, op wasmir.Opcode, reg isa.Register, _ byte) error {
	srcWidth := byte(4)
	if op == wasmir.OpF32ConvertI64S || op == wasmir.OpF64ConvertI64S {
		srcWidth = 8
	}
	cvt := OpCVTSI2SS
	if op == wasmir.OpF64ConvertI32S || op == wasmir.OpF64ConvertI64S {
		cvt = OpCVTSI2SD
	}
	return NewInstruction(cvt).SetRR(reg, reg, false, true).SetWidth(srcWidth).emitOrWrap(w)
}

// emitConvertUnsigned widens an unsigned 32-bit source into a 64-bit GPR
// first (CVTSI2SS/SD only has a signed source operand) so the signed
// conversion path can't misread the sign bit. A genuinely unsigned 64-bit
// source needs spec §4.12 item 5's split-at-2^63 sequence: values below 2^63
// convert directly as signed; values at or above it are halved with a
// round-to-odd low bit first (to keep the bit CVTSI2SD would otherwise
// round away), converted, then doubled.
func (b *Backend) emitConvertUnsigned(w *memwriter.MemWriter, op wasmir.Opcode, reg isa.Register, width byte) error {
	is64Src := op == wasmir.OpF32ConvertI64U || op == wasmir.OpF64ConvertI64U
	isF64 := op == wasmir.OpF64ConvertI32U || op == wasmir.OpF64ConvertI64U
	cvt := OpCVTSI2SS
	addOp := OpADDSS
	if isF64 {
		cvt = OpCVTSI2SD
		addOp = OpADDSD
	}
	if !is64Src {
		// Zero-extend the 32-bit unsigned value into the full 64-bit register
		// (a plain 32-bit MOV already zero-extends on amd64) before treating it
		// as a signed 64-bit source, which is exact for all u32 values.
		if err := NewInstruction(OpMOV).SetRR(reg, reg, false, false).SetWidth(4).emitOrWrap(w); err != nil {
			return err
		}
		return NewInstruction(cvt).SetRR(reg, reg, false, true).SetWidth(8).emitOrWrap(w)
	}

	if err := NewInstruction(OpTEST).SetRR(reg, reg, false, false).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	negative, err := NewInstruction(OpJcc).SetCC(CCS).EmitCode(w)
	if err != nil {
		return err
	}
	if err := NewInstruction(cvt).SetRR(reg, reg, false, true).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	done, err := NewInstruction(OpJMP).EmitCode(w)
	if err != nil {
		return err
	}
	if err := negative.LinkToHere(); err != nil {
		return err
	}
	half, odd := REGS.MoveHelper, REGS.IndirectCall
	if err := movRegReg(w, half, reg, false, 8); err != nil {
		return err
	}
	if err := NewInstruction(OpSHR).SetR(half, false).SetImm8(1).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	if err := movRegReg(w, odd, reg, false, 8); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetR(odd, false).SetImm32(1).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpOR).SetRR(odd, half, false, false).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(cvt).SetRR(half, reg, false, true).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(addOp).SetRR(reg, reg, true, true).SetWidth(width).emitOrWrap(w); err != nil {
		return err
	}
	return done.LinkToHere()
}

func (b *Backend) emitReinterpret(w *memwriter.MemWriter, op wasmir.Opcode, reg isa.Register, width byte) error {
	movOp := OpMOVD
	if width == 8 {
		movOp = OpMOVQ
	}
	switch op {
	case wasmir.OpI32ReinterpretF32, wasmir.OpI64ReinterpretF64:
		return NewInstruction(movOp).SetRR(reg, reg, true, false).SetWidth(width).emitOrWrap(w)
	default:
		return NewInstruction(movOp).SetRR(reg, reg, false, true).SetWidth(width).emitOrWrap(w)
	}
}

// EmitCompare emits only the flags-setting instruction (spec §4.11): CMP for
// integers, UCOMISS/UCOMISD for floats. It never writes a result register.
func (b *Backend) EmitCompare(w *memwriter.MemWriter, t wasmtypes.MachineType, lhs, rhs isa.VariableStorage) error {
	width := MachineTypeWidth(t)
	if t.IsFloat() {
		op := OpUCOMISS
		if width == 8 {
			op = OpUCOMISD
		}
		rhsReg := rhs.Reg
		if rhs.IsConstant() {
			if err := loadImmediate(w, REGS.FPHelper, rhs.Bits, width, true); err != nil {
				return err
			}
			rhsReg = REGS.FPHelper
		}
		return NewInstruction(op).SetRR(rhsReg, lhs.Reg, true, true).SetWidth(width).emitOrWrap(w)
	}
	if rhs.IsConstant() {
		v := int64(rhs.Bits)
		if v >= -(1<<31) && v <= (1<<31)-1 {
			return NewInstruction(OpCMP).SetR(lhs.Reg, false).SetImm32(int32(v)).SetWidth(width).emitOrWrap(w)
		}
		if err := loadImmediateGPR(w, REGS.MoveHelper, rhs.Bits, width); err != nil {
			return err
		}
		return NewInstruction(OpCMP).SetRR(REGS.MoveHelper, lhs.Reg, false, false).SetWidth(width).emitOrWrap(w)
	}
	return NewInstruction(OpCMP).SetRR(rhs.Reg, lhs.Reg, false, false).SetWidth(width).emitOrWrap(w)
}

// EmitMaterializeBool turns a pending comparison into a plain 0/1 value via
// SETcc into the register's low byte followed by a zero-extend (spec
// §4.11's fallback path for a comparison consumed by anything other than
// BrIf/Select/Eqz). Float comparisons additionally fold in the parity bit
// (SETNP/SETP) so a NaN operand reads as false except on CondNeF, which is
// true on either an unordered or a genuine mismatch.
func (b *Backend) EmitMaterializeBool(w *memwriter.MemWriter, cond opstack.BranchCondition, dst isa.VariableStorage) error {
	cc, needsParity := fromBranchCondition(cond)
	if err := NewInstruction(OpSETcc).SetCC(cc).SetR(dst.Reg, false).SetWidth(1).emitOrWrap(w); err != nil {
		return err
	}
	if needsParity {
		guardCC, combine := CCNP, OpAND
		if cond == opstack.CondNeF {
			guardCC, combine = CCP, OpOR
		}
		if err := NewInstruction(OpSETcc).SetCC(guardCC).SetR(REGS.MoveHelper, false).SetWidth(1).emitOrWrap(w); err != nil {
			return err
		}
		if err := NewInstruction(combine).SetRR(REGS.MoveHelper, dst.Reg, false, false).SetWidth(1).emitOrWrap(w); err != nil {
			return err
		}
	}
	return NewInstruction(OpMOVZX).SetRR(dst.Reg, dst.Reg, false, false).SetWidth(4).emitOrWrap(w)
}

// EmitSelect implements select via a short conditional-move branch rather
// than CMOVcc, so the float-compare parity-flag guard (NaN on eq/ne, spec
// §4.11) can be handled uniformly for both GPR and XMM destinations: dst
// already holds a (the true-case value); the branch skips overwriting it
// with b exactly when cond (negated if negate) holds.
func (b *Backend) EmitSelect(w *memwriter.MemWriter, t wasmtypes.MachineType, cond opstack.BranchCondition, negate bool, dst, bOperand isa.VariableStorage) error {
	eff := cond
	if negate {
		eff = eff.Negate()
	}
	width := MachineTypeWidth(t)
	float := t.IsFloat()
	skip, err := emitCondJump(w, eff)
	if err != nil {
		return err
	}
	if err := movRegReg(w, dst.Reg, bOperand.Reg, float, width); err != nil {
		return err
	}
	return skip.LinkToHere()
}

// multiPatch links every sub-patch to the same eventual target; CondNeF's
// "unordered or not-equal" edge needs two Jcc instructions (CCP and CCNE)
// both landing on one place, and RelPatch only exposes a single target per
// patch, so this composes them.
type multiPatch []opstack.RelPatch

func (m multiPatch) LinkToHere() error {
	for _, p := range m {
		if err := p.LinkToHere(); err != nil {
			return err
		}
	}
	return nil
}

func (m multiPatch) LinkToBinaryPos(pos int) error {
	for _, p := range m {
		if err := p.LinkToBinaryPos(pos); err != nil {
			return err
		}
	}
	return nil
}

// emitCondJump emits the Jcc(s) that take the branch for cond, adding the
// parity-guard edge spec §4.11 requires for float comparisons: Eq/Lt/Gt/Le/Ge
// only take the branch when the compare was ordered (the unordered case is
// skipped via an extra CCP check ahead of the real Jcc); Ne also takes it
// when unordered, via a second Jcc landing on the same target.
func emitCondJump(w *memwriter.MemWriter, cond opstack.BranchCondition) (opstack.RelPatch, error) {
	cc, needsParity := fromBranchCondition(cond)
	if !needsParity {
		return NewInstruction(OpJcc).SetCC(cc).EmitCode(w)
	}
	if cond == opstack.CondNeF {
		unordered, err := NewInstruction(OpJcc).SetCC(CCP).EmitCode(w)
		if err != nil {
			return nil, err
		}
		notEqual, err := NewInstruction(OpJcc).SetCC(cc).EmitCode(w)
		if err != nil {
			return nil, err
		}
		return multiPatch{unordered, notEqual}, nil
	}
	unordered, err := NewInstruction(OpJcc).SetCC(CCP).EmitCode(w)
	if err != nil {
		return nil, err
	}
	taken, err := NewInstruction(OpJcc).SetCC(cc).EmitCode(w)
	if err != nil {
		return nil, err
	}
	if err := unordered.LinkToHere(); err != nil {
		return nil, err
	}
	return taken, nil
}

func (b *Backend) EmitCondJumpPlaceholder(w *memwriter.MemWriter, cond opstack.BranchCondition, negate bool) (opstack.RelPatch, error) {
	eff := cond
	if negate {
		eff = eff.Negate()
	}
	return emitCondJump(w, eff)
}

func (b *Backend) EmitJumpPlaceholder(w *memwriter.MemWriter) (opstack.RelPatch, error) {
	return NewInstruction(OpJMP).EmitCode(w)
}

func (b *Backend) EmitJumpBackTo(w *memwriter.MemWriter, targetPos int) error {
	patch, err := NewInstruction(OpJMP).EmitCode(w)
	if err != nil {
		return err
	}
	return patch.LinkToBinaryPos(targetPos)
}

func (b *Backend) EmitCondJumpBackTo(w *memwriter.MemWriter, cond opstack.BranchCondition, negate bool, targetPos int) error {
	eff := cond
	if negate {
		eff = eff.Negate()
	}
	patch, err := emitCondJump(w, eff)
	if err != nil {
		return err
	}
	return patch.LinkToBinaryPos(targetPos)
}

// EmitFunctionPrologue emits `push rbp; mov rbp, rsp; sub rsp, frameSize`
// (spec §4.9's prologue). frameSize is not known until the whole body is
// compiled (spills along the way grow it), so the sub's immediate is
// written as a placeholder 32-bit zero and returned as an AbsFieldPatch;
// compile.go calls its LinkToBinaryPos(int(finalFrameSize)) once the body is
// fully compiled, writing the real value in place of the placeholder.
func (b *Backend) EmitFunctionPrologue(w *memwriter.MemWriter, frameSize uint32) (opstack.RelPatch, error) {
	if err := NewInstruction(OpPUSH).SetR(RBP, false).emitOrWrap(w); err != nil {
		return nil, err
	}
	if err := movRegReg(w, RBP, RSP, false, 8); err != nil {
		return nil, err
	}
	if err := w.WriteByte(0x48); err != nil { // REX.W
		return nil, err
	}
	if err := w.WriteByte(0x81); err != nil {
		return nil, err
	}
	if err := w.WriteByte(modrmByte(3, 5, regNum(RSP))); err != nil {
		return nil, err
	}
	fieldPos := w.Size()
	if err := w.WriteBytesLE(uint64(frameSize), 4); err != nil {
		return nil, err
	}
	return NewAbsFieldPatch(w, fieldPos), nil
}

// EmitFunctionEpilogue writes results already normalized into their
// canonical return registers (spec §4.9) back out via `mov rsp, rbp; pop
// rbp; ret`. frameSize is unused directly since RBP already holds the
// frame's base, kept in the signature to match the Backend interface and
// potential future stack-probing use.
func (b *Backend) EmitFunctionEpilogue(w *memwriter.MemWriter, frameSize uint32, results []wasmtypes.MachineType) error {
	for i, t := range results {
		tp := isa.GeneralPurpose
		if t.IsFloat() {
			tp = isa.Float
		}
		scratch := ScratchPool(tp)
		src := scratch[0]
		var dst isa.Register
		if tp == isa.Float {
			dst = b.ABI.FPRetReg
		} else {
			dst = b.ABI.GPRetReg
		}
		if i > 0 {
			continue // WebAssembly 1.0 has at most one result; see DESIGN.md.
		}
		if src != dst {
			if err := movRegReg(w, dst, src, t.IsFloat(), MachineTypeWidth(t)); err != nil {
				return err
			}
		}
	}
	if err := movRegReg(w, RSP, RBP, false, 8); err != nil {
		return err
	}
	if err := NewInstruction(OpPOP).SetR(RBP, false).emitOrWrap(w); err != nil {
		return err
	}
	return NewInstruction(OpRET).emitOrWrap(w)
}

// EmitCallInternal emits a direct CALL rel32 to a function whose body
// offset may not be known yet; if it is, the call targets it directly,
// otherwise the patch is queued on head.Pending and resolved once the
// target's body is emitted (spec §4.10's internal-call forward-patch
// list).
func (b *Backend) EmitCallInternal(w *memwriter.MemWriter, head *moduleinfo.FuncPatchHead) error {
	patch, err := NewInstruction(OpCALL).EmitCode(w)
	if err != nil {
		return err
	}
	if head.BodyOffset >= 0 {
		return patch.LinkToBinaryPos(head.BodyOffset)
	}
	head.Pending = append(head.Pending, patch)
	return nil
}

// EmitCallIndirect implements spec §4.10's indirect-call sequence: bounds
// check the table index, then dispatch on it against each of the table's
// entries, each already resolved at compile time (table.Elements is concrete
// data handed in by the driver, not a runtime link-data record -- there is
// no tableElementsBase/entryWidth layout anywhere in this module, see
// DESIGN.md). Per matched entry this verifies the signature (trap
// INDIRECTCALL_WRONGSIG on mismatch), checks the function offset is nonzero
// (trap CALLED_FUNCTION_NOT_LINKED otherwise), and CALLs the resolved target
// the same way EmitCallInternal does.
func (b *Backend) EmitCallIndirect(w *memwriter.MemWriter, table *wasmtypes.Table, sigIndex uint32, tableIndexStorage isa.VariableStorage) error {
	idxReg := tableIndexStorage.Reg
	if err := NewInstruction(OpCMP).SetR(idxReg, false).SetImm32(int32(table.Initial)).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	inBounds, err := NewInstruction(OpJcc).SetCC(CCB).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.IndirectCallOutOfBounds); err != nil {
		return err
	}
	if err := inBounds.LinkToHere(); err != nil {
		return err
	}

	var ends []opstack.RelPatch
	for slot, entry := range table.Elements {
		if err := NewInstruction(OpCMP).SetR(idxReg, false).SetImm32(int32(slot)).SetWidth(4).emitOrWrap(w); err != nil {
			return err
		}
		notThisSlot, err := NewInstruction(OpJcc).SetCC(CCNE).EmitCode(w)
		if err != nil {
			return err
		}
		switch {
		case entry.SigIndex != sigIndex:
			if err := b.EmitTrap(w, trapcode.IndirectCallWrongSig); err != nil {
				return err
			}
		case entry.FuncOffset == 0:
			if err := b.EmitTrap(w, trapcode.CalledFunctionNotLinked); err != nil {
				return err
			}
		default:
			callPatch, err := NewInstruction(OpCALL).EmitCode(w)
			if err != nil {
				return err
			}
			if err := callPatch.LinkToBinaryPos(int(entry.FuncOffset)); err != nil {
				return err
			}
			end, err := NewInstruction(OpJMP).EmitCode(w)
			if err != nil {
				return err
			}
			ends = append(ends, end)
		}
		if err := notThisSlot.LinkToHere(); err != nil {
			return err
		}
	}
	for _, end := range ends {
		if err := end.LinkToHere(); err != nil {
			return err
		}
	}
	return nil
}

// EmitCallImported emits the native call (spec §4.10): a static symbol
// calls its address directly, a dynamic one loads the function pointer out
// of link-data first. The arguments are wherever the driver's marshalArgs
// put them (the per-argument V1 register convention); no
// params_ptr/results_ptr/ctx (V2) frame is built, whatever the symbol's ABI.
func (b *Backend) EmitCallImported(w *memwriter.MemWriter, sym *wasmtypes.NativeSymbol, sig wasmtypes.Signature) error {
	_ = sig // argument placement happens in the driver's marshalArgs; only the call mechanics are ISA-specific here.
	if sym.Linkage == wasmtypes.LinkageDynamic {
		if err := movMemToReg(w, REGS.IndirectCall, REGS.LinMem, int32(sym.LinkDataOffset), false, 8); err != nil {
			return err
		}
		_, err := NewInstruction(OpCALLIndirect).SetR(REGS.IndirectCall, false).EmitCode(w)
		return err
	}
	if err := loadImmediateGPR(w, REGS.IndirectCall, uint64(sym.Addr), 8); err != nil {
		return err
	}
	_, err := NewInstruction(OpCALLIndirect).SetR(REGS.IndirectCall, false).EmitCode(w)
	return err
}

// EmitBoundsCheckAndLoad implements spec §4.13: compare the effective end
// address (addr + mem.Offset + width) against REGS.MemSize (cached
// actual_size - 8, so a single unsigned compare suffices), trap if above
// it, then load through REGS.MemBase.
func (b *Backend) EmitBoundsCheckAndLoad(w *memwriter.MemWriter, t wasmtypes.MachineType, extendKind compiler.LoadExtend, addr isa.VariableStorage, mem wasmir.MemArg, dst isa.VariableStorage) error {
	if err := b.emitBoundsCheck(w, addr, mem, t); err != nil {
		return err
	}
	width := MachineTypeWidth(t)
	if t.IsFloat() {
		op := OpMOVSS
		if width == 8 {
			op = OpMOVSD
		}
		return NewInstruction(op).SetRegToMem(dst.Reg, true).SetM4RMIndexed(REGS.MemBase, int32(mem.Offset), addr.Reg, 1).SetWidth(width).emitOrWrap(w)
	}
	op := extendLoadOp(extendKind)
	ins := NewInstruction(op).SetRegToMem(dst.Reg, false).SetM4RMIndexed(REGS.MemBase, int32(mem.Offset), addr.Reg, 1).SetWidth(loadWidthFull(extendKind, width))
	return ins.emitOrWrap(w)
}

func extendLoadOp(ext compiler.LoadExtend) Op {
	switch ext {
	case compiler.ExtendS8, compiler.ExtendS16, compiler.ExtendS32:
		return OpMOVSX
	case compiler.ExtendU8, compiler.ExtendU16:
		return OpMOVZX
	default:
		return OpMOV // 32-bit MOV zero-extends implicitly into the 64-bit register
	}
}

// loadWidthFull picks the source memory operand width MOVZX/MOVSX reads,
// which SetWidth repurposes as the *source* width for these two opcodes
// specifically (see emitGPRForm's width==4 direction-byte special case).
func loadWidthFull(ext compiler.LoadExtend, full byte) byte {
	switch ext {
	case compiler.ExtendS8, compiler.ExtendU8:
		return 1
	case compiler.ExtendS16, compiler.ExtendU16:
		return 2
	default:
		return full
	}
}

func (b *Backend) EmitBoundsCheckAndStore(w *memwriter.MemWriter, t wasmtypes.MachineType, truncKind compiler.StoreTrunc, addr isa.VariableStorage, mem wasmir.MemArg, src isa.VariableStorage) error {
	if err := b.emitBoundsCheck(w, addr, mem, t); err != nil {
		return err
	}
	width := storeWidth(t, truncKind)
	if t.IsFloat() {
		op := OpMOVSS
		if MachineTypeWidth(t) == 8 {
			op = OpMOVSD
		}
		return NewInstruction(op).SetM4RMIndexed(REGS.MemBase, int32(mem.Offset), addr.Reg, 1).SetMemToReg(src.Reg, true).SetWidth(MachineTypeWidth(t)).emitOrWrap(w)
	}
	return NewInstruction(OpMOV).SetM4RMIndexed(REGS.MemBase, int32(mem.Offset), addr.Reg, 1).SetMemToReg(src.Reg, false).SetWidth(width).emitOrWrap(w)
}

func storeWidth(t wasmtypes.MachineType, trunc compiler.StoreTrunc) byte {
	switch trunc {
	case compiler.Trunc8:
		return 1
	case compiler.Trunc16:
		return 2
	case compiler.Trunc32:
		return 4
	default:
		return MachineTypeWidth(t)
	}
}

// emitBoundsCheck is spec §4.13's extension-request-free fast path: CMP the
// 32-bit sum addr + mem.Offset + access width against REGS.MemSize (cached
// as actual_size - 8) and trap if it's above that; addr is restored on the
// non-trapping path.
func (b *Backend) emitBoundsCheck(w *memwriter.MemWriter, addr isa.VariableStorage, mem wasmir.MemArg, t wasmtypes.MachineType) error {
	effOffset := int64(mem.Offset) + int64(MachineTypeWidth(t))
	if err := NewInstruction(OpADD).SetR(addr.Reg, false).SetImm32(int32(effOffset)).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpCMP).SetRR(REGS.MemSize, addr.Reg, false, false).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	trap, err := NewInstruction(OpJcc).SetCC(CCA).EmitCode(w)
	if err != nil {
		return err
	}
	if err := NewInstruction(OpSUB).SetR(addr.Reg, false).SetImm32(int32(effOffset)).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	doTrap, err := NewInstruction(OpJMP).EmitCode(w)
	if err != nil {
		return err
	}
	if err := trap.LinkToHere(); err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.LinMemOutOfBoundsAccess); err != nil {
		return err
	}
	return doTrap.LinkToHere()
}

func (b *Backend) EmitMemorySize(w *memwriter.MemWriter, dst isa.VariableStorage) error {
	if err := movRegReg(w, dst.Reg, REGS.MemSize, false, 8); err != nil {
		return err
	}
	// REGS.MemSize is cached as (actual_size - 8); recover the page count.
	if err := NewInstruction(OpADD).SetR(dst.Reg, false).SetImm32(8).SetWidth(8).emitOrWrap(w); err != nil {
		return err
	}
	return NewInstruction(OpSHR).SetR(dst.Reg, false).SetImm8(16).SetWidth(8).emitOrWrap(w)
}

// EmitMemoryGrow calls into the host-provided grow routine (out of this
// compiler's scope, spec §4.13 Non-goals for the allocator itself) via
// REGS.IndirectCall; this compiler only emits the call and result
// marshalling, trusting the host symbol's calling convention matches
// ImportABIV1.
func (b *Backend) EmitMemoryGrow(w *memwriter.MemWriter, deltaPages isa.VariableStorage, dst isa.VariableStorage) error {
	if deltaPages.Reg != b.ABI.GPParams[0] {
		if err := movRegReg(w, b.ABI.GPParams[0], deltaPages.Reg, false, 4); err != nil {
			return err
		}
	}
	if err := movMemToReg(w, REGS.IndirectCall, REGS.LinMem, memoryGrowThunkOffset, false, 8); err != nil {
		return err
	}
	if _, err := NewInstruction(OpCALLIndirect).SetR(REGS.IndirectCall, false).EmitCode(w); err != nil {
		return err
	}
	if b.ABI.GPRetReg != dst.Reg {
		return movRegReg(w, dst.Reg, b.ABI.GPRetReg, false, 4)
	}
	return nil
}

// memoryGrowThunkOffset is the fixed link-data slot the host-linked
// memory.grow implementation's pointer is read from (spec §4.13).
const memoryGrowThunkOffset = 0

// EmitTruncToInt lowers a float->int conversion including spec §4.12's
// boundary checks: compare the source against the destination range's
// exclusive bounds (loaded into REGS.FPHelper via the SSE register
// file) and trap on NaN/overflow before doing the actual CVTTSS2SI/CVTTSD2SI.
func (b *Backend) EmitTruncToInt(w *memwriter.MemWriter, srcType, dstType wasmtypes.MachineType, signed bool, src, dst isa.VariableStorage) error {
	srcWidth := MachineTypeWidth(srcType)
	dstWidth := MachineTypeWidth(dstType)

	// NaN check: UCOMISS/SD src, src sets PF iff src is NaN.
	ucop := OpUCOMISS
	if srcWidth == 8 {
		ucop = OpUCOMISD
	}
	if err := NewInstruction(ucop).SetRR(src.Reg, src.Reg, true, true).SetWidth(srcWidth).emitOrWrap(w); err != nil {
		return err
	}
	notNaN, err := NewInstruction(OpJcc).SetCC(CCNP).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.TruncOverflow); err != nil {
		return err
	}
	if err := notNaN.LinkToHere(); err != nil {
		return err
	}

	lo, hi := truncBounds(dstType, dstWidth, signed, srcWidth)
	cvtOp := OpCVTTSS2SI
	if srcWidth == 8 {
		cvtOp = OpCVTTSD2SI
	}
	boundReg := REGS.FPHelper
	if err := loadImmediate(w, boundReg, lo, srcWidth, true); err != nil {
		return err
	}
	if err := NewInstruction(ucop).SetRR(boundReg, src.Reg, true, true).SetWidth(srcWidth).emitOrWrap(w); err != nil {
		return err
	}
	inRangeLo, err := NewInstruction(OpJcc).SetCC(CCA).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.TruncOverflow); err != nil {
		return err
	}
	if err := inRangeLo.LinkToHere(); err != nil {
		return err
	}

	if err := loadImmediate(w, boundReg, hi, srcWidth, true); err != nil {
		return err
	}
	if err := NewInstruction(ucop).SetRR(boundReg, src.Reg, true, true).SetWidth(srcWidth).emitOrWrap(w); err != nil {
		return err
	}
	inRangeHi, err := NewInstruction(OpJcc).SetCC(CCB).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.TruncOverflow); err != nil {
		return err
	}
	if err := inRangeHi.LinkToHere(); err != nil {
		return err
	}

	return NewInstruction(cvtOp).SetRR(src.Reg, dst.Reg, true, false).SetWidth(dstWidth).emitOrWrap(w)
}

// truncBounds returns the (exclusive) lower and upper bit patterns, encoded
// in encWidth (the source float's own width, the value actually being
// compared), that a value must fall strictly between to convert in-range to
// dstType without trapping (spec §4.12's named boundary constants).
func truncBounds(dstType wasmtypes.MachineType, dstWidth byte, signed bool, encWidth byte) (lo, hi uint64) {
	var loF, hiF float64
	switch {
	case dstWidth == 8 && signed:
		loF, hiF = -9223372036854777856.0, 9223372036854775808.0 // i64 min-1 has no exact float64 repr; nearest float64 below
	case dstWidth == 8 && !signed:
		loF, hiF = -1, 18446744073709551616.0
	case dstWidth == 4 && signed:
		loF, hiF = -2147483648.0-1, 2147483648.0
	default:
		loF, hiF = -1, 4294967296.0
	}
	return floatBits(loF, encWidth), floatBits(hiF, encWidth)
}

// floatBits encodes f in the encoding width the caller will load it with
// (4 for a float32 comparand, 8 for a float64 one); srcWidth here reuses the
// same byte convention as MachineTypeWidth.
func floatBits(f float64, srcWidth byte) uint64 {
	if srcWidth == 4 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func (b *Backend) EmitTrap(w *memwriter.MemWriter, code trapcode.Code) error {
	if err := loadImmediateGPR(w, REGS.TrapReg, uint64(code), 4); err != nil {
		return err
	}
	if b.trapHandlerPos == 0 {
		return NewInstruction(OpRET).emitOrWrap(w)
	}
	return b.EmitJumpBackTo(w, b.trapHandlerPos)
}

// EmitGenericTrapHandler emits the one landing pad every EmitTrap call in
// this function jumps to (spec §4.14): restore RSP/RBP and return, leaving
// REGS.TrapReg holding the trap code for the host to read.
func (b *Backend) EmitGenericTrapHandler(w *memwriter.MemWriter) error {
	b.trapHandlerPos = w.Size()
	if err := movRegReg(w, RSP, RBP, false, 8); err != nil {
		return err
	}
	if err := NewInstruction(OpPOP).SetR(RBP, false).emitOrWrap(w); err != nil {
		return err
	}
	return NewInstruction(OpRET).emitOrWrap(w)
}
