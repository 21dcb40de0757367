// Backend wires this package's encoder/relpatch primitives into the
// compiler.Backend interface (spec §4.9's seam): the TriCore secondary
// target. Structured after isa/arm64.Backend (same method-by-method shape),
// but every method's body reflects a genuinely different machine: a single
// 32-bit-wide data-register file shared by ints and floats, no condition-
// flags register, and an FPU that only computes on single precision -- see
// the package doc in consts.go and DESIGN.md for the full list of
// consequences.
//
// This compiler's scope split: i32 and f32 values get native instruction
// sequences throughout. i64 and f64 values -- plus every float64 operation
// and every integer divide/remainder -- are lowered to a call through
// callHelper, a single shared runtime-dispatcher function loaded from
// link-data offset helperDispatchOffset, selected by a constant in D4 the
// same way isa/arm64.EmitMemoryGrow already calls out to a host thunk for
// memory.grow. Reproducing TriCore's real carry-chained E-register-pair
// arithmetic and DVINIT/DVSTEP/DVADJ divide sequence inline is out of scope
// for this baseline compiler (see DESIGN.md).
package tricore

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

// Backend is the TriCore compiler.Backend implementation.
type Backend struct {
	ABI            ABI
	trapHandlerPos int

	// TriCore has no condition-flags register (see package doc): EmitCompare
	// caches its operands here, and EmitMaterializeBool/EmitSelect/
	// EmitCondJumpPlaceholder/EmitCondJumpBackTo re-read them to synthesize
	// the fused compare-and-branch or boolean-compare instruction the
	// pending BranchCondition calls for. pendingFloatResult holds the
	// callHelper comparison thunk's bitmask result register when the most
	// recent EmitCompare was over floats.
	pendingLHS, pendingRHS isa.VariableStorage
	pendingFloat           bool
	pendingFloatResult     isa.Register
}

func New() *Backend { return &Backend{ABI: TriCoreEABI} }

func (b *Backend) PointerWidth() int { return 4 }

func (b *Backend) ScratchPool(tp isa.RegisterType) []isa.Register { return ScratchPool(tp) }
func (b *Backend) LocalPool(tp isa.RegisterType) []isa.Register   { return LocalPool(tp) }

func (b *Backend) ArgRegisters(tp isa.RegisterType) []isa.Register {
	if tp == isa.Float {
		return b.ABI.FLParams
	}
	return b.ABI.GPParams
}

func machineTypeWidth(t wasmtypes.MachineType) byte {
	if t == wasmtypes.I64 || t == wasmtypes.F64 {
		return 8
	}
	return 4
}

// hi returns the odd partner of an even D register this package's
// register-pair simplification (consts.go) uses for 64-bit values.
func hi(reg isa.Register) isa.Register { return reg + 1 }

func (ins *Instruction) emitOrWrap(w *memwriter.MemWriter) error {
	_, err := ins.EmitCode(w)
	return err
}

// loadImmediate32 materializes a 32-bit constant, preferring the single
// MOVConst16Sx form when the value's top 17 bits agree (a genuine signed-
// 16-bit immediate), and otherwise the real TriCore MOVH+ADDI idiom: the
// upper half loaded directly into bits 31:16, the lower half folded in with
// a zero-extending add (never sign-extending -- MOVH already placed zeros
// in the low half, so a zero-extending add is the only form that
// reconstructs an arbitrary 32-bit pattern exactly).
func loadImmediate32(w *memwriter.MemWriter, reg isa.Register, v uint32) error {
	if v == uint32(int32(int16(uint16(v)))) {
		return NewInstruction(OpMOVConst16Sx).SetDc(reg).SetConst16Sx(int32(int16(uint16(v)))).emitOrWrap(w)
	}
	if err := NewInstruction(OpMOVHConst16).SetDc(reg).SetConst16Zx(v >> 16).emitOrWrap(w); err != nil {
		return err
	}
	if v&0xFFFF == 0 {
		return nil
	}
	return NewInstruction(OpADDIConst16).SetDc(reg).SetDa(reg).SetConst16Zx(v & 0xFFFF).emitOrWrap(w)
}

func loadImmediate(w *memwriter.MemWriter, reg isa.Register, bits uint64, width byte) error {
	if err := loadImmediate32(w, reg, uint32(bits)); err != nil {
		return err
	}
	if width == 8 {
		return loadImmediate32(w, hi(reg), uint32(bits>>32))
	}
	return nil
}

// movRegReg is a flat D-to-D transfer: since ints and floats share one
// register file here, a move never needs to know whether the value is a
// float (unlike isa/amd64's MOVSS/MOVSD vs MOV, or isa/arm64's FMOV vs
// MOV), a genuine simplification from the architecture itself.
func movRegReg(w *memwriter.MemWriter, dst, src isa.Register, width byte) error {
	if dst == src {
		return nil
	}
	if err := NewInstruction(OpMOV).SetDc(dst).SetDb(src).emitOrWrap(w); err != nil {
		return err
	}
	if width == 8 {
		return NewInstruction(OpMOV).SetDc(hi(dst)).SetDb(hi(src)).emitOrWrap(w)
	}
	return nil
}

// addrOperand returns a (base, offset) pair OpLD/OpST can address via
// off10sx directly, or materializes the effective address into
// REGS.ScratchAddr when offset exceeds that 10-bit signed field (spec
// §3.2: a StackMemory/LinkData VariableStorage's Offset is otherwise
// ISA-opaque).
func addrOperand(w *memwriter.MemWriter, base isa.Register, offset int32) (isa.Register, int32, error) {
	if offset >= -512 && offset <= 511 {
		return base, offset, nil
	}
	if _, err := NewInstruction(OpLEA).SetAc(REGS.ScratchAddr).SetAa(base).SetConst16Sx(offset).EmitCode(w); err != nil {
		return 0, 0, err
	}
	return REGS.ScratchAddr, 0, nil
}

func movMemToReg(w *memwriter.MemWriter, dst, base isa.Register, offset int32, width byte) error {
	addrBase, addrOff, err := addrOperand(w, base, offset)
	if err != nil {
		return err
	}
	if err := NewInstruction(OpLD).SetDc(dst).SetMem(addrBase, addrOff).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	if width == 8 {
		addrBase, addrOff, err := addrOperand(w, base, offset+4)
		if err != nil {
			return err
		}
		return NewInstruction(OpLD).SetDc(hi(dst)).SetMem(addrBase, addrOff).SetWidth(4).emitOrWrap(w)
	}
	return nil
}

func movRegToMem(w *memwriter.MemWriter, src, base isa.Register, offset int32, width byte) error {
	addrBase, addrOff, err := addrOperand(w, base, offset)
	if err != nil {
		return err
	}
	if err := NewInstruction(OpST).SetDa(src).SetMem(addrBase, addrOff).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	if width == 8 {
		addrBase, addrOff, err := addrOperand(w, base, offset+4)
		if err != nil {
			return err
		}
		return NewInstruction(OpST).SetDa(hi(src)).SetMem(addrBase, addrOff).SetWidth(4).emitOrWrap(w)
	}
	return nil
}

func frameBase(v isa.VariableStorage) isa.Register {
	if v.IsLinkData() {
		return REGS.LinMem
	}
	return A10 // SP
}

func (b *Backend) EmitMove(w *memwriter.MemWriter, t wasmtypes.MachineType, src, dst isa.VariableStorage) error {
	if src.EqualLocation(dst) {
		return nil
	}
	width := machineTypeWidth(t)
	switch {
	case dst.IsRegister() && src.IsRegister():
		return movRegReg(w, dst.Reg, src.Reg, width)
	case dst.IsRegister() && src.IsConstant():
		return loadImmediate(w, dst.Reg, src.Bits, width)
	case dst.IsRegister() && (src.IsStack() || src.IsLinkData()):
		return movMemToReg(w, dst.Reg, frameBase(src), src.Offset, width)
	case (dst.IsStack() || dst.IsLinkData()) && src.IsRegister():
		return movRegToMem(w, src.Reg, frameBase(dst), dst.Offset, width)
	case (dst.IsStack() || dst.IsLinkData()) && src.IsConstant():
		if err := loadImmediate(w, REGS.MoveHelper, src.Bits, width); err != nil {
			return err
		}
		return movRegToMem(w, REGS.MoveHelper, frameBase(dst), dst.Offset, width)
	case (dst.IsStack() || dst.IsLinkData()) && (src.IsStack() || src.IsLinkData()):
		if err := movMemToReg(w, REGS.MoveHelper, frameBase(src), src.Offset, width); err != nil {
			return err
		}
		return movRegToMem(w, REGS.MoveHelper, frameBase(dst), dst.Offset, width)
	default:
		return fmt.Errorf("tricore: unhandled move %v -> %v", src, dst)
	}
}

func (b *Backend) EmitLoadConst(w *memwriter.MemWriter, t wasmtypes.MachineType, bits uint64, dst isa.VariableStorage) error {
	return b.EmitMove(w, t, isa.ConstantStorage(bits, t), dst)
}

// helperSelector picks the operation callHelper's shared runtime dispatcher
// performs (see package doc): every i64 op beyond a plain move, every f64
// op, and every integer/float divide go through this path.
type helperSelector uint32

const (
	helperI64Add helperSelector = iota
	helperI64Sub
	helperI64Mul
	helperI64And
	helperI64Or
	helperI64Xor
	helperI64Shl
	helperI64ShrS
	helperI64ShrU
	helperI64Rotl
	helperI64Rotr
	helperI64DivS
	helperI64DivU
	helperI64RemS
	helperI64RemU
	helperI64Clz
	helperI64Ctz
	helperI64Popcnt
	helperI32DivS
	helperI32DivU
	helperI32RemS
	helperI32RemU
	helperF32Div
	helperF32Min
	helperF32Max
	helperF32Sqrt
	helperF32Nearest
	helperF32Floor
	helperF32Ceil
	helperF32Trunc
	helperF64Add
	helperF64Sub
	helperF64Mul
	helperF64Div
	helperF64Min
	helperF64Max
	helperF64Sqrt
	helperF64Nearest
	helperF64Floor
	helperF64Ceil
	helperF64Trunc
	helperF32Compare
	helperF64Compare
	helperF64ToI32S
	helperF64ToI32U
	helperF64ToI64S
	helperF64ToI64U
	helperF32ToI64S
	helperF32ToI64U
	helperI64ToF32S
	helperI64ToF32U
	helperI64ToF64S
	helperI64ToF64U
	helperI32ToF64S
	helperI32ToF64U
	helperF32ToF64
	helperF64ToF32
	helperMemoryGrow
)

const helperDispatchOffset = 0

// callHelper stages up to two operands (each 32 or 64 bits) into the
// dispatcher's fixed window -- D5:D6 for the first operand, D7:D3 for the
// second -- loads the selector into D4, calls through REGS.IndirectCall,
// and leaves the result in D2 (and D3 for a 64-bit result); it is the
// caller's job to move D2/D3 into dst afterward.
func (b *Backend) callHelper(w *memwriter.MemWriter, sel helperSelector, opA *isa.VariableStorage, widthA byte, opB *isa.VariableStorage, widthB byte) error {
	if err := loadImmediate32(w, D4, uint32(sel)); err != nil {
		return err
	}
	if opA != nil {
		if err := movRegReg(w, D5, opA.Reg, widthA); err != nil {
			return err
		}
	}
	if opB != nil {
		if widthA != 8 {
			if err := movRegReg(w, D6, opB.Reg, widthB); err != nil {
				return err
			}
		} else {
			// The first operand's pair already claims D5:D6, so the second
			// operand's window is D7:D3 rather than hi(D7)=D8 -- D8 is
			// REGS.CallStage, loaded with the dispatch target right after
			// this and not available as an operand register here.
			if err := movRegReg(w, D7, opB.Reg, 4); err != nil {
				return err
			}
			if widthB == 8 {
				if err := movRegReg(w, D3, hi(opB.Reg), 4); err != nil {
					return err
				}
			}
		}
	}
	if err := NewInstruction(OpLD).SetDc(REGS.CallStage).SetMem(REGS.LinMem, helperDispatchOffset).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpMOVDA).SetAa(REGS.IndirectCall).SetDb(REGS.CallStage).emitOrWrap(w); err != nil {
		return err
	}
	_, err := NewInstruction(OpCALLI).SetAa(REGS.IndirectCall).EmitCode(w)
	return err
}

func gprBinOp(op wasmir.Opcode) (Op, bool) {
	switch op {
	case wasmir.OpI32Add:
		return OpADD, true
	case wasmir.OpI32Sub:
		return OpSUB, true
	case wasmir.OpI32And:
		return OpAND, true
	case wasmir.OpI32Or:
		return OpOR, true
	case wasmir.OpI32Xor:
		return OpXOR, true
	case wasmir.OpI32Mul:
		return OpMUL, true
	}
	return 0, false
}

func fpBinOp(op wasmir.Opcode) (Op, bool) {
	switch op {
	case wasmir.OpF32Add:
		return OpADD, true
	case wasmir.OpF32Sub:
		return OpSUB, true
	case wasmir.OpF32Mul:
		return OpMUL, true
	}
	return 0, false
}

func i64HelperBinOp(op wasmir.Opcode) (helperSelector, bool) {
	switch op {
	case wasmir.OpI64Add:
		return helperI64Add, true
	case wasmir.OpI64Sub:
		return helperI64Sub, true
	case wasmir.OpI64Mul:
		return helperI64Mul, true
	case wasmir.OpI64And:
		return helperI64And, true
	case wasmir.OpI64Or:
		return helperI64Or, true
	case wasmir.OpI64Xor:
		return helperI64Xor, true
	case wasmir.OpI64Shl:
		return helperI64Shl, true
	case wasmir.OpI64ShrS:
		return helperI64ShrS, true
	case wasmir.OpI64ShrU:
		return helperI64ShrU, true
	case wasmir.OpI64Rotl:
		return helperI64Rotl, true
	case wasmir.OpI64Rotr:
		return helperI64Rotr, true
	case wasmir.OpI64DivS:
		return helperI64DivS, true
	case wasmir.OpI64DivU:
		return helperI64DivU, true
	case wasmir.OpI64RemS:
		return helperI64RemS, true
	case wasmir.OpI64RemU:
		return helperI64RemU, true
	}
	return 0, false
}

func f64HelperBinOp(op wasmir.Opcode) (helperSelector, bool) {
	switch op {
	case wasmir.OpF64Add:
		return helperF64Add, true
	case wasmir.OpF64Sub:
		return helperF64Sub, true
	case wasmir.OpF64Mul:
		return helperF64Mul, true
	case wasmir.OpF64Div:
		return helperF64Div, true
	case wasmir.OpF64Min:
		return helperF64Min, true
	case wasmir.OpF64Max:
		return helperF64Max, true
	}
	return 0, false
}

func isShift(op wasmir.Opcode) (Op, bool, bool) {
	switch op {
	case wasmir.OpI32Shl:
		return OpSH, false, true // logical, left
	case wasmir.OpI32ShrU:
		return OpSH, true, true // logical, needs negated count (right)
	case wasmir.OpI32ShrS:
		return OpSHA, true, true // arithmetic, needs negated count (right)
	}
	return 0, false, false
}

func isIntDivRem(op wasmir.Opcode) (signed, isRem bool, ok bool) {
	switch op {
	case wasmir.OpI32DivS:
		return true, false, true
	case wasmir.OpI32DivU:
		return false, false, true
	case wasmir.OpI32RemS:
		return true, true, true
	case wasmir.OpI32RemU:
		return false, true, true
	}
	return false, false, false
}

// BinOpCandidates offers exactly one register/register candidate per op
// family, as isa/arm64 does: every TriCore ALU form this package uses takes
// two D-register operands, never a memory operand.
func (b *Backend) BinOpCandidates(op wasmir.Opcode) []isa.AbstrInstr {
	switch op {
	case wasmir.OpI32Eqz, wasmir.OpI64Eqz:
		return nil // unop, not reached here
	}
	if _, ok := gprBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg, IsCommutative: op != wasmir.OpI32Sub}}
	}
	if _, ok := fpBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, _, ok := i64HelperBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, ok := f64HelperBinOp(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, _, ok := isShift(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if _, _, ok := isIntDivRem(op); ok {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if op == wasmir.OpF32Div || op == wasmir.OpF32Min || op == wasmir.OpF32Max {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	if op == wasmir.OpF32Copysign || op == wasmir.OpF64Copysign {
		return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, Arg1: isa.ArgReg}}
	}
	return nil
}

func (b *Backend) EmitBinOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst, src isa.VariableStorage) error {
	op := tpl.(wasmir.Opcode)

	if gop, ok := gprBinOp(op); ok {
		return NewInstruction(gop).SetDc(dst.Reg).SetDa(dst.Reg).SetDb(src.Reg).emitOrWrap(w)
	}
	if fop, ok := fpBinOp(op); ok {
		return NewInstruction(fop).SetFloat(true).SetDc(dst.Reg).SetDa(dst.Reg).SetDb(src.Reg).emitOrWrap(w)
	}
	if sel, ok := i64HelperBinOp(op); ok {
		if err := b.callHelper(w, sel, &dst, 8, &src, 8); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, 8)
	}
	if sel, ok := f64HelperBinOp(op); ok {
		if err := b.callHelper(w, sel, &dst, 8, &src, 8); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, 8)
	}
	if sop, negateCount, ok := isShift(op); ok {
		count := src.Reg
		if negateCount {
			neg := REGS.MoveHelper
			if err := loadImmediate32(w, neg, 0); err != nil {
				return err
			}
			if err := NewInstruction(OpSUB).SetDc(neg).SetDa(neg).SetDb(src.Reg).emitOrWrap(w); err != nil {
				return err
			}
			count = neg
		}
		return NewInstruction(sop).SetDc(dst.Reg).SetDa(dst.Reg).SetDb(count).emitOrWrap(w)
	}
	if signed, isRem, ok := isIntDivRem(op); ok {
		sel := helperI32DivS
		switch {
		case signed && !isRem:
			sel = helperI32DivS
		case !signed && !isRem:
			sel = helperI32DivU
		case signed && isRem:
			sel = helperI32RemS
		default:
			sel = helperI32RemU
		}
		if err := b.callHelper(w, sel, &dst, 4, &src, 4); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, 4)
	}
	if op == wasmir.OpF32Div {
		if err := b.callHelper(w, helperF32Div, &dst, 4, &src, 4); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, 4)
	}
	if op == wasmir.OpF32Min || op == wasmir.OpF32Max {
		sel := helperF32Min
		if op == wasmir.OpF32Max {
			sel = helperF32Max
		}
		if err := b.callHelper(w, sel, &dst, 4, &src, 4); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, 4)
	}
	if op == wasmir.OpF32Copysign || op == wasmir.OpF64Copysign {
		return b.emitCopysign(w, dst.Reg, src.Reg, machineTypeWidth(t))
	}
	return fmt.Errorf("tricore: unhandled binop %v", op)
}

// emitCopysign composes the IEEE bit pattern (dst's magnitude, src's sign)
// with plain integer AND/OR masking directly on the D registers already
// holding the float bits -- no bit-reinterpret move is needed at all, since
// floats and ints already share this package's one register file (unlike
// isa/amd64 and isa/arm64, which both need a cross-file move first).
func (b *Backend) emitCopysign(w *memwriter.MemWriter, dst, src isa.Register, width byte) error {
	signMaskLo := uint32(1) << 31
	a, bReg, maskReg := REGS.MoveHelper, REGS.CallStage, D3
	if err := movRegReg(w, a, dst, width); err != nil {
		return err
	}
	if err := movRegReg(w, bReg, src, width); err != nil {
		return err
	}
	loA := a
	loB := bReg
	if width == 8 {
		loA, loB = hi(a), hi(bReg)
	}
	if err := loadImmediate32(w, maskReg, ^signMaskLo); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetDc(loA).SetDa(loA).SetDb(maskReg).emitOrWrap(w); err != nil {
		return err
	}
	if err := loadImmediate32(w, maskReg, signMaskLo); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetDc(loB).SetDa(loB).SetDb(maskReg).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpOR).SetDc(loA).SetDa(loA).SetDb(loB).emitOrWrap(w); err != nil {
		return err
	}
	return movRegReg(w, dst, a, width)
}

func (b *Backend) UnOpCandidates(op wasmir.Opcode) []isa.AbstrInstr {
	return []isa.AbstrInstr{{Template: op, Arg0: isa.ArgReg, IsUnop: true}}
}

func (b *Backend) EmitUnOp(w *memwriter.MemWriter, tpl any, t wasmtypes.MachineType, dst isa.VariableStorage) error {
	op := tpl.(wasmir.Opcode)
	width := machineTypeWidth(t)

	switch op {
	case wasmir.OpI32Clz:
		return NewInstruction(OpCLZ).SetDc(dst.Reg).SetDa(dst.Reg).emitOrWrap(w)
	case wasmir.OpI32Ctz, wasmir.OpI32Popcnt, wasmir.OpI64Clz, wasmir.OpI64Ctz, wasmir.OpI64Popcnt:
		return b.emitWideUnOpHelper(w, op, dst)
	case wasmir.OpF32Abs:
		return b.emitAbs(w, dst.Reg, 4)
	case wasmir.OpF64Abs:
		return b.emitAbs(w, dst.Reg, 8)
	case wasmir.OpF32Neg:
		return b.emitNeg(w, dst.Reg, 4)
	case wasmir.OpF64Neg:
		return b.emitNeg(w, dst.Reg, 8)
	case wasmir.OpF32Sqrt, wasmir.OpF32Nearest, wasmir.OpF32Floor, wasmir.OpF32Ceil, wasmir.OpF32Trunc:
		return b.emitF32UnHelper(w, op, dst)
	case wasmir.OpF64Sqrt, wasmir.OpF64Nearest, wasmir.OpF64Floor, wasmir.OpF64Ceil, wasmir.OpF64Trunc:
		return b.emitF64UnHelper(w, op, dst)
	case wasmir.OpI32WrapI64:
		return nil // the low D register already holds the wrapped value.
	case wasmir.OpI64ExtendI32U:
		return loadImmediate32(w, hi(dst.Reg), 0)
	case wasmir.OpI64ExtendI32S:
		return b.emitSignExtend32To64(w, dst.Reg)
	case wasmir.OpF32ConvertI32S, wasmir.OpF32ConvertI32U:
		signed := op == wasmir.OpF32ConvertI32S
		return NewInstruction(OpITOF).SetDc(dst.Reg).SetDa(dst.Reg).SetConvSigned(signed).emitOrWrap(w)
	case wasmir.OpI32ReinterpretF32, wasmir.OpF32ReinterpretI32, wasmir.OpI64ReinterpretF64, wasmir.OpF64ReinterpretI64:
		// Same register file: a reinterpret changes only the VariableStorage
		// type tag the ISA-neutral driver tracks, never the bits, so this
		// emits nothing.
		return nil
	}

	if sel, ok := wideFloatConvertHelper(op); ok {
		srcWidth := convertSrcWidth(op)
		if err := b.callHelper(w, sel, &dst, srcWidth, nil, 0); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, width)
	}

	return fmt.Errorf("tricore: unhandled unop %v", op)
}

func convertSrcWidth(op wasmir.Opcode) byte {
	switch op {
	case wasmir.OpF64ConvertI64S, wasmir.OpF64ConvertI64U, wasmir.OpI64TruncF64S, wasmir.OpI64TruncF64U,
		wasmir.OpI32TruncF64S, wasmir.OpI32TruncF64U, wasmir.OpF32DemoteF64:
		return 8
	case wasmir.OpI64TruncF32S, wasmir.OpI64TruncF32U, wasmir.OpF64PromoteF32:
		return 4
	}
	return 4
}

// wideFloatConvertHelper routes every conversion touching i64 or f64 (the
// register-pair/soft-float types) through callHelper; F32<->I32 conversions
// use the native FTOI/ITOF instructions directly (see EmitUnOp).
func wideFloatConvertHelper(op wasmir.Opcode) (helperSelector, bool) {
	switch op {
	case wasmir.OpF32ConvertI64S:
		return helperI64ToF32S, true
	case wasmir.OpF32ConvertI64U:
		return helperI64ToF32U, true
	case wasmir.OpF64ConvertI32S:
		return helperI32ToF64S, true
	case wasmir.OpF64ConvertI32U:
		return helperI32ToF64U, true
	case wasmir.OpF64ConvertI64S:
		return helperI64ToF64S, true
	case wasmir.OpF64ConvertI64U:
		return helperI64ToF64U, true
	case wasmir.OpF32DemoteF64:
		return helperF64ToF32, true
	case wasmir.OpF64PromoteF32:
		return helperF32ToF64, true
	}
	return 0, false
}

// emitAbs/emitNeg clear or flip the IEEE sign bit directly via AND/XOR on
// the D register already holding the float bits.
func (b *Backend) emitAbs(w *memwriter.MemWriter, reg isa.Register, width byte) error {
	loReg := reg
	if width == 8 {
		loReg = hi(reg)
	}
	if err := loadImmediate32(w, REGS.MoveHelper, ^(uint32(1) << 31)); err != nil {
		return err
	}
	return NewInstruction(OpAND).SetDc(loReg).SetDa(loReg).SetDb(REGS.MoveHelper).emitOrWrap(w)
}

func (b *Backend) emitNeg(w *memwriter.MemWriter, reg isa.Register, width byte) error {
	loReg := reg
	if width == 8 {
		loReg = hi(reg)
	}
	if err := loadImmediate32(w, REGS.MoveHelper, uint32(1)<<31); err != nil {
		return err
	}
	return NewInstruction(OpXOR).SetDc(loReg).SetDa(loReg).SetDb(REGS.MoveHelper).emitOrWrap(w)
}

func (b *Backend) emitSignExtend32To64(w *memwriter.MemWriter, reg isa.Register) error {
	if err := movRegReg(w, hi(reg), reg, 4); err != nil {
		return err
	}
	thirtyOne := REGS.MoveHelper
	if err := loadImmediate32(w, thirtyOne, 31); err != nil {
		return err
	}
	return NewInstruction(OpSHA).SetDc(hi(reg)).SetDa(hi(reg)).SetDb(thirtyOne).emitOrWrap(w)
}

func (b *Backend) emitWideUnOpHelper(w *memwriter.MemWriter, op wasmir.Opcode, dst isa.VariableStorage) error {
	var sel helperSelector
	width := byte(4)
	switch op {
	case wasmir.OpI32Ctz:
		sel = helperI64Ctz // reuse the wide routine; the caller zero-extends to 64 bits first.
	case wasmir.OpI32Popcnt:
		sel = helperI64Popcnt
	case wasmir.OpI64Clz:
		sel, width = helperI64Clz, 8
	case wasmir.OpI64Ctz:
		sel, width = helperI64Ctz, 8
	case wasmir.OpI64Popcnt:
		sel, width = helperI64Popcnt, 8
	}
	if width == 4 {
		if err := loadImmediate32(w, hi(dst.Reg), 0); err != nil {
			return err
		}
	}
	if err := b.callHelper(w, sel, &dst, 8, nil, 0); err != nil {
		return err
	}
	return movRegReg(w, dst.Reg, D2, 4)
}

func (b *Backend) emitF32UnHelper(w *memwriter.MemWriter, op wasmir.Opcode, dst isa.VariableStorage) error {
	sel := map[wasmir.Opcode]helperSelector{
		wasmir.OpF32Sqrt:    helperF32Sqrt,
		wasmir.OpF32Nearest: helperF32Nearest,
		wasmir.OpF32Floor:   helperF32Floor,
		wasmir.OpF32Ceil:    helperF32Ceil,
		wasmir.OpF32Trunc:   helperF32Trunc,
	}[op]
	if err := b.callHelper(w, sel, &dst, 4, nil, 0); err != nil {
		return err
	}
	return movRegReg(w, dst.Reg, D2, 4)
}

func (b *Backend) emitF64UnHelper(w *memwriter.MemWriter, op wasmir.Opcode, dst isa.VariableStorage) error {
	sel := map[wasmir.Opcode]helperSelector{
		wasmir.OpF64Sqrt:    helperF64Sqrt,
		wasmir.OpF64Nearest: helperF64Nearest,
		wasmir.OpF64Floor:   helperF64Floor,
		wasmir.OpF64Ceil:    helperF64Ceil,
		wasmir.OpF64Trunc:   helperF64Trunc,
	}[op]
	if err := b.callHelper(w, sel, &dst, 8, nil, 0); err != nil {
		return err
	}
	return movRegReg(w, dst.Reg, D2, 8)
}

// EmitCompare caches its operands rather than setting real hardware flags
// (see Backend's doc comment): integer comparisons just remember lhs/rhs
// for the fused compare+branch or boolean-compare instructions that follow;
// float comparisons call the comparison helper immediately and remember its
// bitmask result register instead, since floats need the helper's work
// done only once regardless of how many times the pending condition is
// consumed.
func (b *Backend) EmitCompare(w *memwriter.MemWriter, t wasmtypes.MachineType, lhs, rhs isa.VariableStorage) error {
	width := machineTypeWidth(t)
	if t.IsFloat() {
		sel := helperF32Compare
		if width == 8 {
			sel = helperF64Compare
		}
		if err := b.callHelper(w, sel, &lhs, width, &rhs, width); err != nil {
			return err
		}
		b.pendingFloat = true
		b.pendingFloatResult = D2
		return nil
	}
	if rhs.IsConstant() {
		if err := loadImmediate(w, REGS.MoveHelper, rhs.Bits, width); err != nil {
			return err
		}
		rhs = isa.RegisterStorage(REGS.MoveHelper, t)
	}
	b.pendingFloat = false
	b.pendingLHS, b.pendingRHS = lhs, rhs
	return nil
}

// floatMaskFor returns the bitmask helperF32Compare/helperF64Compare sets
// for cond: bit0=LT, bit1=EQ, bit2=GT, bit3=unordered (NaN present).
func floatMaskFor(cond opstack.BranchCondition) (mask uint32, wantNonzero bool) {
	switch cond {
	case opstack.CondEqF:
		return 0b0010, true
	case opstack.CondNeF:
		return 0b0010, false
	case opstack.CondLtF:
		return 0b0001, true
	case opstack.CondGtF:
		return 0b0100, true
	case opstack.CondLeF:
		return 0b0011, true
	case opstack.CondGeF:
		return 0b0110, true
	default:
		return 0b0010, true
	}
}

// intCompareParts maps a BranchCondition to one of TriCore's six boolean/
// branch-fused compare primitives (EQ/NE/LT/GE/LT.U/GE.U), swapping the
// operand order for GT/LE since the architecture has no dedicated
// greater-than/less-or-equal form: a>b is exactly b<a.
func intCompareParts(cond opstack.BranchCondition) (op Op, swap bool) {
	switch cond {
	case opstack.CondEq:
		return OpEQ, false
	case opstack.CondNe:
		return OpNE, false
	case opstack.CondLtS:
		return OpLT, false
	case opstack.CondGeS:
		return OpGE, false
	case opstack.CondGtS:
		return OpLT, true
	case opstack.CondLeS:
		return OpGE, true
	case opstack.CondLtU:
		return OpLTU, false
	case opstack.CondGeU:
		return OpGEU, false
	case opstack.CondGtU:
		return OpLTU, true
	case opstack.CondLeU:
		return OpGEU, true
	default:
		return OpEQ, false
	}
}

func jumpOpFor(op Op) Op {
	switch op {
	case OpEQ:
		return OpJEQ
	case OpNE:
		return OpJNE
	case OpLT:
		return OpJLT
	case OpGE:
		return OpJGE
	case OpLTU:
		return OpJLTU
	case OpGEU:
		return OpJGEU
	default:
		return OpJEQ
	}
}

func (b *Backend) emitFloatBoolean(w *memwriter.MemWriter, cond opstack.BranchCondition, dst isa.Register) error {
	mask, wantNonzero := floatMaskFor(cond)
	masked := REGS.MoveHelper
	if err := loadImmediate32(w, masked, mask); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetDc(masked).SetDa(b.pendingFloatResult).SetDb(masked).emitOrWrap(w); err != nil {
		return err
	}
	op := OpNE
	if !wantNonzero {
		op = OpEQ
	}
	return NewInstruction(op).SetDc(dst).SetDa(masked).SetDb(D0).emitOrWrap(w)
}

func (b *Backend) EmitMaterializeBool(w *memwriter.MemWriter, cond opstack.BranchCondition, dst isa.VariableStorage) error {
	if b.pendingFloat {
		return b.emitFloatBoolean(w, cond, dst.Reg)
	}
	op, swap := intCompareParts(cond)
	da, db := b.pendingLHS.Reg, b.pendingRHS.Reg
	if swap {
		da, db = db, da
	}
	return NewInstruction(op).SetDc(dst.Reg).SetDa(da).SetDb(db).emitOrWrap(w)
}

func (b *Backend) EmitSelect(w *memwriter.MemWriter, t wasmtypes.MachineType, cond opstack.BranchCondition, negate bool, dst, bOperand isa.VariableStorage) error {
	eff := cond
	if negate {
		eff = eff.Negate()
	}
	width := machineTypeWidth(t)
	skip, err := b.emitPendingCondBranch(w, eff)
	if err != nil {
		return err
	}
	if err := movRegReg(w, dst.Reg, bOperand.Reg, width); err != nil {
		return err
	}
	return skip.LinkToHere()
}

// emitPendingCondBranch emits the conditional-branch-on-true form of eff
// against this Backend's cached compare operands: a fused JEQ/JNE/... for
// integers, or an EQ/NE boolean materialization followed by a JNE/JEQ
// against zero for floats (TriCore's fused branches only compare two D
// registers directly, so a masked float bitmask needs the extra step).
func (b *Backend) emitPendingCondBranch(w *memwriter.MemWriter, eff opstack.BranchCondition) (opstack.RelPatch, error) {
	if b.pendingFloat {
		boolReg := REGS.CallStage
		if err := b.emitFloatBoolean(w, eff, boolReg); err != nil {
			return nil, err
		}
		return NewInstruction(OpJNE).SetDa(boolReg).SetDb(D0).EmitCode(w)
	}
	op, swap := intCompareParts(eff)
	da, db := b.pendingLHS.Reg, b.pendingRHS.Reg
	if swap {
		da, db = db, da
	}
	jop := jumpOpFor(op)
	// The fused branch fires when eff holds, like amd64's Jcc or arm64's
	// B.cond; EmitSelect uses it to skip the move of its second operand.
	return NewInstruction(jop).SetDa(da).SetDb(db).EmitCode(w)
}

func (b *Backend) EmitCondJumpPlaceholder(w *memwriter.MemWriter, cond opstack.BranchCondition, negate bool) (opstack.RelPatch, error) {
	eff := cond
	if negate {
		eff = eff.Negate()
	}
	return b.emitPendingCondBranch(w, eff)
}

func (b *Backend) EmitJumpPlaceholder(w *memwriter.MemWriter) (opstack.RelPatch, error) {
	return NewInstruction(OpJ).EmitCode(w)
}

func (b *Backend) EmitJumpBackTo(w *memwriter.MemWriter, targetPos int) error {
	patch, err := NewInstruction(OpJ).EmitCode(w)
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
	patch, err := b.emitPendingCondBranch(w, eff)
	if err != nil {
		return err
	}
	return patch.LinkToBinaryPos(targetPos)
}

// EmitFunctionPrologue saves RA (A11, clobbered by CALL the way AArch64's
// LR is clobbered by BL) onto the stack via a MOVAD bounce through a D
// register (TriCore's ST only ever writes a data register, never an
// address register directly), then reserves frameSize bytes via a
// FrameSizePatch-adjusted LEA on SP (A10) -- this package's counterpart of
// isa/arm64's SUB (immediate) frame reservation. Called with frameSize=0 by
// compile.go on first pass; the returned patch is re-linked with the real
// StackFrameSizeCeil once the body is fully emitted (spec §4.9).
func (b *Backend) EmitFunctionPrologue(w *memwriter.MemWriter, frameSize uint32) (opstack.RelPatch, error) {
	raStage := REGS.CallStage
	if err := NewInstruction(OpMOVAD).SetDc(raStage).SetAa(A11).emitOrWrap(w); err != nil {
		return nil, err
	}
	if err := NewInstruction(OpST).SetDa(raStage).SetMem(A10, 0).SetWidth(4).emitOrWrap(w); err != nil {
		return nil, err
	}
	wordPos := w.Size()
	if _, err := NewInstruction(OpLEA).SetAc(A10).SetAa(A10).SetConst16Sx(0).EmitCode(w); err != nil {
		return nil, err
	}
	patch := NewFrameSizePatch(w, wordPos)
	if err := patch.LinkToBinaryPos(int(frameSize)); err != nil {
		return nil, err
	}
	return patch, nil
}

func (b *Backend) EmitFunctionEpilogue(w *memwriter.MemWriter, frameSize uint32, results []wasmtypes.MachineType) error {
	for i, t := range results {
		if i > 0 {
			continue // WebAssembly 1.0 has at most one result; see DESIGN.md.
		}
		tp := isa.GeneralPurpose
		if t.IsFloat() {
			tp = isa.Float
		}
		srcReg := ScratchPool(tp)[0]
		dstReg := b.ABI.GPRetReg
		if tp == isa.Float {
			dstReg = b.ABI.FPRetReg
		}
		if srcReg != dstReg {
			if err := movRegReg(w, dstReg, srcReg, machineTypeWidth(t)); err != nil {
				return err
			}
		}
	}
	if _, err := NewInstruction(OpLEA).SetAc(A10).SetAa(A10).SetConst16Sx(int32(frameSize)).EmitCode(w); err != nil {
		return err
	}
	raStage := REGS.CallStage
	if err := NewInstruction(OpLD).SetDc(raStage).SetMem(A10, 0).SetWidth(4).emitOrWrap(w); err != nil {
		return err
	}
	if err := NewInstruction(OpMOVDA).SetAa(A11).SetDb(raStage).emitOrWrap(w); err != nil {
		return err
	}
	_, err := NewInstruction(OpRET).EmitCode(w)
	return err
}

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
// entries, resolved at compile time the same way isa/amd64.EmitCallIndirect
// does (table.Elements is concrete data handed in by the driver, not a
// runtime link-data record; see DESIGN.md). Per matched entry this verifies
// the signature (trap INDIRECTCALL_WRONGSIG on mismatch), checks the
// function offset is nonzero (trap CALLED_FUNCTION_NOT_LINKED otherwise),
// and CALLs the resolved target the same way EmitCallInternal does.
func (b *Backend) EmitCallIndirect(w *memwriter.MemWriter, table *wasmtypes.Table, sigIndex uint32, tableIndexStorage isa.VariableStorage) error {
	idxReg := tableIndexStorage.Reg
	bound := REGS.MoveHelper
	if err := loadImmediate32(w, bound, table.Initial); err != nil {
		return err
	}
	trapOOB, err := NewInstruction(OpJGEU).SetDa(idxReg).SetDb(bound).EmitCode(w)
	if err != nil {
		return err
	}
	doCall, err := NewInstruction(OpJ).EmitCode(w)
	if err != nil {
		return err
	}
	if err := trapOOB.LinkToHere(); err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.IndirectCallOutOfBounds); err != nil {
		return err
	}
	if err := doCall.LinkToHere(); err != nil {
		return err
	}

	var ends []opstack.RelPatch
	for slot, entry := range table.Elements {
		slotReg := REGS.MoveHelper
		if err := loadImmediate32(w, slotReg, uint32(slot)); err != nil {
			return err
		}
		notThisSlot, err := NewInstruction(OpJNE).SetDa(idxReg).SetDb(slotReg).EmitCode(w)
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
			end, err := NewInstruction(OpJ).EmitCode(w)
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

func (b *Backend) EmitCallImported(w *memwriter.MemWriter, sym *wasmtypes.NativeSymbol, sig wasmtypes.Signature) error {
	_ = sig
	if sym.Linkage == wasmtypes.LinkageDynamic {
		if err := NewInstruction(OpLD).SetDc(REGS.CallStage).SetMem(REGS.LinMem, int32(sym.LinkDataOffset)).SetWidth(4).emitOrWrap(w); err != nil {
			return err
		}
	} else {
		if err := loadImmediate32(w, REGS.CallStage, uint32(sym.Addr)); err != nil {
			return err
		}
	}
	if err := NewInstruction(OpMOVDA).SetAa(REGS.IndirectCall).SetDb(REGS.CallStage).emitOrWrap(w); err != nil {
		return err
	}
	_, err := NewInstruction(OpCALLI).SetAa(REGS.IndirectCall).EmitCode(w)
	return err
}

// emitBoundsCheck mirrors isa/amd64/isa/arm64's emitBoundsCheck structure:
// bump addr by mem.Offset+width, compare against REGS.MemSize, un-bump, and
// trap via the fused JLT.U with the operands swapped (MemSize < addr, the
// TriCore counterpart of amd64's CCA/arm64's CCHI: "above, unsigned").
func (b *Backend) emitBoundsCheck(w *memwriter.MemWriter, addr isa.VariableStorage, mem wasmir.MemArg, t wasmtypes.MachineType) error {
	effOffset := int32(mem.Offset) + int32(machineTypeWidth(t))
	if err := b.addImmArbitrary(w, addr.Reg, effOffset); err != nil {
		return err
	}
	trap, err := NewInstruction(OpJLTU).SetDa(REGS.MemSize).SetDb(addr.Reg).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.addImmArbitrary(w, addr.Reg, -effOffset); err != nil {
		return err
	}
	doMem, err := NewInstruction(OpJ).EmitCode(w)
	if err != nil {
		return err
	}
	if err := trap.LinkToHere(); err != nil {
		return err
	}
	if err := b.addImmArbitrary(w, addr.Reg, -effOffset); err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.LinMemOutOfBoundsAccess); err != nil {
		return err
	}
	return doMem.LinkToHere()
}

// addImmArbitrary adds v to reg, preferring the single ADDIConst16 form
// (zero-extended, so only genuinely non-negative-fitting values use it
// directly) and otherwise materializing v via REGS.MoveHelper.
func (b *Backend) addImmArbitrary(w *memwriter.MemWriter, reg isa.Register, v int32) error {
	if v >= 0 && v <= 0xFFFF {
		return NewInstruction(OpADDIConst16).SetDc(reg).SetDa(reg).SetConst16Zx(uint32(v)).emitOrWrap(w)
	}
	if err := loadImmediate32(w, REGS.MoveHelper, uint32(v)); err != nil {
		return err
	}
	return NewInstruction(OpADD).SetDc(reg).SetDa(reg).SetDb(REGS.MoveHelper).emitOrWrap(w)
}

func toExt(e compiler.LoadExtend) ExtKind {
	switch e {
	case compiler.ExtendS8:
		return ExtS8
	case compiler.ExtendU8:
		return ExtU8
	case compiler.ExtendS16:
		return ExtS16
	case compiler.ExtendU16:
		return ExtU16
	default:
		return ExtNone
	}
}

func (b *Backend) EmitBoundsCheckAndLoad(w *memwriter.MemWriter, t wasmtypes.MachineType, extendKind compiler.LoadExtend, addr isa.VariableStorage, mem wasmir.MemArg, dst isa.VariableStorage) error {
	if err := b.emitBoundsCheck(w, addr, mem, t); err != nil {
		return err
	}
	if err := b.addImmArbitrary(w, addr.Reg, int32(mem.Offset)); err != nil {
		return err
	}
	if err := NewInstruction(OpMOVDA).SetAa(REGS.ScratchAddr).SetDb(addr.Reg).emitOrWrap(w); err != nil {
		return err
	}
	if _, err := NewInstruction(OpADDA).SetAc(REGS.ScratchAddr).SetAa(REGS.MemBase).SetAb(REGS.ScratchAddr).EmitCode(w); err != nil {
		return err
	}
	return NewInstruction(OpLD).SetDc(dst.Reg).SetMem(REGS.ScratchAddr, 0).SetExt(toExt(extendKind)).SetWidth(machineTypeWidth(t)).emitOrWrap(w)
}

func (b *Backend) EmitBoundsCheckAndStore(w *memwriter.MemWriter, t wasmtypes.MachineType, truncKind compiler.StoreTrunc, addr isa.VariableStorage, mem wasmir.MemArg, src isa.VariableStorage) error {
	if err := b.emitBoundsCheck(w, addr, mem, t); err != nil {
		return err
	}
	if err := b.addImmArbitrary(w, addr.Reg, int32(mem.Offset)); err != nil {
		return err
	}
	if err := NewInstruction(OpMOVDA).SetAa(REGS.ScratchAddr).SetDb(addr.Reg).emitOrWrap(w); err != nil {
		return err
	}
	if _, err := NewInstruction(OpADDA).SetAc(REGS.ScratchAddr).SetAa(REGS.MemBase).SetAb(REGS.ScratchAddr).EmitCode(w); err != nil {
		return err
	}
	width := machineTypeWidth(t)
	if truncKind == compiler.Trunc8 {
		width = 1
	} else if truncKind == compiler.Trunc16 {
		width = 2
	}
	return NewInstruction(OpST).SetDa(src.Reg).SetMem(REGS.ScratchAddr, 0).SetWidth(width).emitOrWrap(w)
}

func (b *Backend) EmitMemorySize(w *memwriter.MemWriter, dst isa.VariableStorage) error {
	if err := movRegReg(w, dst.Reg, REGS.MemSize, 4); err != nil {
		return err
	}
	if err := NewInstruction(OpADDIConst16).SetDc(dst.Reg).SetDa(dst.Reg).SetConst16Zx(8).emitOrWrap(w); err != nil {
		return err
	}
	sixteen := REGS.MoveHelper
	// Negate the shift count so OpSH's direction-by-sign convention performs
	// a logical right shift (see encoder.go's doc comment on OpSH).
	if err := loadImmediate32(w, sixteen, uint32(int32(-16))); err != nil {
		return err
	}
	return NewInstruction(OpSH).SetDc(dst.Reg).SetDa(dst.Reg).SetDb(sixteen).emitOrWrap(w)
}

func (b *Backend) EmitMemoryGrow(w *memwriter.MemWriter, deltaPages isa.VariableStorage, dst isa.VariableStorage) error {
	if err := b.callHelper(w, helperMemoryGrow, &deltaPages, 4, nil, 0); err != nil {
		return err
	}
	return movRegReg(w, dst.Reg, D2, 4)
}

// EmitTruncToInt lowers a float->int conversion including spec §4.12's
// boundary checks. Since TriCore's FPU is single-precision only, every
// trunc touching f64 -- and every trunc to i64 -- is delegated whole to a
// helper (the helper is responsible for the NaN/overflow trap itself,
// reported back via helperSelector's return convention: a negative D2
// signals "out of range", at which point this caller issues the trap). The
// native f32->i32 path performs the same boundary check isa/arm64 does, via
// FTOI for the conversion itself and the helperF32Compare bitmask (this
// machine's only float-compare primitive, see emitF32BoundTrap) for the
// guard, in place of arm64's FCMP+Bcond.
func (b *Backend) EmitTruncToInt(w *memwriter.MemWriter, srcType, dstType wasmtypes.MachineType, signed bool, src, dst isa.VariableStorage) error {
	if srcType == wasmtypes.F64 || dstType == wasmtypes.I64 {
		sel := helperF64ToI32S
		switch {
		case srcType == wasmtypes.F64 && dstType == wasmtypes.I32 && signed:
			sel = helperF64ToI32S
		case srcType == wasmtypes.F64 && dstType == wasmtypes.I32 && !signed:
			sel = helperF64ToI32U
		case srcType == wasmtypes.F64 && dstType == wasmtypes.I64 && signed:
			sel = helperF64ToI64S
		case srcType == wasmtypes.F64 && dstType == wasmtypes.I64 && !signed:
			sel = helperF64ToI64U
		case srcType == wasmtypes.F32 && dstType == wasmtypes.I64 && signed:
			sel = helperF32ToI64S
		case srcType == wasmtypes.F32 && dstType == wasmtypes.I64 && !signed:
			sel = helperF32ToI64U
		}
		srcWidth := machineTypeWidth(srcType)
		if err := b.callHelper(w, sel, &src, srcWidth, nil, 0); err != nil {
			return err
		}
		trapCheck := REGS.MoveHelper
		if err := loadImmediate32(w, trapCheck, 0); err != nil {
			return err
		}
		ok, err := NewInstruction(OpJGE).SetDa(D3).SetDb(trapCheck).EmitCode(w)
		if err != nil {
			return err
		}
		if err := b.EmitTrap(w, trapcode.TruncOverflow); err != nil {
			return err
		}
		if err := ok.LinkToHere(); err != nil {
			return err
		}
		return movRegReg(w, dst.Reg, D2, machineTypeWidth(dstType))
	}

	lo, hi := truncBounds32(signed)
	// TriCore has no native float compare (see package doc): the boundary
	// guard routes through the same helperF32Compare bitmask callHelper uses
	// for every other float comparison, rather than comparing raw IEEE bit
	// patterns as signed integers, which is only monotonic for same-sign
	// operands and would misorder a negative src against these bounds.
	loMask := uint32(0b0110) // EQ|GT: src >= lo, as float32(lo) rounds -2^31-1 up to -2^31
	if !signed {
		loMask = 0b0100 // GT: src > lo, since -1.0 itself truncates out of range
	}
	if err := b.emitF32BoundTrap(w, src.Reg, math.Float32bits(float32(lo)), loMask); err != nil {
		return err
	}
	if err := b.emitF32BoundTrap(w, src.Reg, math.Float32bits(float32(hi)), 0b0001 /* LT: src < hi */); err != nil {
		return err
	}
	return NewInstruction(OpFTOI).SetDc(dst.Reg).SetDa(src.Reg).SetConvSigned(signed).emitOrWrap(w)
}

// emitF32BoundTrap traps unless the helperF32Compare bitmask for (src, the
// constant loaded from boundBits) has any bit of wantMask set; a NaN src
// carries only the unordered bit, so it always falls through to the trap.
func (b *Backend) emitF32BoundTrap(w *memwriter.MemWriter, src isa.Register, boundBits uint32, wantMask uint32) error {
	boundReg := REGS.CallStage
	if err := loadImmediate32(w, boundReg, boundBits); err != nil {
		return err
	}
	srcF := isa.RegisterStorage(src, wasmtypes.F32)
	boundF := isa.RegisterStorage(boundReg, wasmtypes.F32)
	if err := b.callHelper(w, helperF32Compare, &srcF, 4, &boundF, 4); err != nil {
		return err
	}
	mask := REGS.MoveHelper
	if err := loadImmediate32(w, mask, wantMask); err != nil {
		return err
	}
	if err := NewInstruction(OpAND).SetDc(mask).SetDa(D2).SetDb(mask).emitOrWrap(w); err != nil {
		return err
	}
	ok, err := NewInstruction(OpJNE).SetDa(mask).SetDb(D0).EmitCode(w)
	if err != nil {
		return err
	}
	if err := b.EmitTrap(w, trapcode.TruncOverflow); err != nil {
		return err
	}
	return ok.LinkToHere()
}

func truncBounds32(signed bool) (lo, hi float64) {
	if signed {
		return -2147483648.0 - 1, 2147483648.0
	}
	return -1, 4294967296.0
}

func (b *Backend) EmitTrap(w *memwriter.MemWriter, code trapcode.Code) error {
	if err := loadImmediate32(w, REGS.TrapReg, uint32(code)); err != nil {
		return err
	}
	if b.trapHandlerPos == 0 {
		_, err := NewInstruction(OpRET).EmitCode(w)
		return err
	}
	return b.EmitJumpBackTo(w, b.trapHandlerPos)
}

func (b *Backend) EmitGenericTrapHandler(w *memwriter.MemWriter) error {
	b.trapHandlerPos = w.Size()
	_, err := NewInstruction(OpRET).EmitCode(w)
	return err
}
