package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func isCompareOp(op wasmir.Opcode) bool {
	return (op >= wasmir.OpI32Eqz && op <= wasmir.OpF64Ge)
}

func isUnOp(op wasmir.Opcode) bool {
	switch op {
	case wasmir.OpI32Clz, wasmir.OpI32Ctz, wasmir.OpI32Popcnt,
		wasmir.OpI64Clz, wasmir.OpI64Ctz, wasmir.OpI64Popcnt,
		wasmir.OpF32Abs, wasmir.OpF32Neg, wasmir.OpF32Ceil, wasmir.OpF32Floor, wasmir.OpF32Trunc, wasmir.OpF32Nearest, wasmir.OpF32Sqrt,
		wasmir.OpF64Abs, wasmir.OpF64Neg, wasmir.OpF64Ceil, wasmir.OpF64Floor, wasmir.OpF64Trunc, wasmir.OpF64Nearest, wasmir.OpF64Sqrt:
		return true
	}
	return false
}

func isConversionOp(op wasmir.Opcode) bool {
	return op >= wasmir.OpI32WrapI64 && op <= wasmir.OpF64ReinterpretI64
}

// compareShape maps an Eq/Ne/Lt/Gt/Le/Ge opcode onto the BranchCondition it
// tests, and reports the operand type it compares at (spec §4.11's fusion:
// the comparison itself never materializes a result, only sets flags and
// pushes a KindPendingComparison recording this).
func compareShape(op wasmir.Opcode) (t wasmtypes.MachineType, cond opstack.BranchCondition, unary bool) {
	switch op {
	case wasmir.OpI32Eqz:
		return wasmtypes.I32, opstack.CondEq, true
	case wasmir.OpI64Eqz:
		return wasmtypes.I64, opstack.CondEq, true
	case wasmir.OpI32Eq:
		return wasmtypes.I32, opstack.CondEq, false
	case wasmir.OpI32Ne:
		return wasmtypes.I32, opstack.CondNe, false
	case wasmir.OpI32LtS:
		return wasmtypes.I32, opstack.CondLtS, false
	case wasmir.OpI32LtU:
		return wasmtypes.I32, opstack.CondLtU, false
	case wasmir.OpI32GtS:
		return wasmtypes.I32, opstack.CondGtS, false
	case wasmir.OpI32GtU:
		return wasmtypes.I32, opstack.CondGtU, false
	case wasmir.OpI32LeS:
		return wasmtypes.I32, opstack.CondLeS, false
	case wasmir.OpI32LeU:
		return wasmtypes.I32, opstack.CondLeU, false
	case wasmir.OpI32GeS:
		return wasmtypes.I32, opstack.CondGeS, false
	case wasmir.OpI32GeU:
		return wasmtypes.I32, opstack.CondGeU, false
	case wasmir.OpI64Eq:
		return wasmtypes.I64, opstack.CondEq, false
	case wasmir.OpI64Ne:
		return wasmtypes.I64, opstack.CondNe, false
	case wasmir.OpI64LtS:
		return wasmtypes.I64, opstack.CondLtS, false
	case wasmir.OpI64LtU:
		return wasmtypes.I64, opstack.CondLtU, false
	case wasmir.OpI64GtS:
		return wasmtypes.I64, opstack.CondGtS, false
	case wasmir.OpI64GtU:
		return wasmtypes.I64, opstack.CondGtU, false
	case wasmir.OpI64LeS:
		return wasmtypes.I64, opstack.CondLeS, false
	case wasmir.OpI64LeU:
		return wasmtypes.I64, opstack.CondLeU, false
	case wasmir.OpI64GeS:
		return wasmtypes.I64, opstack.CondGeS, false
	case wasmir.OpI64GeU:
		return wasmtypes.I64, opstack.CondGeU, false
	case wasmir.OpF32Eq:
		return wasmtypes.F32, opstack.CondEqF, false
	case wasmir.OpF32Ne:
		return wasmtypes.F32, opstack.CondNeF, false
	case wasmir.OpF32Lt:
		return wasmtypes.F32, opstack.CondLtF, false
	case wasmir.OpF32Gt:
		return wasmtypes.F32, opstack.CondGtF, false
	case wasmir.OpF32Le:
		return wasmtypes.F32, opstack.CondLeF, false
	case wasmir.OpF32Ge:
		return wasmtypes.F32, opstack.CondGeF, false
	case wasmir.OpF64Eq:
		return wasmtypes.F64, opstack.CondEqF, false
	case wasmir.OpF64Ne:
		return wasmtypes.F64, opstack.CondNeF, false
	case wasmir.OpF64Lt:
		return wasmtypes.F64, opstack.CondLtF, false
	case wasmir.OpF64Gt:
		return wasmtypes.F64, opstack.CondGtF, false
	case wasmir.OpF64Le:
		return wasmtypes.F64, opstack.CondLeF, false
	case wasmir.OpF64Ge:
		return wasmtypes.F64, opstack.CondGeF, false
	}
	return wasmtypes.I32, opstack.CondEq, false
}

// opCompare implements every Eq/Ne/Lt/Gt/Le/Ge/Eqz opcode by emitting the
// flags-setting instruction and pushing a KindPendingComparison instead of a
// materialized 0/1 value (spec §4.11). Eqz is a unary compare against the
// constant zero of the same width.
func (c *Compiler) opCompare(op wasmir.Opcode) error {
	t, cond, unary := compareShape(op)
	if unary {
		// Eqz over a pending integer comparison flips its condition in place
		// and emits nothing; a float condition's plain negation is wrong for
		// NaN operands, so that case is materialized below instead.
		if top := c.stack.Top(); top != nil && top.Kind == opstack.KindPendingComparison && !top.Cond.IsFloat() {
			top.Cond = top.Cond.Negate()
			return nil
		}
	}
	var rhs *opstack.Element
	lhs, err := c.popOperand()
	if err != nil {
		return err
	}
	if unary {
		rhs = nil
	} else {
		rhs, err = c.popOperand()
		if err != nil {
			return err
		}
		lhs, rhs = rhs, lhs // restore source order: the operand popped second was pushed first
	}

	var lhsStorage, rhsStorage isa.VariableStorage
	lhsStorage = c.storageOf(lhs)
	if unary {
		rhsStorage = isa.ConstantStorage(0, t)
	} else {
		rhsStorage = c.storageOf(rhs)
	}
	if !lhsStorage.IsRegister() && !rhsStorage.IsRegister() {
		reg, _, err := c.liftToRegInPlaceProt(lhs)
		if err != nil {
			return err
		}
		lhsStorage = isa.RegisterStorage(reg, t)
	}
	if err := c.Backend.EmitCompare(c.W, t, lhsStorage, rhsStorage); err != nil {
		return err
	}
	if lhs.Kind == opstack.KindRegister {
		c.releaseReg(lhs.RegType, lhs.register())
	}
	c.stack.Free(lhs)
	if rhs != nil {
		if rhs.Kind == opstack.KindRegister {
			c.releaseReg(rhs.RegType, rhs.register())
		}
		c.stack.Free(rhs)
	}
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindPendingComparison
		e.Type = wasmtypes.I32
		e.Cond = cond
	})
	return nil
}

func unaryShape(op wasmir.Opcode) wasmtypes.MachineType {
	switch op {
	case wasmir.OpI32Clz, wasmir.OpI32Ctz, wasmir.OpI32Popcnt:
		return wasmtypes.I32
	case wasmir.OpI64Clz, wasmir.OpI64Ctz, wasmir.OpI64Popcnt:
		return wasmtypes.I64
	case wasmir.OpF32Abs, wasmir.OpF32Neg, wasmir.OpF32Ceil, wasmir.OpF32Floor, wasmir.OpF32Trunc, wasmir.OpF32Nearest, wasmir.OpF32Sqrt:
		return wasmtypes.F32
	default:
		return wasmtypes.F64
	}
}

// opUnary implements the clz/ctz/popcnt/abs/neg/ceil/floor/trunc/nearest/sqrt
// family (spec §4.8's UnOpCandidates/EmitUnOp, the unary sibling of
// selectBinOp): the operand is lifted into a register (every backend's unary
// forms are register-to-register) and the result overwrites it in place.
func (c *Compiler) opUnary(op wasmir.Opcode) error {
	e, err := c.popOperand()
	if err != nil {
		return err
	}
	t := unaryShape(op)
	reg, tp, err := c.liftToRegInPlaceProt(e)
	if err != nil {
		return err
	}
	candidates := c.Backend.UnOpCandidates(op)
	if len(candidates) == 0 {
		return wrapUnsupported("no UnOp candidate for opcode")
	}
	dst := isa.RegisterStorage(reg, t)
	if err := c.Backend.EmitUnOp(c.W, candidates[0].Template, t, dst); err != nil {
		return err
	}
	c.stack.Push(func(ne *opstack.Element) {
		ne.Kind = opstack.KindRegister
		ne.Reg = reg
		ne.RegType = tp
		ne.Type = t
	})
	return nil
}

// conversionShape returns the source/destination types and whether the
// integer side of a truncation/extension is treated as signed.
func conversionShape(op wasmir.Opcode) (src, dst wasmtypes.MachineType, signed bool, isTrunc bool) {
	switch op {
	case wasmir.OpI32WrapI64:
		return wasmtypes.I64, wasmtypes.I32, false, false
	case wasmir.OpI64ExtendI32S:
		return wasmtypes.I32, wasmtypes.I64, true, false
	case wasmir.OpI64ExtendI32U:
		return wasmtypes.I32, wasmtypes.I64, false, false
	case wasmir.OpI32TruncF32S:
		return wasmtypes.F32, wasmtypes.I32, true, true
	case wasmir.OpI32TruncF32U:
		return wasmtypes.F32, wasmtypes.I32, false, true
	case wasmir.OpI32TruncF64S:
		return wasmtypes.F64, wasmtypes.I32, true, true
	case wasmir.OpI32TruncF64U:
		return wasmtypes.F64, wasmtypes.I32, false, true
	case wasmir.OpI64TruncF32S:
		return wasmtypes.F32, wasmtypes.I64, true, true
	case wasmir.OpI64TruncF32U:
		return wasmtypes.F32, wasmtypes.I64, false, true
	case wasmir.OpI64TruncF64S:
		return wasmtypes.F64, wasmtypes.I64, true, true
	case wasmir.OpI64TruncF64U:
		return wasmtypes.F64, wasmtypes.I64, false, true
	case wasmir.OpF32ConvertI32S:
		return wasmtypes.I32, wasmtypes.F32, true, false
	case wasmir.OpF32ConvertI32U:
		return wasmtypes.I32, wasmtypes.F32, false, false
	case wasmir.OpF32ConvertI64S:
		return wasmtypes.I64, wasmtypes.F32, true, false
	case wasmir.OpF32ConvertI64U:
		return wasmtypes.I64, wasmtypes.F32, false, false
	case wasmir.OpF32DemoteF64:
		return wasmtypes.F64, wasmtypes.F32, false, false
	case wasmir.OpF64ConvertI32S:
		return wasmtypes.I32, wasmtypes.F64, true, false
	case wasmir.OpF64ConvertI32U:
		return wasmtypes.I32, wasmtypes.F64, false, false
	case wasmir.OpF64ConvertI64S:
		return wasmtypes.I64, wasmtypes.F64, true, false
	case wasmir.OpF64ConvertI64U:
		return wasmtypes.I64, wasmtypes.F64, false, false
	case wasmir.OpF64PromoteF32:
		return wasmtypes.F32, wasmtypes.F64, false, false
	case wasmir.OpI32ReinterpretF32:
		return wasmtypes.F32, wasmtypes.I32, false, false
	case wasmir.OpI64ReinterpretF64:
		return wasmtypes.F64, wasmtypes.I64, false, false
	case wasmir.OpF32ReinterpretI32:
		return wasmtypes.I32, wasmtypes.F32, false, false
	case wasmir.OpF64ReinterpretI64:
		return wasmtypes.I64, wasmtypes.F64, false, false
	}
	return wasmtypes.I32, wasmtypes.I32, false, false
}

// opConversion implements every opcode that changes a value's MachineType
// without doing arithmetic: wrap, extend, truncate (float->int, spec §4.12,
// trap-checked), convert (int->float), demote/promote, and the bit-pattern
// reinterprets. All but truncation reuse EmitUnOp/EmitMove's machinery
// because the backend's move/convert instructions already change width or
// register class as a side effect; truncation alone needs the dedicated
// boundary-check sequence.
func (c *Compiler) opConversion(op wasmir.Opcode) error {
	e, err := c.popOperand()
	if err != nil {
		return err
	}
	srcType, dstType, signed, isTrunc := conversionShape(op)
	srcReg, _, err := c.liftToRegInPlaceProt(e)
	if err != nil {
		return err
	}
	dstTp := regTypeOf(dstType)
	dstReg, err := c.acquireReg(dstTp)
	if err != nil {
		return err
	}
	srcStorage := isa.RegisterStorage(srcReg, srcType)
	dstStorage := isa.RegisterStorage(dstReg, dstType)
	if isTrunc {
		if err := c.Backend.EmitTruncToInt(c.W, srcType, dstType, signed, srcStorage, dstStorage); err != nil {
			return err
		}
	} else {
		candidates := c.Backend.UnOpCandidates(op)
		if len(candidates) == 0 {
			return wrapUnsupported("no conversion candidate for opcode")
		}
		if err := c.Backend.EmitUnOp(c.W, candidates[0].Template, dstType, dstStorage); err != nil {
			return err
		}
	}
	c.releaseReg(e.RegType, srcReg)
	c.stack.Free(e)
	c.stack.Push(func(ne *opstack.Element) {
		ne.Kind = opstack.KindRegister
		ne.Reg = dstReg
		ne.RegType = dstTp
		ne.Type = dstType
	})
	return nil
}

// opBinary implements every remaining two-operand arithmetic/bitwise opcode
// (add/sub/mul/div/rem/and/or/xor/shl/shr/rotl/rotr/min/max/copysign) via
// selectBinOp/emitBinOp (spec §4.8).
func (c *Compiler) opBinary(op wasmir.Opcode) error {
	rhs, err := c.popOperand()
	if err != nil {
		return err
	}
	lhs, err := c.popOperand()
	if err != nil {
		return err
	}
	t := lhs.Type
	if err := c.emitBinOp(op, t, lhs, rhs); err != nil {
		return err
	}
	if rhs.Kind == opstack.KindRegister {
		c.releaseReg(rhs.RegType, rhs.register())
	}
	c.stack.Free(rhs)
	c.stack.Reinsert(lhs)
	return nil
}
