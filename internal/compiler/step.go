package compiler

import (
	"math"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/trapcode"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// step compiles one instruction, dispatching by Opcode. It is the Go
// analogue of wazero's giant "compiler" interface's per-opcode methods
// (compiler.go), collapsed into one switch because this module's Backend
// already factors the ISA-specific part out into the handful of Emit*
// methods in backend.go.
func (c *Compiler) step(instr wasmir.Instruction) error {
	switch instr.Op {
	case wasmir.OpBlock:
		return c.opBlock(instr)
	case wasmir.OpLoop:
		return c.opLoop(instr)
	case wasmir.OpIf:
		return c.opIf(instr)
	case wasmir.OpElse:
		return c.opElse()
	case wasmir.OpEnd:
		return c.opEnd()
	}

	if c.unreachable {
		// Dead code until the matching Else/End; skip compiling it. Control
		// opcodes handled above are the only way out of this state.
		return nil
	}

	switch instr.Op {
	case wasmir.OpUnreachable:
		if err := c.Backend.EmitTrap(c.W, trapcode.BuiltinTrap); err != nil {
			return err
		}
		c.unreachable = true
		return nil
	case wasmir.OpNop:
		return nil
	case wasmir.OpBr:
		return c.opBr(instr)
	case wasmir.OpBrIf:
		return c.opBrIf(instr)
	case wasmir.OpBrTable:
		return c.opBrTable(instr)
	case wasmir.OpReturn:
		return c.opReturn()
	case wasmir.OpCall:
		return c.opCall(instr)
	case wasmir.OpCallIndirect:
		return c.opCallIndirect(instr)
	case wasmir.OpDrop:
		return c.opDrop()
	case wasmir.OpSelect:
		return c.opSelect()
	case wasmir.OpLocalGet:
		return c.opLocalGet(instr)
	case wasmir.OpLocalSet:
		return c.opLocalSet(instr, false)
	case wasmir.OpLocalTee:
		return c.opLocalSet(instr, true)
	case wasmir.OpGlobalGet:
		return c.opGlobalGet(instr)
	case wasmir.OpGlobalSet:
		return c.opGlobalSet(instr)
	case wasmir.OpI32Const:
		return c.pushConst(wasmtypes.I32, uint64(uint32(instr.ConstI32)))
	case wasmir.OpI64Const:
		return c.pushConst(wasmtypes.I64, uint64(instr.ConstI64))
	case wasmir.OpF32Const:
		return c.pushConst(wasmtypes.F32, uint64(math.Float32bits(instr.ConstF32)))
	case wasmir.OpF64Const:
		return c.pushConst(wasmtypes.F64, math.Float64bits(instr.ConstF64))
	case wasmir.OpMemorySize:
		return c.opMemorySize()
	case wasmir.OpMemoryGrow:
		return c.opMemoryGrow()
	}

	if isLoadOp(instr.Op) {
		return c.opLoad(instr)
	}
	if isStoreOp(instr.Op) {
		return c.opStore(instr)
	}
	if isCompareOp(instr.Op) {
		return c.opCompare(instr.Op)
	}
	if isUnOp(instr.Op) {
		return c.opUnary(instr.Op)
	}
	if isConversionOp(instr.Op) {
		return c.opConversion(instr.Op)
	}
	// Everything else is a plain binary arithmetic/bitwise opcode.
	return c.opBinary(instr.Op)
}

func (c *Compiler) pushConst(t wasmtypes.MachineType, bits uint64) error {
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindConstant
		e.Type = t
		e.ConstBits = bits
	})
	return nil
}

func (c *Compiler) opDrop() error {
	e, err := c.popOperand()
	if err != nil {
		return err
	}
	if e.Kind == opstack.KindRegister {
		c.releaseReg(e.RegType, e.register())
	}
	c.stack.Free(e)
	return nil
}

func (c *Compiler) opSelect() error {
	cond, err := c.popOperand()
	if err != nil {
		return err
	}
	b, err := c.popOperand()
	if err != nil {
		return err
	}
	a, err := c.popOperand()
	if err != nil {
		return err
	}
	t := a.Type

	var cc opstack.BranchCondition
	negate := false
	if cond.Kind == opstack.KindPendingComparison {
		cc = cond.Cond
	} else {
		reg, _, err := c.liftToRegInPlaceProt(cond)
		if err != nil {
			return err
		}
		if err := c.Backend.EmitCompare(c.W, wasmtypes.I32, isa.RegisterStorage(reg, wasmtypes.I32), isa.ConstantStorage(0, wasmtypes.I32)); err != nil {
			return err
		}
		cc = opstack.CondNe
	}
	if cond.Kind == opstack.KindRegister {
		c.releaseReg(cond.RegType, cond.register())
	}
	c.stack.Free(cond)

	// a is the true-case value; lift it into a register as the destination,
	// then have the backend conditionally overwrite it with b.
	aReg, tp, err := c.liftToRegInPlaceProt(a)
	if err != nil {
		return err
	}
	// EmitSelect's branch-sequence lowering (amd64: a short conditional skip
	// around a plain move) needs b in a register, since there is no
	// reg/mem-operand form of that move worth special-casing here.
	bReg, _, err := c.liftToRegInPlaceProt(b)
	if err != nil {
		return err
	}
	bStorage := isa.RegisterStorage(bReg, t)
	if err := c.Backend.EmitSelect(c.W, t, cc, negate, isa.RegisterStorage(aReg, t), bStorage); err != nil {
		return err
	}
	c.releaseReg(b.RegType, bReg)
	c.stack.Free(b)
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindRegister
		e.Reg = aReg
		e.RegType = tp
		e.Type = t
	})
	return nil
}
