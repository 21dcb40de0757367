package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func isLoadOp(op wasmir.Opcode) bool {
	return op >= wasmir.OpI32Load && op <= wasmir.OpI64Load32U
}

func isStoreOp(op wasmir.Opcode) bool {
	return op >= wasmir.OpI32Store && op <= wasmir.OpI64Store32
}

func loadShape(op wasmir.Opcode) (t wasmtypes.MachineType, ext LoadExtend) {
	switch op {
	case wasmir.OpI32Load:
		return wasmtypes.I32, ExtendNone
	case wasmir.OpI64Load:
		return wasmtypes.I64, ExtendNone
	case wasmir.OpF32Load:
		return wasmtypes.F32, ExtendNone
	case wasmir.OpF64Load:
		return wasmtypes.F64, ExtendNone
	case wasmir.OpI32Load8S:
		return wasmtypes.I32, ExtendS8
	case wasmir.OpI32Load8U:
		return wasmtypes.I32, ExtendU8
	case wasmir.OpI32Load16S:
		return wasmtypes.I32, ExtendS16
	case wasmir.OpI32Load16U:
		return wasmtypes.I32, ExtendU16
	case wasmir.OpI64Load8S:
		return wasmtypes.I64, ExtendS8
	case wasmir.OpI64Load8U:
		return wasmtypes.I64, ExtendU8
	case wasmir.OpI64Load16S:
		return wasmtypes.I64, ExtendS16
	case wasmir.OpI64Load16U:
		return wasmtypes.I64, ExtendU16
	case wasmir.OpI64Load32S:
		return wasmtypes.I64, ExtendS32
	case wasmir.OpI64Load32U:
		return wasmtypes.I64, ExtendU32
	}
	return wasmtypes.I32, ExtendNone
}

func storeShape(op wasmir.Opcode) (t wasmtypes.MachineType, trunc StoreTrunc) {
	switch op {
	case wasmir.OpI32Store:
		return wasmtypes.I32, TruncNone
	case wasmir.OpI64Store:
		return wasmtypes.I64, TruncNone
	case wasmir.OpF32Store:
		return wasmtypes.F32, TruncNone
	case wasmir.OpF64Store:
		return wasmtypes.F64, TruncNone
	case wasmir.OpI32Store8:
		return wasmtypes.I32, Trunc8
	case wasmir.OpI32Store16:
		return wasmtypes.I32, Trunc16
	case wasmir.OpI64Store8:
		return wasmtypes.I64, Trunc8
	case wasmir.OpI64Store16:
		return wasmtypes.I64, Trunc16
	case wasmir.OpI64Store32:
		return wasmtypes.I64, Trunc32
	}
	return wasmtypes.I32, TruncNone
}

func (c *Compiler) opLoad(instr wasmir.Instruction) error {
	addr, err := c.popOperand()
	if err != nil {
		return err
	}
	addrReg, _, err := c.liftToRegInPlaceProt(addr)
	if err != nil {
		return err
	}
	t, ext := loadShape(instr.Op)
	tp := regTypeOf(t)
	dstReg, err := c.acquireReg(tp)
	if err != nil {
		return err
	}
	dst := isa.RegisterStorage(dstReg, t)
	if err := c.Backend.EmitBoundsCheckAndLoad(c.W, t, ext, isa.RegisterStorage(addrReg, wasmtypes.I32), instr.Mem, dst); err != nil {
		return err
	}
	c.releaseReg(addr.RegType, addrReg)
	c.stack.Free(addr)
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindRegister
		e.Reg = dstReg
		e.RegType = tp
		e.Type = t
	})
	return nil
}

func (c *Compiler) opStore(instr wasmir.Instruction) error {
	val, err := c.popOperand()
	if err != nil {
		return err
	}
	addr, err := c.popOperand()
	if err != nil {
		return err
	}
	addrReg, _, err := c.liftToRegInPlaceProt(addr)
	if err != nil {
		return err
	}
	t, trunc := storeShape(instr.Op)
	valStorage := c.storageOf(val)
	if err := c.Backend.EmitBoundsCheckAndStore(c.W, t, trunc, isa.RegisterStorage(addrReg, wasmtypes.I32), instr.Mem, valStorage); err != nil {
		return err
	}
	c.releaseReg(addr.RegType, addrReg)
	c.stack.Free(addr)
	if val.Kind == opstack.KindRegister {
		c.releaseReg(val.RegType, val.register())
	}
	c.stack.Free(val)
	return nil
}

func (c *Compiler) opMemorySize() error {
	tp := isa.GeneralPurpose
	reg, err := c.acquireReg(tp)
	if err != nil {
		return err
	}
	if err := c.Backend.EmitMemorySize(c.W, isa.RegisterStorage(reg, wasmtypes.I32)); err != nil {
		return err
	}
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindRegister
		e.Reg = reg
		e.RegType = tp
		e.Type = wasmtypes.I32
	})
	return nil
}

func (c *Compiler) opMemoryGrow() error {
	delta, err := c.popOperand()
	if err != nil {
		return err
	}
	deltaStorage := c.storageOf(delta)
	tp := isa.GeneralPurpose
	reg, err := c.acquireReg(tp)
	if err != nil {
		return err
	}
	if err := c.Backend.EmitMemoryGrow(c.W, deltaStorage, isa.RegisterStorage(reg, wasmtypes.I32)); err != nil {
		return err
	}
	if delta.Kind == opstack.KindRegister {
		c.releaseReg(delta.RegType, delta.register())
	}
	c.stack.Free(delta)
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindRegister
		e.Reg = reg
		e.RegType = tp
		e.Type = wasmtypes.I32
	})
	return nil
}
