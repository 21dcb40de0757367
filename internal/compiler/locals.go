package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
)

func (c *Compiler) opLocalGet(instr wasmir.Instruction) error {
	def := c.Module.Fnc.LocalDefs[instr.Index]
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindLocal
		e.Index = instr.Index
		e.Type = def.Type
		e.LocalInRegister = def.InRegister
		if def.InRegister {
			e.Reg = def.Reg
			e.RegType = def.RegType
		} else {
			e.LocalOffset = def.StackOffset
		}
	})
	return nil
}

// opLocalSet implements both local.set (pop) and local.tee (peek): the
// value on top is written into the local's storage; tee additionally keeps
// it on the operand stack.
func (c *Compiler) opLocalSet(instr wasmir.Instruction, tee bool) error {
	var top *opstack.Element
	var err error
	if tee {
		top = c.stack.Top()
		if top.Kind == opstack.KindPendingComparison {
			if err := c.condenseValentBlockBelow(top); err != nil {
				return err
			}
		}
	} else {
		top, err = c.popOperand()
		if err != nil {
			return err
		}
	}
	def := c.Module.Fnc.LocalDefs[instr.Index]
	var dst isa.VariableStorage
	if def.InRegister {
		dst = isa.RegisterStorage(def.Reg, def.Type)
	} else {
		dst = isa.StackMemoryStorage(def.StackOffset, def.Type)
	}
	src := c.storageOf(top)
	if !src.EqualLocation(dst) {
		if err := c.Backend.EmitMove(c.W, def.Type, src, dst); err != nil {
			return err
		}
	}
	if !tee {
		if top.Kind == opstack.KindRegister {
			c.releaseReg(top.RegType, top.register())
		}
		c.stack.Free(top)
	}
	return nil
}

func (c *Compiler) opGlobalGet(instr wasmir.Instruction) error {
	def := c.Module.GlobalDefs[instr.Index]
	c.stack.Push(func(e *opstack.Element) {
		e.Kind = opstack.KindGlobal
		e.Index = instr.Index
		e.Type = def.Type
		e.GlobalInLinkData = !def.InRegister
		if def.InRegister {
			e.Reg = def.Reg
			e.RegType = def.RegType
		} else {
			e.GlobalLinkOffset = def.LinkOffset
		}
	})
	return nil
}

func (c *Compiler) opGlobalSet(instr wasmir.Instruction) error {
	top, err := c.popOperand()
	if err != nil {
		return err
	}
	def := c.Module.GlobalDefs[instr.Index]
	var dst isa.VariableStorage
	if def.InRegister {
		dst = isa.RegisterStorage(def.Reg, def.Type)
	} else {
		dst = isa.LinkDataStorage(def.LinkOffset, def.Type)
	}
	src := c.storageOf(top)
	if !src.EqualLocation(dst) {
		if err := c.Backend.EmitMove(c.W, def.Type, src, dst); err != nil {
			return err
		}
	}
	if top.Kind == opstack.KindRegister {
		c.releaseReg(top.RegType, top.register())
	}
	c.stack.Free(top)
	return nil
}
