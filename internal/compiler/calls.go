package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// marshalArgs pops len(sig.Params) operands (in reverse, since the last
// pushed argument is the topmost) and moves each into its ABI argument
// register, spilling anything already resident there first (spec §4.10).
func (c *Compiler) marshalArgs(sig wasmtypes.Signature) error {
	n := len(sig.Params)
	args := make([]*opstack.Element, n)
	for i := n - 1; i >= 0; i-- {
		e, err := c.popOperand()
		if err != nil {
			return err
		}
		args[i] = e
	}

	gpUsed, flUsed := 0, 0
	for i, t := range sig.Params {
		tp := regTypeOf(t)
		regs := c.Backend.ArgRegisters(tp)
		var slot int
		if tp == isa.Float {
			slot, flUsed = flUsed, flUsed+1
		} else {
			slot, gpUsed = gpUsed, gpUsed+1
		}
		if slot >= len(regs) {
			return wrapLimit(wasmtypes.LimitArgumentCount, t.String())
		}
		target := regs[slot]
		if occupant := c.stack.LastReferenceTo(tp, target); occupant != nil && occupant != args[i] {
			if err := c.spillElement(occupant); err != nil {
				return err
			}
		}
		src := c.storageOf(args[i])
		dst := isa.RegisterStorage(target, t)
		if !src.EqualLocation(dst) {
			if err := c.Backend.EmitMove(c.W, t, src, dst); err != nil {
				return err
			}
		}
		c.markUsed(tp, target)
	}
	for _, e := range args {
		if e.Kind == opstack.KindRegister {
			c.releaseReg(e.RegType, e.register())
		}
		c.stack.Free(e)
	}
	return nil
}

// pushResults pushes sig.Results onto the stack, reading them out of the
// ABI's return registers (spec §4.10: the driver's view of a call's result
// is exactly the same as a block's canonical-result-register convention).
func (c *Compiler) pushResults(sig wasmtypes.Signature) {
	for _, t := range sig.Results {
		tp := regTypeOf(t)
		reg := c.resultReg(t)
		c.markUsed(tp, reg)
		c.stack.Push(func(e *opstack.Element) {
			e.Kind = opstack.KindRegister
			e.Reg = reg
			e.RegType = tp
			e.Type = t
		})
	}
}

func (c *Compiler) opCall(instr wasmir.Instruction) error {
	fn := c.Module.Source.Functions[instr.Index]
	sig := c.Module.Source.Signatures[fn.SigIndex]
	if fn.Import != nil && fn.Import.ABI == wasmtypes.ImportABIV2 {
		return wrapUnsupported("v2 import ABI")
	}
	if err := c.marshalArgs(sig); err != nil {
		return err
	}
	if fn.Import != nil {
		if err := c.Backend.EmitCallImported(c.W, fn.Import, sig); err != nil {
			return err
		}
	} else {
		head := &c.Module.FuncPatchHeads[instr.Index]
		if err := c.Backend.EmitCallInternal(c.W, head); err != nil {
			return err
		}
	}
	c.pushResults(sig)
	return nil
}

func (c *Compiler) opCallIndirect(instr wasmir.Instruction) error {
	tableIdx, err := c.popOperand()
	if err != nil {
		return err
	}
	sig := c.Module.Source.Signatures[instr.Index]
	tableIdxReg, _, err := c.liftToRegInPlaceProt(tableIdx)
	if err != nil {
		return err
	}
	tableIdxStorage := isa.RegisterStorage(tableIdxReg, wasmtypes.I32)

	if err := c.marshalArgs(sig); err != nil {
		return err
	}
	if err := c.Backend.EmitCallIndirect(c.W, c.Module.Source.Table, instr.Index, tableIdxStorage); err != nil {
		return err
	}
	c.releaseReg(tableIdx.RegType, tableIdxReg)
	c.stack.Free(tableIdx)
	c.pushResults(sig)
	return nil
}

// currentSignature returns the signature of the function currently being
// compiled.
func (c *Compiler) currentSignature() wasmtypes.Signature {
	return c.Module.Source.Signatures[c.Module.Fnc.SigIndex]
}

// opReturn implements the return opcode: normalize the function's results
// into their canonical result registers, which EmitFunctionEpilogue reads
// from, then marks the rest of the current block dead.
func (c *Compiler) opReturn() error {
	sig := c.currentSignature()
	for i := len(sig.Results) - 1; i >= 0; i-- {
		t := sig.Results[i]
		top, err := c.popOperand()
		if err != nil {
			return err
		}
		dst := isa.RegisterStorage(c.resultReg(t), t)
		src := c.storageOf(top)
		if !src.EqualLocation(dst) {
			if err := c.Backend.EmitMove(c.W, t, src, dst); err != nil {
				return err
			}
		}
		if top.Kind == opstack.KindRegister {
			c.releaseReg(top.RegType, top.register())
		}
		c.stack.Free(top)
	}
	if err := c.Backend.EmitFunctionEpilogue(c.W, c.Module.Fnc.StackFrameSizeCeil, sig.Results); err != nil {
		return err
	}
	c.unreachable = true
	return nil
}

// opBrTable implements br_table as a linear scan of equality compares
// against the scrutinee followed by conditional branches, falling through
// to the default target (spec §4.9's br_table; this compiler has no
// constant-time jump-table lowering, a documented scope simplification, see
// DESIGN.md).
func (c *Compiler) opBrTable(instr wasmir.Instruction) error {
	idx, err := c.popOperand()
	if err != nil {
		return err
	}
	idxReg, _, err := c.liftToRegInPlaceProt(idx)
	if err != nil {
		return err
	}
	idxStorage := isa.RegisterStorage(idxReg, wasmtypes.I32)

	for i, depth := range instr.BrTableTargets {
		target := c.targetBlock(depth)
		if err := c.Backend.EmitCompare(c.W, wasmtypes.I32, idxStorage, isa.ConstantStorage(uint64(i), wasmtypes.I32)); err != nil {
			return err
		}
		if err := c.condBranchTo(target, opstack.CondEq, false); err != nil {
			return err
		}
	}
	c.releaseReg(idx.RegType, idxReg)
	c.stack.Free(idx)

	defaultTarget := c.targetBlock(instr.BrTableDefault)
	if err := c.branchTo(defaultTarget); err != nil {
		return err
	}
	c.unreachable = true
	return nil
}
