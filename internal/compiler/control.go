package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// blockInfo is the driver's bookkeeping for one open structured-control-flow
// region, kept alongside (not instead of) the opstack.Element marker of the
// same region: the Element records what spec §4.9 calls the block's type
// payload (SigIndex/EntryStackFrameSize/PatchList/LoopStartBinaryPos)
// directly on the stack, per spec's design; blockInfo adds the handful of
// driver-only fields (the open-block index stack, the result register
// convention) that don't need arena lifetime.
type blockInfo struct {
	anchor     *opstack.Element
	isLoop     bool
	isIf       bool
	hasElse    bool
	resultType *wasmtypes.MachineType
	// elseJump is the If's "branch to else" patch, resolved when Else (or,
	// for an If with no Else, End) is reached.
	elseJump opstack.RelPatch
}

// resultReg is the fixed per-type register every block/loop/if/function
// result is normalized into before a branch or fallthrough reaches the
// block's End (spec §4.9's "the emitted SP equals the block's
// entryStackFrameSize" extended here to "the result lives in a known place
// regardless of which edge reached End"). WebAssembly 1.0 blocks carry at
// most one result value (pre multi-value proposal), so a single fixed
// register per register file is sufficient; see DESIGN.md.
func (c *Compiler) resultReg(t wasmtypes.MachineType) isa.Register {
	scratch, _ := c.pool(regTypeOf(t))
	return scratch[0]
}

func (c *Compiler) pushBlockMarker(kind opstack.Kind, bt wasmir.BlockType, info *blockInfo) {
	info.resultType = bt.ValueOnly
	anchor := c.stack.Push(func(e *opstack.Element) {
		e.Kind = kind
		e.SigIndex = bt.SigIndex
		e.EntryStackFrameSize = c.Module.Fnc.StackFrameSize
	})
	info.anchor = anchor
	c.openBlocks = append(c.openBlocks, info)
}

// finalizeEdge normalizes whatever is on top of the stack (the block's
// result, if its signature carries one) into the canonical result register
// before a Br/BrIf/BrTable/fallthrough reaches a block boundary.
func (c *Compiler) finalizeEdge(info *blockInfo) error {
	if info.resultType == nil {
		return nil
	}
	top, err := c.popOperand()
	if err != nil {
		return err
	}
	reg := c.resultReg(*info.resultType)
	dst := isa.RegisterStorage(reg, *info.resultType)
	src := c.storageOf(top)
	if !src.EqualLocation(dst) {
		if err := c.Backend.EmitMove(c.W, *info.resultType, src, dst); err != nil {
			return err
		}
	}
	if top.OnRegister() && top.Kind == opstack.KindRegister {
		c.releaseReg(top.RegType, top.register())
	}
	c.stack.Free(top)
	return nil
}

// targetBlock returns the blockInfo for a relative branch depth (0 =
// innermost).
func (c *Compiler) targetBlock(depth uint32) *blockInfo {
	return c.openBlocks[len(c.openBlocks)-1-int(depth)]
}

// peekResultIntoCanonicalReg moves (without popping) the block result
// currently on top of the stack into info's canonical result register, so
// every edge reaching info's End/loop-header agrees on where the value
// lives. A no-op if info carries no result. Used by both Br (which then
// pops) and BrIf (which must leave the value in place for the fallthrough
// path, per WebAssembly's br_if typing: [t* i32] -> [t*]).
func (c *Compiler) peekResultIntoCanonicalReg(info *blockInfo) error {
	if info.resultType == nil {
		return nil
	}
	top := c.stack.Top()
	reg := c.resultReg(*info.resultType)
	tp := regTypeOf(*info.resultType)
	dst := isa.RegisterStorage(reg, *info.resultType)
	cur := c.storageOf(top)
	if cur.EqualLocation(dst) {
		return nil
	}
	if occupant := c.stack.LastReferenceTo(tp, reg); occupant != nil && occupant != top {
		if err := c.spillElement(occupant); err != nil {
			return err
		}
	}
	if err := c.Backend.EmitMove(c.W, *info.resultType, cur, dst); err != nil {
		return err
	}
	if top.Kind == opstack.KindRegister {
		c.releaseReg(top.RegType, top.register())
	}
	c.stack.Rebind(top, opstack.KindRegister, tp, reg)
	c.markUsed(tp, reg)
	return nil
}

// branchTo implements an unconditional Br to info: the result (if any) is
// normalized into the canonical register and popped, the frame is unwound to
// the block's entry size, then control jumps to the target (backward, for a
// Loop whose header already has a known position; otherwise a forward patch
// appended to the target's PatchList, resolved at its End).
func (c *Compiler) branchTo(info *blockInfo) error {
	if err := c.peekResultIntoCanonicalReg(info); err != nil {
		return err
	}
	if info.resultType != nil {
		top, err := c.popOperand()
		if err != nil {
			return err
		}
		c.stack.Free(top)
	}
	c.Module.Fnc.ShrinkFrameTo(info.anchor.EntryStackFrameSize)
	if info.isLoop {
		return c.Backend.EmitJumpBackTo(c.W, info.anchor.LoopStartBinaryPos)
	}
	patch, err := c.Backend.EmitJumpPlaceholder(c.W)
	if err != nil {
		return err
	}
	info.anchor.PatchList = append(info.anchor.PatchList, patch)
	return nil
}

// condBranchTo is branchTo's BrIf counterpart: the result is normalized into
// the canonical register but left on the stack (the fallthrough path keeps
// using it), and the jump itself is conditional.
func (c *Compiler) condBranchTo(info *blockInfo, cond opstack.BranchCondition, negate bool) error {
	if err := c.peekResultIntoCanonicalReg(info); err != nil {
		return err
	}
	if info.isLoop {
		return c.Backend.EmitCondJumpBackTo(c.W, cond, negate, info.anchor.LoopStartBinaryPos)
	}
	patch, err := c.Backend.EmitCondJumpPlaceholder(c.W, cond, negate)
	if err != nil {
		return err
	}
	info.anchor.PatchList = append(info.anchor.PatchList, patch)
	return nil
}

func (c *Compiler) opBlock(instr wasmir.Instruction) error {
	info := &blockInfo{}
	c.pushBlockMarker(opstack.KindBlock, instr.Block, info)
	return nil
}

func (c *Compiler) opLoop(instr wasmir.Instruction) error {
	info := &blockInfo{isLoop: true}
	c.pushBlockMarker(opstack.KindLoop, instr.Block, info)
	info.anchor.LoopStartBinaryPos = c.W.Size()
	return nil
}

func (c *Compiler) opIf(instr wasmir.Instruction) error {
	cond, err := c.popOperand()
	if err != nil {
		return err
	}
	var elseJump opstack.RelPatch
	if cond.Kind == opstack.KindPendingComparison {
		elseJump, err = c.Backend.EmitCondJumpPlaceholder(c.W, cond.Cond, true)
	} else {
		reg, _, lerr := c.liftToRegInPlaceProt(cond)
		if lerr != nil {
			return lerr
		}
		if err := c.Backend.EmitCompare(c.W, wasmtypes.I32, isa.RegisterStorage(reg, wasmtypes.I32), isa.ConstantStorage(0, wasmtypes.I32)); err != nil {
			return err
		}
		elseJump, err = c.Backend.EmitCondJumpPlaceholder(c.W, opstack.CondEq, false)
	}
	if err != nil {
		return err
	}
	if cond.Kind == opstack.KindRegister {
		c.releaseReg(cond.RegType, cond.register())
	}
	c.stack.Free(cond)

	info := &blockInfo{isIf: true, elseJump: elseJump}
	c.pushBlockMarker(opstack.KindIfBlock, instr.Block, info)
	return nil
}

func (c *Compiler) opElse() error {
	info := c.openBlocks[len(c.openBlocks)-1]
	if !c.unreachable {
		if err := c.finalizeEdge(info); err != nil {
			return err
		}
		c.Module.Fnc.ShrinkFrameTo(info.anchor.EntryStackFrameSize)
		endJump, err := c.Backend.EmitJumpPlaceholder(c.W)
		if err != nil {
			return err
		}
		info.anchor.PatchList = append(info.anchor.PatchList, endJump)
	}
	c.unreachable = false
	if err := info.elseJump.LinkToHere(); err != nil {
		return err
	}
	info.hasElse = true
	return nil
}

func (c *Compiler) opEnd() error {
	if len(c.openBlocks) == 0 {
		return nil // function-level End; caller (compile.go) handles the epilogue.
	}
	info := c.openBlocks[len(c.openBlocks)-1]
	c.openBlocks = c.openBlocks[:len(c.openBlocks)-1]

	wasUnreachable := c.unreachable
	if !wasUnreachable {
		if err := c.finalizeEdge(info); err != nil {
			return err
		}
	}
	c.unreachable = false
	if info.isIf && !info.hasElse {
		if err := info.elseJump.LinkToHere(); err != nil {
			return err
		}
	}
	for _, p := range info.anchor.PatchList {
		if err := p.LinkToHere(); err != nil {
			return err
		}
	}
	c.Module.Fnc.ShrinkFrameTo(info.anchor.EntryStackFrameSize)
	c.stack.Erase(info.anchor)

	if info.resultType != nil {
		reg := c.resultReg(*info.resultType)
		tp := regTypeOf(*info.resultType)
		c.markUsed(tp, reg)
		c.stack.Push(func(e *opstack.Element) {
			e.Kind = opstack.KindRegister
			e.Reg = reg
			e.RegType = tp
			e.Type = *info.resultType
		})
	}
	return nil
}

func (c *Compiler) opBr(instr wasmir.Instruction) error {
	if err := c.branchTo(c.targetBlock(instr.Index)); err != nil {
		return err
	}
	c.unreachable = true
	return nil
}

func (c *Compiler) opBrIf(instr wasmir.Instruction) error {
	cond, err := c.popOperand()
	if err != nil {
		return err
	}
	target := c.targetBlock(instr.Index)

	var cc opstack.BranchCondition
	var negate bool
	if cond.Kind == opstack.KindPendingComparison {
		cc, negate = cond.Cond, false
	} else {
		reg, _, lerr := c.liftToRegInPlaceProt(cond)
		if lerr != nil {
			return lerr
		}
		if err := c.Backend.EmitCompare(c.W, wasmtypes.I32, isa.RegisterStorage(reg, wasmtypes.I32), isa.ConstantStorage(0, wasmtypes.I32)); err != nil {
			return err
		}
		cc, negate = opstack.CondNe, false
	}
	if cond.Kind == opstack.KindRegister {
		c.releaseReg(cond.RegType, cond.register())
	}
	c.stack.Free(cond)

	return c.condBranchTo(target, cc, negate)
}
