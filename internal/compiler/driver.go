package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/bump"
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/moduleinfo"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/trapcode"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// Compiler is the single-pass driver described by spec §4.9: one instance
// compiles one wasmir.InstructionReader body at a time, mutating the
// opstack.Stack and appending bytes to the code buffer as it goes. A fresh
// Compiler (or at least a fresh operand stack, via BeginFunction) is used per
// function so the operand-stack arena can be bulk-reset between bodies
// (spec §3.5).
type Compiler struct {
	Backend Backend
	Module  *moduleinfo.Module
	W       *memwriter.MemWriter

	arena *bump.Arena[opstack.Element]
	stack *opstack.Stack

	// inUseGP/inUseFP track which physical registers are currently bound to
	// a live StackElement or a pinned local/global; the allocator below
	// never hands out a register marked here.
	inUseGP, inUseFP isa.RegMask

	// openBlocks is the driver's O(1)-indexable view of the structured
	// control-flow markers also threaded into c.stack (spec §4.9); Index 0
	// of a Br/BrIf/BrTable always means openBlocks[len-1].
	openBlocks []*blockInfo

	// unreachable mirrors wazero's unreachableState: once an unconditional
	// Br/BrTable/Return/Unreachable executes, the rest of the current block
	// is dead code until the matching Else/End resets it (spec's validator
	// guarantees the surrounding types are still sound; the driver just
	// stops touching the stack and emitting bytes for it).
	unreachable bool
}

// New constructs a Compiler targeting backend, sharing mod across the whole
// module's functions and writing into w.
func New(backend Backend, mod *moduleinfo.Module, w *memwriter.MemWriter) *Compiler {
	return &Compiler{Backend: backend, Module: mod, W: w}
}

// BeginFunction resets per-function state: a fresh operand-stack arena (the
// previous function's is abandoned wholesale, spec §3.5), a fresh Stack, and
// the moduleinfo.Function describing this function's locals.
func (c *Compiler) BeginFunction(index uint32, sig wasmtypes.Signature, locals []wasmtypes.MachineType, arenaSlabSize int) {
	c.Module.BeginFunction(index, sig, locals)
	c.arena = bump.New[opstack.Element](arenaSlabSize)
	c.stack = opstack.New(c.arena)
	c.inUseGP, c.inUseFP = 0, 0
	c.openBlocks = nil
	c.unreachable = false
}

func (c *Compiler) pool(tp isa.RegisterType) (scratch, locals []isa.Register) {
	return c.Backend.ScratchPool(tp), c.Backend.LocalPool(tp)
}

func (c *Compiler) inUse(tp isa.RegisterType) isa.RegMask {
	if tp == isa.Float {
		return c.inUseFP
	}
	return c.inUseGP
}

func (c *Compiler) setInUse(tp isa.RegisterType, m isa.RegMask) {
	if tp == isa.Float {
		c.inUseFP = m
	} else {
		c.inUseGP = m
	}
}

func (c *Compiler) markUsed(tp isa.RegisterType, r isa.Register) {
	c.setInUse(tp, c.inUse(tp).With(r))
}

func (c *Compiler) markFree(tp isa.RegisterType, r isa.Register) {
	c.setInUse(tp, c.inUse(tp).Without(r))
}

// acquireReg returns a free register of type tp, spilling the element that
// last references the first occupied scratch-pool register if none is free
// (spec §4.7's reqScratchRegProt). It is
// marked used immediately; the caller must eventually markFree it (directly,
// or by letting the owning StackElement's release path do so).
func (c *Compiler) acquireReg(tp isa.RegisterType) (isa.Register, error) {
	scratch, locals := c.pool(tp)
	for _, r := range scratch {
		if !c.inUse(tp).Contains(r) {
			c.markUsed(tp, r)
			return r, nil
		}
	}
	for _, r := range locals {
		if !c.inUse(tp).Contains(r) {
			c.markUsed(tp, r)
			return r, nil
		}
	}
	// Nothing free: spill whichever element currently references the first
	// scratch-pool register (spec §4.7's spillFromStackImpl).
	for _, r := range scratch {
		if owner := c.stack.LastReferenceTo(tp, r); owner != nil {
			if err := c.spillElement(owner); err != nil {
				return isa.NilRegister, err
			}
			c.markUsed(tp, r)
			return r, nil
		}
	}
	return isa.NilRegister, wrapLimit(wasmtypes.LimitStackFrameSize, "no free register and nothing spillable")
}

// releaseReg marks r free again; called once the StackElement(s) referring
// to it are popped or the value has otherwise been fully consumed.
func (c *Compiler) releaseReg(tp isa.RegisterType, r isa.Register) {
	if c.stack.LastReferenceTo(tp, r) == nil {
		c.markFree(tp, r)
	}
}

// storageOf lowers e to its VariableStorage via the module's or the
// function-local lowering rules (spec §3.2).
func (c *Compiler) storageOf(e *opstack.Element) isa.VariableStorage {
	return c.Module.GetStorage(e)
}

// spillElement relocates a register-backed element to a stack-memory slot
// and frees its register (spec §4.7's spillFromStackImpl). Only e itself is
// rebound; no other StackElement referencing the same register is
// rewritten. Locals and globals bound to
// a register for the function/module's entire lifetime are never spilled
// this way; only KindRegister/KindTempResult-eligible occupants are.
func (c *Compiler) spillElement(e *opstack.Element) error {
	if e.Kind != opstack.KindRegister {
		return wrapLimit(wasmtypes.LimitStackFrameSize, "register pinned by a local/global cannot be spilled")
	}
	t := e.Type
	width := uint32(wasmtypes.MachineType(t).Size())
	offset := c.Module.Fnc.GrowFrame(width)
	dst := isa.StackMemoryStorage(int32(offset), t)
	src := isa.RegisterStorage(e.Reg, t)
	if err := c.Backend.EmitMove(c.W, t, src, dst); err != nil {
		return err
	}
	reg, tp := e.Reg, e.RegType
	c.stack.Rebind(e, opstack.KindTempResult, tp, isa.NilRegister)
	e.TempOffset = int32(offset)
	c.markFree(tp, reg)
	return nil
}

// liftToRegInPlaceProt guarantees e is KindRegister, promoting it from
// Constant/Local/Global/TempResult storage by loading its value into a
// freshly acquired register (spec §4.7). If e is already register-backed
// (directly, or as a register-bound local/global), nothing is emitted and
// the backing register is returned.
func (c *Compiler) liftToRegInPlaceProt(e *opstack.Element) (isa.Register, isa.RegisterType, error) {
	if e.Kind == opstack.KindRegister {
		return e.Reg, e.RegType, nil
	}
	if e.OnRegister() {
		return e.register(), e.RegType, nil
	}
	tp := regTypeOf(e.Type)
	reg, err := c.acquireReg(tp)
	if err != nil {
		return isa.NilRegister, tp, err
	}
	src := c.storageOf(e)
	dst := isa.RegisterStorage(reg, e.Type)
	if err := c.Backend.EmitMove(c.W, e.Type, src, dst); err != nil {
		return isa.NilRegister, tp, err
	}
	c.stack.Rebind(e, opstack.KindRegister, tp, reg)
	return reg, tp, nil
}

func regTypeOf(t wasmtypes.MachineType) isa.RegisterType {
	if t.IsFloat() {
		return isa.Float
	}
	return isa.GeneralPurpose
}

// condenseValentBlockBelow materializes and discards a PendingComparison
// that ends up buried under newly pushed values instead of being consumed
// immediately by BrIf/Select/Eqz (spec §4.7): it is turned into a plain 0/1
// register value in place.
func (c *Compiler) condenseValentBlockBelow(e *opstack.Element) error {
	if e.Kind != opstack.KindPendingComparison {
		return nil
	}
	tp := isa.GeneralPurpose
	reg, err := c.acquireReg(tp)
	if err != nil {
		return err
	}
	dst := isa.RegisterStorage(reg, wasmtypes.I32)
	if err := c.Backend.EmitMaterializeBool(c.W, e.Cond, dst); err != nil {
		return err
	}
	c.stack.Rebind(e, opstack.KindRegister, tp, reg)
	e.Type = wasmtypes.I32
	return nil
}

// condenseAllPending walks the whole stack condensing any buried pending
// comparisons; called before a block boundary where spec §4.9 requires the
// stack to hold only concrete values.
func (c *Compiler) condenseAllPending() error {
	for i := 0; i < c.stack.Size(); i++ {
		e := c.stack.At(i)
		if err := c.condenseValentBlockBelow(e); err != nil {
			return err
		}
	}
	return nil
}

// popOperand pops the top of the stack, condensing it first if it is a
// pending comparison consumed as a plain value.
func (c *Compiler) popOperand() (*opstack.Element, error) {
	top := c.stack.Top()
	if top != nil && top.Kind == opstack.KindPendingComparison {
		if err := c.condenseValentBlockBelow(top); err != nil {
			return nil, err
		}
	}
	return c.stack.Pop(), nil
}

// Run drives r to completion, appending the compiled function body to c.W.
// The caller is expected to have already called BeginFunction and to emit
// the function prologue/epilogue around this call once the final frame size
// is known (spec §4.9's two-pass prologue patch).
func (c *Compiler) Run(r wasmir.InstructionReader) error {
	for {
		instr, ok := r.Next()
		if !ok {
			return nil
		}
		if err := c.step(instr); err != nil {
			return err
		}
	}
}
