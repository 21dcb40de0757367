package compiler

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmir"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// selectBinOp implements spec §4.8's selectInstr for a two-operand
// instruction: among the Backend's candidate encodings for op, pick the
// first whose Arg0/Arg1 constraints both the left operand (which doubles as
// the destination, x86-style) and the right operand already satisfy without
// lifting, falling back to lifting the minimal number of operands into
// registers otherwise. Candidates are tried in the order the Backend
// returns them, which is expected to list the narrowest/cheapest forms
// first (e.g. reg-op-imm before reg-op-reg before reg-op-mem).
func (c *Compiler) selectBinOp(op wasmir.Opcode, lhs, rhs *opstack.Element) (isa.AbstrInstr, isa.VariableStorage, isa.VariableStorage, error) {
	candidates := c.Backend.BinOpCandidates(op)
	lhsStorage := c.storageOfLive(lhs)
	rhsStorage := c.storageOfLive(rhs)

	for _, cand := range candidates {
		if cand.Arg0.Accepts(lhsStorage) && cand.Arg1.Accepts(rhsStorage) {
			return cand, lhsStorage, rhsStorage, nil
		}
	}
	// Second try: lift the right operand into a register (the common x86
	// constraint: the left operand may be reg-or-mem, the right must be a
	// register or an immediate).
	for _, cand := range candidates {
		if cand.Arg0.Accepts(lhsStorage) && cand.Arg1 == isa.ArgReg {
			reg, _, err := c.liftToRegInPlaceProt(rhs)
			if err != nil {
				return isa.AbstrInstr{}, isa.VariableStorage{}, isa.VariableStorage{}, err
			}
			return cand, lhsStorage, isa.RegisterStorage(reg, rhs.Type), nil
		}
	}
	// Last resort: lift both operands into registers.
	lreg, _, err := c.liftToRegInPlaceProt(lhs)
	if err != nil {
		return isa.AbstrInstr{}, isa.VariableStorage{}, isa.VariableStorage{}, err
	}
	rreg, _, err := c.liftToRegInPlaceProt(rhs)
	if err != nil {
		return isa.AbstrInstr{}, isa.VariableStorage{}, isa.VariableStorage{}, err
	}
	for _, cand := range candidates {
		if cand.Arg0 == isa.ArgReg && cand.Arg1 == isa.ArgReg {
			return cand, isa.RegisterStorage(lreg, lhs.Type), isa.RegisterStorage(rreg, rhs.Type), nil
		}
	}
	return isa.AbstrInstr{}, isa.VariableStorage{}, isa.VariableStorage{}, wrapUnsupported("no register-register candidate for binop")
}

// storageOfLive returns e's VariableStorage without forcing a register lift;
// used by selectBinOp's first, no-lift-needed try.
func (c *Compiler) storageOfLive(e *opstack.Element) isa.VariableStorage {
	return c.storageOf(e)
}

// emitBinOp runs selectInstr and then the actual emission, leaving the
// result in the location selectBinOp chose for the (destructive) left
// operand, rebinding lhs's StackElement to describe it. The left operand is
// always the destination: operands are not swapped, not even for a
// commutative op whose right operand alone satisfies the destination
// constraint.
func (c *Compiler) emitBinOp(op wasmir.Opcode, t wasmtypes.MachineType, lhs, rhs *opstack.Element) error {
	cand, lhsLoc, rhsLoc, err := c.selectBinOp(op, lhs, rhs)
	if err != nil {
		return err
	}
	if err := c.Backend.EmitBinOp(c.W, cand.Template, t, lhsLoc, rhsLoc); err != nil {
		return err
	}
	if lhsLoc.IsRegister() {
		c.stack.Rebind(lhs, opstack.KindRegister, regTypeOf(t), lhsLoc.Reg)
	}
	return nil
}
