// Package opstack implements the compiler's symbolic shadow of the
// WebAssembly operand stack (spec §3.1, §4.3): a doubly linked list of
// StackElements, each recording *where* a value currently lives rather than
// what it is, threaded through a bump.Arena so the whole chain is freed in
// one shot at function exit.
//
// Grounded on wazero's valueLocationStack (internal/engine/compiler/compiler_value_location.go),
// which is the same idea implemented as a plain slice with a stack pointer.
// This package instead follows spec §4.3's explicit linked-list shape,
// which is what makes the block/else stack-splice operations (spec §4.9)
// and the O(1) reference-chain walk (spec §3.4) possible without
// re-indexing a slice.
package opstack

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// Kind is the StackElement discriminant (spec §3.1).
type Kind byte

const (
	KindInvalid Kind = iota
	KindConstant
	KindRegister
	KindLocal
	KindGlobal
	KindTempResult
	KindPendingComparison
	KindBlock
	KindIfBlock
	KindLoop
	KindElse
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "const"
	case KindRegister:
		return "register"
	case KindLocal:
		return "local"
	case KindGlobal:
		return "global"
	case KindTempResult:
		return "temp"
	case KindPendingComparison:
		return "pending-cmp"
	case KindBlock:
		return "block"
	case KindIfBlock:
		return "if"
	case KindLoop:
		return "loop"
	case KindElse:
		return "else"
	default:
		return "invalid"
	}
}

// BranchCondition names the CPU-flags state a PendingComparison carries
// (spec §3.1, §4.11).
type BranchCondition byte

const (
	CondEq BranchCondition = iota
	CondNe
	CondLtS
	CondLtU
	CondGtS
	CondGtU
	CondLeS
	CondLeU
	CondGeS
	CondGeU
	CondEqF
	CondNeF
	CondLtF
	CondGtF
	CondLeF
	CondGeF
)

// Negate returns the condition testing the opposite outcome, used when
// I32_Eqz consumes a PendingComparison without emitting code (spec §4.11
// step 3) and when an If's truthy branch is negated into a forward jump.
func (c BranchCondition) Negate() BranchCondition {
	switch c {
	case CondEq:
		return CondNe
	case CondNe:
		return CondEq
	case CondLtS:
		return CondGeS
	case CondGeS:
		return CondLtS
	case CondGtS:
		return CondLeS
	case CondLeS:
		return CondGtS
	case CondLtU:
		return CondGeU
	case CondGeU:
		return CondLtU
	case CondGtU:
		return CondLeU
	case CondLeU:
		return CondGtU
	case CondEqF:
		return CondNeF
	case CondNeF:
		return CondEqF
	case CondLtF:
		return CondGeF
	case CondGeF:
		return CondLtF
	case CondGtF:
		return CondLeF
	case CondLeF:
		return CondGtF
	default:
		return c
	}
}

// IsFloat reports whether c compares floating-point operands, which need
// the extra NaN handling described in spec §4.11.
func (c BranchCondition) IsFloat() bool { return c >= CondEqF }

// RelPatch is the handle an ISA encoder returns for a branch/call/LEA whose
// displacement is not yet known (spec §4.5). The generic driver/common code
// never interprets a patch beyond calling these two methods.
type RelPatch interface {
	// LinkToHere rewrites the displacement to the current end of the code
	// buffer.
	LinkToHere() error
	// LinkToBinaryPos rewrites the displacement to the given absolute
	// code-buffer offset (used for backward branches to a Loop's start).
	LinkToBinaryPos(pos int) error
}

// Element is one entry of the operand stack: a value the compiler has seen
// but not yet consumed, or a structured-control-flow marker.
type Element struct {
	Kind Kind
	Type wasmtypes.MachineType

	// Constant payload (KindConstant).
	ConstBits uint64

	// Register payload (KindRegister), and the register backing a Local or
	// Global when LocalInRegister is true or GlobalInLinkData is false.
	Reg     isa.Register
	RegType isa.RegisterType

	// Local/Global payload.
	Index           uint32
	LocalInRegister bool // false: local lives in a stack slot (see LocalOffset)
	LocalOffset     int32
	GlobalInLinkData bool // false: global lives in a dedicated register (Reg)
	GlobalLinkOffset int32

	// TempResult payload: spilled to a stack-memory slot.
	TempOffset int32

	// PendingComparison payload.
	Cond BranchCondition

	// Block / IfBlock / Loop / Else payload (spec §4.9).
	SigIndex            int32
	EntryStackFrameSize  uint32
	PatchList            []RelPatch
	LoopStartBinaryPos   int // valid for KindLoop

	// Reference chain: previous/next occurrence of the same underlying
	// storage on the operand stack (spec §3.1, §3.4). Only meaningful for
	// register-backed elements (KindRegister, or Local/Global bound to a
	// register); nil otherwise.
	prevOccurrence, nextOccurrence *Element

	// Operand-stack threading (spec §4.3).
	prev, next *Element
}

// OnRegister reports whether this element's value currently lives in a
// register (directly, or because it's a register-bound local/global).
func (e *Element) OnRegister() bool {
	switch e.Kind {
	case KindRegister:
		return true
	case KindLocal:
		return e.LocalInRegister
	case KindGlobal:
		return !e.GlobalInLinkData
	default:
		return false
	}
}

// register returns the backing register for an element that OnRegister.
func (e *Element) register() isa.Register { return e.Reg }
