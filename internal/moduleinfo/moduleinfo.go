// Package moduleinfo holds the per-module and per-function compiler state
// described in spec §3.3/§3.4: signature/function/local tables, the
// function-body forward-patch heads used by internal calls, and helper
// function binary offsets. Grounded on wazero's moduleEngine/callEngine
// split (internal/engine/compiler/engine.go), which separates module-wide
// state from one function's in-flight compilation state the same way.
package moduleinfo

import (
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/opstack"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// LocalStorage is where a function's local variable lives for its whole
// lifetime, decided once at function-prologue time (spec §3.3).
type LocalStorage struct {
	Type wasmtypes.MachineType
	// InRegister selects between Reg and StackOffset.
	InRegister bool
	Reg        isa.Register
	RegType    isa.RegisterType
	StackOffset int32
}

// FunctionHelperOffsets records the binary position of each per-function
// helper emitted alongside the function body (spec §4.14, §6.3 item 4).
type FunctionHelperOffsets struct {
	GenericTrapHandler int
	TrapReentry        int
	ExtensionRequest    int // bounds-checked builds only
	LandingPad          int // signal-based builds only
}

// FuncPatchHead is the forward-branch patch list for calls made to a
// function before its body has been emitted (spec §4.10): every internal
// call site appends its RelPatch here; once the target's body offset is
// known, the driver walks the list once, linking each site to it.
type FuncPatchHead struct {
	Pending []opstack.RelPatch
	// BodyOffset is -1 until the function's body has been emitted.
	BodyOffset int
}

// Function is the per-function compiler state created at function entry
// and destroyed (via Arena Reset, upstream) at function exit (spec §3.3).
type Function struct {
	Index, SigIndex uint32

	NumParams, NumLocals int
	NumLocalsInGPR       int
	NumLocalsInFPR       int
	ParamWidth           int32
	DirectLocalsWidth    int32

	// StackFrameSize is the running frame size; it grows when spilling and
	// shrinks when a block reinstates its entry size (spec §3.3).
	StackFrameSize uint32
	// StackFrameSizeCeil tracks the maximum StackFrameSize reached, which
	// becomes the function prologue's fixed stack allocation.
	StackFrameSizeCeil uint32

	LocalDefs []LocalStorage

	Helpers FunctionHelperOffsets
}

// GrowFrame bumps StackFrameSize by n bytes (spilling a new value to the
// frame) and maintains StackFrameSizeCeil.
func (f *Function) GrowFrame(n uint32) (offset uint32) {
	offset = f.StackFrameSize
	f.StackFrameSize += n
	if f.StackFrameSize > f.StackFrameSizeCeil {
		f.StackFrameSizeCeil = f.StackFrameSize
	}
	return offset
}

// ShrinkFrameTo resets StackFrameSize to size, e.g. at a block's End (spec
// §4.9, §8 property 5: "the emitted SP equals the block's
// entryStackFrameSize").
func (f *Function) ShrinkFrameTo(size uint32) { f.StackFrameSize = size }

// Module is the per-module compiler state (spec §3.3's module-scope half).
type Module struct {
	Source *wasmtypes.Module

	// FuncPatchHeads is wasmFncBodyBinaryPositions of spec §3.3, one entry
	// per function index.
	FuncPatchHeads []FuncPatchHead

	// GlobalDefs mirrors LocalDefs but for module-scope globals: whether each
	// is bound to a dedicated register for the module's lifetime, or lives
	// in link-data (spec §3.1 Global kind).
	GlobalDefs []GlobalStorage

	// Fnc is the in-flight state of whichever function is currently being
	// compiled; reset between functions (spec §3.3).
	Fnc *Function
}

// GlobalStorage is where a global lives: a register dedicated at module
// prologue, or a slot in link-data.
type GlobalStorage struct {
	Type       wasmtypes.MachineType
	InRegister bool
	Reg        isa.Register
	RegType    isa.RegisterType
	LinkOffset int32
}

// New builds per-module state from already-validated metadata.
func New(src *wasmtypes.Module) *Module {
	m := &Module{Source: src}
	m.FuncPatchHeads = make([]FuncPatchHead, len(src.Functions))
	for i := range m.FuncPatchHeads {
		m.FuncPatchHeads[i].BodyOffset = -1
	}
	m.GlobalDefs = make([]GlobalStorage, len(src.Globals))
	for i, g := range src.Globals {
		m.GlobalDefs[i] = GlobalStorage{Type: g.Type, InRegister: false}
	}
	return m
}

// BeginFunction resets Fnc to a fresh per-function state. Called once per
// function at its entry; the previous function's Fnc is abandoned along
// with its bump-allocated StackElements (spec §3.5).
// BeginFunction gives every parameter and declared local a stack-memory
// slot in the (not-yet-sized) frame, in declaration order. Binding hot
// locals to dedicated registers instead (spec §3.3's other option) is left
// undone here — see DESIGN.md's Open Question on local register
// assignment — so every local.get/set/tee instead goes through a
// stack-memory move, which is always correct, just not maximally fast.
func (m *Module) BeginFunction(index uint32, sig wasmtypes.Signature, locals []wasmtypes.MachineType) {
	f := &Function{
		Index:     index,
		SigIndex:  m.Source.Functions[index].SigIndex,
		NumParams: len(sig.Params),
		NumLocals: len(sig.Params) + len(locals),
	}
	f.LocalDefs = make([]LocalStorage, f.NumLocals)
	all := make([]wasmtypes.MachineType, 0, f.NumLocals)
	all = append(all, sig.Params...)
	all = append(all, locals...)
	for i, t := range all {
		offset := f.GrowFrame(uint32(t.Size()))
		f.LocalDefs[i] = LocalStorage{Type: t, InRegister: false, StackOffset: int32(offset)}
	}
	f.ParamWidth = int32(f.StackFrameSize)
	m.Fnc = f
}

// GetStorage lowers a Local or Global StackElement to its VariableStorage,
// per spec §3.2's ModuleInfo::getStorage.
func (m *Module) GetStorage(e *opstack.Element) isa.VariableStorage {
	switch e.Kind {
	case opstack.KindConstant:
		return isa.ConstantStorage(e.ConstBits, e.Type)
	case opstack.KindRegister:
		return isa.RegisterStorage(e.Reg, e.Type)
	case opstack.KindTempResult:
		return isa.StackMemoryStorage(e.TempOffset, e.Type)
	case opstack.KindLocal:
		def := m.Fnc.LocalDefs[e.Index]
		if def.InRegister {
			return isa.RegisterStorage(def.Reg, def.Type)
		}
		return isa.StackMemoryStorage(def.StackOffset, def.Type)
	case opstack.KindGlobal:
		def := m.GlobalDefs[e.Index]
		if def.InRegister {
			return isa.RegisterStorage(def.Reg, def.Type)
		}
		return isa.LinkDataStorage(def.LinkOffset, def.Type)
	default:
		return isa.Invalid()
	}
}
