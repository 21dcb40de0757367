// Package isa holds the ISA-neutral vocabulary shared by every per-target
// backend: register identity, the register ABI table shape (spec §4.6), and
// the VariableStorage/AbstrInstr/ArgType types instruction selection (spec
// §4.8) is built from. Concrete register numbers, condition codes and
// instruction templates live in the per-ISA packages (isa/amd64, isa/arm64,
// isa/tricore); this package only fixes the interfaces they all implement,
// mirroring how wazero's internal/asm package declares asm.Register and
// asm.AssemblerBase once and lets internal/asm/{amd64,arm64} fill them in.
package isa

import "github.com/herrcai0907/wasmjit/internal/wasmtypes"

// Register identifies a physical register, scoped to whichever ISA package
// constructed it. Register numbering is ISA-specific; NilRegister is the
// only value with cross-ISA meaning.
type Register uint8

// NilRegister indicates "no register" the same way asm.NilRegister does in
// wazero's internal/asm package.
const NilRegister Register = 0xFF

// RegisterType distinguishes the two allocatable register files.
type RegisterType byte

const (
	GeneralPurpose RegisterType = iota
	Float
)

func (t RegisterType) String() string {
	if t == Float {
		return "fpr"
	}
	return "gpr"
}

// RegMask is a bitmap over the registers of one ISA, supporting the set
// operations the allocator and call-argument resolver need (spec §4.6).
type RegMask uint64

func (m RegMask) Contains(r Register) bool { return m&(1<<uint(r)) != 0 }
func (m RegMask) With(r Register) RegMask  { return m | (1 << uint(r)) }
func (m RegMask) Without(r Register) RegMask {
	return m &^ (1 << uint(r))
}
func (m RegMask) Union(o RegMask) RegMask        { return m | o }
func (m RegMask) Intersect(o RegMask) RegMask    { return m & o }
func (m RegMask) AllMarked(all RegMask) bool     { return m&all == all }
func (m RegMask) IsEmpty() bool                  { return m == 0 }
func MaskOf(regs ...Register) (m RegMask) {
	for _, r := range regs {
		m = m.With(r)
	}
	return m
}

// StorageKind is the VariableStorage tag (spec §3.2).
type StorageKind byte

const (
	StorageInvalid StorageKind = iota
	StorageRegister
	StorageStackMemory
	StorageLinkData
	StorageConstant
)

// VariableStorage is the normalized, ISA-neutral description of where a
// value lives (spec §3.2). Two VariableStorages are equal-in-location iff
// Kind and the relevant payload fields match; EqualLocation implements that
// sole test, which is what short-circuits redundant move emission.
type VariableStorage struct {
	kind StorageKind
	Type wasmtypes.MachineType

	Reg    Register // valid when kind == StorageRegister
	Offset int32    // valid when kind == StorageStackMemory || kind == StorageLinkData
	Bits   uint64   // valid when kind == StorageConstant
}

func Invalid() VariableStorage { return VariableStorage{kind: StorageInvalid} }

func RegisterStorage(r Register, t wasmtypes.MachineType) VariableStorage {
	return VariableStorage{kind: StorageRegister, Reg: r, Type: t}
}

func StackMemoryStorage(offset int32, t wasmtypes.MachineType) VariableStorage {
	return VariableStorage{kind: StorageStackMemory, Offset: offset, Type: t}
}

func LinkDataStorage(offset int32, t wasmtypes.MachineType) VariableStorage {
	return VariableStorage{kind: StorageLinkData, Offset: offset, Type: t}
}

func ConstantStorage(bits uint64, t wasmtypes.MachineType) VariableStorage {
	return VariableStorage{kind: StorageConstant, Bits: bits, Type: t}
}

func (v VariableStorage) Kind2() StorageKind { return v.kind }
func (v VariableStorage) IsRegister() bool   { return v.kind == StorageRegister }
func (v VariableStorage) IsStack() bool      { return v.kind == StorageStackMemory }
func (v VariableStorage) IsLinkData() bool   { return v.kind == StorageLinkData }
func (v VariableStorage) IsConstant() bool   { return v.kind == StorageConstant }
func (v VariableStorage) IsInvalid() bool    { return v.kind == StorageInvalid }

// EqualLocation implements spec §3.2's "equal-in-location" test.
func (v VariableStorage) EqualLocation(o VariableStorage) bool {
	if v.kind != o.kind || v.Type != o.Type {
		return false
	}
	switch v.kind {
	case StorageRegister:
		return v.Reg == o.Reg
	case StorageStackMemory, StorageLinkData:
		return v.Offset == o.Offset
	case StorageConstant:
		return v.Bits == o.Bits
	default:
		return true // both invalid
	}
}

// ArgType classifies the operand-form constraint a candidate instruction
// places on one slot: a bare register, a register-or-memory form, an
// immediate of some width and extension mode, or a fixed literal constant
// used by e.g. shift-by-1 encodings (spec §4.4).
type ArgType uint16

const (
	ArgNone ArgType = iota
	ArgReg          // must be in a register
	ArgRegOrMem     // register or stack-memory/link-data location
	ArgImm8
	ArgImm32
	ArgImm64
	ArgConst1 // literal constant 1 (shift-by-one encodings)
)

// Accepts reports whether a candidate slot constrained by a can be satisfied
// directly by v without first lifting it into a register (spec §4.8's
// "three-try" order: exact match, then register, then spill-and-register).
func (a ArgType) Accepts(v VariableStorage) bool {
	switch a {
	case ArgReg:
		return v.IsRegister()
	case ArgRegOrMem:
		return v.IsRegister() || v.IsStack() || v.IsLinkData()
	case ArgImm8:
		return v.IsConstant() && fitsSigned(v.Bits, 8)
	case ArgImm32:
		return v.IsConstant() && fitsSigned(v.Bits, 32)
	case ArgImm64:
		return v.IsConstant()
	case ArgConst1:
		return v.IsConstant() && v.Bits == 1
	default:
		return false
	}
}

func fitsSigned(bits uint64, width int) bool {
	v := int64(bits)
	lo := int64(-1) << (width - 1)
	hi := -lo - 1
	return v >= lo && v <= hi
}

// AbstrInstr is one candidate encoding offered to selectInstr: a template
// handle opaque to the generic algorithm, the destination/source
// MachineTypes the candidate is valid for, and per-slot ArgType constraints
// (spec §4.4's "small record").
type AbstrInstr struct {
	// Template is a per-ISA instruction template identifier (e.g. an amd64
	// opcode enumerant); selectInstr never interprets it, only passes it to
	// the ISA's Emit callback once a match is found.
	Template any

	DstType wasmtypes.MachineType
	SrcType wasmtypes.MachineType

	Arg0, Arg1 ArgType

	IsUnop        bool
	IsCommutative bool
	// IsReadonly mirrors the selectInstr parameter for instructions that
	// never write their first operand (cmp, test); duplicated here so a
	// single candidate table fully describes matching behavior.
	IsReadonly bool
}
