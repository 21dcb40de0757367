package amd64

import (
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// relWidth is the width in bytes of a relative displacement field.
type relWidth byte

const (
	rel8  relWidth = 1
	rel32 relWidth = 4
)

// RelPatchObj is the amd64 implementation of opstack.RelPatch (spec §4.5):
// a handle to a not-yet-known branch/call displacement, recording where in
// the code buffer the field lives and where the instruction that reads it
// ends (displacements are relative to the address of the *next*
// instruction, the x86-64 convention).
type RelPatchObj struct {
	w            *memwriter.MemWriter
	fieldPos     int
	instrEndPos  int
	width        relWidth
}

// NewRelPatch records a patch site: fieldPos is where the displacement
// bytes were written (as zeroes, by EmitCode), and instrEndPos is the
// binary position immediately after those bytes (the PC the displacement
// is relative to).
func NewRelPatch(w *memwriter.MemWriter, fieldPos, instrEndPos int, width relWidth) *RelPatchObj {
	return &RelPatchObj{w: w, fieldPos: fieldPos, instrEndPos: instrEndPos, width: width}
}

// LinkToBinaryPos patches the displacement field so the branch targets
// targetPos. Returns ErrImplementationLimitReached if the target is out of
// range for this patch's width (only possible for rel8 sites; spec §4.5
// names LimitBranchDistance for this case).
func (p *RelPatchObj) LinkToBinaryPos(targetPos int) error {
	disp := int64(targetPos) - int64(p.instrEndPos)
	switch p.width {
	case rel8:
		if disp < -128 || disp > 127 {
			return &wasmtypes.ErrImplementationLimitReached{
				What:   wasmtypes.LimitBranchDistance,
				Detail: "rel8 branch target out of range, selectInstr should have chosen rel32",
			}
		}
		p.w.PutInt8At(p.fieldPos, int8(disp))
	case rel32:
		if disp < -(1<<31) || disp > (1<<31)-1 {
			return &wasmtypes.ErrImplementationLimitReached{
				What:   wasmtypes.LimitBranchDistance,
				Detail: "rel32 branch target exceeds +/-2GiB",
			}
		}
		p.w.PutUint32At(p.fieldPos, uint32(int32(disp)))
	}
	return nil
}

// LinkToHere patches the displacement to target the buffer's current end
// (the common case: "jump to right after this point").
func (p *RelPatchObj) LinkToHere() error {
	return p.LinkToBinaryPos(p.w.Size())
}

// AbsFieldPatch is a RelPatch whose field holds a raw 32-bit value rather
// than a PC-relative displacement: EmitFunctionPrologue's `sub rsp,
// frameSize` immediate, whose value is not known until the whole function
// body (and its spills) has been compiled. LinkToBinaryPos writes pos
// itself into the field; LinkToHere is never meaningful for this patch and
// is not used by compile.go.
type AbsFieldPatch struct {
	w        *memwriter.MemWriter
	fieldPos int
}

func NewAbsFieldPatch(w *memwriter.MemWriter, fieldPos int) *AbsFieldPatch {
	return &AbsFieldPatch{w: w, fieldPos: fieldPos}
}

func (p *AbsFieldPatch) LinkToBinaryPos(pos int) error {
	p.w.PutUint32At(p.fieldPos, uint32(pos))
	return nil
}

func (p *AbsFieldPatch) LinkToHere() error {
	return p.LinkToBinaryPos(p.w.Size())
}
