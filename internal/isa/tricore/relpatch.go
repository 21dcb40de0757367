package tricore

import (
	"github.com/herrcai0907/wasmjit/internal/memwriter"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// JumpPatch is this package's opstack.RelPatch for the unconditional J/CALL
// family: a disp24sx2 field, word(2-byte)-aligned, whose raw byte
// displacement must fit signed 25 bits before halving -- directly
// transcribed from tricore_instruction.cpp's setDisp24sx2 (`assert(in_range
// <25>(disp))`, `reducedDisp := disp >> 1`, splitting the 24-bit result
// across bits 31:16 (low 16 bits) and bits 15:8 (high 8 bits), keeping only
// the low byte (the op identifier) untouched).
type JumpPatch struct {
	w       *memwriter.MemWriter
	wordPos int
}

func NewJumpPatch(w *memwriter.MemWriter, wordPos int) *JumpPatch {
	return &JumpPatch{w: w, wordPos: wordPos}
}

func (p *JumpPatch) LinkToBinaryPos(targetPos int) error {
	disp := int64(targetPos) - int64(p.wordPos)
	if disp%2 != 0 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "tricore jump target is not 2-byte aligned",
		}
	}
	if disp < -(1<<24) || disp > (1<<24)-1 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "tricore J/CALL displacement exceeds the disp24sx2 field",
		}
	}
	reduced := uint32(disp>>1) & 0xFFFFFF
	original := p.w.PosToPtr(p.wordPos)
	opLowByte := uint32(original[0])
	word := opLowByte
	word |= (reduced & 0xFFFF) << 16
	word |= ((reduced & 0xFF0000) >> 16) << 8
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *JumpPatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }

// CondBranchPatch is the fused compare-and-branch family's RelPatch
// (JEQ/JNE/JLT/JGE/JLT.U/JGE.U): a disp15sx2 field, word-aligned, whose raw
// byte displacement must fit signed 16 bits before halving -- transcribed
// from setDisp15sx2 (`assert(in_range<16>(disp))`, storing reducedDisp in
// bits 30:16 and leaving the low 16 bits, which already carry the op/Da/Db
// fields this package's EmitCode wrote, untouched).
type CondBranchPatch struct {
	w       *memwriter.MemWriter
	wordPos int
}

func NewCondBranchPatch(w *memwriter.MemWriter, wordPos int) *CondBranchPatch {
	return &CondBranchPatch{w: w, wordPos: wordPos}
}

func (p *CondBranchPatch) LinkToBinaryPos(targetPos int) error {
	disp := int64(targetPos) - int64(p.wordPos)
	if disp%2 != 0 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "tricore branch target is not 2-byte aligned",
		}
	}
	if disp < -(1<<15) || disp > (1<<15)-1 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "tricore fused compare+branch displacement exceeds the disp15sx2 field",
		}
	}
	reduced := uint32(disp>>1) & 0x7FFF
	original := readWord(p.w, p.wordPos)
	word := original & 0x0000FFFF
	word |= reduced << 16
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *CondBranchPatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }

func readWord(w *memwriter.MemWriter, pos int) uint32 {
	b := w.PosToPtr(pos)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// FrameSizePatch patches the frame-allocation LEA's off16sx-modeled
// immediate once the body's stack-frame size is known (spec §4.9's two-pass
// frame-size fixup, the same role isa/arm64.FrameSizePatch plays). Unlike
// arm64's imm12+shift encoding, this package's LEA immediate is the full
// 16-bit const16 slot (see encoder.go), so no shift/scale search is needed
// -- only the signed-16-bit range check.
//
// The word at wordPos must already carry a real LEA opcode (op byte plus
// Aa/Ac register fields) from a prior Instruction.EmitCode call -- only
// bits 27:12 (const16) are touched here, everything else is preserved.
//
// LinkToBinaryPos's argument is (matching compile.go's driving convention,
// see isa/arm64's FrameSizePatch) the final, positive frame size in bytes;
// since this patches the *prologue's* SP-reserving LEA (Ac = Aa + const16,
// an addition, never a dedicated subtract the way AArch64's SUB
// (immediate) is), the stored immediate is the frame size's negation.
type FrameSizePatch struct {
	w       *memwriter.MemWriter
	wordPos int
}

func NewFrameSizePatch(w *memwriter.MemWriter, wordPos int) *FrameSizePatch {
	return &FrameSizePatch{w: w, wordPos: wordPos}
}

func (p *FrameSizePatch) LinkToBinaryPos(frameSize int) error {
	imm := -frameSize
	if imm < -(1<<15) || imm > (1<<15)-1 {
		return &wasmtypes.ErrImplementationLimitReached{
			What:   wasmtypes.LimitBranchDistance,
			Detail: "tricore stack frame exceeds the signed 16-bit LEA immediate",
		}
	}
	original := readWord(p.w, p.wordPos)
	word := original &^ (uint32(0xFFFF) << 12)
	word |= (uint32(imm) & 0xFFFF) << 12
	p.w.PutUint32At(p.wordPos, word)
	return nil
}

func (p *FrameSizePatch) LinkToHere() error { return p.LinkToBinaryPos(p.w.Size()) }
