// Package memwriter implements the append-only, growable byte buffer that
// backs both the code buffer and the scratch-metadata buffer (spec §4.1).
// It is grounded on wazero's internal/asm.CodeSegment/Buffer pair, which
// solves the same "grow a []byte backing mmap'd executable memory" problem;
// unlike that type, MemWriter exposes position-based alignment and a patch
// API (RelPatch) driven directly off byte offsets rather than a node graph,
// matching the spec's description of the encoder/patch system.
package memwriter

import (
	"encoding/binary"

	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

// maxSize is the spec §4.1 hard cap: size must fit in a uint32.
const maxSize = 1<<32 - 1

// Extender is the host-provided callback invoked when the buffer must grow
// beyond its current capacity. It returns a new backing slice of at least
// minSize bytes copying over the first len(cur) bytes of cur, or nil if the
// request cannot be satisfied.
type Extender func(cur []byte, minSize int) []byte

// MemWriter is an append-only buffer with typed write, alignment and
// position-to-pointer support (spec §4.1). The zero value is not usable;
// construct with New.
type MemWriter struct {
	buf      []byte
	size     int
	extend   Extender
}

// defaultExtender grows onto the Go heap with make and copy; callers that
// need the buffer backed by mmap'd executable pages (the code buffer) supply
// their own Extender via New.
func defaultExtender(cur []byte, minSize int) []byte {
	next := make([]byte, minSize)
	copy(next, cur)
	return next
}

// New constructs a MemWriter with the given initial capacity. A nil extender
// defaults to plain Go heap growth, suitable for the scratch-metadata
// buffer; the code buffer must supply an Extender backed by executable
// memory (see internal/platform).
func New(initialCapacity int, extender Extender) *MemWriter {
	if extender == nil {
		extender = defaultExtender
	}
	return &MemWriter{buf: make([]byte, initialCapacity), extend: extender}
}

// Size returns the current logical length of the buffer.
func (w *MemWriter) Size() int { return w.size }

// Bytes returns the written prefix of the buffer. The returned slice is
// invalidated by the next Write/step/grow call.
func (w *MemWriter) Bytes() []byte { return w.buf[:w.size] }

func (w *MemWriter) ensure(n int) error {
	want := w.size + n
	if want > maxSize {
		return &wasmtypes.ErrImplementationLimitReached{What: wasmtypes.LimitBinarySize}
	}
	if want <= len(w.buf) {
		return nil
	}
	grown := len(w.buf)
	if grown == 0 {
		grown = 256
	}
	for grown < want {
		grown *= 2
	}
	next := w.extend(w.buf[:w.size], grown)
	if next == nil {
		return &wasmtypes.ErrOutOfMemory{Context: "MemWriter grow"}
	}
	w.buf = next
	return nil
}

// Step reserves n undefined bytes and returns their starting position.
func (w *MemWriter) Step(n int) (pos int, err error) {
	if err = w.ensure(n); err != nil {
		return 0, err
	}
	pos = w.size
	w.size += n
	return pos, nil
}

// WriteByte appends a single byte.
func (w *MemWriter) WriteByte(b byte) error {
	if err := w.ensure(1); err != nil {
		return err
	}
	w.buf[w.size] = b
	w.size++
	return nil
}

// WriteBytesLE appends the low n bytes of v in little-endian order, n in [1,8].
func (w *MemWriter) WriteBytesLE(v uint64, n int) error {
	if err := w.ensure(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		w.buf[w.size+i] = byte(v >> (8 * i))
	}
	w.size += n
	return nil
}

// WriteRaw appends b verbatim (used for already-encoded instruction bytes
// and RIP-relative data constants).
func (w *MemWriter) WriteRaw(b []byte) error {
	if err := w.ensure(len(b)); err != nil {
		return err
	}
	copy(w.buf[w.size:], b)
	w.size += len(b)
	return nil
}

// AlignForType advances size so the next write begins at a multiple of
// align, padding with zero bytes, and returns the new position.
func (w *MemWriter) AlignForType(align int) (pos int, err error) {
	rem := w.size % align
	if rem != 0 {
		pad := align - rem
		if err = w.ensure(pad); err != nil {
			return 0, err
		}
		for i := 0; i < pad; i++ {
			w.buf[w.size+i] = 0
		}
		w.size += pad
	}
	return w.size, nil
}

// PutUint32At overwrites the 4 bytes at pos with v, little-endian. Used by
// the patch system to rewrite already-emitted displacement fields.
func (w *MemWriter) PutUint32At(pos int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[pos:pos+4], v)
}

// PutInt8At overwrites the single byte at pos with v.
func (w *MemWriter) PutInt8At(pos int, v int8) {
	w.buf[pos] = byte(v)
}

// PosToPtr returns the byte slice view starting at pos, for callers that
// need to read back already-emitted bytes (e.g. walking a patch chain).
func (w *MemWriter) PosToPtr(pos int) []byte { return w.buf[pos:w.size] }

// Flush resets size to 0 without releasing capacity, so the next
// compilation unit reuses the allocation.
func (w *MemWriter) Flush() { w.size = 0 }

// Truncate resets size back to pos, discarding everything written after it.
// Used by the driver to unwind a partially-compiled function on error
// (spec §7: per-function bytes never leak into the output).
func (w *MemWriter) Truncate(pos int) { w.size = pos }
