// Package platform provides the one syscall-level primitive this module
// needs on top of Go's own memory model: an executable, growable buffer for
// the code the compiler emits (spec §4.1's "the code buffer must supply an
// Extender backed by executable memory"). Go's GC-managed heap never marks a
// page executable, so the code buffer has to live outside it.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CodeSegment is an mmap'd region holding compiled code: RW while bytes are
// still being appended, switched to RX once compilation finishes, exactly
// the W^X discipline a JIT's output buffer needs.
type CodeSegment struct {
	mem []byte
	// exec reports whether the region is currently mapped PROT_EXEC (true)
	// or still writable (false); MemWriter calls Freeze once a module's
	// compilation is done and no more bytes will be appended.
	exec bool
}

// MmapCodeSegment reserves size bytes of anonymous, private memory suitable
// for holding executable code. The region starts out PROT_READ|PROT_WRITE;
// call Freeze before executing anything out of it.
func MmapCodeSegment(size int) (*CodeSegment, error) {
	if size <= 0 {
		panic(fmt.Sprintf("BUG: MmapCodeSegment with non-positive size %d", size))
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("platform: mmap %d bytes: %w", size, err)
	}
	return &CodeSegment{mem: mem}, nil
}

// Bytes returns the mapped region's full backing slice.
func (c *CodeSegment) Bytes() []byte { return c.mem }

// Freeze switches the region from writable to executable (mprotect
// PROT_READ|PROT_EXEC), the point past which MemWriter must not append any
// more bytes to this particular mapping; a MemWriter.Extender that outgrows
// a frozen segment maps a fresh, larger one instead of growing in place,
// since mprotect cannot resize a mapping.
func (c *CodeSegment) Freeze() error {
	if c.exec {
		return nil
	}
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("platform: mprotect exec: %w", err)
	}
	c.exec = true
	return nil
}

// Unfreeze switches the region back to writable, needed if the driver must
// truncate and re-append after a partially-compiled function's bytes were
// already frozen in place (spec §7's unwind-on-error path never does this
// today, since Freeze is only called once per module after every function
// compiled successfully, but Unmap callers may still want to reuse the
// mapping for a subsequent module rather than releasing it).
func (c *CodeSegment) Unfreeze() error {
	if !c.exec {
		return nil
	}
	if err := unix.Mprotect(c.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("platform: mprotect write: %w", err)
	}
	c.exec = false
	return nil
}

// Unmap releases the region. The segment must not be used afterward.
func (c *CodeSegment) Unmap() error {
	if c.mem == nil {
		return fmt.Errorf("platform: Unmap of an already-unmapped segment")
	}
	err := unix.Munmap(c.mem)
	c.mem = nil
	if err != nil {
		return fmt.Errorf("platform: munmap: %w", err)
	}
	return nil
}

// Extender adapts a *CodeSegment's growth to memwriter.Extender's shape: on
// every grow request past the current mapping's capacity, a new, larger
// segment is mapped, the old contents copied over, and the old one
// released. *seg is the live *CodeSegment; the returned function is meant to
// be passed straight to memwriter.New.
func Extender(seg **CodeSegment) func(cur []byte, minSize int) []byte {
	return func(cur []byte, minSize int) []byte {
		next, err := MmapCodeSegment(minSize)
		if err != nil {
			return nil
		}
		copy(next.mem, cur)
		if old := *seg; old != nil {
			_ = old.Unmap()
		}
		*seg = next
		return next.mem
	}
}
