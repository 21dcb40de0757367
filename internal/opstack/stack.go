package opstack

import (
	"github.com/herrcai0907/wasmjit/internal/bump"
	"github.com/herrcai0907/wasmjit/internal/isa"
)

// Stack is the sentinel-based doubly linked list of StackElements described
// in spec §4.3. All nodes, including the sentinel, are allocated from a
// bump.Arena so the whole chain is released in one Reset at function exit.
type Stack struct {
	arena    *bump.Arena[Element]
	sentinel *Element
	size     int

	// refMap is the reference map of spec §3.4: for each physical register,
	// the last StackElement referring to it. Keyed by (RegisterType, Register)
	// so the same numeric id in the GPR and FPR files doesn't collide.
	refMap map[regKey]*Element
}

type regKey struct {
	tp  isa.RegisterType
	reg isa.Register
}

// New constructs an empty Stack backed by arena.
func New(arena *bump.Arena[Element]) *Stack {
	s := &Stack{arena: arena, refMap: make(map[regKey]*Element)}
	sentinel := arena.Step()
	*sentinel = Element{Kind: KindInvalid}
	sentinel.prev, sentinel.next = sentinel, sentinel
	s.sentinel = sentinel
	return s
}

// Size returns the number of live elements (excluding the sentinel).
func (s *Stack) Size() int { return s.size }

// Top returns the last element, or nil if the stack is empty.
func (s *Stack) Top() *Element {
	if s.size == 0 {
		return nil
	}
	return s.sentinel.prev
}

// at returns the element n positions below the top (0 = top).
func (s *Stack) At(n int) *Element {
	e := s.sentinel.prev
	for i := 0; i < n; i++ {
		e = e.prev
	}
	return e
}

// newElement allocates a fresh, zeroed Element from the arena.
func (s *Stack) newElement() *Element {
	e := s.arena.Step()
	*e = Element{}
	return e
}

// insertBefore splices e in immediately before at, which may be the
// sentinel (append at tail).
func (s *Stack) insertBefore(e, at *Element) {
	e.prev = at.prev
	e.next = at
	at.prev.next = e
	at.prev = e
	s.size++
	s.trackReference(e)
}

// Push appends a freshly allocated element built by fill and returns it.
func (s *Stack) Push(fill func(*Element)) *Element {
	e := s.newElement()
	fill(e)
	s.insertBefore(e, s.sentinel)
	return e
}

// Pop removes and returns the top element. The caller must call Free once
// done reading it, unless it is immediately re-pushed (e.g. Else's stack
// restoration, spec §4.9).
func (s *Stack) Pop() *Element {
	if s.size == 0 {
		return nil
	}
	e := s.sentinel.prev
	s.erase(e)
	return e
}

// Reinsert relinks a previously Popped element at the top of the stack
// without re-tracking its reference (erase/Pop never untracks, so a popped
// element is still the reference-map head for its register if it was
// before); used when a binary op's result reuses its left operand's
// StackElement in place instead of allocating a fresh one.
func (s *Stack) Reinsert(e *Element) {
	e.prev = s.sentinel.prev
	e.next = s.sentinel
	s.sentinel.prev.next = e
	s.sentinel.prev = e
	s.size++
}

// erase unlinks e from the stack threading without freeing it or touching
// the reference map (used internally by both Pop, which the caller may
// still want to read, and Erase, which the caller is done with).
func (s *Stack) erase(e *Element) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	s.size--
}

// Erase removes e from anywhere in the stack (used when condensing a
// PendingComparison below an anchor, spec §4.7's condenseValentBlockBelow),
// untracks its register reference, and frees it back to the arena.
func (s *Stack) Erase(e *Element) {
	s.untrackReference(e)
	s.erase(e)
	s.arena.FreeElem(e)
}

// Free releases e back to the arena. Call after Pop once the element's
// data has been consumed and it will not be re-pushed.
func (s *Stack) Free(e *Element) {
	s.untrackReference(e)
	s.arena.FreeElem(e)
}

// trackReference updates the reference map and reference chain after e is
// linked into the stack (spec §3.4): e becomes the new head of the chain
// for its register, if it is register-backed.
func (s *Stack) trackReference(e *Element) {
	if !e.OnRegister() {
		return
	}
	key := regKey{tp: e.RegType, reg: e.Reg}
	prevHead := s.refMap[key]
	e.prevOccurrence = prevHead
	e.nextOccurrence = nil
	if prevHead != nil {
		prevHead.nextOccurrence = e
	}
	s.refMap[key] = e
}

// untrackReference splices e out of its register's reference chain and, if
// e was the chain head, updates refMap (nil if no more occurrences).
func (s *Stack) untrackReference(e *Element) {
	if !e.OnRegister() {
		return
	}
	key := regKey{tp: e.RegType, reg: e.Reg}
	if e.nextOccurrence != nil {
		e.nextOccurrence.prevOccurrence = e.prevOccurrence
	} else if s.refMap[key] == e {
		if e.prevOccurrence != nil {
			s.refMap[key] = e.prevOccurrence
		} else {
			delete(s.refMap, key)
		}
	}
	if e.prevOccurrence != nil {
		e.prevOccurrence.nextOccurrence = e.nextOccurrence
	}
	e.prevOccurrence, e.nextOccurrence = nil, nil
}

// Rebind changes e's storage to the given register, updating the reference
// map/chain accordingly. Used when liftToRegInPlaceProt (spec §4.7) promotes
// a Local/TempResult/Constant element to KindRegister, or when a spill
// demotes a KindRegister element to KindTempResult (pass KindTempResult and
// isa.NilRegister; the caller sets e.TempOffset itself).
func (s *Stack) Rebind(e *Element, kind Kind, tp isa.RegisterType, reg isa.Register) {
	s.untrackReference(e)
	e.Kind = kind
	e.RegType = tp
	e.Reg = reg
	s.trackReference(e)
}

// LastReferenceTo returns the StackElement that is the oracle for "is this
// register free?" (spec §3.4): the most recent element still referring to
// reg, or nil if none.
func (s *Stack) LastReferenceTo(tp isa.RegisterType, reg isa.Register) *Element {
	return s.refMap[regKey{tp: tp, reg: reg}]
}

// ReassignRegister rewrites every StackElement that refers to from so it
// instead refers to to, walking the O(1) reference chain rather than
// scanning the whole stack (spec §4.7 spillFromStackImpl's "rewrites every
// StackElement in the current stack that referred to it").
func (s *Stack) ReassignRegister(tp isa.RegisterType, from, to isa.Register) {
	key := regKey{tp: tp, reg: from}
	e := s.refMap[key]
	delete(s.refMap, key)
	toKey := regKey{tp: tp, reg: to}
	for cur := e; cur != nil; {
		prev := cur.prevOccurrence
		cur.Reg = to
		cur = prev
	}
	if e != nil {
		s.refMap[toKey] = e
	}
}

// SubChain is a detached run of elements produced by Split, re-attachable
// via ContactAtEnd. It models spec §4.9's Else-branch stack restoration:
// the range of values pushed since the matching If is spliced out, the
// stack is rewound to the If's entry state, and later the same SubChain
// (suitably adjusted by the caller) may be discarded or reused.
type SubChain struct {
	head, tail *Element // nil, nil if empty
	count      int
}

// Split detaches the range (at, end] — the elements above and including
// the one just after at — from the stack and returns them as a SubChain,
// shrinking the stack to end just after at. Passing the sentinel for at
// splits the whole stack.
func (s *Stack) Split(at *Element) SubChain {
	if at.next == s.sentinel {
		return SubChain{}
	}
	head := at.next
	tail := s.sentinel.prev
	n := 0
	for e := head; ; e = e.next {
		n++
		if e == tail {
			break
		}
	}
	at.next = s.sentinel
	s.sentinel.prev = at
	head.prev, tail.next = nil, nil
	s.size -= n
	return SubChain{head: head, tail: tail, count: n}
}

// ContactAtEnd re-attaches a previously Split SubChain at the current end
// of the stack.
func (s *Stack) ContactAtEnd(c SubChain) {
	if c.head == nil {
		return
	}
	c.head.prev = s.sentinel.prev
	s.sentinel.prev.next = c.head
	c.tail.next = s.sentinel
	s.sentinel.prev = c.tail
	s.size += c.count
}

// DiscardSubChain frees every element of a detached SubChain back to the
// arena and untracks their register references — used when an Else clears
// the then-branch's values rather than keeping them for later use.
func (s *Stack) DiscardSubChain(c SubChain) {
	for e := c.head; e != nil; {
		next := e.next
		s.untrackReference(e)
		s.arena.FreeElem(e)
		e = next
	}
}

// Find scans from the top for the first element satisfying pred, or nil.
func (s *Stack) Find(pred func(*Element) bool) *Element {
	for e := s.sentinel.prev; e != s.sentinel; e = e.prev {
		if pred(e) {
			return e
		}
	}
	return nil
}
