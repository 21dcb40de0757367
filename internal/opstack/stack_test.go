package opstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/bump"
	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func newTestStack() *Stack {
	return New(bump.New[Element](8))
}

func TestPushPopOrder(t *testing.T) {
	s := newTestStack()
	s.Push(func(e *Element) { e.Kind = KindConstant; e.ConstBits = 1 })
	s.Push(func(e *Element) { e.Kind = KindConstant; e.ConstBits = 2 })
	require.Equal(t, 2, s.Size())

	top := s.Pop()
	require.Equal(t, uint64(2), top.ConstBits)
	s.Free(top)

	top = s.Pop()
	require.Equal(t, uint64(1), top.ConstBits)
	s.Free(top)
	require.Equal(t, 0, s.Size())
}

func TestReferenceMapTracksRegisterOccurrences(t *testing.T) {
	s := newTestStack()
	e1 := s.Push(func(e *Element) {
		e.Kind = KindRegister
		e.Reg = 3
		e.RegType = isa.GeneralPurpose
		e.Type = wasmtypes.I32
	})
	require.Same(t, e1, s.LastReferenceTo(isa.GeneralPurpose, 3))

	e2 := s.Push(func(e *Element) {
		e.Kind = KindRegister
		e.Reg = 3
		e.RegType = isa.GeneralPurpose
		e.Type = wasmtypes.I32
	})
	require.Same(t, e2, s.LastReferenceTo(isa.GeneralPurpose, 3))
	require.Same(t, e1, e2.prevOccurrence)

	s.Erase(e2)
	require.Same(t, e1, s.LastReferenceTo(isa.GeneralPurpose, 3))

	s.Erase(e1)
	require.Nil(t, s.LastReferenceTo(isa.GeneralPurpose, 3))
}

func TestReassignRegisterRewritesAllOccurrences(t *testing.T) {
	s := newTestStack()
	s.Push(func(e *Element) { e.Kind = KindRegister; e.Reg = 1; e.RegType = isa.GeneralPurpose })
	s.Push(func(e *Element) { e.Kind = KindConstant })
	s.Push(func(e *Element) { e.Kind = KindRegister; e.Reg = 1; e.RegType = isa.GeneralPurpose })

	s.ReassignRegister(isa.GeneralPurpose, 1, 5)
	require.Nil(t, s.LastReferenceTo(isa.GeneralPurpose, 1))
	top := s.LastReferenceTo(isa.GeneralPurpose, 5)
	require.NotNil(t, top)
	require.Equal(t, isa.Register(5), top.Reg)
	require.Equal(t, isa.Register(5), top.prevOccurrence.Reg)
}

func TestSplitAndContactAtEndRestoresOrder(t *testing.T) {
	s := newTestStack()
	anchor := s.Push(func(e *Element) { e.Kind = KindBlock })
	s.Push(func(e *Element) { e.Kind = KindConstant; e.ConstBits = 10 })
	s.Push(func(e *Element) { e.Kind = KindConstant; e.ConstBits = 20 })
	require.Equal(t, 3, s.Size())

	chain := s.Split(anchor)
	require.Equal(t, 1, s.Size())
	require.Same(t, anchor, s.Top())

	s.ContactAtEnd(chain)
	require.Equal(t, 3, s.Size())
	require.Equal(t, uint64(20), s.Top().ConstBits)
}

func TestDiscardSubChainFreesElements(t *testing.T) {
	s := newTestStack()
	anchor := s.Push(func(e *Element) { e.Kind = KindBlock })
	s.Push(func(e *Element) {
		e.Kind = KindRegister
		e.Reg = 2
		e.RegType = isa.GeneralPurpose
	})

	chain := s.Split(anchor)
	s.DiscardSubChain(chain)
	require.Nil(t, s.LastReferenceTo(isa.GeneralPurpose, 2))
}

func TestFindLocatesFromTop(t *testing.T) {
	s := newTestStack()
	s.Push(func(e *Element) { e.Kind = KindConstant; e.ConstBits = 1 })
	s.Push(func(e *Element) { e.Kind = KindPendingComparison })
	found := s.Find(func(e *Element) bool { return e.Kind == KindPendingComparison })
	require.NotNil(t, found)
	require.Same(t, s.Top(), found)
}
