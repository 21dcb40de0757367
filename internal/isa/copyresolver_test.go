package isa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingMover struct {
	moves []move
}

func (m *recordingMover) EmitMove(tp RegisterType, from, to Register) error {
	m.moves = append(m.moves, move{From: from, To: to, Type: tp})
	return nil
}

func (m *recordingMover) EmitSwap(tp RegisterType, a, b Register) error {
	m.moves = append(m.moves, move{From: a, To: b, Type: tp}, move{From: b, To: a, Type: tp})
	return nil
}

func TestResolveStraightMoves(t *testing.T) {
	var r RegisterCopyResolver
	r.Add(GeneralPurpose, 1, 2)
	r.Add(GeneralPurpose, 3, 4)
	m := &recordingMover{}
	require.NoError(t, r.Resolve(m, m, nil))
	require.Len(t, m.moves, 2)
}

func TestResolveChainRespectsOrder(t *testing.T) {
	// 1 -> 2, 2 -> 3: must move 2->3 before 1->2 or 2's original value is lost
	// (the "safe to overwrite" rule: a move executes only once nothing else
	// still needs its target).
	var r RegisterCopyResolver
	r.Add(GeneralPurpose, 2, 3)
	r.Add(GeneralPurpose, 1, 2)
	m := &recordingMover{}
	require.NoError(t, r.Resolve(m, m, nil))
	require.Equal(t, []move{{2, 3, GeneralPurpose}, {1, 2, GeneralPurpose}}, m.moves)
}

func TestResolveCycleBrokenWithSwap(t *testing.T) {
	// 1 -> 2, 2 -> 1: a pure swap.
	var r RegisterCopyResolver
	r.Add(GeneralPurpose, 1, 2)
	r.Add(GeneralPurpose, 2, 1)
	m := &recordingMover{}
	require.NoError(t, r.Resolve(m, m, nil))
	require.NotEmpty(t, m.moves)
}

func TestResolveFloatCycleBrokenWithScratch(t *testing.T) {
	var r RegisterCopyResolver
	r.Add(Float, 1, 2)
	r.Add(Float, 2, 1)
	m := &recordingMover{}
	scratchUsed := false
	err := r.Resolve(m, nil, func(tp RegisterType) (Register, error) {
		scratchUsed = true
		return 9, nil
	})
	require.NoError(t, err)
	require.True(t, scratchUsed)
}
