package bump

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type node struct {
	val  int
	next *node
}

func TestStepAllocatesDistinctElements(t *testing.T) {
	a := New[node](4)
	n1 := a.Step()
	n2 := a.Step()
	require.NotSame(t, n1, n2)
	n1.val = 1
	n2.val = 2
	require.Equal(t, 1, n1.val)
	require.Equal(t, 2, n2.val)
}

func TestFreeElemReusedBeforeGrowingSlab(t *testing.T) {
	a := New[node](2)
	n1 := a.Step()
	n2 := a.Step()
	a.FreeElem(n1)
	n3 := a.Step()
	require.Same(t, n1, n3, "freed element should be reused before growing a new slab")
	_ = n2
}

func TestGrowsSlabWhenExhausted(t *testing.T) {
	a := New[node](2)
	seen := map[*node]bool{}
	for i := 0; i < 10; i++ {
		n := a.Step()
		require.False(t, seen[n], "Step must not return a live element twice without FreeElem")
		seen[n] = true
	}
	require.Len(t, a.slabs, 5)
}

func TestResetReleasesExtraSlabsAndFreeList(t *testing.T) {
	a := New[node](2)
	for i := 0; i < 10; i++ {
		a.Step()
	}
	a.Reset()
	require.Len(t, a.slabs, 1)
	require.Empty(t, a.free)
	n := a.Step()
	require.Same(t, &a.slabs[0][0], n)
}
