package memwriter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/herrcai0907/wasmjit/internal/wasmtypes"
)

func TestWriteBytesLEAndRead(t *testing.T) {
	w := New(4, nil)
	pos, err := w.Step(0)
	require.NoError(t, err)
	require.Equal(t, 0, pos)

	require.NoError(t, w.WriteBytesLE(0x12345678, 4))
	require.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, w.Bytes())
}

func TestAlignForType(t *testing.T) {
	w := New(4, nil)
	require.NoError(t, w.WriteByte(1))
	pos, err := w.AlignForType(8)
	require.NoError(t, err)
	require.Equal(t, 8, pos)
	require.Equal(t, 8, w.Size())
}

func TestPutUint32AtPatchesInPlace(t *testing.T) {
	w := New(8, nil)
	require.NoError(t, w.WriteBytesLE(0, 4))
	w.PutUint32At(0, 0xCAFEBABE)
	require.Equal(t, []byte{0xbe, 0xba, 0xfe, 0xca}, w.Bytes())
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	w := New(1, nil)
	for i := 0; i < 1000; i++ {
		require.NoError(t, w.WriteByte(byte(i)))
	}
	require.Equal(t, 1000, w.Size())
	for i := 0; i < 1000; i++ {
		require.Equal(t, byte(i), w.Bytes()[i])
	}
}

func TestExtenderFailureReturnsOutOfMemory(t *testing.T) {
	w := New(1, func(cur []byte, minSize int) []byte { return nil })
	_, err := w.Step(100)
	require.Error(t, err)
	require.IsType(t, &wasmtypes.ErrOutOfMemory{}, err)
}

func TestTruncateDiscardsTail(t *testing.T) {
	w := New(8, nil)
	require.NoError(t, w.WriteBytesLE(0xFFFFFFFF, 4))
	mark := w.Size()
	require.NoError(t, w.WriteBytesLE(0xAAAAAAAA, 4))
	w.Truncate(mark)
	require.Equal(t, mark, w.Size())
}
