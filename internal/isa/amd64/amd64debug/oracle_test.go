//go:build amd64debug

package amd64debug

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/herrcai0907/wasmjit/internal/isa"
	"github.com/herrcai0907/wasmjit/internal/isa/amd64"
	"github.com/herrcai0907/wasmjit/internal/memwriter"
)

func regOf(n byte) isa.Register { return isa.Register(n) }

func TestOracle_MovRegReg_I64(t *testing.T) {
	ours := func(src, dst byte) []byte {
		w := memwriter.New(32, nil)
		ins := amd64.NewInstruction(amd64.OpMOV).SetWidth(8).SetRR(regOf(src), regOf(dst), false, false)
		_, err := ins.EmitCode(w)
		require.NoError(t, err)
		return append([]byte(nil), w.Bytes()...)
	}

	cases := []struct{ src, dst byte }{
		{0, 1},  // mov rcx, rax
		{2, 3},  // mov rbx, rdx
		{8, 15}, // mov r15, r8 (REX.RB exercised)
	}
	for _, c := range cases {
		want, err := AssembleRegReg(x86.AMOVQ, GPR(int16(c.src)), GPR(int16(c.dst)))
		require.NoError(t, err)
		got := ours(c.src, c.dst)
		require.Equal(t, want, got, "mov r%d, r%d", c.dst, c.src)
	}
}

func TestOracle_AddRegReg_I32(t *testing.T) {
	ours := func(src, dst byte) []byte {
		w := memwriter.New(32, nil)
		ins := amd64.NewInstruction(amd64.OpADD).SetWidth(4).SetRR(regOf(src), regOf(dst), false, false)
		_, err := ins.EmitCode(w)
		require.NoError(t, err)
		return append([]byte(nil), w.Bytes()...)
	}

	want, err := AssembleRegReg(x86.AADDL, GPR(0), GPR(1))
	require.NoError(t, err)
	require.Equal(t, want, ours(0, 1))
}
