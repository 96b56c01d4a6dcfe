package emulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProgram(t *testing.T) {
	tests := []struct {
		name    string
		program []byte
		wantErr error
	}{
		{"valid", NewAssembler().Const(1).Halt().Program(), nil},
		{"bad magic", []byte{0xde, 0xad, 0xbe, 0xef, byte(OpHalt)}, ErrBadMagic},
		{"too short", []byte{'Z', 'K'}, ErrBadMagic},
		{"empty body", NewAssembler().Program(), ErrEmptyProgram},
		{"invalid opcode", append(NewAssembler().Program(), 0x7f), ErrInvalidOpcode},
		{"truncated const", append(NewAssembler().Program(), byte(OpConst), 0x01), ErrTruncatedOp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProgram(tt.program)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRun_ArithmeticAndOutputs(t *testing.T) {
	// (2 + 3) * 4 = 20, emitted as a public value.
	program := NewAssembler().
		Const(2).Const(3).Add().
		Const(4).Mul().
		Out().Halt().Program()

	res, err := New().Run(context.Background(), program, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), res.Cycles)
	require.Len(t, res.PublicValues, 1)

	var want Word
	want[31] = 20
	assert.Equal(t, want, res.PublicValues[0])
	require.NotNil(t, res.Trace)
	assert.Equal(t, 7, res.Trace.Len())
}

func TestRun_CycleLimit(t *testing.T) {
	asm := NewAssembler().Const(1)
	for i := 0; i < 100; i++ {
		asm.Dup().Add()
	}
	asm.Halt()

	_, err := New(WithMaxCycles(10)).Run(context.Background(), asm.Program(), nil)
	assert.ErrorIs(t, err, ErrCycleLimit)
}

func TestRun_ProgramFaults(t *testing.T) {
	t.Run("stack underflow", func(t *testing.T) {
		program := NewAssembler().Add().Halt().Program()
		_, err := New().Run(context.Background(), program, nil)
		assert.ErrorIs(t, err, ErrStackUnderflow)
	})

	t.Run("input index out of range", func(t *testing.T) {
		program := NewAssembler().Push(2).Halt().Program()
		_, err := New().Run(context.Background(), program, [][]byte{[]byte("only one")})
		assert.ErrorIs(t, err, ErrInputIndex)
	})
}

func TestRun_HaltStopsEarly(t *testing.T) {
	program := NewAssembler().Const(1).Halt().Const(2).Out().Program()
	res, err := New().Run(context.Background(), program, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Cycles)
	assert.Empty(t, res.PublicValues)
}

func TestRun_ImplicitHaltAtEnd(t *testing.T) {
	program := NewAssembler().Const(7).Out().Program()
	res, err := New().Run(context.Background(), program, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Cycles)
	assert.Len(t, res.PublicValues, 1)
}

func TestRun_PVDigestMatchesWithAndWithoutTrace(t *testing.T) {
	program := NewAssembler().
		Push(0).Hash().Out().
		Push(1).Out().
		Halt().Program()
	inputs := [][]byte{[]byte("alpha"), []byte("beta")}

	vm := New(WithThreads(4))
	full, err := vm.Run(context.Background(), program, inputs)
	require.NoError(t, err)
	require.NotNil(t, full.Trace)

	estimate, err := vm.Run(context.Background(), program, inputs, WithoutTrace())
	require.NoError(t, err)
	assert.Nil(t, estimate.Trace)

	assert.Equal(t, full.Cycles, estimate.Cycles)
	assert.Equal(t, full.PVDigest, estimate.PVDigest)
}

func TestRun_DeterministicAcrossThreadCounts(t *testing.T) {
	asm := NewAssembler()
	for i := 0; i < 50; i++ {
		asm.Const(uint64(i)).Hash().Out()
	}
	asm.Halt()
	program := asm.Program()

	base, err := New(WithThreads(1)).Run(context.Background(), program, nil)
	require.NoError(t, err)

	parallel, err := New(WithThreads(8)).Run(context.Background(), program, nil)
	require.NoError(t, err)

	assert.Equal(t, base.PVDigest, parallel.PVDigest)
	require.Equal(t, base.Trace.Len(), parallel.Trace.Len())
	for i := range base.Trace.Steps {
		assert.Equal(t, base.Trace.Steps[i].Digest, parallel.Trace.Steps[i].Digest, "step %d", i)
	}
}

func TestPublicValuesDigest_BindsCountAndOrder(t *testing.T) {
	var a, b Word
	a[31] = 1
	b[31] = 2

	assert.NotEqual(t, PublicValuesDigest([]Word{a, b}), PublicValuesDigest([]Word{b, a}))
	assert.NotEqual(t, PublicValuesDigest([]Word{a}), PublicValuesDigest([]Word{a, a}))
	assert.Equal(t, PublicValuesDigest(nil), PublicValuesDigest([]Word{}))
}
