package prover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkforge/zkforge/internal/emulator"
	"github.com/zkforge/zkforge/internal/partition"
)

func testChunks(t *testing.T, n int) []partition.Chunk {
	t.Helper()
	asm := emulator.NewAssembler()
	for i := 0; i < n*4; i++ {
		asm.Const(uint64(i)).Out()
	}
	asm.Halt()

	res, err := emulator.New().Run(context.Background(), asm.Program(), nil)
	require.NoError(t, err)

	chunks, err := partition.Plan(res.Trace, partition.Params{ChunkSize: res.Trace.Len() / n, Threshold: 1, Batch: 4})
	require.NoError(t, err)
	return chunks
}

func TestCommitBackend_ProveVerifyRoundTrip(t *testing.T) {
	b := NewCommitBackend()
	chunks := testChunks(t, 3)

	for _, c := range chunks {
		proof, err := b.Prove(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, c.Index, proof.Index)
		assert.Equal(t, ShapeCommitV1, proof.Shape)
		assert.NoError(t, b.Verify(proof))
	}
}

func TestCommitBackend_VerifyRejectsTampering(t *testing.T) {
	b := NewCommitBackend()
	chunk := testChunks(t, 1)[0]

	proof, err := b.Prove(context.Background(), chunk)
	require.NoError(t, err)

	t.Run("flipped data byte", func(t *testing.T) {
		bad := proof
		bad.Data = append([]byte(nil), proof.Data...)
		bad.Data[0] ^= 0xff
		assert.ErrorIs(t, b.Verify(bad), ErrVerifyFailed)
	})

	t.Run("wrong index", func(t *testing.T) {
		bad := proof
		bad.Index = proof.Index + 1
		assert.ErrorIs(t, b.Verify(bad), ErrVerifyFailed)
	})

	t.Run("foreign shape", func(t *testing.T) {
		bad := proof
		bad.Shape = ShapeGroth16V1
		assert.ErrorIs(t, b.Verify(bad), ErrShapeMismatch)
	})

	t.Run("empty data", func(t *testing.T) {
		bad := proof
		bad.Data = nil
		assert.ErrorIs(t, b.Verify(bad), ErrEmptyProofData)
	})
}

func TestCommitBackend_Deterministic(t *testing.T) {
	b := NewCommitBackend()
	chunk := testChunks(t, 1)[0]

	first, err := b.Prove(context.Background(), chunk)
	require.NoError(t, err)
	second, err := b.Prove(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGroth16Backend_ProveVerifyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	b, err := NewGroth16Backend()
	require.NoError(t, err)
	chunk := testChunks(t, 1)[0]

	proof, err := b.Prove(context.Background(), chunk)
	require.NoError(t, err)
	assert.Equal(t, ShapeGroth16V1, proof.Shape)
	assert.NotEmpty(t, proof.Data)
	assert.NotEmpty(t, proof.PublicDigest)

	require.NoError(t, b.Verify(proof))

	// A proof replayed against a different chunk commitment must fail.
	bad := proof
	bad.Commitment[0] ^= 0xff
	assert.ErrorIs(t, b.Verify(bad), ErrVerifyFailed)
}

func TestRouter_PickAndFallback(t *testing.T) {
	cpu := NewCommitBackend()
	r := NewRouter(cpu)

	assert.Same(t, Backend(cpu), r.Pick(""))
	assert.Same(t, Backend(cpu), r.Pick("gpu"), "unregistered hint falls back")

	other := NewCommitBackend()
	r.Register("gpu", other)
	assert.Same(t, Backend(other), r.Pick("GPU"), "hints are case-insensitive")

	assert.Len(t, r.Backends(), 1, "same shape registered twice counts once")
}
