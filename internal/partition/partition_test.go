package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkforge/zkforge/internal/emulator"
)

func traceOfLen(t *testing.T, n int) *emulator.Trace {
	t.Helper()
	tr := &emulator.Trace{Steps: make([]emulator.Step, n)}
	for i := range tr.Steps {
		tr.Steps[i].Cycle = uint64(i)
		tr.Steps[i].Op = emulator.OpConst
		tr.Steps[i].Operand = uint64(i)
	}
	require.NoError(t, tr.FillDigests(context.Background(), 2))
	return tr
}

func defaultParams() Params {
	return Params{ChunkSize: 10, Threshold: 5, Batch: 3}
}

func TestPlan_Validation(t *testing.T) {
	tr := traceOfLen(t, 3)

	_, err := Plan(tr, Params{ChunkSize: 0, Threshold: 1, Batch: 1})
	assert.ErrorIs(t, err, ErrBadChunkSize)
	_, err = Plan(tr, Params{ChunkSize: 1, Threshold: 0, Batch: 1})
	assert.ErrorIs(t, err, ErrBadThreshold)
	_, err = Plan(tr, Params{ChunkSize: 1, Threshold: 1, Batch: 0})
	assert.ErrorIs(t, err, ErrBadBatch)
}

func TestPlan_EmptyTraceYieldsOneChunk(t *testing.T) {
	chunks, err := Plan(&emulator.Trace{}, defaultParams())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Empty(t, chunks[0].Steps)
	assert.NotEqual(t, [32]byte{}, chunks[0].Commitment)

	nilChunks, err := Plan(nil, defaultParams())
	require.NoError(t, err)
	require.Len(t, nilChunks, 1)
}

func TestPlan_BelowThresholdYieldsOneChunk(t *testing.T) {
	chunks, err := Plan(traceOfLen(t, 4), defaultParams())
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Steps, 4)
}

func TestPlan_SplitsIntoContiguousChunks(t *testing.T) {
	chunks, err := Plan(traceOfLen(t, 25), defaultParams())
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Len(t, chunks[0].Steps, 10)
	assert.Len(t, chunks[1].Steps, 10)
	assert.Len(t, chunks[2].Steps, 5)
	require.NoError(t, CheckContiguous(chunks))

	// Concatenation in index order reconstructs the trace exactly.
	total := 0
	for _, c := range chunks {
		for j, s := range c.Steps {
			assert.Equal(t, uint64(total+j), s.Cycle)
		}
		total += len(c.Steps)
	}
	assert.Equal(t, 25, total)
}

func TestPlan_Deterministic(t *testing.T) {
	tr := traceOfLen(t, 57)
	params := Params{ChunkSize: 8, Threshold: 4, Batch: 2}

	first, err := Plan(tr, params)
	require.NoError(t, err)
	second, err := Plan(tr, params)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].StartCycle, second[i].StartCycle, "chunk %d", i)
		assert.Equal(t, first[i].Commitment, second[i].Commitment, "chunk %d", i)
	}
}

func TestPlan_CommitmentsBindPosition(t *testing.T) {
	chunks, err := Plan(traceOfLen(t, 20), Params{ChunkSize: 10, Threshold: 5, Batch: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotEqual(t, chunks[0].Commitment, chunks[1].Commitment)
}

func TestBatches(t *testing.T) {
	chunks, err := Plan(traceOfLen(t, 70), Params{ChunkSize: 10, Threshold: 5, Batch: 3})
	require.NoError(t, err)
	require.Len(t, chunks, 7)

	batches, err := Batches(chunks, Params{ChunkSize: 10, Threshold: 5, Batch: 3})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[1], 3)
	assert.Len(t, batches[2], 1)

	idx := 0
	for _, batch := range batches {
		for _, c := range batch {
			assert.Equal(t, idx, c.Index)
			idx++
		}
	}
}

func TestCheckContiguous(t *testing.T) {
	chunks, err := Plan(traceOfLen(t, 30), defaultParams())
	require.NoError(t, err)

	t.Run("reordered", func(t *testing.T) {
		bad := []Chunk{chunks[1], chunks[0], chunks[2]}
		assert.Error(t, CheckContiguous(bad))
	})

	t.Run("gap", func(t *testing.T) {
		bad := []Chunk{chunks[0], chunks[2]}
		assert.Error(t, CheckContiguous(bad))
	})

	t.Run("ok", func(t *testing.T) {
		assert.NoError(t, CheckContiguous(chunks))
	})
}
