// Package partition splits execution traces into independently provable
// chunks. Partitioning is pure: the same trace and parameters always yield
// the same boundaries, and the chunks concatenated in index order
// reconstruct the trace exactly.
package partition

import (
	"errors"
	"fmt"

	"github.com/zkforge/zkforge/internal/digest"
	"github.com/zkforge/zkforge/internal/emulator"
)

// DomainChunk is the domain prefix for chunk commitments.
const DomainChunk = "zkforge/chunk/v1"

var (
	ErrBadChunkSize = errors.New("partition: chunk size must be positive")
	ErrBadThreshold = errors.New("partition: split threshold must be positive")
	ErrBadBatch     = errors.New("partition: batch size must be positive")
)

// Params are the partitioning policy knobs.
type Params struct {
	// ChunkSize is the target number of steps per chunk.
	ChunkSize int

	// Threshold is the minimum trace length that is split at all; shorter
	// traces become exactly one chunk.
	Threshold int

	// Batch is how many chunks are dispatched to the prover pool together.
	Batch int
}

// Validate reports the first invalid parameter.
func (p Params) Validate() error {
	if p.ChunkSize <= 0 {
		return ErrBadChunkSize
	}
	if p.Threshold <= 0 {
		return ErrBadThreshold
	}
	if p.Batch <= 0 {
		return ErrBadBatch
	}
	return nil
}

// Chunk is a contiguous slice of an execution trace.
type Chunk struct {
	// Index is the chunk's position within the task. Aggregation order
	// must match index order exactly.
	Index int

	// StartCycle is the cycle of the chunk's first step (equal to the
	// previous chunks' combined length).
	StartCycle uint64

	// Steps are the trace steps covered, in execution order. Empty only
	// for the single chunk of an empty trace.
	Steps []emulator.Step

	// Commitment binds the chunk's index, position, and step digests.
	Commitment [32]byte
}

// commit computes the chunk commitment over its canonical framing.
func (c *Chunk) commit() [32]byte {
	parts := make([][]byte, 0, 4+len(c.Steps))
	parts = append(parts,
		[]byte(DomainChunk),
		digest.Uint64Bytes(uint64(c.Index)),
		digest.Uint64Bytes(c.StartCycle),
		digest.Uint64Bytes(uint64(len(c.Steps))),
	)
	for i := range c.Steps {
		parts = append(parts, c.Steps[i].Digest[:])
	}
	return digest.Keccak256(parts...)
}

// Plan partitions a trace. A nil or empty trace, or any trace shorter than
// the threshold, yields exactly one chunk so downstream aggregation never
// sees an empty sequence. Otherwise steps are cut into contiguous chunks of
// at most ChunkSize steps with no gaps or overlaps.
func Plan(trace *emulator.Trace, params Params) ([]Chunk, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	n := trace.Len()
	if n == 0 || n < params.Threshold {
		var steps []emulator.Step
		if n > 0 {
			steps = trace.Steps
		}
		c := Chunk{Index: 0, StartCycle: 0, Steps: steps}
		c.Commitment = c.commit()
		return []Chunk{c}, nil
	}

	count := (n + params.ChunkSize - 1) / params.ChunkSize
	chunks := make([]Chunk, 0, count)
	for lo := 0; lo < n; lo += params.ChunkSize {
		hi := lo + params.ChunkSize
		if hi > n {
			hi = n
		}
		c := Chunk{
			Index:      len(chunks),
			StartCycle: uint64(lo),
			Steps:      trace.Steps[lo:hi],
		}
		c.Commitment = c.commit()
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Batches groups chunks into dispatch batches of at most params.Batch,
// preserving index order within and across batches.
func Batches(chunks []Chunk, params Params) ([][]Chunk, error) {
	if params.Batch <= 0 {
		return nil, ErrBadBatch
	}
	var out [][]Chunk
	for lo := 0; lo < len(chunks); lo += params.Batch {
		hi := lo + params.Batch
		if hi > len(chunks) {
			hi = len(chunks)
		}
		out = append(out, chunks[lo:hi])
	}
	return out, nil
}

// CheckContiguous verifies that chunks are in index order 0..n-1 and that
// their cycle ranges tile the original trace without gaps. Used by the
// aggregator as an internal consistency gate.
func CheckContiguous(chunks []Chunk) error {
	var nextCycle uint64
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("partition: chunk at position %d has index %d", i, c.Index)
		}
		if c.StartCycle != nextCycle {
			return fmt.Errorf("partition: chunk %d starts at cycle %d, want %d", i, c.StartCycle, nextCycle)
		}
		nextCycle += uint64(len(c.Steps))
	}
	return nil
}
