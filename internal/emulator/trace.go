package emulator

import (
	"context"
	"encoding/binary"

	"golang.org/x/sync/errgroup"

	"github.com/zkforge/zkforge/internal/digest"
)

// Word is the 32-byte machine word of the emulator.
type Word [32]byte

// Step is one retired instruction in an execution trace.
type Step struct {
	// Cycle is the zero-based position of the step.
	Cycle uint64

	// Op is the retired instruction.
	Op Opcode

	// Operand is the decoded immediate (zero when the opcode has none).
	Operand uint64

	// Value is the stack top after the instruction retired
	// (zero word for OUT and HALT).
	Value Word

	// Digest commits to the step. Filled by FillDigests after execution.
	Digest [32]byte
}

// EncodedStepSize is the byte width of a step's canonical encoding.
const EncodedStepSize = 8 + 1 + 8 + 32

// Encode writes the step's canonical fixed-width encoding, excluding the
// digest (the digest is computed over this encoding).
func (s *Step) Encode() [EncodedStepSize]byte {
	var b [EncodedStepSize]byte
	binary.BigEndian.PutUint64(b[0:8], s.Cycle)
	b[8] = byte(s.Op)
	binary.BigEndian.PutUint64(b[9:17], s.Operand)
	copy(b[17:], s.Value[:])
	return b
}

// Trace is the ordered record of all retired instructions for one run.
type Trace struct {
	Steps []Step
}

// Len returns the number of steps.
func (t *Trace) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Steps)
}

// FillDigests computes every step's commitment digest, sharding the work
// across the given number of goroutines. The result is independent of the
// shard count: each digest depends only on its own step encoding.
func (t *Trace) FillDigests(ctx context.Context, threads int) error {
	if t.Len() == 0 {
		return nil
	}
	if threads < 1 {
		threads = 1
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(threads)

	const shard = 1024
	for lo := 0; lo < len(t.Steps); lo += shard {
		hi := lo + shard
		if hi > len(t.Steps) {
			hi = len(t.Steps)
		}
		steps := t.Steps[lo:hi]
		g.Go(func() error {
			for i := range steps {
				enc := steps[i].Encode()
				steps[i].Digest = digest.Keccak256(enc[:])
			}
			return nil
		})
	}
	return g.Wait()
}

// PublicValuesDigest computes the deterministic digest over a program's
// public outputs. Each output is length-framed so the digest is unambiguous
// with respect to output boundaries. Estimation and proving both bind their
// results through this function.
func PublicValuesDigest(values []Word) [32]byte {
	parts := make([][]byte, 0, 1+len(values))
	parts = append(parts, digest.Uint64Bytes(uint64(len(values))))
	for i := range values {
		parts = append(parts, values[i][:])
	}
	return digest.Keccak256(parts...)
}
