// Package prover turns trace chunks into chunk-level proofs.
//
// The orchestration core treats the proof system as an opaque capability:
// a Backend proves one chunk and can re-verify its own proofs. Two
// implementations are provided: a keccak commitment binding for fast,
// CPU-light deployments and tests, and a gnark groth16 backend proving
// knowledge of the chunk commitment behind a MiMC digest.
package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/zkforge/zkforge/internal/digest"
	"github.com/zkforge/zkforge/internal/partition"
)

// DomainChunkProof is the domain prefix for commitment-binding proofs.
const DomainChunkProof = "zkforge/chunk-proof/v1"

var (
	ErrEmptyProofData = errors.New("prover: empty proof data")
	ErrShapeMismatch  = errors.New("prover: proof shape mismatch")
	ErrVerifyFailed   = errors.New("prover: proof verification failed")
)

// ChunkProof is the proof object for one chunk.
type ChunkProof struct {
	// Index is the chunk's position within its task.
	Index int

	// Shape identifies the recursion configuration that produced the proof.
	Shape Shape

	// Commitment is the chunk commitment the proof attests to.
	Commitment [32]byte

	// PublicDigest is the backend's public binding value (for groth16 the
	// MiMC digest the verifier checks against).
	PublicDigest []byte

	// Data is the serialized proof blob.
	Data []byte
}

// Backend converts chunks into proofs.
type Backend interface {
	// Prove produces a proof for one chunk. Long-running and CPU-bound;
	// honors ctx cancellation between internal phases.
	Prove(ctx context.Context, chunk partition.Chunk) (ChunkProof, error)

	// Verify re-checks a proof produced by this backend. Returns
	// ErrShapeMismatch for foreign shapes and ErrVerifyFailed for
	// proofs that do not hold.
	Verify(proof ChunkProof) error

	// Shape returns the backend's recursion configuration identity.
	Shape() Shape
}

// CommitBackend binds chunks with a domain-separated keccak commitment.
// Deterministic and cheap; the default for tests and for deployments that
// defer real proving to an external system.
type CommitBackend struct{}

// NewCommitBackend creates a CommitBackend.
func NewCommitBackend() *CommitBackend {
	return &CommitBackend{}
}

// Shape implements Backend.
func (b *CommitBackend) Shape() Shape { return ShapeCommitV1 }

// Prove implements Backend.
func (b *CommitBackend) Prove(ctx context.Context, chunk partition.Chunk) (ChunkProof, error) {
	if err := ctx.Err(); err != nil {
		return ChunkProof{}, err
	}
	binding := digest.Keccak256(
		[]byte(DomainChunkProof),
		digest.Uint64Bytes(uint64(chunk.Index)),
		chunk.Commitment[:],
	)
	return ChunkProof{
		Index:      chunk.Index,
		Shape:      ShapeCommitV1,
		Commitment: chunk.Commitment,
		Data:       binding[:],
	}, nil
}

// Verify implements Backend.
func (b *CommitBackend) Verify(proof ChunkProof) error {
	if proof.Shape != ShapeCommitV1 {
		return fmt.Errorf("%w: got %s", ErrShapeMismatch, proof.Shape.ID())
	}
	if len(proof.Data) == 0 {
		return ErrEmptyProofData
	}
	want := digest.Keccak256(
		[]byte(DomainChunkProof),
		digest.Uint64Bytes(uint64(proof.Index)),
		proof.Commitment[:],
	)
	if len(proof.Data) != len(want) {
		return ErrVerifyFailed
	}
	for i := range want {
		if proof.Data[i] != want[i] {
			return ErrVerifyFailed
		}
	}
	return nil
}
