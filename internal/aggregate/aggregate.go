// Package aggregate folds chunk proofs into one succinct task proof and
// wraps it into the envelope returned to clients.
//
// Aggregation is recursion over a restricted shape set: only proofs whose
// shape is explicitly approved participate, which keeps the recursion
// verifier fixed. The fold is a binary Merkle reduction over per-chunk
// bindings, so the aggregate root commits to every chunk commitment, its
// position, and the task's public values digest.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/zkforge/zkforge/internal/digest"
	"github.com/zkforge/zkforge/internal/partition"
	"github.com/zkforge/zkforge/internal/prover"
)

// Domain prefixes for the aggregation fold.
const (
	DomainLeaf = "zkforge/agg-leaf/v1"
	DomainNode = "zkforge/agg-node/v1"
	DomainRoot = "zkforge/agg-root/v1"
)

var (
	ErrNoProofs        = errors.New("aggregate: no proofs to aggregate")
	ErrShapeNotAllowed = errors.New("aggregate: proof shape not in recursion set")
	ErrMixedShapes     = errors.New("aggregate: proofs mix shapes")
	ErrCountMismatch   = errors.New("aggregate: chunk and proof counts differ")
	ErrProofMismatch   = errors.New("aggregate: proof does not match its chunk")
)

// Proof is the aggregated task-level proof before wrapping.
type Proof struct {
	// Shape is the common shape of every folded chunk proof.
	Shape prover.Shape

	// Root is the Merkle fold root over the chunk proof bindings.
	Root [32]byte

	// Count is the number of chunk proofs folded.
	Count int

	// Cycles is the total trace length covered.
	Cycles uint64

	// PVDigest is the task's public values digest, bound into the root.
	PVDigest [32]byte
}

// Aggregator verifies and folds chunk proofs. The recursion set is fixed
// at construction from the backends it is given.
type Aggregator struct {
	backends map[string]prover.Backend
}

// New creates an Aggregator whose recursion set is exactly the shapes of
// the given backends.
func New(backends ...prover.Backend) *Aggregator {
	byShape := make(map[string]prover.Backend, len(backends))
	for _, b := range backends {
		byShape[b.Shape().ID()] = b
	}
	return &Aggregator{backends: byShape}
}

// Allowed reports whether a shape is in the recursion set.
func (a *Aggregator) Allowed(s prover.Shape) bool {
	_, ok := a.backends[s.ID()]
	return ok
}

// Aggregate checks every chunk proof against its chunk, re-verifies each
// proof with the backend for its shape, and folds the bindings into one
// root. Chunks and proofs must be index-aligned; a single foreign or
// invalid proof fails the whole aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, chunks []partition.Chunk, proofs []prover.ChunkProof, pvDigest [32]byte) (Proof, error) {
	if len(proofs) == 0 {
		return Proof{}, ErrNoProofs
	}
	if len(chunks) != len(proofs) {
		return Proof{}, fmt.Errorf("%w: %d chunks, %d proofs", ErrCountMismatch, len(chunks), len(proofs))
	}
	if err := partition.CheckContiguous(chunks); err != nil {
		return Proof{}, err
	}

	shape := proofs[0].Shape
	backend, ok := a.backends[shape.ID()]
	if !ok {
		return Proof{}, fmt.Errorf("%w: %s", ErrShapeNotAllowed, shape.ID())
	}

	var cycles uint64
	leaves := make([][32]byte, len(proofs))
	for i, p := range proofs {
		if err := ctx.Err(); err != nil {
			return Proof{}, err
		}
		if p.Shape != shape {
			return Proof{}, fmt.Errorf("%w: %s and %s", ErrMixedShapes, shape.ID(), p.Shape.ID())
		}
		if p.Index != i || p.Commitment != chunks[i].Commitment {
			return Proof{}, fmt.Errorf("%w: position %d", ErrProofMismatch, i)
		}
		if err := backend.Verify(p); err != nil {
			return Proof{}, fmt.Errorf("aggregate: chunk %d: %w", i, err)
		}
		leaves[i] = leaf(p)
		cycles += uint64(len(chunks[i].Steps))
	}

	root := fold(leaves)
	bound := digest.Keccak256(
		[]byte(DomainRoot),
		root[:],
		pvDigest[:],
		digest.Uint64Bytes(uint64(len(proofs))),
	)

	return Proof{
		Shape:    shape,
		Root:     bound,
		Count:    len(proofs),
		Cycles:   cycles,
		PVDigest: pvDigest,
	}, nil
}

// leaf binds one chunk proof's index and commitment.
func leaf(p prover.ChunkProof) [32]byte {
	return digest.Keccak256(
		[]byte(DomainLeaf),
		digest.Uint64Bytes(uint64(p.Index)),
		p.Commitment[:],
		p.Data,
	)
}

// fold reduces leaves pairwise to a single root. An odd node at any level
// is promoted unchanged, matching the usual unbalanced Merkle reduction.
func fold(level [][32]byte) [32]byte {
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, digest.Keccak256(
				[]byte(DomainNode),
				level[i][:],
				level[i+1][:],
			))
		}
		level = next
	}
	return level[0]
}
