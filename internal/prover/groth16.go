package prover

import (
	"bytes"
	"context"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	frmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	stdmimc "github.com/consensys/gnark/std/hash/mimc"

	"github.com/zkforge/zkforge/internal/partition"
)

// chunkCircuit proves knowledge of a chunk commitment whose MiMC digest is
// the public input. The commitment is the keccak chunk commitment reduced
// into the BN254 scalar field.
type chunkCircuit struct {
	Commitment frontend.Variable
	Digest     frontend.Variable `gnark:",public"`
}

func (c *chunkCircuit) Define(api frontend.API) error {
	h, err := stdmimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Commitment)
	api.AssertIsEqual(c.Digest, h.Sum())
	return nil
}

// Groth16Backend proves chunks with gnark's groth16 over BN254. The
// constraint system is compiled and the proving/verifying keys generated
// once at construction; Prove and Verify are safe for concurrent use.
type Groth16Backend struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// NewGroth16Backend compiles the chunk circuit and runs setup.
func NewGroth16Backend() (*Groth16Backend, error) {
	var circuit chunkCircuit
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, fmt.Errorf("groth16 backend: compile circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 backend: setup: %w", err)
	}
	return &Groth16Backend{ccs: ccs, pk: pk, vk: vk}, nil
}

// Shape implements Backend.
func (b *Groth16Backend) Shape() Shape { return ShapeGroth16V1 }

// Prove implements Backend.
func (b *Groth16Backend) Prove(ctx context.Context, chunk partition.Chunk) (ChunkProof, error) {
	if err := ctx.Err(); err != nil {
		return ChunkProof{}, err
	}

	var preimage fr.Element
	preimage.SetBytes(chunk.Commitment[:])
	digestEl := mimcDigest(preimage)

	assignment := &chunkCircuit{
		Commitment: preimage,
		Digest:     digestEl,
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return ChunkProof{}, fmt.Errorf("groth16 backend: build witness: %w", err)
	}

	proof, err := groth16.Prove(b.ccs, b.pk, w)
	if err != nil {
		return ChunkProof{}, fmt.Errorf("groth16 backend: prove chunk %d: %w", chunk.Index, err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteRawTo(&buf); err != nil {
		return ChunkProof{}, fmt.Errorf("groth16 backend: serialize proof: %w", err)
	}

	return ChunkProof{
		Index:        chunk.Index,
		Shape:        ShapeGroth16V1,
		Commitment:   chunk.Commitment,
		PublicDigest: digestEl.Marshal(),
		Data:         buf.Bytes(),
	}, nil
}

// Verify implements Backend.
func (b *Groth16Backend) Verify(proof ChunkProof) error {
	if proof.Shape != ShapeGroth16V1 {
		return fmt.Errorf("%w: got %s", ErrShapeMismatch, proof.Shape.ID())
	}
	if len(proof.Data) == 0 {
		return ErrEmptyProofData
	}

	// The public digest must match the commitment the proof claims to
	// cover; otherwise a valid proof for one chunk could be replayed for
	// another.
	var preimage fr.Element
	preimage.SetBytes(proof.Commitment[:])
	want := mimcDigest(preimage)
	var got fr.Element
	if err := got.SetBytesCanonical(proof.PublicDigest); err != nil {
		return fmt.Errorf("%w: bad public digest: %v", ErrVerifyFailed, err)
	}
	if !got.Equal(&want) {
		return fmt.Errorf("%w: public digest does not match commitment", ErrVerifyFailed)
	}

	gp := groth16.NewProof(ecc.BN254)
	if _, err := gp.ReadFrom(bytes.NewReader(proof.Data)); err != nil {
		return fmt.Errorf("%w: decode proof: %v", ErrVerifyFailed, err)
	}

	pub, err := frontend.NewWitness(&chunkCircuit{Digest: got}, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("groth16 backend: build public witness: %w", err)
	}
	if err := groth16.Verify(gp, b.vk, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return nil
}

// mimcDigest computes the native MiMC digest of one field element,
// matching the in-circuit hash.
func mimcDigest(el fr.Element) fr.Element {
	h := frmimc.NewMiMC()
	b := el.Marshal()
	h.Write(b)
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}
