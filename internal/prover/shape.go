package prover

import "fmt"

// Shape identifies a proof's recursion configuration: the proof system,
// curve, circuit variant, and version. The restricted recursion set is
// expressed as a list of approved shape IDs.
type Shape struct {
	System  string
	Curve   string
	Circuit string
	Version int
}

// ID returns the canonical shape identifier, e.g. "groth16/bn254/chunk-mimc/v1".
func (s Shape) ID() string {
	return fmt.Sprintf("%s/%s/%s/v%d", s.System, s.Curve, s.Circuit, s.Version)
}

// Shapes of the built-in backends.
var (
	// ShapeCommitV1 is the keccak commitment-binding backend.
	ShapeCommitV1 = Shape{System: "commit", Curve: "keccak256", Circuit: "chunk-binding", Version: 1}

	// ShapeGroth16V1 is the gnark groth16 MiMC chunk-commitment backend.
	ShapeGroth16V1 = Shape{System: "groth16", Curve: "bn254", Circuit: "chunk-mimc", Version: 1}
)
