// Package testutil provides deterministic generators for tests.
package testutil

// FixedTokenGenerator generates the same run token every time.
//
// Unlike orchestrator.FixedGenerator, which returns tokens in sequence
// and panics when exhausted, this generator never runs out. Use it when
// a test or harness run may start any number of task drivers and only
// determinism matters, not per-driver identity.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for
// concurrent use.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a generator returning token from every
// Generate call. An empty token defaults to "test-run-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-run-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
//
// Implements orchestrator.TokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}
