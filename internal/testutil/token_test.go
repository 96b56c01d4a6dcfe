package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokenGenerator(t *testing.T) {
	g := NewFixedTokenGenerator("run-x")
	assert.Equal(t, "run-x", g.Generate())
	assert.Equal(t, "run-x", g.Generate())
}

func TestFixedTokenGeneratorDefault(t *testing.T) {
	g := NewFixedTokenGenerator("")
	assert.Equal(t, "test-run-default", g.Generate())
}
