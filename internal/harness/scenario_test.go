package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "mul_two_inputs.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "mul_two_inputs", s.Name)
	assert.Len(t, s.Program, 5)
	assert.Len(t, s.Inputs, 2)
	assert.Equal(t, "completed", s.Expect.State)
	assert.Equal(t, uint64(5), s.Expect.Cycles)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "no_such.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	path := writeScenario(t, `
name: extra
program: [halt]
bogus_field: true
expect:
  state: completed
`)
	_, err := LoadScenario(path)
	assert.Error(t, err)
}

func TestLoadScenario_RequiredFields(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no name", "program: [halt]\nexpect: {state: completed}\n"},
		{"no program", "name: x\nexpect: {state: completed}\n"},
		{"no state", "name: x\nprogram: [halt]\nexpect: {cycles: 1}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestScenarioAssemble(t *testing.T) {
	s := &Scenario{
		Name:    "asm",
		Program: []string{"push 0", "const 7", "mul", "out", "halt"},
	}
	program, err := s.Assemble()
	require.NoError(t, err)
	assert.NotEmpty(t, program)
}

func TestScenarioAssemble_Errors(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"unknown mnemonic", "jump 3"},
		{"push missing operand", "push"},
		{"push out of range", "push 256"},
		{"const bad operand", "const seven"},
		{"operand on bare op", "halt 1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scenario{Name: "bad", Program: []string{tc.line}}
			_, err := s.Assemble()
			assert.Error(t, err)
		})
	}
}

func TestScenarioDecodeInputs(t *testing.T) {
	s := &Scenario{Inputs: []string{"616c706861", ""}}
	inputs, err := s.DecodeInputs()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, []byte("alpha"), inputs[0])
	assert.Empty(t, inputs[1])

	s = &Scenario{Inputs: []string{"zz"}}
	_, err = s.DecodeInputs()
	assert.Error(t, err)
}
