// Package harness provides conformance testing for the proving service.
//
// Scenarios are YAML files describing a program, its inputs, and the
// expected terminal outcome. The harness assembles the program, runs the
// full lifecycle through a real orchestrator against an isolated SQLite
// ledger, and checks the result. Golden snapshots capture the terminal
// state and the transition trail for regression comparison.
//
// # Scenario Format
//
//	name: mul_two_inputs
//	description: "What this scenario validates"
//	program:
//	  - push 0
//	  - push 1
//	  - mul
//	  - out
//	  - halt
//	inputs:
//	  - 616c706861
//	max_cycles: 1024
//	expect:
//	  state: completed
//	  cycles: 5
//	  chunks: 1
//	  err_code: ""
//
// All scenarios execute with a fixed run token generator and an isolated
// database, so repeated runs produce identical snapshots.
package harness

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zkforge/zkforge/internal/emulator"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is the program body as assembly mnemonics, one per line:
	// push N, const N, add, mul, hash, dup, swap, out, halt.
	Program []string `yaml:"program"`

	// Inputs are hex-encoded input blobs, order preserved.
	Inputs []string `yaml:"inputs,omitempty"`

	// MaxCycles overrides the emulation budget. Zero keeps the default.
	MaxCycles uint64 `yaml:"max_cycles,omitempty"`

	// BackendHint routes proving ("" selects the default backend).
	BackendHint string `yaml:"backend_hint,omitempty"`

	// Expect is the required terminal outcome.
	Expect Expectation `yaml:"expect"`
}

// Expectation is the scenario's required terminal outcome.
type Expectation struct {
	State   string `yaml:"state"`
	Cycles  uint64 `yaml:"cycles"`
	Chunks  int    `yaml:"chunks"`
	ErrCode string `yaml:"err_code"`
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", path, err)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("load scenario %s: missing name", path)
	}
	if len(s.Program) == 0 {
		return nil, fmt.Errorf("load scenario %s: missing program", path)
	}
	if s.Expect.State == "" {
		return nil, fmt.Errorf("load scenario %s: missing expect.state", path)
	}
	return &s, nil
}

// Assemble converts the scenario's mnemonics into program bytes.
func (s *Scenario) Assemble() ([]byte, error) {
	asm := emulator.NewAssembler()
	for i, line := range s.Program {
		fields := strings.Fields(strings.ToLower(line))
		if len(fields) == 0 {
			continue
		}
		op, args := fields[0], fields[1:]

		switch op {
		case "push", "const":
			if len(args) != 1 {
				return nil, fmt.Errorf("program line %d: %s needs one operand", i+1, op)
			}
			v, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("program line %d: bad operand %q: %w", i+1, args[0], err)
			}
			if op == "push" {
				if v > 255 {
					return nil, fmt.Errorf("program line %d: push index %d out of range", i+1, v)
				}
				asm.Push(uint8(v))
			} else {
				asm.Const(v)
			}
		case "add":
			asm.Add()
		case "mul":
			asm.Mul()
		case "hash":
			asm.Hash()
		case "dup":
			asm.Dup()
		case "swap":
			asm.Swap()
		case "out":
			asm.Out()
		case "halt":
			asm.Halt()
		default:
			return nil, fmt.Errorf("program line %d: unknown mnemonic %q", i+1, op)
		}
		if len(args) > 0 && op != "push" && op != "const" {
			return nil, fmt.Errorf("program line %d: %s takes no operand", i+1, op)
		}
	}
	return asm.Program(), nil
}

// DecodeInputs converts the hex inputs into byte slices.
func (s *Scenario) DecodeInputs() ([][]byte, error) {
	out := make([][]byte, len(s.Inputs))
	for i, in := range s.Inputs {
		b, err := hex.DecodeString(in)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d] is not hex: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
