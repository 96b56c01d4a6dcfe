// Package emulator executes registered programs under a bounded cycle
// budget, producing the execution trace consumed by the partitioner and a
// deterministic digest over the program's public outputs.
//
// Programs are bytecode for a small stack machine: a fixed header followed
// by a flat instruction stream. Every retired instruction costs exactly one
// cycle. Execution is deterministic; the configured thread count only
// parallelizes trace digest computation, never the instruction stream.
package emulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zkforge/zkforge/internal/digest"
)

// Program header: magic "ZKF" plus a format version byte.
var programMagic = []byte{'Z', 'K', 'F', 0x01}

// HeaderSize is the length of the program header.
const HeaderSize = 4

// Emulation errors. ErrCycleLimit is the only failure attributable to the
// workload size; the rest are program faults.
var (
	ErrBadMagic       = errors.New("emulator: bad program magic")
	ErrEmptyProgram   = errors.New("emulator: empty program body")
	ErrCycleLimit     = errors.New("emulator: cycle limit exceeded")
	ErrInvalidOpcode  = errors.New("emulator: invalid opcode")
	ErrTruncatedOp    = errors.New("emulator: truncated operand")
	ErrStackUnderflow = errors.New("emulator: stack underflow")
	ErrInputIndex     = errors.New("emulator: input index out of range")
)

// DefaultMaxCycles is the default cycle ceiling.
const DefaultMaxCycles uint64 = 1 << 22

// Result holds the outcome of one emulation run.
type Result struct {
	// Cycles is the total number of retired instructions.
	Cycles uint64

	// PublicValues are the words emitted by OUT, in emission order.
	PublicValues []Word

	// PVDigest is the deterministic digest over PublicValues.
	PVDigest [32]byte

	// Trace is the full execution record. Nil when the run was performed
	// with WithoutTrace (the cost estimation path).
	Trace *Trace
}

// VM is the cycle emulator. A VM is stateless across runs and safe for
// concurrent use; each Run call uses its own stack.
type VM struct {
	maxCycles uint64
	threads   int
}

// Option configures a VM.
type Option func(*VM)

// WithMaxCycles sets the cycle ceiling. Zero selects DefaultMaxCycles.
func WithMaxCycles(n uint64) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxCycles = n
		}
	}
}

// WithThreads sets the digest worker count. Values below 1 select 1.
func WithThreads(n int) Option {
	return func(vm *VM) {
		if n >= 1 {
			vm.threads = n
		}
	}
}

// New creates a VM with the given options.
func New(opts ...Option) *VM {
	vm := &VM{maxCycles: DefaultMaxCycles, threads: 1}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// MaxCycles returns the configured cycle ceiling.
func (vm *VM) MaxCycles() uint64 { return vm.maxCycles }

// ValidateProgram checks the header and statically scans the instruction
// stream for invalid opcodes and truncated operands. Used at registration
// so malformed programs are rejected before any task is created.
func ValidateProgram(program []byte) error {
	if len(program) < HeaderSize || !bytes.Equal(program[:HeaderSize], programMagic) {
		return ErrBadMagic
	}
	body := program[HeaderSize:]
	if len(body) == 0 {
		return ErrEmptyProgram
	}
	for pc := 0; pc < len(body); {
		op := Opcode(body[pc])
		if !op.IsValid() {
			return fmt.Errorf("%w: 0x%02x at offset %d", ErrInvalidOpcode, body[pc], pc)
		}
		pc++
		w := op.operandWidth()
		if pc+w > len(body) {
			return fmt.Errorf("%w: %s at offset %d", ErrTruncatedOp, op, pc-1)
		}
		pc += w
	}
	return nil
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	retainTrace bool
}

// WithoutTrace disables trace retention. The cost estimation path uses
// this; cycle counting and the public-values digest are unaffected.
func WithoutTrace() RunOption {
	return func(rc *runConfig) { rc.retainTrace = false }
}

// Run executes a program against the given inputs.
//
// On success the result carries the cycle count, public values and their
// digest, and (unless WithoutTrace) the fully digested execution trace.
// Exceeding the cycle ceiling returns ErrCycleLimit; any malformed
// instruction or stack misuse returns the corresponding program fault.
func (vm *VM) Run(ctx context.Context, program []byte, inputs [][]byte, opts ...RunOption) (*Result, error) {
	rc := runConfig{retainTrace: true}
	for _, opt := range opts {
		opt(&rc)
	}

	if err := ValidateProgram(program); err != nil {
		return nil, err
	}
	body := program[HeaderSize:]

	// Inputs enter the machine as their keccak digest, giving every input
	// a fixed-width word regardless of size.
	inputWords := make([]Word, len(inputs))
	for i, in := range inputs {
		inputWords[i] = Word(digest.Keccak256(in))
	}

	var (
		stack  []Word
		public []Word
		trace  *Trace
		cycles uint64
	)
	if rc.retainTrace {
		trace = &Trace{Steps: make([]Step, 0, 256)}
	}

	pop := func() (Word, bool) {
		if len(stack) == 0 {
			return Word{}, false
		}
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return w, true
	}

	for pc := 0; pc < len(body); {
		if cycles >= vm.maxCycles {
			return nil, fmt.Errorf("%w: ceiling %d", ErrCycleLimit, vm.maxCycles)
		}

		op := Opcode(body[pc])
		pc++
		var operand uint64
		switch op.operandWidth() {
		case 1:
			operand = uint64(body[pc])
			pc++
		case 8:
			operand = binary.BigEndian.Uint64(body[pc : pc+8])
			pc += 8
		}

		var top Word
		halt := false
		switch op {
		case OpPush:
			if operand >= uint64(len(inputWords)) {
				return nil, fmt.Errorf("%w: %d of %d inputs", ErrInputIndex, operand, len(inputWords))
			}
			top = inputWords[operand]
			stack = append(stack, top)

		case OpConst:
			binary.BigEndian.PutUint64(top[24:], operand)
			stack = append(stack, top)

		case OpAdd, OpMul:
			b, ok := pop()
			if !ok {
				return nil, ErrStackUnderflow
			}
			a, ok := pop()
			if !ok {
				return nil, ErrStackUnderflow
			}
			la := binary.BigEndian.Uint64(a[24:])
			lb := binary.BigEndian.Uint64(b[24:])
			var lv uint64
			if op == OpAdd {
				lv = la + lb
			} else {
				lv = la * lb
			}
			binary.BigEndian.PutUint64(top[24:], lv)
			stack = append(stack, top)

		case OpHash:
			a, ok := pop()
			if !ok {
				return nil, ErrStackUnderflow
			}
			top = Word(digest.Keccak256(a[:]))
			stack = append(stack, top)

		case OpDup:
			if len(stack) == 0 {
				return nil, ErrStackUnderflow
			}
			top = stack[len(stack)-1]
			stack = append(stack, top)

		case OpSwap:
			if len(stack) < 2 {
				return nil, ErrStackUnderflow
			}
			n := len(stack)
			stack[n-1], stack[n-2] = stack[n-2], stack[n-1]
			top = stack[n-1]

		case OpOut:
			a, ok := pop()
			if !ok {
				return nil, ErrStackUnderflow
			}
			public = append(public, a)

		case OpHalt:
			halt = true
		}

		if trace != nil {
			trace.Steps = append(trace.Steps, Step{
				Cycle:   cycles,
				Op:      op,
				Operand: operand,
				Value:   top,
			})
		}
		cycles++

		if halt {
			break
		}
	}

	if trace != nil {
		if err := trace.FillDigests(ctx, vm.threads); err != nil {
			return nil, fmt.Errorf("emulator: fill trace digests: %w", err)
		}
	}

	return &Result{
		Cycles:       cycles,
		PublicValues: public,
		PVDigest:     PublicValuesDigest(public),
		Trace:        trace,
	}, nil
}
