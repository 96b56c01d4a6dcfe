package emulator

import "encoding/binary"

// Assembler builds program bytecode. Used by tests and the development CLI
// to construct small workloads without a separate toolchain.
type Assembler struct {
	body []byte
}

// NewAssembler starts an empty program.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Push appends a PUSH of the input at idx.
func (a *Assembler) Push(idx uint8) *Assembler {
	a.body = append(a.body, byte(OpPush), idx)
	return a
}

// Const appends a CONST with the given immediate.
func (a *Assembler) Const(v uint64) *Assembler {
	a.body = append(a.body, byte(OpConst))
	a.body = binary.BigEndian.AppendUint64(a.body, v)
	return a
}

// Add appends an ADD.
func (a *Assembler) Add() *Assembler { return a.op(OpAdd) }

// Mul appends a MUL.
func (a *Assembler) Mul() *Assembler { return a.op(OpMul) }

// Hash appends a HASH.
func (a *Assembler) Hash() *Assembler { return a.op(OpHash) }

// Dup appends a DUP.
func (a *Assembler) Dup() *Assembler { return a.op(OpDup) }

// Swap appends a SWAP.
func (a *Assembler) Swap() *Assembler { return a.op(OpSwap) }

// Out appends an OUT.
func (a *Assembler) Out() *Assembler { return a.op(OpOut) }

// Halt appends a HALT.
func (a *Assembler) Halt() *Assembler { return a.op(OpHalt) }

func (a *Assembler) op(op Opcode) *Assembler {
	a.body = append(a.body, byte(op))
	return a
}

// Program returns the headered bytecode.
func (a *Assembler) Program() []byte {
	out := make([]byte, 0, HeaderSize+len(a.body))
	out = append(out, programMagic...)
	out = append(out, a.body...)
	return out
}
