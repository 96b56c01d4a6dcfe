package emulator

// Opcode is the instruction set of the cycle emulator.
type Opcode uint8

const (
	// OpPush pushes an input word onto the stack by index (1-byte operand).
	OpPush Opcode = 0x01

	// OpConst pushes an 8-byte big-endian immediate (8-byte operand).
	OpConst Opcode = 0x02

	// OpAdd adds the top two words (mod 2^64 on the low limb).
	OpAdd Opcode = 0x03

	// OpMul multiplies the top two words (mod 2^64 on the low limb).
	OpMul Opcode = 0x04

	// OpHash replaces the top word with its Keccak-256 digest.
	OpHash Opcode = 0x05

	// OpDup duplicates the top word.
	OpDup Opcode = 0x06

	// OpSwap exchanges the top two words.
	OpSwap Opcode = 0x07

	// OpOut pops the top word and appends it to the public outputs.
	OpOut Opcode = 0x08

	// OpHalt stops execution successfully.
	OpHalt Opcode = 0x09
)

// String returns the mnemonic for an Opcode.
func (op Opcode) String() string {
	switch op {
	case OpPush:
		return "PUSH"
	case OpConst:
		return "CONST"
	case OpAdd:
		return "ADD"
	case OpMul:
		return "MUL"
	case OpHash:
		return "HASH"
	case OpDup:
		return "DUP"
	case OpSwap:
		return "SWAP"
	case OpOut:
		return "OUT"
	case OpHalt:
		return "HALT"
	default:
		return "INVALID"
	}
}

// IsValid reports whether the opcode is a known instruction.
func (op Opcode) IsValid() bool {
	return op >= OpPush && op <= OpHalt
}

// operandWidth returns the number of immediate bytes following the opcode.
func (op Opcode) operandWidth() int {
	switch op {
	case OpPush:
		return 1
	case OpConst:
		return 8
	default:
		return 0
	}
}
