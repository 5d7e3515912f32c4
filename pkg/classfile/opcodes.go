package classfile

// Opcode values used by the emitter. Load and store opcodes come in a
// shorthand form covering slots 0 through 3 and a long form taking an
// index operand.
const (
	opLdc   = 0x12
	opLdcW  = 0x13
	opLdc2W = 0x14

	opILoad  = 0x15
	opLLoad  = 0x16
	opALoad  = 0x19
	opILoad0 = 0x1a
	opLLoad0 = 0x1e
	opALoad0 = 0x2a

	opIStore  = 0x36
	opLStore  = 0x37
	opAStore  = 0x3a
	opIStore0 = 0x3b
	opLStore0 = 0x3f
	opAStore0 = 0x4b

	opPop  = 0x57
	opPop2 = 0x58
	opDup  = 0x59
	opDup2 = 0x5c

	// Arithmetic and logic opcodes: the long variant is the int variant
	// plus one.
	opIAdd  = 0x60
	opISub  = 0x64
	opIMul  = 0x68
	opIDiv  = 0x6c
	opIRem  = 0x70
	opIShl  = 0x78
	opIShr  = 0x7a
	opIUShr = 0x7c
	opIAnd  = 0x7e
	opIOr   = 0x80
	opIXor  = 0x82

	opI2L = 0x85
	opL2I = 0x88
	opI2B = 0x91
	opI2S = 0x93

	opLCmp = 0x94

	// Conditional branch opcode bases, offset by Comparison.
	opIfEq     = 0x99
	opIfICmpEq = 0x9f

	opGoto = 0xa7

	opIReturn = 0xac
	opLReturn = 0xad
	opAReturn = 0xb0
	opReturn  = 0xb1

	opGetstatic     = 0xb2
	opInvokeVirtual = 0xb6
	opInvokeSpecial = 0xb7
	opInvokeStatic  = 0xb8
	opNew           = 0xbb

	opWide = 0xc4
)
