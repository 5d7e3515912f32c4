package classfile

import (
	"fmt"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

// Comparison selects the condition of a conditional branch. The values
// offset the if and if_icmp opcode bases.
type Comparison uint8

const (
	Equal            Comparison = 0
	NotEqual         Comparison = 1
	LessThan         Comparison = 2
	GreaterThanEqual Comparison = 3
	GreaterThan      Comparison = 4
	LessThanEqual    Comparison = 5
)

func (c Comparison) suffix() string {
	switch c {
	case Equal:
		return "eq"
	case NotEqual:
		return "ne"
	case LessThan:
		return "lt"
	case GreaterThanEqual:
		return "ge"
	case GreaterThan:
		return "gt"
	case LessThanEqual:
		return "le"
	}
	return "??"
}

// Negate returns the comparison matching the inverted condition.
func (c Comparison) Negate() Comparison {
	switch c {
	case Equal:
		return NotEqual
	case NotEqual:
		return Equal
	case LessThan:
		return GreaterThanEqual
	case GreaterThanEqual:
		return LessThan
	case GreaterThan:
		return LessThanEqual
	case LessThanEqual:
		return GreaterThan
	}
	return c
}

// ArithOp selects a two-operand arithmetic or logic instruction.
type ArithOp int

const (
	Add ArithOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	UShr
)

var arithInfo = map[ArithOp]struct {
	opcode byte
	name   string
}{
	Add:  {opIAdd, "add"},
	Sub:  {opISub, "sub"},
	Mul:  {opIMul, "mul"},
	Div:  {opIDiv, "div"},
	Rem:  {opIRem, "rem"},
	And:  {opIAnd, "and"},
	Or:   {opIOr, "or"},
	Xor:  {opIXor, "xor"},
	Shl:  {opIShl, "shl"},
	Shr:  {opIShr, "shr"},
	UShr: {opIUShr, "ushr"},
}

var kindPrefix = map[jtypes.Kind]string{
	jtypes.KindInt:  "i",
	jtypes.KindLong: "l",
	jtypes.KindRef:  "a",
}

var loadOps = map[jtypes.Kind]struct{ shorthand, long byte }{
	jtypes.KindInt:  {opILoad0, opILoad},
	jtypes.KindLong: {opLLoad0, opLLoad},
	jtypes.KindRef:  {opALoad0, opALoad},
}

var storeOps = map[jtypes.Kind]struct{ shorthand, long byte }{
	jtypes.KindInt:  {opIStore0, opIStore},
	jtypes.KindLong: {opLStore0, opLStore},
	jtypes.KindRef:  {opAStore0, opAStore},
}

// MethodWriter emits one method body. Every emit call updates a virtual
// operand stack mirroring what the JVM will see, which drives max stack
// sizing, local variable sizing and the frames recorded for the
// StackMapTable. The first shape violation latches an error; Finish
// reports it and the class refuses to serialize.
type MethodWriter struct {
	class *Writer
	data  *methodData
	frame Frame
}

func (mw *MethodWriter) code() *ByteWriter { return mw.data.code }

func (mw *MethodWriter) fail(err error) {
	if mw.data.err == nil {
		mw.data.err = err
	}
}

func (mw *MethodWriter) imbalance(detail string) {
	mw.fail(&ImbalanceError{Method: mw.data.name, At: int(mw.Location()), Detail: detail})
}

func (mw *MethodWriter) push(t verificationType) {
	mw.frame.stack = append(mw.frame.stack, t)
	if d := mw.frame.StackDepth(); d > mw.data.maxStack {
		mw.data.maxStack = d
	}
}

func (mw *MethodWriter) pop() verificationType {
	if len(mw.frame.stack) == 0 {
		mw.imbalance("pop from an empty operand stack")
		return verificationType{tag: vtagTop}
	}
	t := mw.frame.stack[len(mw.frame.stack)-1]
	mw.frame.stack = mw.frame.stack[:len(mw.frame.stack)-1]
	return t
}

func (mw *MethodWriter) trace(s string) {
	mw.data.listing = append(mw.data.listing, s)
}

// Location returns the offset one past the last emitted byte.
func (mw *MethodWriter) Location() Location {
	return Location(mw.data.code.Len())
}

// StackDepth returns the current operand stack size in slots.
func (mw *MethodWriter) StackDepth() int {
	return mw.frame.StackDepth()
}

// Frame returns a copy of the current verification state.
func (mw *MethodWriter) Frame() Frame {
	return mw.frame.clone()
}

// SetFrame replaces the current verification state, as when emission
// resumes on the other arm of a branch.
func (mw *MethodWriter) SetFrame(f Frame) {
	mw.frame = f.clone()
}

// RecordFrame registers the verification state holding at a branch target.
// Recording a second frame for the same location merges the two: the stack
// shapes must agree exactly, and locals are truncated to their common
// prefix.
func (mw *MethodWriter) RecordFrame(loc Location, f Frame) {
	f = f.clone()
	prev, ok := mw.data.frames[loc]
	if !ok {
		mw.data.frames[loc] = f
		return
	}
	if !prev.SameStack(f) {
		mw.fail(&ImbalanceError{
			Method: mw.data.name,
			At:     int(loc),
			Detail: "conflicting stack shapes recorded for one branch target",
		})
		return
	}
	prev.locals = mergeLocals(prev.locals, f.locals)
	mw.data.frames[loc] = prev
}

// FrameAt returns the merged frame recorded for a location, if any. Callers
// binding a branch target use it to resume emission from the state every
// inbound edge agrees on rather than from the fallthrough state.
func (mw *MethodWriter) FrameAt(loc Location) (Frame, bool) {
	f, ok := mw.data.frames[loc]
	if !ok {
		return Frame{}, false
	}
	return f.clone(), true
}

func (mw *MethodWriter) localAt(slot int) (verificationType, bool) {
	pos := 0
	for _, t := range mw.frame.locals {
		if pos == slot {
			return t, true
		}
		pos += t.width()
	}
	return verificationType{}, false
}

func (mw *MethodWriter) setLocal(slot int, v verificationType) {
	pos := 0
	for i, t := range mw.frame.locals {
		if pos == slot {
			mw.frame.locals[i] = v
			return
		}
		pos += t.width()
	}
	for pos < slot {
		mw.frame.locals = append(mw.frame.locals, verificationType{tag: vtagTop})
		pos++
	}
	mw.frame.locals = append(mw.frame.locals, v)
}

// emitSlotOp writes a load or store, using the shorthand form for slots 0
// through 3 and the wide prefix when the index exceeds a byte.
func (mw *MethodWriter) emitSlotOp(shorthand, long byte, name string, slot int) {
	if slot >= 0 && slot <= 3 {
		mw.code().WriteU8(shorthand + byte(slot))
		mw.trace(fmt.Sprintf("%s_%d", name, slot))
		return
	}
	if slot <= 0xff {
		mw.code().WriteU8(long)
		mw.code().WriteU8(uint8(slot))
	} else {
		mw.code().WriteU8(opWide)
		mw.code().WriteU8(long)
		mw.code().WriteU16(uint16(slot))
	}
	mw.trace(fmt.Sprintf("%s %d", name, slot))
}

// EmitLoad pushes the value held in a local variable slot.
func (mw *MethodWriter) EmitLoad(k jtypes.Kind, slot int) {
	ops := loadOps[k]
	mw.emitSlotOp(ops.shorthand, ops.long, kindPrefix[k]+"load", slot)
	if t, ok := mw.localAt(slot); ok {
		mw.push(t)
	} else {
		mw.push(vtOfKind(k))
	}
}

// EmitStore pops the top of the stack into a local variable slot.
func (mw *MethodWriter) EmitStore(k jtypes.Kind, slot int) {
	ops := storeOps[k]
	mw.emitSlotOp(ops.shorthand, ops.long, kindPrefix[k]+"store", slot)
	v := mw.pop()
	mw.setLocal(slot, v)
	if end := slot + v.width(); end > mw.data.maxLocals {
		mw.data.maxLocals = end
	}
}

// EmitConstInt pushes a 32-bit constant through the constant pool.
func (mw *MethodWriter) EmitConstInt(v int32) {
	ref := mw.class.pool.Integer(v)
	if ref <= 0xff {
		mw.code().WriteU8(opLdc)
		mw.code().WriteU8(uint8(ref))
	} else {
		mw.code().WriteU8(opLdcW)
		mw.code().WriteU16(ref)
	}
	mw.trace(fmt.Sprintf("ldc %d", v))
	mw.push(verificationType{tag: vtagInteger})
}

// EmitConstLong pushes a 64-bit constant. Values that fit in 32 bits load
// as an int widened with i2l, which is shorter than an 8-byte pool entry.
func (mw *MethodWriter) EmitConstLong(v int64) {
	if int64(int32(v)) == v {
		mw.EmitConstInt(int32(v))
		mw.EmitI2L()
		return
	}
	ref := mw.class.pool.Long(v)
	mw.code().WriteU8(opLdc2W)
	mw.code().WriteU16(ref)
	mw.trace(fmt.Sprintf("ldc2_w %d", v))
	mw.push(verificationType{tag: vtagLong})
}

// EmitI2L widens the int on top of the stack to a long.
func (mw *MethodWriter) EmitI2L() {
	mw.code().WriteU8(opI2L)
	mw.trace("i2l")
	mw.pop()
	mw.push(verificationType{tag: vtagLong})
}

// EmitL2I truncates the long on top of the stack to an int.
func (mw *MethodWriter) EmitL2I() {
	mw.code().WriteU8(opL2I)
	mw.trace("l2i")
	mw.pop()
	mw.push(verificationType{tag: vtagInteger})
}

// EmitI2B truncates the int on top of the stack to a sign-extended byte.
func (mw *MethodWriter) EmitI2B() {
	mw.code().WriteU8(opI2B)
	mw.trace("i2b")
}

// EmitI2S truncates the int on top of the stack to a sign-extended short.
func (mw *MethodWriter) EmitI2S() {
	mw.code().WriteU8(opI2S)
	mw.trace("i2s")
}

// EmitArith applies a two-operand arithmetic or logic instruction of the
// given kind. Shift instructions take their amount as an int above the
// value being shifted, so the result kind follows the lower operand.
func (mw *MethodWriter) EmitArith(op ArithOp, k jtypes.Kind) {
	info := arithInfo[op]
	opcode := info.opcode
	if k == jtypes.KindLong {
		opcode++
	}
	mw.code().WriteU8(opcode)
	mw.trace(kindPrefix[k] + info.name)
	mw.pop()
	mw.pop()
	mw.push(vtOfKind(k))
}

// EmitDup duplicates the top of the stack, choosing dup or dup2 by width.
func (mw *MethodWriter) EmitDup() {
	top := mw.pop()
	if top.width() == 2 {
		mw.code().WriteU8(opDup2)
		mw.trace("dup2")
	} else {
		mw.code().WriteU8(opDup)
		mw.trace("dup")
	}
	mw.push(top)
	mw.push(top)
}

// EmitPop discards the top of the stack, choosing pop or pop2 by width.
func (mw *MethodWriter) EmitPop() {
	top := mw.pop()
	if top.width() == 2 {
		mw.code().WriteU8(opPop2)
		mw.trace("pop2")
	} else {
		mw.code().WriteU8(opPop)
		mw.trace("pop")
	}
}

// EmitReturn pops and returns the declared value. The stack must be
// exactly empty afterwards.
func (mw *MethodWriter) EmitReturn(ret jtypes.Type) {
	k := jtypes.KindOf(ret)
	if k != jtypes.KindVoid {
		top := mw.pop()
		if top.kind() != k {
			mw.imbalance(fmt.Sprintf("returning a %s where the descriptor declares %s", top.kind(), k))
		}
	}
	if len(mw.frame.stack) != 0 {
		mw.imbalance(fmt.Sprintf("%d operands left on the stack at return", len(mw.frame.stack)))
	}
	switch k {
	case jtypes.KindInt:
		mw.code().WriteU8(opIReturn)
		mw.trace("ireturn")
	case jtypes.KindLong:
		mw.code().WriteU8(opLReturn)
		mw.trace("lreturn")
	case jtypes.KindRef:
		mw.code().WriteU8(opAReturn)
		mw.trace("areturn")
	default:
		mw.code().WriteU8(opReturn)
		mw.trace("return")
	}
	mw.frame.stack = mw.frame.stack[:0]
}

// EmitGoto writes an unconditional branch with a placeholder offset and
// returns its patch handle.
func (mw *MethodWriter) EmitGoto() Target {
	at := mw.Location()
	mw.code().WriteU8(opGoto)
	patch := mw.code().Len()
	mw.code().WriteU16(0xFEFE)
	mw.trace("goto")
	return Target{at: at, patch: patch}
}

// EmitIf writes a conditional branch testing the popped int against zero.
func (mw *MethodWriter) EmitIf(c Comparison) Target {
	mw.pop()
	at := mw.Location()
	mw.code().WriteU8(opIfEq + byte(c))
	patch := mw.code().Len()
	mw.code().WriteU16(0xFEFE)
	mw.trace("if" + c.suffix())
	return Target{at: at, patch: patch}
}

// EmitIfICmp writes a conditional branch comparing two popped ints.
func (mw *MethodWriter) EmitIfICmp(c Comparison) Target {
	mw.pop()
	mw.pop()
	at := mw.Location()
	mw.code().WriteU8(opIfICmpEq + byte(c))
	patch := mw.code().Len()
	mw.code().WriteU16(0xFEFE)
	mw.trace("if_icmp" + c.suffix())
	return Target{at: at, patch: patch}
}

// EmitLCmp compares two popped longs, pushing -1, 0 or 1 as an int.
func (mw *MethodWriter) EmitLCmp() {
	mw.code().WriteU8(opLCmp)
	mw.trace("lcmp")
	mw.pop()
	mw.pop()
	mw.push(verificationType{tag: vtagInteger})
}

// SetTarget resolves a branch to a code location. The offset is measured
// from the branch opcode and must fit the signed 16-bit operand.
func (mw *MethodWriter) SetTarget(t Target, loc Location) {
	offset := int(loc) - int(t.at)
	if offset < -0x8000 || offset > 0x7fff {
		mw.fail(fmt.Errorf("method %s: branch offset %d does not fit in 16 bits", mw.data.name, offset))
		return
	}
	mw.code().PatchU16(t.patch, uint16(int16(offset)))
}

// EmitGetStatic reads a static field.
func (mw *MethodWriter) EmitGetStatic(class, name string, t jtypes.Type) {
	desc := t.Descriptor()
	ref := mw.class.pool.Fieldref(class, name, desc)
	mw.code().WriteU8(opGetstatic)
	mw.code().WriteU16(ref)
	mw.trace(fmt.Sprintf("getstatic %s.%s:%s", class, name, desc))
	mw.push(vtOfType(t))
}

func (mw *MethodWriter) emitInvoke(opcode byte, mnemonic, class, name string, params []jtypes.Type, ret jtypes.Type, receiver bool) {
	for range params {
		mw.pop()
	}
	if receiver {
		recv := mw.pop()
		if name == "<init>" && recv.tag == vtagUninitialized {
			mw.initialize(recv, class)
		}
	}
	desc := jtypes.MethodDescriptor(params, ret)
	ref := mw.class.pool.Methodref(class, name, desc)
	mw.code().WriteU8(opcode)
	mw.code().WriteU16(ref)
	mw.trace(fmt.Sprintf("%s %s.%s:%s", mnemonic, class, name, desc))
	if _, ok := ret.(jtypes.Void); !ok {
		mw.push(vtOfType(ret))
	}
}

// EmitInvokeStatic calls a static method, consuming its arguments.
func (mw *MethodWriter) EmitInvokeStatic(class, name string, params []jtypes.Type, ret jtypes.Type) {
	mw.emitInvoke(opInvokeStatic, "invokestatic", class, name, params, ret, false)
}

// EmitInvokeVirtual calls an instance method, consuming the receiver below
// the arguments.
func (mw *MethodWriter) EmitInvokeVirtual(class, name string, params []jtypes.Type, ret jtypes.Type) {
	mw.emitInvoke(opInvokeVirtual, "invokevirtual", class, name, params, ret, true)
}

// EmitInvokeSpecial calls an instance initializer. Invoking <init> on an
// uninitialized receiver rewrites every copy of its type, on the stack and
// in locals, to the initialized class.
func (mw *MethodWriter) EmitInvokeSpecial(class, name string, params []jtypes.Type, ret jtypes.Type) {
	mw.emitInvoke(opInvokeSpecial, "invokespecial", class, name, params, ret, true)
}

// EmitNew pushes a new uninitialized instance of class. The verification
// type carries the offset of this instruction until an initializer runs.
func (mw *MethodWriter) EmitNew(class string) {
	at := mw.Location()
	ref := mw.class.pool.Class(class)
	mw.code().WriteU8(opNew)
	mw.code().WriteU16(ref)
	mw.trace("new " + class)
	mw.push(verificationType{tag: vtagUninitialized, offset: uint16(at)})
}

func (mw *MethodWriter) initialize(u verificationType, class string) {
	init := verificationType{tag: vtagObject, class: class}
	for i, t := range mw.frame.stack {
		if t == u {
			mw.frame.stack[i] = init
		}
	}
	for i, t := range mw.frame.locals {
		if t == u {
			mw.frame.locals[i] = init
		}
	}
}

// Finish completes the method and reports the first emission error.
func (mw *MethodWriter) Finish() error {
	return mw.data.err
}

// Listing returns the mnemonic trace of the emitted instructions.
func (mw *MethodWriter) Listing() []string {
	return append([]string(nil), mw.data.listing...)
}
