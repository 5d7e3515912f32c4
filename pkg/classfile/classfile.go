// Package classfile assembles JVM class files. A Writer collects the
// constant pool and method bodies for one class and serializes them in
// class file order; MethodWriter emits bytecode while tracking a virtual
// operand stack so that stack depth, local variable sizing and
// StackMapTable frames come out of the emission itself.
package classfile

import (
	"fmt"
	"sort"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

const (
	classfileMagic = 0xCAFEBABE
	majorJava21    = 65

	accPublic   = 0x0001
	accStatic   = 0x0008
	accFinal    = 0x0010
	accSuper    = 0x0020
	accStrictfp = 0x0800
)

// ImbalanceError reports an operand stack shape violation detected during
// emission: a pop from an empty stack, operands left behind at a return,
// or conflicting frames recorded for one branch target.
type ImbalanceError struct {
	Method string
	At     int
	Detail string
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("stack imbalance in %s at offset %d: %s", e.Method, e.At, e.Detail)
}

// ClassMetadata describes the class being written. The super flag required
// by the format is always set.
type ClassMetadata struct {
	ThisClass  string
	SuperClass string
	Public     bool
	Final      bool
}

func (m ClassMetadata) accessFlags() uint16 {
	flags := uint16(accSuper)
	if m.Public {
		flags |= accPublic
	}
	if m.Final {
		flags |= accFinal
	}
	return flags
}

// MethodMetadata describes a method about to be written. Only static
// methods are supported; the emitter never produces instance methods.
type MethodMetadata struct {
	Name     string
	Params   []jtypes.Type
	Ret      jtypes.Type
	Public   bool
	Final    bool
	Strictfp bool
}

func (m MethodMetadata) accessFlags() uint16 {
	flags := uint16(accStatic)
	if m.Public {
		flags |= accPublic
	}
	if m.Final {
		flags |= accFinal
	}
	if m.Strictfp {
		flags |= accStrictfp
	}
	return flags
}

// Writer assembles one class file.
type Writer struct {
	pool        *ConstantPool
	accessFlags uint16
	thisRef     uint16
	superRef    uint16
	methods     []*methodData
}

// New creates a class writer for the given metadata.
func New(meta ClassMetadata) *Writer {
	pool := NewConstantPool()
	return &Writer{
		pool:        pool,
		accessFlags: meta.accessFlags(),
		thisRef:     pool.Class(meta.ThisClass),
		superRef:    pool.Class(meta.SuperClass),
	}
}

// NewMethod starts a method body. The returned MethodWriter must be
// finished before the class is serialized.
func (w *Writer) NewMethod(meta MethodMetadata) *MethodWriter {
	data := &methodData{
		name:        meta.Name,
		accessFlags: meta.accessFlags(),
		nameRef:     w.pool.Utf8(meta.Name),
		descRef:     w.pool.Utf8(jtypes.MethodDescriptor(meta.Params, meta.Ret)),
		code:        NewByteWriter(),
		frames:      make(map[Location]Frame),
	}
	frame := initialFrame(meta.Params)
	data.initial = append([]verificationType(nil), frame.locals...)
	data.maxLocals = frame.localsWidth()
	w.methods = append(w.methods, data)
	return &MethodWriter{
		class: w,
		data:  data,
		frame: frame,
	}
}

// Bytes serializes the class. It fails if any method latched an emission
// error, so a broken method never produces partial output.
func (w *Writer) Bytes() ([]byte, error) {
	for _, m := range w.methods {
		if m.err != nil {
			return nil, m.err
		}
	}

	// Render method bodies first: frame serialization may intern class
	// references, and the pool bytes precede the methods in the file.
	codeAttr := w.pool.Utf8("Code")
	var smtAttr uint16
	for _, m := range w.methods {
		if len(m.frames) > 0 {
			smtAttr = w.pool.Utf8("StackMapTable")
			break
		}
	}
	methods := NewByteWriter()
	for _, m := range w.methods {
		m.serialize(methods, w.pool, codeAttr, smtAttr)
	}

	out := NewByteWriter()
	out.WriteU32(classfileMagic)
	out.WriteU16(0)
	out.WriteU16(majorJava21)
	w.pool.serialize(out)
	out.WriteU16(w.accessFlags)
	out.WriteU16(w.thisRef)
	out.WriteU16(w.superRef)
	out.WriteU16(0) // interfaces
	out.WriteU16(0) // fields
	out.WriteU16(uint16(len(w.methods)))
	out.WriteBytes(methods.Bytes())
	out.WriteU16(0) // class attributes
	return out.Bytes(), nil
}

// Location is a byte offset into a method's code.
type Location int

// Target identifies the operand bytes of a branch instruction awaiting its
// destination.
type Target struct {
	at    Location // offset of the branch opcode, base of the jump offset
	patch int      // position of the 16-bit operand inside the code buffer
}

// Verification type tags from the StackMapTable attribute.
const (
	vtagTop           = 0
	vtagInteger       = 1
	vtagLong          = 4
	vtagNull          = 5
	vtagObject        = 7
	vtagUninitialized = 8
)

// verificationType models one stack or local entry. A long entry covers
// two slots but is a single entry.
type verificationType struct {
	tag    uint8
	class  string // vtagObject
	offset uint16 // vtagUninitialized: offset of the new instruction
}

func vtOfKind(k jtypes.Kind) verificationType {
	switch k {
	case jtypes.KindLong:
		return verificationType{tag: vtagLong}
	case jtypes.KindRef:
		return verificationType{tag: vtagObject, class: "java/lang/Object"}
	default:
		return verificationType{tag: vtagInteger}
	}
}

func vtOfType(t jtypes.Type) verificationType {
	switch t := t.(type) {
	case jtypes.Ref:
		return verificationType{tag: vtagObject, class: t.Class}
	case jtypes.Array:
		// Array classes are named by their descriptor.
		return verificationType{tag: vtagObject, class: t.Descriptor()}
	}
	return vtOfKind(jtypes.KindOf(t))
}

func (t verificationType) width() int {
	if t.tag == vtagLong {
		return 2
	}
	return 1
}

func (t verificationType) kind() jtypes.Kind {
	switch t.tag {
	case vtagLong:
		return jtypes.KindLong
	case vtagObject, vtagUninitialized, vtagNull:
		return jtypes.KindRef
	default:
		return jtypes.KindInt
	}
}

func (t verificationType) serialize(w *ByteWriter, pool *ConstantPool) {
	w.WriteU8(t.tag)
	switch t.tag {
	case vtagObject:
		w.WriteU16(pool.Class(t.class))
	case vtagUninitialized:
		w.WriteU16(t.offset)
	}
}

// Frame is a snapshot of the verification state at one code location.
type Frame struct {
	stack  []verificationType
	locals []verificationType
}

func initialFrame(params []jtypes.Type) Frame {
	var f Frame
	for _, p := range params {
		f.locals = append(f.locals, vtOfType(p))
	}
	return f
}

func (f Frame) clone() Frame {
	return Frame{
		stack:  append([]verificationType(nil), f.stack...),
		locals: append([]verificationType(nil), f.locals...),
	}
}

// StackDepth is the operand stack size in slots, with 8-byte values
// counting twice.
func (f Frame) StackDepth() int {
	depth := 0
	for _, t := range f.stack {
		depth += t.width()
	}
	return depth
}

// SameStack reports whether two frames carry identical operand stacks,
// element for element.
func (f Frame) SameStack(other Frame) bool {
	return vtListEqual(f.stack, other.stack)
}

func (f Frame) localsWidth() int {
	width := 0
	for _, t := range f.locals {
		width += t.width()
	}
	return width
}

func vtListEqual(a, b []verificationType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mergeLocals keeps the longest common prefix of two locals lists. Values
// live past a merge point are defined on every path reaching it, so they
// agree across predecessors and survive the truncation.
func mergeLocals(a, b []verificationType) []verificationType {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]verificationType, 0, n)
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			break
		}
		out = append(out, a[i])
	}
	return out
}

type methodData struct {
	name        string
	accessFlags uint16
	nameRef     uint16
	descRef     uint16
	code        *ByteWriter
	maxStack    int
	maxLocals   int
	initial     []verificationType // locals implied by the descriptor
	frames      map[Location]Frame
	listing     []string
	err         error
}

func (m *methodData) serialize(w *ByteWriter, pool *ConstantPool, codeAttr, smtAttr uint16) {
	var smt *ByteWriter
	if len(m.frames) > 0 {
		smt = m.serializeFrames(pool)
	}

	w.WriteU16(m.accessFlags)
	w.WriteU16(m.nameRef)
	w.WriteU16(m.descRef)
	w.WriteU16(1) // the Code attribute
	w.WriteU16(codeAttr)
	length := m.code.Len() + 12
	if smt != nil {
		length += smt.Len() + 6
	}
	w.WriteU32(uint32(length))
	w.WriteU16(uint16(m.maxStack))
	w.WriteU16(uint16(m.maxLocals))
	w.WriteU32(uint32(m.code.Len()))
	w.WriteBytes(m.code.Bytes())
	w.WriteU16(0) // exception table
	if smt != nil {
		w.WriteU16(1)
		w.WriteU16(smtAttr)
		w.WriteU32(uint32(smt.Len()))
		w.WriteBytes(smt.Bytes())
	} else {
		w.WriteU16(0)
	}
}

// serializeFrames renders the StackMapTable body. Offsets are deltas: the
// first frame's delta is its offset, later frames are measured from one
// past the previous frame.
func (m *methodData) serializeFrames(pool *ConstantPool) *ByteWriter {
	locs := make([]Location, 0, len(m.frames))
	for loc := range m.frames {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i] < locs[j] })

	w := NewByteWriter()
	w.WriteU16(uint16(len(locs)))
	prevLoc := Location(0)
	prevLocals := m.initial
	for _, loc := range locs {
		frame := m.frames[loc]
		offset := int(loc - prevLoc)
		switch {
		case len(frame.stack) == 0 && vtListEqual(frame.locals, prevLocals) && offset < 64:
			w.WriteU8(uint8(offset)) // same_frame
		case len(frame.stack) == 0 && vtListEqual(frame.locals, prevLocals):
			w.WriteU8(251) // same_frame_extended
			w.WriteU16(uint16(offset))
		default:
			w.WriteU8(255) // full_frame
			w.WriteU16(uint16(offset))
			w.WriteU16(uint16(len(frame.locals)))
			for _, t := range frame.locals {
				t.serialize(w, pool)
			}
			w.WriteU16(uint16(len(frame.stack)))
			for _, t := range frame.stack {
				t.serialize(w, pool)
			}
		}
		prevLoc = loc + 1
		prevLocals = frame.locals
	}
	return w
}
