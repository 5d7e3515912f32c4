package classfile

import "fmt"

// Constant pool tags.
const (
	tagUtf8        = 1
	tagInteger     = 3
	tagLong        = 5
	tagClass       = 7
	tagFieldref    = 9
	tagMethodref   = 10
	tagNameAndType = 12
)

// poolEntry is one constant pool record. Which payload fields are
// meaningful depends on the tag.
type poolEntry struct {
	tag  uint8
	str  string
	num  uint64
	a, b uint16
}

// ConstantPool interns class file constants. Entries are deduplicated by a
// per-tag key and keep insertion order, so the same sequence of requests
// always serializes to the same bytes.
type ConstantPool struct {
	entries []poolEntry
	index   map[string]uint16
	next    uint16
}

// NewConstantPool creates an empty pool. Indices are 1-based per the class
// file format.
func NewConstantPool() *ConstantPool {
	return &ConstantPool{index: make(map[string]uint16), next: 1}
}

func (p *ConstantPool) intern(key string, e poolEntry) uint16 {
	if ref, ok := p.index[key]; ok {
		return ref
	}
	ref := p.next
	p.index[key] = ref
	p.entries = append(p.entries, e)
	if e.tag == tagLong {
		// 8-byte constants take two pool indices.
		p.next += 2
	} else {
		p.next++
	}
	return ref
}

// Utf8 interns a string entry.
func (p *ConstantPool) Utf8(s string) uint16 {
	return p.intern("utf8:"+s, poolEntry{tag: tagUtf8, str: s})
}

// Class interns a class reference for a slash-separated internal name.
func (p *ConstantPool) Class(name string) uint16 {
	nameRef := p.Utf8(name)
	return p.intern("class:"+name, poolEntry{tag: tagClass, a: nameRef})
}

// Integer interns a 32-bit constant.
func (p *ConstantPool) Integer(v int32) uint16 {
	return p.intern(fmt.Sprintf("int:%d", v), poolEntry{tag: tagInteger, num: uint64(uint32(v))})
}

// Long interns a 64-bit constant.
func (p *ConstantPool) Long(v int64) uint16 {
	return p.intern(fmt.Sprintf("long:%d", v), poolEntry{tag: tagLong, num: uint64(v)})
}

// NameAndType interns a member name and descriptor pair.
func (p *ConstantPool) NameAndType(name, desc string) uint16 {
	nameRef := p.Utf8(name)
	descRef := p.Utf8(desc)
	return p.intern("nameandtype:"+name+":"+desc, poolEntry{tag: tagNameAndType, a: nameRef, b: descRef})
}

// Fieldref interns a field reference.
func (p *ConstantPool) Fieldref(class, name, desc string) uint16 {
	classRef := p.Class(class)
	natRef := p.NameAndType(name, desc)
	return p.intern("fieldref:"+class+"."+name+":"+desc, poolEntry{tag: tagFieldref, a: classRef, b: natRef})
}

// Methodref interns a method reference.
func (p *ConstantPool) Methodref(class, name, desc string) uint16 {
	classRef := p.Class(class)
	natRef := p.NameAndType(name, desc)
	return p.intern("methodref:"+class+"."+name+":"+desc, poolEntry{tag: tagMethodref, a: classRef, b: natRef})
}

// Count returns the constant_pool_count value, one past the highest used
// index.
func (p *ConstantPool) Count() uint16 {
	return p.next
}

func (p *ConstantPool) serialize(w *ByteWriter) {
	w.WriteU16(p.next)
	for _, e := range p.entries {
		w.WriteU8(e.tag)
		switch e.tag {
		case tagUtf8:
			w.WriteU16(uint16(len(e.str)))
			w.WriteBytes([]byte(e.str))
		case tagInteger:
			w.WriteU32(uint32(e.num))
		case tagLong:
			w.WriteU64(e.num)
		case tagClass:
			w.WriteU16(e.a)
		case tagFieldref, tagMethodref, tagNameAndType:
			w.WriteU16(e.a)
			w.WriteU16(e.b)
		}
	}
}
