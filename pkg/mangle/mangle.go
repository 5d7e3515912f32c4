// Package mangle decodes the symbol scheme that carries JVM placement
// information through an identifier-only toolchain. A mangled symbol names
// the target class, the member, and the call kind of an extern declaration,
// and may append class names for the reference-typed slots of the method
// descriptor.
package mangle

import (
	"fmt"
	"strings"
)

// Kind classifies how a decoded symbol is invoked or placed.
type Kind int

const (
	Static Kind = iota
	Special
	Virtual
	New
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Special:
		return "special"
	case Virtual:
		return "virtual"
	case New:
		return "new"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Location is the decoded placement of a function symbol. For New the
// symbol names a class only and Member is empty.
type Location struct {
	Class    string
	Member   string
	Kind     Kind
	External bool
	TypeInfo []string
}

// FieldLocation is the decoded placement of a global variable symbol.
// TypeInfo, when non-empty, names the field's class.
type FieldLocation struct {
	Class    string
	Name     string
	TypeInfo string
}

// Error reports a symbol that does not follow the mangling grammar.
type Error struct {
	Symbol string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed symbol %q: %s", e.Symbol, e.Reason)
}

// Reserved sequences inside a mangled symbol. The escape pair stands in
// for the angle brackets of reserved member names such as <init>.
const (
	typeInfoSep   = "$jvlm_param$"
	entrySep      = "ȩ"
	escOpen       = 'Ȫ'
	escClose      = 'ȫ'
	escUnderscore = 'Ȭ'
)

var functionPrefixes = []struct {
	prefix   string
	kind     Kind
	external bool
}{
	{"jvlm__", Static, false},
	{"jvlm_extern__", Static, true},
	{"jvlm_extern_invokespecial__", Special, true},
	{"jvlm_extern_invokevirtual__", Virtual, true},
}

// demangle maps a transliterated segment back to its Java spelling.
// Underscores become package separators, and the escape pair becomes the
// angle brackets it stood in for. The escape markers must be balanced and
// ordered, open before close.
func demangle(symbol, segment string) (string, error) {
	var b strings.Builder
	depth := 0
	for _, r := range segment {
		switch r {
		case '_':
			b.WriteRune('/')
		case escOpen:
			depth++
			b.WriteRune('<')
		case escClose:
			depth--
			if depth < 0 {
				return "", &Error{Symbol: symbol, Reason: "escape close marker without a matching open"}
			}
			b.WriteRune('>')
		case escUnderscore:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	if depth != 0 {
		return "", &Error{Symbol: symbol, Reason: "unterminated escape marker"}
	}
	return b.String(), nil
}

// splitTypeInfo strips the trailing type info suffix, if any, and decodes
// its entries. The last occurrence of the separator wins so that class
// names containing a literal "$jvlm_param$" earlier in the symbol survive.
func splitTypeInfo(symbol string) (base string, info []string, err error) {
	i := strings.LastIndex(symbol, typeInfoSep)
	if i < 0 {
		return symbol, nil, nil
	}
	base = symbol[:i]
	for _, raw := range strings.Split(symbol[i+len(typeInfoSep):], entrySep) {
		entry, err := demangle(symbol, raw)
		if err != nil {
			return "", nil, err
		}
		info = append(info, entry)
	}
	return base, info, nil
}

// splitClassMember separates a demangled path into class and member on the
// last slash.
func splitClassMember(symbol, full string) (class, member string, err error) {
	i := strings.LastIndex(full, "/")
	if i < 0 {
		return "", "", &Error{Symbol: symbol, Reason: "no class path before member name"}
	}
	return full[:i], full[i+1:], nil
}

// DecodeFunction decodes a function symbol into its Java placement.
// Unprefixed symbols are internal statics placed at class jvlm/<name>.
func DecodeFunction(symbol string) (Location, error) {
	base, info, err := splitTypeInfo(symbol)
	if err != nil {
		return Location{}, err
	}

	// Allocation symbols name a class only, with no member split.
	if rest, ok := strings.CutPrefix(base, "jvlm_extern_new__"); ok {
		class, err := demangle(symbol, rest)
		if err != nil {
			return Location{}, err
		}
		return Location{Class: class, Kind: New, External: true, TypeInfo: info}, nil
	}

	for _, p := range functionPrefixes {
		rest, ok := strings.CutPrefix(base, p.prefix)
		if !ok {
			continue
		}
		full, err := demangle(symbol, rest)
		if err != nil {
			return Location{}, err
		}
		class, member, err := splitClassMember(symbol, full)
		if err != nil {
			return Location{}, err
		}
		return Location{
			Class:    class,
			Member:   member,
			Kind:     p.kind,
			External: p.external,
			TypeInfo: info,
		}, nil
	}

	return Location{
		Class:    "jvlm/" + base,
		Member:   base,
		Kind:     Static,
		TypeInfo: info,
	}, nil
}

// DecodeField decodes a global variable symbol into its static field
// placement. Unprefixed symbols land at class jvlm/s/<name>. Only the
// first type info entry is meaningful for a field.
func DecodeField(symbol string) (FieldLocation, error) {
	base, info, err := splitTypeInfo(symbol)
	if err != nil {
		return FieldLocation{}, err
	}
	var typeInfo string
	if len(info) > 0 {
		typeInfo = info[0]
	}

	if rest, ok := strings.CutPrefix(base, "jvlm__"); ok {
		full, err := demangle(symbol, rest)
		if err != nil {
			return FieldLocation{}, err
		}
		class, name, err := splitClassMember(symbol, full)
		if err != nil {
			return FieldLocation{}, err
		}
		return FieldLocation{Class: class, Name: name, TypeInfo: typeInfo}, nil
	}

	return FieldLocation{Class: "jvlm/s/" + base, Name: base, TypeInfo: typeInfo}, nil
}

// mangleName transliterates a Java name into its identifier-safe form.
func mangleName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '/':
			b.WriteRune('_')
		case '<':
			b.WriteRune(escOpen)
		case '>':
			b.WriteRune(escClose)
		case '_':
			b.WriteRune(escUnderscore)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func writeTypeInfo(b *strings.Builder, info []string) {
	if len(info) == 0 {
		return
	}
	b.WriteString(typeInfoSep)
	for i, entry := range info {
		if i > 0 {
			b.WriteString(entrySep)
		}
		b.WriteString(mangleName(entry))
	}
}

// EncodeFunction builds the symbol for a placement. It inverts
// DecodeFunction for every location that decodes without error, always
// producing the prefixed spelling.
func EncodeFunction(loc Location) string {
	var b strings.Builder
	switch loc.Kind {
	case New:
		b.WriteString("jvlm_extern_new__")
		b.WriteString(mangleName(loc.Class))
	case Special:
		b.WriteString("jvlm_extern_invokespecial__")
		b.WriteString(mangleName(loc.Class + "/" + loc.Member))
	case Virtual:
		b.WriteString("jvlm_extern_invokevirtual__")
		b.WriteString(mangleName(loc.Class + "/" + loc.Member))
	default:
		if loc.External {
			b.WriteString("jvlm_extern__")
		} else {
			b.WriteString("jvlm__")
		}
		b.WriteString(mangleName(loc.Class + "/" + loc.Member))
	}
	writeTypeInfo(&b, loc.TypeInfo)
	return b.String()
}

// EncodeField builds the symbol for a static field placement.
func EncodeField(loc FieldLocation) string {
	var b strings.Builder
	b.WriteString("jvlm__")
	b.WriteString(mangleName(loc.Class + "/" + loc.Name))
	if loc.TypeInfo != "" {
		b.WriteString(typeInfoSep)
		b.WriteString(mangleName(loc.TypeInfo))
	}
	return b.String()
}
