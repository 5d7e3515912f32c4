package mangle

import (
	"fmt"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

// Declaration is a fully resolved extern target: the decoded placement plus
// the JVM descriptor the call must use. Params holds descriptor parameters
// only; the receiver of special and virtual calls is not part of the
// descriptor.
type Declaration struct {
	Symbol string
	Location
	Params []jtypes.Type
	Ret    jtypes.Type
}

// HasReceiver reports whether the first declared parameter is consumed as
// the call receiver instead of a descriptor parameter.
func (d Declaration) HasReceiver() bool {
	return d.Kind == Special || d.Kind == Virtual
}

// Descriptor renders the resolved method descriptor.
func (d Declaration) Descriptor() string {
	return jtypes.MethodDescriptor(d.Params, d.Ret)
}

// Target names the resolved class member for diagnostics.
func (d Declaration) Target() string {
	if d.Member == "" {
		return d.Class
	}
	return d.Class + "." + d.Member
}

// Resolve decodes symbol and reconciles it with the declared parameter and
// return types. Reference-typed descriptor slots take their classes from
// the symbol's type info entries in order, parameters before the return;
// a slot with no entry left defaults to java/lang/Object, and entries left
// over after the return slot are rejected.
func Resolve(symbol string, params []jtypes.Type, ret jtypes.Type) (Declaration, error) {
	loc, err := DecodeFunction(symbol)
	if err != nil {
		return Declaration{}, err
	}
	decl := Declaration{Symbol: symbol, Location: loc, Ret: ret}

	if loc.Kind == New {
		if len(loc.TypeInfo) > 0 {
			return Declaration{}, &Error{Symbol: symbol, Reason: "type info on an allocation symbol"}
		}
		if len(params) != 0 {
			return Declaration{}, &jtypes.MismatchError{
				Context: "allocation of " + loc.Class,
				Want:    "no parameters",
				Got:     fmt.Sprintf("%d parameters", len(params)),
			}
		}
		if _, ok := ret.(jtypes.Ref); !ok {
			return Declaration{}, &jtypes.MismatchError{
				Context: "allocation of " + loc.Class,
				Want:    "a reference return",
				Got:     ret.String(),
			}
		}
		decl.Ret = jtypes.Ref{Class: loc.Class}
		return decl, nil
	}

	rest := params
	if decl.HasReceiver() {
		if len(rest) == 0 {
			return Declaration{}, &jtypes.MismatchError{
				Context: "receiver of " + decl.Target(),
				Want:    jtypes.Ref{Class: loc.Class}.String(),
				Got:     "no parameters",
			}
		}
		if _, ok := rest[0].(jtypes.Ref); !ok {
			return Declaration{}, jtypes.Mismatch("receiver of "+decl.Target(), jtypes.Ref{Class: loc.Class}, rest[0])
		}
		rest = rest[1:]
	}

	info := loc.TypeInfo
	nextClass := func() string {
		if len(info) == 0 {
			return "java/lang/Object"
		}
		class := info[0]
		info = info[1:]
		return class
	}
	for _, p := range rest {
		if _, ok := p.(jtypes.Ref); ok {
			decl.Params = append(decl.Params, jtypes.Ref{Class: nextClass()})
		} else {
			decl.Params = append(decl.Params, p)
		}
	}
	if _, ok := ret.(jtypes.Ref); ok {
		decl.Ret = jtypes.Ref{Class: nextClass()}
	}
	if len(info) > 0 {
		return Declaration{}, &Error{
			Symbol: symbol,
			Reason: fmt.Sprintf("%d type info entries left after the return slot", len(info)),
		}
	}
	return decl, nil
}
