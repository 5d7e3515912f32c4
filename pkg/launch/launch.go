// Package launch synthesizes the class that makes a compiled function
// runnable from the command line: a main method that pushes literal
// arguments, invokes the target, and prints any result through the
// matching PrintStream.println overload.
package launch

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jvlm/jvlm/pkg/classfile"
	"github.com/jvlm/jvlm/pkg/jtypes"
)

// Target identifies the compiled static method the launcher invokes.
type Target struct {
	Class  string
	Member string
	Params []jtypes.Type
	Ret    jtypes.Type
}

func (t Target) name() string { return t.Class + "." + t.Member }

// Main synthesizes a launcher class with the given internal name. Each
// argument bakes in as a constant of the width the target's descriptor
// declares, so only integer-category parameters can be driven this way.
func Main(className string, target Target, args []int64) ([]byte, error) {
	if err := check(target, args); err != nil {
		return nil, err
	}
	cw := classfile.New(classfile.ClassMetadata{
		ThisClass:  className,
		SuperClass: "java/lang/Object",
		Public:     true,
	})
	mw := cw.NewMethod(mainMetadata())
	emit(mw, target, args)
	if err := mw.Finish(); err != nil {
		return nil, err
	}
	return cw.Bytes()
}

func mainMetadata() classfile.MethodMetadata {
	return classfile.MethodMetadata{
		Name:   "main",
		Params: []jtypes.Type{jtypes.Array{Elem: jtypes.Ref{Class: "java/lang/String"}}},
		Ret:    jtypes.Void{},
		Public: true,
	}
}

// check validates argument count, then category and width per argument,
// before any bytecode is emitted. Literals bake in at the declared
// width, so a value the width cannot hold is rejected rather than
// wrapped.
func check(target Target, args []int64) error {
	if len(args) != len(target.Params) {
		return &jtypes.MismatchError{
			Context: "launcher for " + target.name(),
			Want:    fmt.Sprintf("%d arguments", len(target.Params)),
			Got:     fmt.Sprintf("%d arguments", len(args)),
		}
	}
	for i, p := range target.Params {
		n, ok := p.(jtypes.Int)
		if !ok {
			return &jtypes.MismatchError{
				Context: fmt.Sprintf("argument %d of %s", i+1, target.name()),
				Want:    "an integer-category parameter",
				Got:     p.String(),
			}
		}
		var want string
		switch {
		case n.Bits == 1 && args[i] != 0 && args[i] != 1:
			want = "0 or 1 for " + n.String()
		case n.Bits <= 32 && (args[i] < math.MinInt32 || args[i] > math.MaxInt32):
			want = "a 32-bit value for " + n.String()
		default:
			continue
		}
		return &jtypes.MismatchError{
			Context: fmt.Sprintf("argument %d of %s", i+1, target.name()),
			Want:    want,
			Got:     strconv.FormatInt(args[i], 10),
		}
	}
	return nil
}

func emit(mw *classfile.MethodWriter, target Target, args []int64) {
	retKind := jtypes.KindOf(target.Ret)
	if retKind != jtypes.KindVoid {
		mw.EmitGetStatic("java/lang/System", "out", jtypes.Ref{Class: "java/io/PrintStream"})
	}
	for i, p := range target.Params {
		if jtypes.KindOf(p) == jtypes.KindLong {
			mw.EmitConstLong(args[i])
		} else {
			mw.EmitConstInt(int32(args[i]))
		}
	}
	mw.EmitInvokeStatic(target.Class, target.Member, target.Params, target.Ret)
	if retKind != jtypes.KindVoid {
		mw.EmitInvokeVirtual("java/io/PrintStream", "println",
			[]jtypes.Type{printlnParam(target.Ret)}, jtypes.Void{})
	}
	mw.EmitReturn(jtypes.Void{})
}

// printlnParam picks the println overload for a result: booleans print
// as true/false, narrower ints widen to the int overload, longs take the
// long form, and references go through Object, which renders them via
// toString.
func printlnParam(ret jtypes.Type) jtypes.Type {
	if t, ok := ret.(jtypes.Int); ok {
		switch {
		case t.Bits == 1:
			return t
		case t.Bits > 32:
			return jtypes.Int{Bits: 64}
		default:
			return jtypes.Int{Bits: 32}
		}
	}
	return jtypes.Ref{Class: "java/lang/Object"}
}
