// Package compile drives whole-module translation. Each defined function
// lowers onto the class its symbol places it on; classes serialize in
// sorted name order with methods in declaration order, so one module
// always produces the same bytes.
package compile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/llir/llvm/ir"

	"github.com/jvlm/jvlm/pkg/classfile"
	"github.com/jvlm/jvlm/pkg/jtypes"
	"github.com/jvlm/jvlm/pkg/jvmgen"
	"github.com/jvlm/jvlm/pkg/mangle"
)

// Function records how one module symbol resolved and, for defined
// functions, the mnemonic listing of the emitted method.
type Function struct {
	Symbol     string
	Kind       mangle.Kind
	Class      string
	Member     string
	Descriptor string
	Params     []jtypes.Type
	Ret        jtypes.Type
	Defined    bool
	Listing    []string
}

// Class is one serialized class file.
type Class struct {
	Name  string
	Bytes []byte
}

// Result of compiling a module: symbol resolutions in declaration order
// and class files in sorted name order.
type Result struct {
	Functions []Function
	Classes   []Class
}

// Lookup finds the defined function for a dotted entry point such as
// jvlm.intTest.intTest.
func (r *Result) Lookup(entry string) (Function, bool) {
	i := strings.LastIndex(entry, ".")
	if i < 0 {
		return Function{}, false
	}
	class := strings.ReplaceAll(entry[:i], ".", "/")
	member := entry[i+1:]
	for _, fn := range r.Functions {
		if fn.Defined && fn.Class == class && fn.Member == member {
			return fn, true
		}
	}
	return Function{}, false
}

type pending struct {
	f    *ir.Func
	decl mangle.Declaration
	idx  int
}

// Module compiles every defined function in the module. Intrinsic
// declarations belong to the lowering layer and extern declarations
// carry no bodies; neither produces a class. The first error aborts the
// run with the function named, leaving no partial output.
func Module(m *ir.Module) (*Result, error) {
	result := &Result{}
	buckets := make(map[string][]pending)

	for _, f := range m.Funcs {
		if strings.HasPrefix(f.Name(), "llvm.") {
			continue
		}
		decl, err := jvmgen.Declare(f)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", f.Name(), err)
		}
		fn := Function{
			Symbol:     f.Name(),
			Kind:       decl.Kind,
			Class:      decl.Class,
			Member:     decl.Member,
			Descriptor: decl.Descriptor(),
			Params:     decl.Params,
			Ret:        decl.Ret,
			Defined:    len(f.Blocks) > 0,
		}
		if fn.Defined && decl.External {
			return nil, fmt.Errorf("compile %s: %w", f.Name(), &mangle.Error{
				Symbol: f.Name(),
				Reason: "defined function carries an extern symbol",
			})
		}
		result.Functions = append(result.Functions, fn)
		if fn.Defined {
			buckets[decl.Class] = append(buckets[decl.Class], pending{
				f:    f,
				decl: decl,
				idx:  len(result.Functions) - 1,
			})
		}
	}

	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cw := classfile.New(classfile.ClassMetadata{
			ThisClass:  name,
			SuperClass: "java/lang/Object",
			Public:     true,
			Final:      true,
		})
		for _, p := range buckets[name] {
			mw := cw.NewMethod(classfile.MethodMetadata{
				Name:     p.decl.Member,
				Params:   p.decl.Params,
				Ret:      p.decl.Ret,
				Public:   true,
				Final:    true,
				Strictfp: true,
			})
			if err := jvmgen.Translate(p.f, mw); err != nil {
				return nil, fmt.Errorf("compile %s: %w", p.f.Name(), err)
			}
			result.Functions[p.idx].Listing = mw.Listing()
		}
		bytes, err := cw.Bytes()
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		result.Classes = append(result.Classes, Class{Name: name, Bytes: bytes})
	}
	return result, nil
}
