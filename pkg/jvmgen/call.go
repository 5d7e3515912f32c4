package jvmgen

import (
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/jvlm/jvlm/pkg/jtypes"
	"github.com/jvlm/jvlm/pkg/mangle"
)

// droppedIntrinsics lists intrinsic prefixes erased during lowering.
// Lifetime markers describe native stack slots, which have no analogue
// on the operand stack.
var droppedIntrinsics = []string{
	"llvm.lifetime.start",
	"llvm.lifetime.end",
}

func droppedIntrinsic(name string) bool {
	for _, p := range droppedIntrinsics {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func calleeName(call *ir.InstCall) string {
	if f, ok := call.Callee.(*ir.Func); ok {
		return f.Name()
	}
	return ""
}

// Declare resolves the placement and descriptor encoded in a function's
// symbol, mapping its signature through the JVM type model first.
func Declare(f *ir.Func) (mangle.Declaration, error) {
	params, ret, err := sigTypes(f.Sig)
	if err != nil {
		return mangle.Declaration{}, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return mangle.Resolve(f.Name(), params, ret)
}

func sigTypes(sig *types.FuncType) ([]jtypes.Type, jtypes.Type, error) {
	var params []jtypes.Type
	for i, p := range sig.Params {
		jt, err := jtypes.FromIR(p)
		if err != nil {
			return nil, nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		params = append(params, jt)
	}
	ret, err := jtypes.FromIR(sig.RetType)
	if err != nil {
		return nil, nil, fmt.Errorf("return type: %w", err)
	}
	return params, ret, nil
}

func (t *translator) scheduleCall(call *ir.InstCall) error {
	if droppedIntrinsic(calleeName(call)) {
		return nil
	}
	if err := t.lowerCall(call); err != nil {
		return err
	}
	info := t.info[call]
	if info == nil {
		return nil
	}
	if info.uses == 0 {
		if !t.planning {
			t.mw.EmitPop()
		}
		t.vpop(1)
		return nil
	}
	return t.placeResult(call, info)
}

// lowerCall emits the instruction the callee's symbol selects. The four
// kinds share one shape: arguments in order, receiver first when the
// kind carries one, then the invoke. Allocation takes no arguments and
// only pushes the uninitialized instance; the paired initializer call
// arrives as its own instruction.
func (t *translator) lowerCall(call *ir.InstCall) error {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		return unsupported("indirect call")
	}
	name := callee.Name()
	if strings.HasPrefix(name, "llvm.") {
		return unsupported("intrinsic " + name)
	}
	if callee.Sig.Variadic {
		return unsupported("variadic call to " + name)
	}
	decl, err := Declare(callee)
	if err != nil {
		return err
	}
	if err := t.checkArgs(call, decl); err != nil {
		return err
	}
	if decl.Kind == mangle.New {
		if !t.planning {
			t.mw.EmitNew(decl.Class)
		}
		t.vpush(call)
		return nil
	}
	if err := t.materializeOperands(call.Args, false); err != nil {
		return err
	}
	t.vpop(len(call.Args))
	if !t.planning {
		switch decl.Kind {
		case mangle.Virtual:
			t.mw.EmitInvokeVirtual(decl.Class, decl.Member, decl.Params, decl.Ret)
		case mangle.Special:
			t.mw.EmitInvokeSpecial(decl.Class, decl.Member, decl.Params, decl.Ret)
		default:
			t.mw.EmitInvokeStatic(decl.Class, decl.Member, decl.Params, decl.Ret)
		}
	}
	if _, ok := decl.Ret.(jtypes.Void); !ok {
		t.vpush(call)
	}
	return nil
}

// checkArgs validates the call site against the resolved declaration:
// argument count, then category and width per argument. Reference
// classes are opaque to the IR, so any managed reference satisfies a
// reference slot.
func (t *translator) checkArgs(call *ir.InstCall, decl mangle.Declaration) error {
	declared := decl.Params
	if decl.HasReceiver() {
		declared = append([]jtypes.Type{jtypes.Ref{Class: decl.Class}}, declared...)
	}
	if len(call.Args) != len(declared) {
		return &jtypes.MismatchError{
			Context: "call to " + decl.Target(),
			Want:    fmt.Sprintf("%d arguments", len(declared)),
			Got:     fmt.Sprintf("%d arguments", len(call.Args)),
		}
	}
	for i, arg := range call.Args {
		at, err := jtypes.FromIR(arg.Type())
		if err != nil {
			return fmt.Errorf("argument %d of %s: %w", i+1, decl.Target(), err)
		}
		want := declared[i]
		if jtypes.KindOf(at) != jtypes.KindOf(want) {
			return jtypes.Mismatch(fmt.Sprintf("argument %d of %s", i+1, decl.Target()), want, at)
		}
		if jtypes.KindOf(want) != jtypes.KindRef && at.Descriptor() != want.Descriptor() {
			return jtypes.Mismatch(fmt.Sprintf("argument %d of %s", i+1, decl.Target()), want, at)
		}
	}
	return nil
}

// materializeGlobal reads a static field. An external global in the
// managed address space is the field value itself; the symbol's type
// info names the field's class, defaulting to java/lang/Object.
func (t *translator) materializeGlobal(g *ir.Global) error {
	if _, err := jtypes.FromIR(g.Type()); err != nil {
		return fmt.Errorf("global %s: %w", g.Name(), err)
	}
	loc, err := mangle.DecodeField(g.Name())
	if err != nil {
		return err
	}
	class := loc.TypeInfo
	if class == "" {
		class = "java/lang/Object"
	}
	if !t.planning {
		t.mw.EmitGetStatic(loc.Class, loc.Name, jtypes.Ref{Class: class})
	}
	t.vpush(g)
	return nil
}
