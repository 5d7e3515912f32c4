package jvmgen

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

func TestStaticCallNoArgs(t *testing.T) {
	src := `
declare void @jvlm_extern__java_lang_Thread_dumpStack()

define void @dumpStack() {
entry:
	call void @jvlm_extern__java_lang_Thread_dumpStack()
	ret void
}
`
	got := mustListing(t, src, "dumpStack")
	want := []string{"invokestatic java/lang/Thread.dumpStack:()V", "return"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestStaticCallLongArg(t *testing.T) {
	src := `
declare void @jvlm_extern__java_lang_Thread_sleep(i64)

define void @sleepFive() {
entry:
	call void @jvlm_extern__java_lang_Thread_sleep(i64 5000)
	ret void
}
`
	got := mustListing(t, src, "sleepFive")
	want := []string{"ldc 5000", "i2l", "invokestatic java/lang/Thread.sleep:(J)V", "return"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestVirtualCallConsumesReceiver(t *testing.T) {
	src := `
declare i64 @jvlm_extern_invokevirtual__java_lang_Thread_getId(i8 addrspace(1)*)

define i64 @tid(i8 addrspace(1)* %t) {
entry:
	%r = call i64 @jvlm_extern_invokevirtual__java_lang_Thread_getId(i8 addrspace(1)* %t)
	ret i64 %r
}
`
	got := mustListing(t, src, "tid")
	want := []string{"aload_0", "invokevirtual java/lang/Thread.getId:()J", "lreturn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestInternalCallStaysStatic(t *testing.T) {
	src := `
define i32 @helper(i32 %a) {
entry:
	%r = mul i32 %a, 2
	ret i32 %r
}

define i32 @caller(i32 %a) {
entry:
	%r = call i32 @helper(i32 %a)
	ret i32 %r
}
`
	got := mustListing(t, src, "caller")
	want := []string{"iload_0", "invokestatic jvlm/helper.helper:(I)I", "ireturn"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

// An allocation plus its constructor call produces the canonical
// new, dup, invokespecial prelude without any special casing: the
// second reference to the fresh object is an ordinary duplicate.
func TestAllocationChain(t *testing.T) {
	sb := types.NewPointer(types.I8)
	sb.AddrSpace = 1
	m := ir.NewModule()
	newFn := m.NewFunc("jvlm_extern_new__java_lang_StringBuilder", sb)
	initFn := m.NewFunc("jvlm_extern_invokespecial__java_lang_StringBuilder_Ȫinitȫ",
		types.Void, ir.NewParam("this", sb))
	appendFn := m.NewFunc("jvlm_extern_invokevirtual__java_lang_StringBuilder_append$jvlm_param$java_lang_StringBuilder",
		sb, ir.NewParam("this", sb), ir.NewParam("v", types.I32))
	f := m.NewFunc("zeroes", sb)
	entry := f.NewBlock("entry")
	obj := entry.NewCall(newFn)
	entry.NewCall(initFn, obj)
	one := entry.NewCall(appendFn, obj, constant.NewInt(types.I32, 0))
	two := entry.NewCall(appendFn, one, constant.NewInt(types.I32, 0))
	entry.NewRet(two)

	mw, err := translateFunc(t, f)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	got := mw.Listing()
	want := []string{
		"new java/lang/StringBuilder",
		"dup",
		"invokespecial java/lang/StringBuilder.<init>:()V",
		"ldc 0",
		"invokevirtual java/lang/StringBuilder.append:(I)Ljava/lang/StringBuilder;",
		"ldc 0",
		"invokevirtual java/lang/StringBuilder.append:(I)Ljava/lang/StringBuilder;",
		"areturn",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestStaticFieldLoad(t *testing.T) {
	src := `
@jvlm__java_lang_System_out$jvlm_param$java_io_PrintStream = external addrspace(1) global i8

declare void @jvlm_extern_invokevirtual__java_io_PrintStream_println(i8 addrspace(1)*, i32)

define void @show(i32 %a) {
entry:
	call void @jvlm_extern_invokevirtual__java_io_PrintStream_println(i8 addrspace(1)* @jvlm__java_lang_System_out$jvlm_param$java_io_PrintStream, i32 %a)
	ret void
}
`
	got := mustListing(t, src, "show")
	want := []string{
		"getstatic java/lang/System.out:Ljava/io/PrintStream;",
		"iload_0",
		"invokevirtual java/io/PrintStream.println:(I)V",
		"return",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestDiscardedResultIsPopped(t *testing.T) {
	src := `
declare i32 @jvlm_extern__app_Counter_next()

define void @f() {
entry:
	%r = call i32 @jvlm_extern__app_Counter_next()
	ret void
}
`
	got := mustListing(t, src, "f")
	want := []string{"invokestatic app/Counter.next:()I", "pop", "return"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestDiscardedLongResultPopsBothSlots(t *testing.T) {
	src := `
declare i64 @jvlm_extern_invokevirtual__java_lang_Thread_getId(i8 addrspace(1)*)

define void @f(i8 addrspace(1)* %t) {
entry:
	%r = call i64 @jvlm_extern_invokevirtual__java_lang_Thread_getId(i8 addrspace(1)* %t)
	ret void
}
`
	got := mustListing(t, src, "f")
	want := []string{"aload_0", "invokevirtual java/lang/Thread.getId:()J", "pop2", "return"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

// Lifetime markers carry no meaning on a garbage-collected target and
// vanish along with their argument demand.
func TestLifetimeIntrinsicsAreDropped(t *testing.T) {
	src := `
declare void @llvm.lifetime.start.p1i8(i64, i8 addrspace(1)*)
declare void @llvm.lifetime.end.p1i8(i64, i8 addrspace(1)*)

define void @f(i8 addrspace(1)* %p) {
entry:
	call void @llvm.lifetime.start.p1i8(i64 16, i8 addrspace(1)* %p)
	call void @llvm.lifetime.end.p1i8(i64 16, i8 addrspace(1)* %p)
	ret void
}
`
	got := mustListing(t, src, "f")
	want := []string{"return"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("listing = %v, want %v", got, want)
	}
}

func TestUnknownIntrinsicIsRejected(t *testing.T) {
	src := `
declare i32 @llvm.smax.i32(i32, i32)

define i32 @f(i32 %a) {
entry:
	%r = call i32 @llvm.smax.i32(i32 %a, i32 0)
	ret i32 %r
}
`
	f := parseFunc(t, src, "f")
	_, err := translateFunc(t, f)
	if !errors.Is(err, jtypes.ErrUnsupported) {
		t.Fatalf("err = %v, want wrapped %v", err, jtypes.ErrUnsupported)
	}
	if !strings.Contains(err.Error(), "intrinsic llvm.smax.i32") {
		t.Errorf("err = %q, want the intrinsic named", err)
	}
}

func TestCallArityMismatch(t *testing.T) {
	m := ir.NewModule()
	half := m.NewFunc("jvlm_extern__app_Util_half", types.I32, ir.NewParam("v", types.I32))
	f := m.NewFunc("f", types.I32, ir.NewParam("a", types.I32))
	entry := f.NewBlock("entry")
	r := entry.NewCall(half, f.Params[0], f.Params[0])
	entry.NewRet(r)

	_, err := translateFunc(t, f)
	var mismatch *jtypes.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want a type mismatch", err)
	}
	if !strings.Contains(err.Error(), "2 arguments") {
		t.Errorf("err = %q, want the argument count named", err)
	}
}

func TestCallWidthMismatch(t *testing.T) {
	m := ir.NewModule()
	sleep := m.NewFunc("jvlm_extern__java_lang_Thread_sleep", types.Void, ir.NewParam("ms", types.I64))
	f := m.NewFunc("f", types.Void, ir.NewParam("a", types.I32))
	entry := f.NewBlock("entry")
	entry.NewCall(sleep, f.Params[0])
	entry.NewRet(nil)

	_, err := translateFunc(t, f)
	var mismatch *jtypes.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want a type mismatch", err)
	}
	if !strings.Contains(err.Error(), "argument 1") {
		t.Errorf("err = %q, want the argument position named", err)
	}
}

// A malformed extern declaration is reported when a call binds to it.
func TestDeclarationErrorSurfacesAtCall(t *testing.T) {
	m := ir.NewModule()
	getId := m.NewFunc("jvlm_extern_invokevirtual__java_lang_Thread_getId",
		types.I64, ir.NewParam("t", types.I32))
	f := m.NewFunc("f", types.I64, ir.NewParam("a", types.I32))
	entry := f.NewBlock("entry")
	r := entry.NewCall(getId, f.Params[0])
	entry.NewRet(r)

	_, err := translateFunc(t, f)
	var mismatch *jtypes.MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want a type mismatch", err)
	}
	if !strings.Contains(err.Error(), "receiver of") {
		t.Errorf("err = %q, want the receiver named", err)
	}
}
