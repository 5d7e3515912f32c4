package classfile

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

func newTestMethod(t *testing.T, params []jtypes.Type, ret jtypes.Type) *MethodWriter {
	t.Helper()
	w := New(ClassMetadata{ThisClass: "jvlm/t", SuperClass: "java/lang/Object", Public: true})
	return w.NewMethod(MethodMetadata{Name: "t", Params: params, Ret: ret, Public: true})
}

func TestEmitArithListing(t *testing.T) {
	i32 := jtypes.Int{Bits: 32}
	mw := newTestMethod(t, []jtypes.Type{i32, i32}, i32)
	mw.EmitLoad(jtypes.KindInt, 0)
	mw.EmitLoad(jtypes.KindInt, 1)
	mw.EmitArith(Add, jtypes.KindInt)
	mw.EmitDup()
	mw.EmitArith(Mul, jtypes.KindInt)
	mw.EmitReturn(i32)
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	want := []string{"iload_0", "iload_1", "iadd", "dup", "imul", "ireturn"}
	if got := mw.Listing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Listing() = %v, want %v", got, want)
	}
	if mw.data.maxStack != 2 {
		t.Errorf("maxStack = %d, want 2", mw.data.maxStack)
	}
	if mw.data.maxLocals != 2 {
		t.Errorf("maxLocals = %d, want 2", mw.data.maxLocals)
	}
}

func TestEmitArithLongUsesWideOpcodes(t *testing.T) {
	i64 := jtypes.Int{Bits: 64}
	mw := newTestMethod(t, []jtypes.Type{i64, i64}, i64)
	mw.EmitLoad(jtypes.KindLong, 0)
	mw.EmitLoad(jtypes.KindLong, 2)
	mw.EmitArith(Add, jtypes.KindLong)
	mw.EmitReturn(i64)
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	want := []string{"lload_0", "lload_2", "ladd", "lreturn"}
	if got := mw.Listing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Listing() = %v, want %v", got, want)
	}
	if mw.data.maxStack != 4 {
		t.Errorf("maxStack = %d, want 4", mw.data.maxStack)
	}
	if mw.data.maxLocals != 4 {
		t.Errorf("maxLocals = %d, want 4", mw.data.maxLocals)
	}
}

func TestEmitDupChoosesWidth(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	mw.EmitConstLong(7)
	mw.EmitDup()
	mw.EmitPop()
	mw.EmitPop()
	mw.EmitReturn(jtypes.Void{})
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	want := []string{"ldc 7", "i2l", "dup2", "pop2", "pop2", "return"}
	if got := mw.Listing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Listing() = %v, want %v", got, want)
	}
}

func TestEmitConstLongWide(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	mw.EmitConstLong(5_000_000_000)
	mw.EmitPop()
	mw.EmitReturn(jtypes.Void{})
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	want := []string{"ldc2_w 5000000000", "pop2", "return"}
	if got := mw.Listing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Listing() = %v, want %v", got, want)
	}
}

func TestEmitStoreWideIndex(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	mw.EmitConstInt(1)
	mw.EmitStore(jtypes.KindInt, 300)
	mw.EmitReturn(jtypes.Void{})
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	code := mw.data.code.Bytes()
	// ldc 1, then wide istore 300.
	tail := code[len(code)-5:]
	want := []byte{opWide, opIStore, 0x01, 0x2c, opReturn}
	if !bytes.Equal(tail, want) {
		t.Errorf("code tail = % x, want % x", tail, want)
	}
	if mw.data.maxLocals != 301 {
		t.Errorf("maxLocals = %d, want 301", mw.data.maxLocals)
	}
}

func TestBranchPatching(t *testing.T) {
	i32 := jtypes.Int{Bits: 32}
	mw := newTestMethod(t, []jtypes.Type{i32}, i32)
	mw.EmitLoad(jtypes.KindInt, 0)
	target := mw.EmitIf(NotEqual)
	mw.EmitConstInt(1)
	mw.EmitReturn(i32)
	loc := mw.Location()
	mw.SetTarget(target, loc)
	mw.RecordFrame(loc, mw.Frame())
	mw.EmitConstInt(2)
	mw.EmitReturn(i32)
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	code := mw.data.code.Bytes()
	// iload_0 is one byte, so the branch opcode sits at offset 1 and the
	// patched operand holds loc-1.
	off := int(code[2])<<8 | int(code[3])
	if off != int(loc)-1 {
		t.Errorf("branch offset = %d, want %d", off, int(loc)-1)
	}
}

func TestBranchOffsetOverflow(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	target := mw.EmitGoto()
	mw.SetTarget(target, Location(0x9000))
	if err := mw.Finish(); err == nil {
		t.Error("Finish() succeeded, want branch range error")
	}
}

func TestPopEmptyStackLatchesImbalance(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	mw.EmitPop()
	err := mw.Finish()
	var iErr *ImbalanceError
	if !errors.As(err, &iErr) {
		t.Fatalf("Finish() error = %v, want *ImbalanceError", err)
	}
}

func TestResidualOperandsAtReturn(t *testing.T) {
	i32 := jtypes.Int{Bits: 32}
	mw := newTestMethod(t, nil, i32)
	mw.EmitConstInt(1)
	mw.EmitConstInt(2)
	mw.EmitReturn(i32)
	err := mw.Finish()
	var iErr *ImbalanceError
	if !errors.As(err, &iErr) {
		t.Fatalf("Finish() error = %v, want *ImbalanceError", err)
	}
}

func TestReturnKindMismatch(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Int{Bits: 64})
	mw.EmitConstInt(1)
	mw.EmitReturn(jtypes.Int{Bits: 64})
	err := mw.Finish()
	var iErr *ImbalanceError
	if !errors.As(err, &iErr) {
		t.Fatalf("Finish() error = %v, want *ImbalanceError", err)
	}
}

func TestConflictingFramesAtTarget(t *testing.T) {
	mw := newTestMethod(t, nil, jtypes.Void{})
	empty := mw.Frame()
	mw.EmitConstInt(5)
	oneInt := mw.Frame()
	mw.RecordFrame(Location(40), empty)
	mw.RecordFrame(Location(40), oneInt)
	err := mw.Finish()
	var iErr *ImbalanceError
	if !errors.As(err, &iErr) {
		t.Fatalf("Finish() error = %v, want *ImbalanceError", err)
	}
}

func TestUninitializedRewriteOnInit(t *testing.T) {
	sb := "java/lang/StringBuilder"
	mw := newTestMethod(t, nil, jtypes.Ref{Class: sb})
	mw.EmitNew(sb)
	mw.EmitDup()
	mw.EmitInvokeSpecial(sb, "<init>", nil, jtypes.Void{})
	if got := mw.frame.stack[0]; got.tag != vtagObject || got.class != sb {
		t.Fatalf("stack after <init> = %+v, want initialized %s", got, sb)
	}
	mw.EmitReturn(jtypes.Ref{Class: sb})
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	want := []string{
		"new java/lang/StringBuilder",
		"dup",
		"invokespecial java/lang/StringBuilder.<init>:()V",
		"areturn",
	}
	if got := mw.Listing(); !reflect.DeepEqual(got, want) {
		t.Errorf("Listing() = %v, want %v", got, want)
	}
}

func TestInvokeStackEffects(t *testing.T) {
	i32 := jtypes.Int{Bits: 32}
	sb := jtypes.Ref{Class: "java/lang/StringBuilder"}
	mw := newTestMethod(t, nil, jtypes.Void{})
	mw.EmitNew(sb.Class)
	mw.EmitDup()
	mw.EmitInvokeSpecial(sb.Class, "<init>", nil, jtypes.Void{})
	mw.EmitConstInt(0)
	mw.EmitInvokeVirtual(sb.Class, "append", []jtypes.Type{i32}, sb)
	if depth := mw.StackDepth(); depth != 1 {
		t.Errorf("stack depth after chained append = %d, want 1", depth)
	}
	mw.EmitPop()
	mw.EmitReturn(jtypes.Void{})
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
}

func TestRecordFrameMergesLocals(t *testing.T) {
	i32 := jtypes.Int{Bits: 32}
	mw := newTestMethod(t, []jtypes.Type{i32}, jtypes.Void{})
	base := mw.Frame()
	mw.EmitConstInt(9)
	mw.EmitStore(jtypes.KindInt, 1)
	extended := mw.Frame()
	mw.RecordFrame(Location(20), extended)
	mw.RecordFrame(Location(20), base)
	if err := mw.Finish(); err != nil {
		t.Fatalf("Finish() error: %v", err)
	}
	merged := mw.data.frames[Location(20)]
	if len(merged.locals) != 1 {
		t.Errorf("merged locals = %d entries, want the common prefix of 1", len(merged.locals))
	}
}
