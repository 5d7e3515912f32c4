package jtypes

import (
	"errors"
	"testing"

	"github.com/llir/llvm/ir/types"
)

func TestDescriptors(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		want string
	}{
		{"boolean", Int{Bits: 1}, "Z"},
		{"byte", Int{Bits: 8}, "B"},
		{"short", Int{Bits: 16}, "S"},
		{"int", Int{Bits: 32}, "I"},
		{"odd width rounds up", Int{Bits: 17}, "I"},
		{"long", Int{Bits: 64}, "J"},
		{"narrow long", Int{Bits: 33}, "J"},
		{"object", Ref{Class: "java/lang/Object"}, "Ljava/lang/Object;"},
		{"string builder", Ref{Class: "java/lang/StringBuilder"}, "Ljava/lang/StringBuilder;"},
		{"void", Void{}, "V"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.typ.Descriptor(); got != tt.want {
				t.Errorf("Descriptor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMethodDescriptor(t *testing.T) {
	tests := []struct {
		name   string
		params []Type
		ret    Type
		want   string
	}{
		{"no args int", nil, Int{Bits: 32}, "()I"},
		{"two ints", []Type{Int{Bits: 32}, Int{Bits: 32}}, Int{Bits: 32}, "(II)I"},
		{"long arg void", []Type{Int{Bits: 64}}, Void{}, "(J)V"},
		{"ref chain", []Type{Int{Bits: 32}}, Ref{Class: "java/lang/StringBuilder"}, "(I)Ljava/lang/StringBuilder;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MethodDescriptor(tt.params, tt.ret); got != tt.want {
				t.Errorf("MethodDescriptor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		typ  Type
		want Kind
	}{
		{Int{Bits: 1}, KindInt},
		{Int{Bits: 32}, KindInt},
		{Int{Bits: 33}, KindLong},
		{Int{Bits: 64}, KindLong},
		{Ref{Class: "java/lang/Object"}, KindRef},
		{Void{}, KindVoid},
	}

	for _, tt := range tests {
		if got := KindOf(tt.typ); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestSlots(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{Int{Bits: 32}, 1},
		{Int{Bits: 64}, 2},
		{Ref{Class: "java/lang/Object"}, 1},
		{Void{}, 0},
	}

	for _, tt := range tests {
		if got := Slots(tt.typ); got != tt.want {
			t.Errorf("Slots(%v) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

func TestFromIR(t *testing.T) {
	tests := []struct {
		name string
		in   types.Type
		want Type
	}{
		{"i1", types.I1, Int{Bits: 1}},
		{"i32", types.I32, Int{Bits: 32}},
		{"i64", types.I64, Int{Bits: 64}},
		{"void", types.Void, Void{}},
		{"managed pointer", managedPtr(), Ref{Class: "java/lang/Object"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromIR(tt.in)
			if err != nil {
				t.Fatalf("FromIR() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("FromIR() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromIRUnsupported(t *testing.T) {
	tests := []struct {
		name string
		in   types.Type
	}{
		{"plain pointer", types.NewPointer(types.I8)},
		{"float", types.Float},
		{"double", types.Double},
		{"i128", types.I128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromIR(tt.in); !errors.Is(err, ErrUnsupported) {
				t.Errorf("FromIR() error = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestMismatchError(t *testing.T) {
	err := Mismatch("call sleep, argument 1", Int{Bits: 64}, Int{Bits: 32})
	want := "type mismatch: call sleep, argument 1: have i32, want i64"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	var me *MismatchError
	if !errors.As(error(err), &me) {
		t.Error("expected errors.As to match *MismatchError")
	}
}

func managedPtr() types.Type {
	p := types.NewPointer(types.I8)
	p.AddrSpace = 1
	return p
}
