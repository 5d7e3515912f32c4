package jvmgen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvlm/jvlm/pkg/classfile"
	"github.com/jvlm/jvlm/pkg/jtypes"
)

// scheduleInst lowers one instruction at its program point, or skips it
// when its placement says the value is computed elsewhere.
func (t *translator) scheduleInst(inst ir.Instruction) error {
	switch inst := inst.(type) {
	case *ir.InstCall:
		return t.scheduleCall(inst)
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul, *ir.InstSDiv, *ir.InstSRem,
		*ir.InstAnd, *ir.InstOr, *ir.InstXor, *ir.InstShl, *ir.InstLShr, *ir.InstAShr,
		*ir.InstICmp, *ir.InstSelect, *ir.InstSExt, *ir.InstZExt, *ir.InstTrunc:
		return t.scheduleValue(inst.(value.Value))
	case *ir.InstUDiv, *ir.InstURem:
		return unsupported("unsigned division")
	case *ir.InstPhi:
		return unsupported("phi instruction")
	case *ir.InstAlloca, *ir.InstLoad, *ir.InstStore, *ir.InstGetElementPtr:
		return unsupported("memory access")
	case *ir.InstFAdd, *ir.InstFSub, *ir.InstFMul, *ir.InstFDiv, *ir.InstFRem, *ir.InstFCmp:
		return unsupported("floating-point arithmetic")
	default:
		return unsupported(fmt.Sprintf("%T instruction", inst))
	}
}

func (t *translator) scheduleValue(v value.Value) error {
	info := t.info[v]
	if info == nil || !info.live {
		return nil
	}
	switch info.place {
	case placeDefer, placeFused:
		return nil
	}
	if err := t.lowerValue(v); err != nil {
		return err
	}
	return t.placeResult(v, info)
}

// placeResult fans a freshly computed value out to its placement: one
// stack copy per further use, or a store into its slot.
func (t *translator) placeResult(v value.Value, info *valueInfo) error {
	switch info.place {
	case placeStack:
		for i := 1; i < info.uses; i++ {
			if !t.planning {
				t.mw.EmitDup()
			}
			t.vpush(v)
		}
	case placeSlot:
		k, err := kindOf(v)
		if err != nil {
			return err
		}
		if !t.planning {
			t.mw.EmitStore(k, info.slot)
		}
		t.vpop(1)
	}
	return nil
}

func (t *translator) lowerValue(v value.Value) error {
	switch inst := v.(type) {
	case *ir.InstAdd:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Add, true)
	case *ir.InstSub:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Sub, false)
	case *ir.InstMul:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Mul, true)
	case *ir.InstSDiv:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Div, false)
	case *ir.InstSRem:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Rem, false)
	case *ir.InstAnd:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.And, true)
	case *ir.InstOr:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Or, true)
	case *ir.InstXor:
		return t.lowerArith(inst, inst.X, inst.Y, classfile.Xor, true)
	case *ir.InstShl:
		return t.lowerShift(inst, inst.X, inst.Y, classfile.Shl)
	case *ir.InstAShr:
		return t.lowerShift(inst, inst.X, inst.Y, classfile.Shr)
	case *ir.InstLShr:
		return t.lowerShift(inst, inst.X, inst.Y, classfile.UShr)
	case *ir.InstICmp:
		return t.lowerICmpValue(inst)
	case *ir.InstSelect:
		return t.lowerSelect(inst)
	case *ir.InstSExt:
		return t.lowerSExt(inst)
	case *ir.InstZExt:
		return t.lowerZExt(inst)
	case *ir.InstTrunc:
		return t.lowerTrunc(inst)
	}
	return unsupported(fmt.Sprintf("%T value", v))
}

func (t *translator) lowerArith(v, x, y value.Value, op classfile.ArithOp, commutative bool) error {
	k, err := kindOf(v)
	if err != nil {
		return err
	}
	if k != jtypes.KindInt && k != jtypes.KindLong {
		return unsupported("arithmetic on a reference")
	}
	if err := t.materializeOperands(pair(x, y), commutative); err != nil {
		return err
	}
	t.vpop(2)
	if !t.planning {
		t.mw.EmitArith(op, k)
	}
	t.vpush(v)
	return nil
}

// lowerShift materializes the shifted value and then the amount. JVM
// shifts take an int count regardless of operand width, so a long
// amount narrows through l2i first.
func (t *translator) lowerShift(v, x, y value.Value, op classfile.ArithOp) error {
	k, err := kindOf(v)
	if err != nil {
		return err
	}
	if c, ok := y.(*constant.Int); ok {
		if err := t.materializeOne(x); err != nil {
			return err
		}
		if !t.planning {
			t.mw.EmitConstInt(int32(constInt64(c)))
		}
		t.vpush(c)
	} else {
		if err := t.materializeOperands(pair(x, y), false); err != nil {
			return err
		}
		yk, err := kindOf(y)
		if err != nil {
			return err
		}
		if yk == jtypes.KindLong && !t.planning {
			t.mw.EmitL2I()
		}
	}
	t.vpop(2)
	if !t.planning {
		t.mw.EmitArith(op, k)
	}
	t.vpush(v)
	return nil
}

// predicate maps an integer predicate onto the JVM comparison. Only the
// equality and signed orderings exist here; JVM ints are signed and
// nothing in the source surface produces the unsigned forms.
func predicate(p enum.IPred) (classfile.Comparison, error) {
	switch p {
	case enum.IPredEQ:
		return classfile.Equal, nil
	case enum.IPredNE:
		return classfile.NotEqual, nil
	case enum.IPredSGT:
		return classfile.GreaterThan, nil
	case enum.IPredSGE:
		return classfile.GreaterThanEqual, nil
	case enum.IPredSLT:
		return classfile.LessThan, nil
	case enum.IPredSLE:
		return classfile.LessThanEqual, nil
	}
	return 0, unsupported(fmt.Sprintf("%v comparison", p))
}

// emitCompare materializes the comparison operands and emits the branch
// testing its predicate, negated when the caller jumps on false. Long
// operands go through lcmp and a test against zero.
func (t *translator) emitCompare(cmp *ir.InstICmp, negate bool) (classfile.Target, error) {
	pred, err := predicate(cmp.Pred)
	if err != nil {
		return classfile.Target{}, err
	}
	if negate {
		pred = pred.Negate()
	}
	k, err := kindOf(cmp.X)
	if err != nil {
		return classfile.Target{}, err
	}
	if k == jtypes.KindRef {
		return classfile.Target{}, unsupported("comparison of references")
	}
	if err := t.materializeOperands(pair(cmp.X, cmp.Y), false); err != nil {
		return classfile.Target{}, err
	}
	t.vpop(2)
	var test classfile.Target
	if !t.planning {
		if k == jtypes.KindLong {
			t.mw.EmitLCmp()
			test = t.mw.EmitIf(pred)
		} else {
			test = t.mw.EmitIfICmp(pred)
		}
	}
	return test, nil
}

// lowerICmpValue materializes a comparison as an explicit 0 or 1, the
// shape a compare takes when it feeds anything but a branch.
func (t *translator) lowerICmpValue(cmp *ir.InstICmp) error {
	test, err := t.emitCompare(cmp, false)
	if err != nil {
		return err
	}
	if t.planning {
		t.vpush(cmp)
		return nil
	}
	before := t.mw.Frame()
	t.mw.EmitConstInt(0)
	done := t.mw.EmitGoto()
	trueLoc := t.mw.Location()
	t.mw.SetTarget(test, trueLoc)
	t.mw.RecordFrame(trueLoc, before)
	t.mw.SetFrame(before)
	t.mw.EmitConstInt(1)
	end := t.mw.Location()
	t.mw.SetTarget(done, end)
	t.mw.RecordFrame(end, t.mw.Frame())
	t.vpush(cmp)
	return nil
}

// lowerSelect emits both arms under the stack state holding at the
// branch and joins them at a merge point, which must see the same shape
// from either side. A fused comparison branches on its own predicate;
// any other condition tests against zero. Stack copies made before the
// branch stay untouchable inside the arms, so consuming one in a single
// arm cannot skew the merge.
func (t *translator) lowerSelect(sel *ir.InstSelect) error {
	var toFalse classfile.Target
	if cmp := t.fusedSel[sel]; cmp != nil {
		test, err := t.emitCompare(cmp, true)
		if err != nil {
			return err
		}
		toFalse = test
	} else {
		if err := t.materializeOne(sel.Cond); err != nil {
			return err
		}
		t.vpop(1)
		if !t.planning {
			toFalse = t.mw.EmitIf(classfile.Equal)
		}
	}

	entry := append([]value.Value(nil), t.vstack...)
	savedBase := t.armBase
	t.armBase = len(t.vstack)

	var before classfile.Frame
	if !t.planning {
		before = t.mw.Frame()
	}
	if err := t.materializeOne(sel.ValueTrue); err != nil {
		return err
	}
	var done classfile.Target
	var afterTrue classfile.Frame
	if !t.planning {
		afterTrue = t.mw.Frame()
		done = t.mw.EmitGoto()
	}

	t.vstack = append(t.vstack[:0], entry...)
	if !t.planning {
		falseLoc := t.mw.Location()
		t.mw.SetTarget(toFalse, falseLoc)
		t.mw.RecordFrame(falseLoc, before)
		t.mw.SetFrame(before)
	}
	if err := t.materializeOne(sel.ValueFalse); err != nil {
		return err
	}
	t.armBase = savedBase
	if !t.planning {
		merge := t.mw.Location()
		t.mw.SetTarget(done, merge)
		t.mw.RecordFrame(merge, afterTrue)
		t.mw.RecordFrame(merge, t.mw.Frame())
	}
	t.vpop(1)
	t.vpush(sel)
	return nil
}

// lowerSExt sign extends. Int-category values already hold their
// sign-extended form, so only the crossing into long emits code.
func (t *translator) lowerSExt(inst *ir.InstSExt) error {
	from, to, err := intBits(inst.From.Type(), inst.To)
	if err != nil {
		return err
	}
	if err := t.materializeOne(inst.From); err != nil {
		return err
	}
	if from <= 32 && to > 32 && !t.planning {
		t.mw.EmitI2L()
	}
	t.vpop(1)
	t.vpush(inst)
	return nil
}

// lowerZExt zero extends by masking. A narrow source clears the bits
// above its width; a 32-bit source widens through i2l and masks the
// upper word. Booleans are already 0 or 1 and need no mask.
func (t *translator) lowerZExt(inst *ir.InstZExt) error {
	from, to, err := intBits(inst.From.Type(), inst.To)
	if err != nil {
		return err
	}
	if err := t.materializeOne(inst.From); err != nil {
		return err
	}
	if !t.planning {
		switch {
		case from == 1:
			if to > 32 {
				t.mw.EmitI2L()
			}
		case from < 32:
			t.mw.EmitConstInt(int32(uint32(1)<<uint(from) - 1))
			t.mw.EmitArith(classfile.And, jtypes.KindInt)
			if to > 32 {
				t.mw.EmitI2L()
			}
		case from == 32 && to > 32:
			t.mw.EmitI2L()
			t.mw.EmitConstLong(0xFFFFFFFF)
			t.mw.EmitArith(classfile.And, jtypes.KindLong)
		}
	}
	t.vpop(1)
	t.vpush(inst)
	return nil
}

// lowerTrunc narrows to the canonical sign-extended form of the target
// width, so a later extension sees a value of the declared type.
func (t *translator) lowerTrunc(inst *ir.InstTrunc) error {
	from, to, err := intBits(inst.From.Type(), inst.To)
	if err != nil {
		return err
	}
	if err := t.materializeOne(inst.From); err != nil {
		return err
	}
	if !t.planning {
		if from > 32 {
			t.mw.EmitL2I()
		}
		switch {
		case to >= 32:
		case to == 1:
			t.mw.EmitConstInt(1)
			t.mw.EmitArith(classfile.And, jtypes.KindInt)
		case to == 8:
			t.mw.EmitI2B()
		case to == 16:
			t.mw.EmitI2S()
		default:
			t.mw.EmitConstInt(int32(32 - to))
			t.mw.EmitArith(classfile.Shl, jtypes.KindInt)
			t.mw.EmitConstInt(int32(32 - to))
			t.mw.EmitArith(classfile.Shr, jtypes.KindInt)
		}
	}
	t.vpop(1)
	t.vpush(inst)
	return nil
}

func intBits(from, to types.Type) (int, int, error) {
	f, ok := from.(*types.IntType)
	if !ok {
		return 0, 0, unsupported(fmt.Sprintf("conversion from %v", from))
	}
	tt, ok := to.(*types.IntType)
	if !ok {
		return 0, 0, unsupported(fmt.Sprintf("conversion to %v", to))
	}
	if f.BitSize > 64 || tt.BitSize > 64 {
		return 0, 0, unsupported("integers beyond 64 bits")
	}
	return int(f.BitSize), int(tt.BitSize), nil
}

func (t *translator) lowerTerm(b *ir.Block) error {
	switch term := b.Term.(type) {
	case *ir.TermRet:
		if term.X != nil {
			if err := t.materializeOne(term.X); err != nil {
				return err
			}
			t.vpop(1)
		}
		if !t.planning {
			t.mw.EmitReturn(t.retType)
		}
		return nil
	case *ir.TermBr:
		dest, ok := term.Target.(*ir.Block)
		if !ok {
			return unsupported("computed branch target")
		}
		if !t.planning {
			t.branch(t.mw.EmitGoto(), dest)
		}
		return nil
	case *ir.TermCondBr:
		return t.lowerCondBr(b, term)
	case *ir.TermSwitch:
		return unsupported("switch terminator")
	case *ir.TermUnreachable:
		return unsupported("unreachable terminator")
	case nil:
		return fmt.Errorf("block %s lacks a terminator", b.Name())
	default:
		return unsupported(fmt.Sprintf("%T terminator", term))
	}
}

// lowerCondBr branches to the true block on the condition and falls to
// an unconditional goto for the false block, leaving the stack empty on
// both edges.
func (t *translator) lowerCondBr(b *ir.Block, term *ir.TermCondBr) error {
	onTrue, okT := term.TargetTrue.(*ir.Block)
	onFalse, okF := term.TargetFalse.(*ir.Block)
	if !okT || !okF {
		return unsupported("computed branch target")
	}
	var test classfile.Target
	if cmp := t.fusedBr[b]; cmp != nil {
		var err error
		test, err = t.emitCompare(cmp, false)
		if err != nil {
			return err
		}
	} else {
		if err := t.materializeOne(term.Cond); err != nil {
			return err
		}
		t.vpop(1)
		if !t.planning {
			test = t.mw.EmitIf(classfile.NotEqual)
		}
	}
	if !t.planning {
		t.branch(test, onTrue)
		t.branch(t.mw.EmitGoto(), onFalse)
	}
	return nil
}
