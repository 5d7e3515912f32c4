package jvmgen

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/jvlm/jvlm/pkg/jtypes"
)

// placement says where a value lives between its definition and its uses.
type placement int

const (
	placeDefer placement = iota // computed where its single use consumes it
	placeStack                  // computed at the definition, a stack copy per use
	placeSlot                   // stored to a local variable slot, loaded per use
	placeFused                  // comparison folded into the branch consuming it
)

type valueInfo struct {
	def   ir.Instruction
	block *ir.Block
	uses  int
	cross bool
	live  bool
	place placement
	slot  int
}

// errReplan aborts a planning pass after a placement was demoted; the
// translator restarts planning under the tightened placements.
var errReplan = errors.New("replan")

// analyze decides, before any code exists, where every value will live.
// Dead pure values drop out through a liveness walk rooted at the calls
// and terminators. Survivors claim the operand stack when all their uses
// sit in the defining block, and a local slot otherwise.
func (t *translator) analyze() {
	for _, b := range t.blocks {
		for _, inst := range b.Insts {
			if v := resultValue(inst); v != nil {
				t.info[v] = &valueInfo{def: inst, block: b}
			}
		}
	}
	for _, b := range t.blocks {
		for _, inst := range b.Insts {
			call, ok := inst.(*ir.InstCall)
			if !ok || droppedIntrinsic(calleeName(call)) {
				continue
			}
			if info := t.info[call]; info != nil {
				info.live = true
			}
			for _, arg := range call.Args {
				t.markLive(arg)
			}
		}
		for _, op := range termOperands(b.Term) {
			t.markLive(op)
		}
	}
	for _, b := range t.blocks {
		for _, inst := range b.Insts {
			t.countUses(inst, b)
		}
		t.countOperands(termOperands(b.Term), b)
	}
	for _, b := range t.blocks {
		for _, inst := range b.Insts {
			v := resultValue(inst)
			if v == nil {
				continue
			}
			info := t.info[v]
			if _, ok := inst.(*ir.InstCall); ok {
				if info.cross {
					info.place = placeSlot
				} else {
					info.place = placeStack
				}
				continue
			}
			if !info.live {
				continue
			}
			switch {
			case info.cross:
				info.place = placeSlot
			case info.uses == 1:
				info.place = placeDefer
			default:
				info.place = placeStack
			}
		}
		t.fuse(b)
	}
}

func (t *translator) markLive(v value.Value) {
	info := t.info[v]
	if info == nil || info.live {
		return
	}
	info.live = true
	for _, op := range operandsOf(info.def) {
		t.markLive(op)
	}
}

func (t *translator) countUses(inst ir.Instruction, b *ir.Block) {
	if call, ok := inst.(*ir.InstCall); ok {
		if !droppedIntrinsic(calleeName(call)) {
			t.countOperands(call.Args, b)
		}
		return
	}
	v := resultValue(inst)
	if v == nil {
		return
	}
	if info := t.info[v]; info == nil || !info.live {
		return
	}
	t.countOperands(operandsOf(inst), b)
}

func (t *translator) countOperands(ops []value.Value, b *ir.Block) {
	for _, op := range ops {
		info := t.info[op]
		if info == nil {
			continue
		}
		info.uses++
		if info.block != b {
			info.cross = true
		}
	}
}

// fuse folds a comparison into the select or conditional branch that is
// its only consumer, so the predicate becomes the branch condition
// instead of an explicit 0 or 1.
func (t *translator) fuse(b *ir.Block) {
	for _, inst := range b.Insts {
		sel, ok := inst.(*ir.InstSelect)
		if !ok {
			continue
		}
		if info := t.info[sel]; info == nil || !info.live {
			continue
		}
		if cmp := t.fusible(sel.Cond, b); cmp != nil {
			t.fusedSel[sel] = cmp
			t.info[cmp].place = placeFused
		}
	}
	if cb, ok := b.Term.(*ir.TermCondBr); ok {
		if cmp := t.fusible(cb.Cond, b); cmp != nil {
			t.fusedBr[b] = cmp
			t.info[cmp].place = placeFused
		}
	}
}

// fusible reports whether a branch condition is a comparison the branch
// can absorb: defined in the same block, live, and consumed nowhere else.
func (t *translator) fusible(cond value.Value, b *ir.Block) *ir.InstICmp {
	cmp, ok := cond.(*ir.InstICmp)
	if !ok {
		return nil
	}
	info := t.info[cmp]
	if info == nil || !info.live || info.uses != 1 || info.block != b {
		return nil
	}
	return cmp
}

// assignSlots numbers the slot-placed values in definition order, after
// the parameters. Planning never depends on slot numbers, so demotions
// in later passes cannot perturb the numbering of earlier values.
func (t *translator) assignSlots() error {
	for _, b := range t.blocks {
		for _, inst := range b.Insts {
			v := resultValue(inst)
			if v == nil {
				continue
			}
			info := t.info[v]
			if info.place != placeSlot {
				continue
			}
			jt, err := jtypes.FromIR(v.Type())
			if err != nil {
				return err
			}
			info.slot = t.nextSlot
			t.nextSlot += jtypes.Slots(jt)
		}
	}
	return nil
}

// resultValue returns the value an instruction defines, nil for void
// calls and for instructions outside the supported surface.
func resultValue(inst ir.Instruction) value.Value {
	switch inst := inst.(type) {
	case *ir.InstCall:
		if _, ok := inst.Type().(*types.VoidType); ok {
			return nil
		}
		return inst
	case *ir.InstAdd, *ir.InstSub, *ir.InstMul, *ir.InstSDiv, *ir.InstSRem,
		*ir.InstAnd, *ir.InstOr, *ir.InstXor, *ir.InstShl, *ir.InstLShr, *ir.InstAShr,
		*ir.InstICmp, *ir.InstSelect, *ir.InstSExt, *ir.InstZExt, *ir.InstTrunc:
		return inst.(value.Value)
	}
	return nil
}

func pair(x, y value.Value) []value.Value { return []value.Value{x, y} }

// operandsOf lists the values an instruction consumes, in the order the
// JVM operator expects them on the stack.
func operandsOf(inst ir.Instruction) []value.Value {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return pair(inst.X, inst.Y)
	case *ir.InstSub:
		return pair(inst.X, inst.Y)
	case *ir.InstMul:
		return pair(inst.X, inst.Y)
	case *ir.InstSDiv:
		return pair(inst.X, inst.Y)
	case *ir.InstSRem:
		return pair(inst.X, inst.Y)
	case *ir.InstAnd:
		return pair(inst.X, inst.Y)
	case *ir.InstOr:
		return pair(inst.X, inst.Y)
	case *ir.InstXor:
		return pair(inst.X, inst.Y)
	case *ir.InstShl:
		return pair(inst.X, inst.Y)
	case *ir.InstLShr:
		return pair(inst.X, inst.Y)
	case *ir.InstAShr:
		return pair(inst.X, inst.Y)
	case *ir.InstICmp:
		return pair(inst.X, inst.Y)
	case *ir.InstSelect:
		return []value.Value{inst.Cond, inst.ValueTrue, inst.ValueFalse}
	case *ir.InstCall:
		return inst.Args
	case *ir.InstSExt:
		return []value.Value{inst.From}
	case *ir.InstZExt:
		return []value.Value{inst.From}
	case *ir.InstTrunc:
		return []value.Value{inst.From}
	}
	return nil
}

func termOperands(term ir.Terminator) []value.Value {
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X != nil {
			return []value.Value{term.X}
		}
	case *ir.TermCondBr:
		return []value.Value{term.Cond}
	}
	return nil
}

func (t *translator) vpush(v value.Value) {
	t.vstack = append(t.vstack, v)
}

func (t *translator) vpop(n int) {
	t.vstack = t.vstack[:len(t.vstack)-n]
}

// matchedPrefix returns the longest k such that the top k stack entries
// are ops[:k] in consumption order, with ops[k-1] on top. Entries pushed
// before the current branch arm are not eligible.
func (t *translator) matchedPrefix(ops []value.Value) int {
	limit := len(t.vstack) - t.armBase
	if limit > len(ops) {
		limit = len(ops)
	}
	for k := limit; k > 0; k-- {
		base := len(t.vstack) - k
		match := true
		for i := 0; i < k; i++ {
			if t.vstack[base+i] != ops[i] {
				match = false
				break
			}
		}
		if match {
			return k
		}
	}
	return 0
}

func (t *translator) freshlyMaterializable(v value.Value) bool {
	info := t.info[v]
	return info == nil || info.place != placeStack
}

// orderWorks reports whether ops can be brought to the top of the stack
// in order without recomputing a stack-resident value.
func (t *translator) orderWorks(ops []value.Value) bool {
	k := t.matchedPrefix(ops)
	for _, v := range ops[k:] {
		if !t.freshlyMaterializable(v) {
			return false
		}
	}
	return true
}

// materializeOperands arranges ops as the top of the operand stack in
// order. Copies already in position are consumed where they lie and the
// rest is loaded or computed on top. For a commutative operator the
// swapped order is tried when it lines up with the stack and the given
// order does not.
func (t *translator) materializeOperands(ops []value.Value, commutative bool) error {
	if commutative && len(ops) == 2 && !t.orderWorks(ops) {
		swapped := []value.Value{ops[1], ops[0]}
		if t.orderWorks(swapped) {
			ops = swapped
		}
	}
	k := t.matchedPrefix(ops)
	for _, v := range ops[k:] {
		if err := t.materializeValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (t *translator) materializeOne(v value.Value) error {
	if t.matchedPrefix([]value.Value{v}) == 1 {
		return nil
	}
	return t.materializeValue(v)
}

// materializeValue pushes one fresh occurrence of v. A value whose only
// copies sit buried in the stack cannot be recomputed; it is demoted to
// a slot and the plan starts over.
func (t *translator) materializeValue(v value.Value) error {
	switch v := v.(type) {
	case *constant.Int:
		t.pushConst(v)
		return nil
	case *ir.Param:
		ref := t.params[v]
		if !t.planning {
			t.mw.EmitLoad(ref.kind, ref.slot)
		}
		t.vpush(v)
		return nil
	case *ir.Global:
		return t.materializeGlobal(v)
	case *ir.Func:
		return unsupported("function address value")
	}
	info := t.info[v]
	if info == nil {
		return unsupported(fmt.Sprintf("operand %s", v.Ident()))
	}
	switch info.place {
	case placeDefer:
		return t.lowerValue(v)
	case placeSlot:
		k, err := kindOf(v)
		if err != nil {
			return err
		}
		if !t.planning {
			t.mw.EmitLoad(k, info.slot)
		}
		t.vpush(v)
		return nil
	case placeStack:
		return t.demote(v)
	default:
		return fmt.Errorf("comparison %s escaped its fused branch", v.Ident())
	}
}

// demote moves a stack-placed value into a local slot and asks for a
// fresh planning pass. Demotion outside planning means the emit pass
// diverged from the plan, which the translator treats as fatal.
func (t *translator) demote(v value.Value) error {
	info := t.info[v]
	if !t.planning || info == nil || info.place != placeStack {
		return fmt.Errorf("operand %s cannot be scheduled on the stack", v.Ident())
	}
	info.place = placeSlot
	return errReplan
}

func (t *translator) pushConst(c *constant.Int) {
	if !t.planning {
		if c.Typ.BitSize == 64 {
			t.mw.EmitConstLong(constInt64(c))
		} else {
			t.mw.EmitConstInt(int32(constInt64(c)))
		}
	}
	t.vpush(c)
}

// constInt64 returns the two's-complement value of an integer constant.
func constInt64(c *constant.Int) int64 {
	if c.X.IsInt64() {
		return c.X.Int64()
	}
	return int64(c.X.Uint64())
}
