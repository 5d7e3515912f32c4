// Package jvmgen lowers SSA functions onto the JVM operand stack.
//
// Values ride the operand stack instead of local variable slots
// wherever their use pattern allows it. A pure value consumed once is
// computed at its consumer, a value consumed several times is computed
// once and duplicated, and only values that cross basic block
// boundaries or defy stack order fall back to a local slot. The
// translator plans placements first without emitting anything, then
// replays the same schedule against the method writer, so a placement
// that turns out unschedulable costs a planning pass rather than a
// broken method body.
package jvmgen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"

	"github.com/jvlm/jvlm/pkg/classfile"
	"github.com/jvlm/jvlm/pkg/jtypes"
)

type paramRef struct {
	slot int
	kind jtypes.Kind
}

type translator struct {
	f       *ir.Func
	mw      *classfile.MethodWriter
	retType jtypes.Type

	params   map[value.Value]paramRef
	info     map[value.Value]*valueInfo
	fusedSel map[*ir.InstSelect]*ir.InstICmp
	fusedBr  map[*ir.Block]*ir.InstICmp
	blocks   []*ir.Block

	// vstack mirrors the operand stack as a sequence of IR values. The
	// planning passes and the emit pass evolve it identically; only the
	// emit pass also drives the method writer.
	vstack   []value.Value
	armBase  int
	planning bool
	nextSlot int
	tracker  blockTracker
}

// Translate lowers one defined function into mw. The caller decides the
// method's placement and metadata; Translate assumes the writer's
// parameter slots line up with the function's parameters in order.
func Translate(f *ir.Func, mw *classfile.MethodWriter) error {
	t := &translator{
		f:        f,
		mw:       mw,
		params:   map[value.Value]paramRef{},
		info:     map[value.Value]*valueInfo{},
		fusedSel: map[*ir.InstSelect]*ir.InstICmp{},
		fusedBr:  map[*ir.Block]*ir.InstICmp{},
		tracker: blockTracker{
			bound:   map[*ir.Block]classfile.Location{},
			pending: map[*ir.Block][]pendingBranch{},
		},
	}
	if err := t.init(); err != nil {
		return err
	}
	t.analyze()
	t.planning = true
	for {
		err := t.run()
		if err == nil {
			break
		}
		if err != errReplan {
			return err
		}
		t.vstack = t.vstack[:0]
		t.armBase = 0
	}
	if err := t.assignSlots(); err != nil {
		return err
	}
	t.planning = false
	t.vstack = t.vstack[:0]
	t.armBase = 0
	if err := t.run(); err != nil {
		return err
	}
	return mw.Finish()
}

func (t *translator) init() error {
	if len(t.f.Blocks) == 0 {
		return fmt.Errorf("%s has no body", t.f.Name())
	}
	if t.f.Sig.Variadic {
		return unsupported("variadic function")
	}
	slot := 0
	for _, p := range t.f.Params {
		jt, err := jtypes.FromIR(p.Type())
		if err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name(), err)
		}
		t.params[p] = paramRef{slot: slot, kind: jtypes.KindOf(jt)}
		slot += jtypes.Slots(jt)
	}
	t.nextSlot = slot
	ret, err := jtypes.FromIR(t.f.Sig.RetType)
	if err != nil {
		return fmt.Errorf("return type: %w", err)
	}
	t.retType = ret
	t.blocks = reachable(t.f)
	return nil
}

// run walks every reachable block in declaration order. Planning passes
// skip the writer; the emit pass additionally binds block locations and
// patches the branches collected for them.
func (t *translator) run() error {
	for _, b := range t.blocks {
		if !t.planning {
			t.bind(b)
		}
		for _, inst := range b.Insts {
			if err := t.scheduleInst(inst); err != nil {
				return err
			}
		}
		if err := t.lowerTerm(b); err != nil {
			return err
		}
		if len(t.vstack) != 0 {
			at := 0
			if !t.planning {
				at = int(t.mw.Location())
			}
			return &classfile.ImbalanceError{
				Method: t.f.Name(),
				At:     at,
				Detail: fmt.Sprintf("%d values held across a basic block boundary", len(t.vstack)),
			}
		}
	}
	return nil
}

// reachable filters a function's blocks to those the entry reaches,
// preserving declaration order.
func reachable(f *ir.Func) []*ir.Block {
	entry := f.Blocks[0]
	seen := map[*ir.Block]bool{entry: true}
	work := []*ir.Block{entry}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b.Term == nil {
			continue
		}
		for _, s := range b.Term.Succs() {
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	var blocks []*ir.Block
	for _, b := range f.Blocks {
		if seen[b] {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

type pendingBranch struct {
	target classfile.Target
	frame  classfile.Frame
}

// blockTracker patches branches across block boundaries. A branch to a
// block already bound resolves on the spot; otherwise it waits under the
// destination until the emit pass reaches it.
type blockTracker struct {
	bound   map[*ir.Block]classfile.Location
	pending map[*ir.Block][]pendingBranch
}

func (t *translator) bind(b *ir.Block) {
	loc := t.mw.Location()
	t.tracker.bound[b] = loc
	for _, p := range t.tracker.pending[b] {
		t.mw.SetTarget(p.target, loc)
		t.mw.RecordFrame(loc, p.frame)
	}
	delete(t.tracker.pending, b)
	if f, ok := t.mw.FrameAt(loc); ok {
		t.mw.SetFrame(f)
	}
}

func (t *translator) branch(tgt classfile.Target, dest *ir.Block) {
	frame := t.mw.Frame()
	if loc, ok := t.tracker.bound[dest]; ok {
		t.mw.SetTarget(tgt, loc)
		t.mw.RecordFrame(loc, frame)
		return
	}
	t.tracker.pending[dest] = append(t.tracker.pending[dest], pendingBranch{target: tgt, frame: frame})
}

func kindOf(v value.Value) (jtypes.Kind, error) {
	jt, err := jtypes.FromIR(v.Type())
	if err != nil {
		return jtypes.KindVoid, err
	}
	return jtypes.KindOf(jt), nil
}

func unsupported(what string) error {
	return fmt.Errorf("%w: %s", jtypes.ErrUnsupported, what)
}
