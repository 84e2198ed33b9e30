package evalstack

import (
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/strheap"
	"github.com/oakleafbasic/oakleaf/symtab"
)

// Control-flow frames live on the same stack as expression values. A frame
// cell's Fr field carries one of the payload types below.

// ProcFrame records one PROC or FN activation: where to resume, how many
// parameters the call pushed, and the caller's stack depth before argument
// evaluation (its mark), which must be reproduced exactly at return.
type ProcFrame struct {
	Name    string
	IsFn    bool
	Ret     oakleaf.Addr
	RetUnit int // program unit of the return address: 0 main, 1+ libraries
	Params  int
	Mark    int
}

// GosubFrame records a GOSUB return address.
type GosubFrame struct {
	Ret oakleaf.Addr
}

// ForFrame is the loop-control block of a FOR loop. Limit and step are kept
// in integer or float form according to the control variable's kind.
type ForFrame struct {
	Control symtab.Lvalue
	IsFloat bool
	LimitI  int64
	StepI   int64
	LimitF  float64
	StepF   float64
	Body    oakleaf.Addr // first statement of the loop body
}

// Done reports whether the control value has passed the limit.
func (f *ForFrame) Done(iv int64, fv float64) bool {
	if f.IsFloat {
		if f.StepF >= 0 {
			return fv > f.LimitF
		}
		return fv < f.LimitF
	}
	if f.StepI >= 0 {
		return iv > f.LimitI
	}
	return iv < f.LimitI
}

// WhileFrame records the re-entry address of a WHILE condition.
type WhileFrame struct {
	Cond oakleaf.Addr
}

// RepeatFrame records the address of the first statement after REPEAT.
type RepeatFrame struct {
	Body oakleaf.Addr
}

// LocalFrame is a saved-local record: when LOCAL (or a formal parameter)
// re-binds a variable that already exists in an enclosing scope, the old
// value is parked here and restored, exactly once, when the enclosing PROC
// or FN returns. For by-reference RETURN parameters, WriteBack names the
// caller's location that receives the final value first.
type LocalFrame struct {
	Var       *symtab.Variable
	OldI      int64
	OldF      float64
	OldS      strheap.Descriptor
	OldArr    *symtab.ArrayDesc
	WriteBack *symtab.Lvalue
}

// ErrorFrame is a saved error-handler checkpoint: a restartable execution
// state (resume address) plus the stack position everything above which is
// discarded when an error unwinds to this frame.
type ErrorFrame struct {
	Resume oakleaf.Addr
	Unit   int // program unit of the resume address
	Depth  int // PROC/FN call depth at arming time
	Mark   int
}

// DataFrame parks the READ state saved by LOCAL DATA: the DATA pointer and
// whether it sits inside an item list.
type DataFrame struct {
	Ptr    oakleaf.Addr
	InList bool
}

// OpFrame marks a nested operator context of the expression evaluator.
type OpFrame struct {
	Count int
}

// --- Pushing frames --------------------------------------------------------

// PushProc pushes a PROC/FN activation frame and returns it. The mark is
// the stack depth before the call evaluated its arguments; the return
// invariant check reproduces it after unwinding.
func (st *Stack) PushProc(name string, isFn bool, ret oakleaf.Addr, retUnit int, params, mark int) (*ProcFrame, error) {
	tag := ItProcFrame
	if isFn {
		tag = ItFnFrame
	}
	fr := &ProcFrame{
		Name: name, IsFn: isFn,
		Ret: ret, RetUnit: retUnit,
		Params: params, Mark: mark,
	}
	return fr, st.push(Item{Tag: tag, Fr: fr})
}

// PushGosub pushes a GOSUB return frame.
func (st *Stack) PushGosub(ret oakleaf.Addr) error {
	return st.push(Item{Tag: ItGosubFrame, Fr: &GosubFrame{Ret: ret}})
}

// PopGosub pops the nearest GOSUB frame, discarding leftover value cells
// above it (results of expressions abandoned by the jump).
func (st *Stack) PopGosub() (*GosubFrame, error) {
	for len(st.items) > 0 && st.TopTag().IsValue() {
		st.discard()
	}
	it, err := st.pop(ItGosubFrame)
	if err != nil {
		return nil, oakleaf.Errorf(oakleaf.BadCall, "RETURN without GOSUB")
	}
	return it.Fr.(*GosubFrame), nil
}

// PushFor pushes a FOR loop-control frame.
func (st *Stack) PushFor(fr *ForFrame) error {
	return st.push(Item{Tag: ItForFrame, Fr: fr})
}

// TopFor returns the innermost FOR frame without popping, or nil.
func (st *Stack) TopFor() *ForFrame {
	for i := len(st.items) - 1; i >= 0; i-- {
		if st.items[i].Tag == ItForFrame {
			return st.items[i].Fr.(*ForFrame)
		}
		if !st.items[i].Tag.IsValue() {
			break
		}
	}
	return nil
}

// PopFor pops the innermost FOR frame (loop exhausted).
func (st *Stack) PopFor() error {
	for len(st.items) > 0 && st.TopTag().IsValue() {
		st.discard()
	}
	_, err := st.pop(ItForFrame)
	return err
}

// PushWhile pushes a WHILE frame.
func (st *Stack) PushWhile(cond oakleaf.Addr) error {
	return st.push(Item{Tag: ItWhileFrame, Fr: &WhileFrame{Cond: cond}})
}

// TopWhile returns the innermost WHILE frame, or nil.
func (st *Stack) TopWhile() *WhileFrame {
	if st.TopTag() == ItWhileFrame {
		return st.items[len(st.items)-1].Fr.(*WhileFrame)
	}
	return nil
}

// PopWhile pops the topmost WHILE frame.
func (st *Stack) PopWhile() error {
	_, err := st.pop(ItWhileFrame)
	return err
}

// PushRepeat pushes a REPEAT frame.
func (st *Stack) PushRepeat(body oakleaf.Addr) error {
	return st.push(Item{Tag: ItRepeatFrame, Fr: &RepeatFrame{Body: body}})
}

// TopRepeat returns the innermost REPEAT frame, or nil.
func (st *Stack) TopRepeat() *RepeatFrame {
	if st.TopTag() == ItRepeatFrame {
		return st.items[len(st.items)-1].Fr.(*RepeatFrame)
	}
	return nil
}

// PopRepeat pops the topmost REPEAT frame.
func (st *Stack) PopRepeat() error {
	_, err := st.pop(ItRepeatFrame)
	return err
}

// PushLocal saves a variable's current value and leaves the variable ready
// for re-binding. The caller overwrites the live cell afterwards; the frame
// only remembers what to put back.
func (st *Stack) PushLocal(v *symtab.Variable, writeBack *symtab.Lvalue) error {
	fr := &LocalFrame{
		Var:       v,
		OldI:      v.Ival,
		OldF:      v.Fval,
		OldS:      v.Sval,
		OldArr:    v.Arr,
		WriteBack: writeBack,
	}
	return st.push(Item{Tag: ItLocalFrame, Fr: fr})
}

// PushError pushes an error-handler checkpoint.
func (st *Stack) PushError(resume oakleaf.Addr, unit int, depth int) error {
	fr := &ErrorFrame{Resume: resume, Unit: unit, Depth: depth, Mark: len(st.items)}
	return st.push(Item{Tag: ItErrorFrame, Fr: fr})
}

// PopError pops a handler frame on normal scope exit.
func (st *Stack) PopError() (*ErrorFrame, error) {
	it, err := st.pop(ItErrorFrame)
	if err != nil {
		return nil, err
	}
	return it.Fr.(*ErrorFrame), nil
}

// PushData parks the READ state for LOCAL DATA.
func (st *Stack) PushData(ptr oakleaf.Addr, inList bool) error {
	return st.push(Item{Tag: ItDataFrame, Fr: &DataFrame{Ptr: ptr, InList: inList}})
}

// PopData retrieves a parked READ state.
func (st *Stack) PopData() (*DataFrame, error) {
	it, err := st.pop(ItDataFrame)
	if err != nil {
		return nil, err
	}
	return it.Fr.(*DataFrame), nil
}

// PushOp marks a nested operator context.
func (st *Stack) PushOp(count int) error {
	return st.push(Item{Tag: ItOpFrame, Fr: &OpFrame{Count: count}})
}

// PopOp pops an operator context marker.
func (st *Stack) PopOp() (int, error) {
	it, err := st.pop(ItOpFrame)
	if err != nil {
		return 0, err
	}
	return it.Fr.(*OpFrame).Count, nil
}

// --- Unwinding -------------------------------------------------------------

// restoreLocal pops the topmost cell, which must be a LOCAL frame, and puts
// the saved value back into its variable. A by-reference writeback location
// receives the variable's final (local) value first. The local value being
// displaced is released: strings to the heap, local array strings likewise.
func (st *Stack) restoreLocal() *symtab.Lvalue {
	it := st.items[len(st.items)-1]
	if it.Tag != ItLocalFrame {
		oakleaf.Bug("evalstack", "restoreLocal on %s cell", it.Tag)
	}
	st.items = st.items[:len(st.items)-1]
	fr := it.Fr.(*LocalFrame)
	v := fr.Var
	if v.Sval != fr.OldS {
		st.heap.Free(v.Sval)
	}
	if v.Arr != fr.OldArr && v.Arr != nil && v.Arr.Local {
		for i := range v.Arr.Strs {
			st.heap.Free(v.Arr.Strs[i])
			v.Arr.Strs[i] = strheap.Empty
		}
	}
	v.Ival, v.Fval, v.Sval, v.Arr = fr.OldI, fr.OldF, fr.OldS, fr.OldArr
	return fr.WriteBack
}

// Writeback pairs a by-reference RETURN parameter's caller location with the
// value the local held at return time. The caller performs the store, since
// storing may itself allocate; string values are fresh blocks owned by the
// caller until then.
type Writeback struct {
	Target symtab.Lvalue
	Val    symtab.Value
}

// UnwindReturn unwinds a PROC or FN return: discards leftover cells, applies
// LOCAL restores, pops the activation frame and verifies the stack mark.
// A parked READ state is popped and handed back for the caller to reinstate.
// The innermost activation frame must match the return kind: an ENDPROC met
// inside an FN body (or a '=' inside a PROC) raises BadCall. A mark mismatch
// is a parameter-count bug inside the interpreter and fatal.
func (st *Stack) UnwindReturn(isFn bool) (*ProcFrame, []Writeback, *DataFrame, error) {
	want := ItProcFrame
	word := "ENDPROC"
	if isFn {
		want = ItFnFrame
		word = "="
	}
	var wbs []Writeback
	var data *DataFrame
	for i := len(st.items) - 1; i >= 0; i-- {
		tg := st.items[i].Tag
		if tg != ItProcFrame && tg != ItFnFrame {
			continue
		}
		fr := st.items[i].Fr.(*ProcFrame)
		if tg != want {
			return nil, nil, nil, oakleaf.Errorf(oakleaf.BadCall, "%s inside %s", word, fr.Name)
		}
		// Unwind everything above the frame.
		for len(st.items)-1 > i {
			switch st.TopTag() {
			case ItLocalFrame:
				lf := st.items[len(st.items)-1].Fr.(*LocalFrame)
				var cur symtab.Value
				if lf.WriteBack != nil {
					var err error
					if cur, err = st.localValue(lf); err != nil {
						return nil, nil, nil, err
					}
				}
				if wb := st.restoreLocal(); wb != nil {
					wbs = append(wbs, Writeback{Target: *wb, Val: cur})
				}
			case ItDataFrame:
				df, err := st.PopData()
				if err != nil {
					return nil, nil, nil, err
				}
				data = df // the deepest frame is the first saved and wins
			default:
				st.discard()
			}
		}
		st.items = st.items[:i]
		if len(st.items) != fr.Mark {
			oakleaf.Bug("evalstack", "stack depth %d at return of %s, mark %d",
				len(st.items), fr.Name, fr.Mark)
		}
		tracer().P("proc", fr.Name).Debugf("returned, stack depth %d", len(st.items))
		return fr, wbs, data, nil
	}
	return nil, nil, nil, oakleaf.Errorf(oakleaf.BadCall, "%s outside any call", word)
}

// localValue snapshots the current (about to be displaced) value of a local
// frame's variable, for by-reference writeback. String content is copied to
// a fresh block because restoring the local releases the original.
func (st *Stack) localValue(fr *LocalFrame) (symtab.Value, error) {
	v := fr.Var
	switch v.Kind {
	case symtab.ByteKind, symtab.IntKind, symtab.Int64Kind:
		return symtab.Value{Kind: v.Kind, I: v.Ival}, nil
	case symtab.FloatKind:
		return symtab.FloatValue(v.Fval), nil
	case symtab.StringKind:
		d, err := st.heap.Alloc(v.Sval.Len)
		if err != nil {
			return symtab.Value{}, err
		}
		st.heap.Set(d, st.heap.Bytes(v.Sval))
		return symtab.StringValue(d), nil
	}
	return symtab.Value{}, nil
}

// UnwindToHandler locates the nearest error-handler frame, discards all
// stack content above it (restoring LOCAL saves on the way so no shadowed
// variable is lost), pops the frame and returns its checkpoint. Returns
// false when no handler frame exists; the stack is then left untouched and
// the error surfaces to the top level.
func (st *Stack) UnwindToHandler() (*ErrorFrame, bool) {
	for i := len(st.items) - 1; i >= 0; i-- {
		if st.items[i].Tag != ItErrorFrame {
			continue
		}
		fr := st.items[i].Fr.(*ErrorFrame)
		for len(st.items)-1 > i {
			if st.TopTag() == ItLocalFrame {
				st.restoreLocal()
				continue
			}
			st.discard()
		}
		st.items = st.items[:i]
		tracer().Debugf("unwound to handler at mark %d", fr.Mark)
		return fr, true
	}
	return nil, false
}
