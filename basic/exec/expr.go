package exec

import (
	"bytes"
	"math"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/evalstack"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/symtab"
)

// Binary operator precedence. Comparisons yield TRUE as -1, matching the
// bitwise style of AND/OR/EOR, so 'IF a=1 AND b=2' works without a boolean
// type.
var binPrec = map[oakleaf.TokType]int{
	prog.TOr:    1,
	prog.TEor:   1,
	prog.TAnd:   2,
	prog.TEq:    3,
	prog.TNe:    3,
	prog.TLt:    3,
	prog.TGt:    3,
	prog.TLe:    3,
	prog.TGe:    3,
	prog.TPlus:  4,
	prog.TMinus: 4,
	prog.TStar:  5,
	prog.TSlash: 5,
	prog.TDiv:   5,
	prog.TMod:   5,
	prog.TCaret: 6,
}

// expression evaluates the expression at pc, leaving its value on the
// evaluation stack.
func (ip *Interp) expression() error {
	return ip.evalExpr(1)
}

// evalExpr is the precedence climber: one operand, then operators at or
// above the minimum precedence. '^' associates to the right.
func (ip *Interp) evalExpr(min int) error {
	if err := ip.evalUnary(); err != nil {
		return err
	}
	for {
		op := ip.tok().Code
		prec, ok := binPrec[op]
		if !ok || prec < min {
			return nil
		}
		ip.pc++
		next := prec + 1
		if op == prog.TCaret {
			next = prec
		}
		if err := ip.evalExpr(next); err != nil {
			return err
		}
		if err := ip.applyBinop(op); err != nil {
			return err
		}
	}
}

// evalUnary evaluates one operand with its unary prefixes.
func (ip *Interp) evalUnary() error {
	tok := ip.tok()
	switch tok.Code {
	case prog.TMinus:
		ip.pc++
		if err := ip.evalUnary(); err != nil {
			return err
		}
		v, err := ip.stack.PopNumeric()
		if err != nil {
			return err
		}
		if v.Kind == symtab.FloatKind {
			return ip.stack.PushValue(symtab.FloatValue(-v.F))
		}
		return ip.stack.PushValue(symtab.Value{Kind: v.Kind, I: -v.I})
	case prog.TPlus:
		ip.pc++
		return ip.evalUnary()
	case prog.TNot:
		ip.pc++
		if err := ip.evalUnary(); err != nil {
			return err
		}
		v, err := ip.stack.PopNumeric()
		if err != nil {
			return err
		}
		return ip.stack.PushValue(symtab.IntValue(^v.Int()))
	case prog.TQuery, prog.TPling, prog.TBar:
		k, _ := indKind(tok.Code)
		ip.pc++
		if err := ip.evalUnary(); err != nil {
			return err
		}
		off, err := ip.stack.PopNumeric()
		if err != nil {
			return err
		}
		lv, err := symtab.Indirect(k, symtab.IntValue(0), off.Int())
		if err != nil {
			return err
		}
		v, err := ip.syms.Load(lv, ip.ws)
		if err != nil {
			return err
		}
		return ip.stack.PushValue(v)
	}
	return ip.primary()
}

// primary evaluates a literal, a reference, a function call or a
// parenthesized subexpression.
func (ip *Interp) primary() error {
	tok := ip.tok()
	switch tok.Code {
	case prog.TInteger:
		ip.pc++
		if tok.Ival >= math.MinInt32 && tok.Ival <= math.MaxInt32 {
			return ip.stack.PushInt(int32(tok.Ival))
		}
		return ip.stack.PushInt64(tok.Ival)
	case prog.TNumber:
		ip.pc++
		return ip.stack.PushFloat(tok.Fval)
	case prog.TString:
		ip.pc++
		d, err := ip.heap.AllocString(tok.Text)
		if err != nil {
			return err
		}
		return ip.stack.PushString(d)
	case prog.TIdent:
		lv, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), false)
		if err != nil {
			return err
		}
		ip.pc++
		v, err := ip.syms.Load(lv, ip.ws)
		if err != nil {
			return err
		}
		return ip.loadSuffix(v)
	case prog.TArrayIdent:
		whole, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), false)
		if err != nil {
			return err
		}
		ip.pc++
		indices, err := ip.indexList()
		if err != nil {
			return err
		}
		lv, err := symtab.Element(whole, indices)
		if err != nil {
			return err
		}
		v, err := ip.syms.Load(lv, ip.ws)
		if err != nil {
			return err
		}
		return ip.pushLoaded(v)
	case prog.TFnRef:
		return ip.callRoutine(tok.Text, true)
	case prog.TLParen:
		ip.pc++
		if err := ip.stack.PushOp(1); err != nil {
			return err
		}
		if err := ip.expression(); err != nil {
			return err
		}
		v, err := ip.stack.PopValue()
		if err != nil {
			return err
		}
		if _, err := ip.stack.PopOp(); err != nil {
			return err
		}
		if err := ip.stack.PushValue(v); err != nil {
			return err
		}
		return ip.expect(prog.TRParen)
	}
	return oakleaf.Errorf(oakleaf.Syntax, "operand expected, got %v", tok)
}

// loadSuffix pushes a loaded scalar, following indirection suffixes
// ('a?4', 'p%!8') first. The suffix operand binds tightly: only a unary
// item, no binary operators.
func (ip *Interp) loadSuffix(v symtab.Value) error {
	for {
		k, ok := indKind(ip.tok().Code)
		if !ok {
			return ip.pushLoaded(v)
		}
		ip.pc++
		off, err := ip.evalOperand()
		if err != nil {
			return err
		}
		lv, err := symtab.Indirect(k, v, off)
		if err != nil {
			return err
		}
		if v, err = ip.syms.Load(lv, ip.ws); err != nil {
			return err
		}
	}
}

// evalOperand evaluates a tightly bound operand to an integer.
func (ip *Interp) evalOperand() (int64, error) {
	if err := ip.evalUnary(); err != nil {
		return 0, err
	}
	v, err := ip.stack.PopNumeric()
	if err != nil {
		return 0, err
	}
	return v.Int(), nil
}

// pushLoaded puts a loaded value on the stack. Variable-owned string
// content is copied: the stack cell owns its block.
func (ip *Interp) pushLoaded(v symtab.Value) error {
	if v.Kind != symtab.StringKind {
		return ip.stack.PushValue(v)
	}
	d, err := ip.heap.Alloc(v.S.Len)
	if err != nil {
		return err
	}
	ip.heap.Set(d, ip.heap.Bytes(v.S))
	return ip.stack.PushString(d)
}

// --- Binary operators -------------------------------------------------------

// applyBinop pops two operands and pushes the operator result.
func (ip *Interp) applyBinop(op oakleaf.TokType) error {
	rhs, err := ip.stack.PopValue()
	if err != nil {
		return err
	}
	lhs, err := ip.stack.PopValue()
	if err != nil {
		ip.release(rhs)
		return err
	}
	lstr := lhs.Kind == symtab.StringKind
	rstr := rhs.Kind == symtab.StringKind
	if lstr != rstr {
		ip.release(lhs)
		ip.release(rhs)
		return oakleaf.Errorf(oakleaf.TypeMismatch, "mixed string and numeric operands")
	}
	if lstr {
		return ip.applyStringOp(op, lhs, rhs)
	}
	return ip.applyNumericOp(op, lhs, rhs)
}

func (ip *Interp) applyStringOp(op oakleaf.TokType, lhs, rhs symtab.Value) error {
	defer func() {
		ip.release(lhs)
		ip.release(rhs)
	}()
	lb, rb := ip.heap.Bytes(lhs.S), ip.heap.Bytes(rhs.S)
	if op == prog.TPlus {
		d, err := ip.heap.Alloc(len(lb) + len(rb))
		if err != nil {
			return err
		}
		cat := make([]byte, 0, len(lb)+len(rb))
		cat = append(cat, lb...)
		cat = append(cat, rb...)
		ip.heap.Set(d, cat)
		return ip.stack.PushString(d)
	}
	c := bytes.Compare(lb, rb)
	var hold bool
	switch op {
	case prog.TEq:
		hold = c == 0
	case prog.TNe:
		hold = c != 0
	case prog.TLt:
		hold = c < 0
	case prog.TGt:
		hold = c > 0
	case prog.TLe:
		hold = c <= 0
	case prog.TGe:
		hold = c >= 0
	default:
		return oakleaf.Errorf(oakleaf.TypeMismatch, "operator needs numeric operands")
	}
	return ip.stack.PushValue(truth(hold))
}

// truth maps a Go bool to the -1/0 convention.
func truth(b bool) symtab.Value {
	if b {
		return symtab.IntValue(-1)
	}
	return symtab.IntValue(0)
}

func (ip *Interp) applyNumericOp(op oakleaf.TokType, lhs, rhs symtab.Value) error {
	float := lhs.Kind == symtab.FloatKind || rhs.Kind == symtab.FloatKind
	switch op {
	case prog.TPlus:
		if float {
			return ip.stack.PushValue(symtab.FloatValue(lhs.Numeric() + rhs.Numeric()))
		}
		return ip.pushIntResult(lhs, rhs, lhs.I+rhs.I)
	case prog.TMinus:
		if float {
			return ip.stack.PushValue(symtab.FloatValue(lhs.Numeric() - rhs.Numeric()))
		}
		return ip.pushIntResult(lhs, rhs, lhs.I-rhs.I)
	case prog.TStar:
		if float {
			return ip.stack.PushValue(symtab.FloatValue(lhs.Numeric() * rhs.Numeric()))
		}
		return ip.pushIntResult(lhs, rhs, lhs.I*rhs.I)
	case prog.TSlash:
		if rhs.Numeric() == 0 {
			return oakleaf.Errorf(oakleaf.DivZero, "")
		}
		return ip.stack.PushValue(symtab.FloatValue(lhs.Numeric() / rhs.Numeric()))
	case prog.TDiv:
		if rhs.Int() == 0 {
			return oakleaf.Errorf(oakleaf.DivZero, "")
		}
		return ip.pushIntResult(lhs, rhs, lhs.Int()/rhs.Int())
	case prog.TMod:
		if rhs.Int() == 0 {
			return oakleaf.Errorf(oakleaf.DivZero, "")
		}
		return ip.pushIntResult(lhs, rhs, lhs.Int()%rhs.Int())
	case prog.TCaret:
		return ip.stack.PushValue(symtab.FloatValue(math.Pow(lhs.Numeric(), rhs.Numeric())))
	case prog.TAnd:
		return ip.pushIntResult(lhs, rhs, lhs.Int()&rhs.Int())
	case prog.TOr:
		return ip.pushIntResult(lhs, rhs, lhs.Int()|rhs.Int())
	case prog.TEor:
		return ip.pushIntResult(lhs, rhs, lhs.Int()^rhs.Int())
	case prog.TEq:
		return ip.stack.PushValue(truth(lhs.Numeric() == rhs.Numeric()))
	case prog.TNe:
		return ip.stack.PushValue(truth(lhs.Numeric() != rhs.Numeric()))
	case prog.TLt:
		return ip.stack.PushValue(truth(lhs.Numeric() < rhs.Numeric()))
	case prog.TGt:
		return ip.stack.PushValue(truth(lhs.Numeric() > rhs.Numeric()))
	case prog.TLe:
		return ip.stack.PushValue(truth(lhs.Numeric() <= rhs.Numeric()))
	case prog.TGe:
		return ip.stack.PushValue(truth(lhs.Numeric() >= rhs.Numeric()))
	}
	oakleaf.Bug("exec", "operator %d reached the evaluator", op)
	return nil
}

// pushIntResult pushes an integer result in the wider of the operand
// kinds. Plain 32-bit arithmetic wraps.
func (ip *Interp) pushIntResult(lhs, rhs symtab.Value, r int64) error {
	if lhs.Kind == symtab.Int64Kind || rhs.Kind == symtab.Int64Kind {
		return ip.stack.PushInt64(r)
	}
	return ip.stack.PushInt(int32(r))
}

// --- PROC and FN calls ------------------------------------------------------

// actualArg carries one evaluated argument until the formals are bound.
type actualArg struct {
	val   symtab.Value
	owned bool // string storage ours to free
	wb    *symtab.Lvalue
}

// callRoutine performs a PROC or FN call: resolve the definition (advancing
// the lazy scan as needed), evaluate the actuals, push the activation frame,
// shadow the formals with local frames and bind the arguments. FN calls run
// the body to its '=' return, leaving the result on the stack.
func (ip *Interp) callRoutine(name string, isFn bool) error {
	v, err := ip.syms.ResolveProc(name, isFn)
	if err != nil {
		return err
	}
	def, err := ip.syms.Definition(v)
	if err != nil {
		return err
	}
	ip.pc++
	mark := ip.stack.Depth()
	actuals, err := ip.evalActuals(def)
	if err == nil && len(actuals) != len(def.Params) {
		err = oakleaf.Errorf(oakleaf.ParamCount, "%v called with %d arguments", def, len(actuals))
	}
	if err != nil {
		for _, a := range actuals {
			if a.owned {
				ip.release(a.val)
			}
		}
		return err
	}
	if _, err := ip.stack.PushProc(name, isFn, ip.pc, ip.cur, len(actuals), mark); err != nil {
		return err
	}
	for i, p := range def.Params {
		formal := def.Scope.Find(p.Name, false)
		if formal == nil {
			formal = def.Scope.Create(p.Name, false)
		}
		var wb *symtab.Lvalue
		if p.ByRef {
			wb = actuals[i].wb
		}
		if err := ip.stack.PushLocal(formal, wb); err != nil {
			return err
		}
		zeroScalar(formal)
		if def.FastInt && actuals[i].val.Kind != symtab.StringKind {
			formal.Ival = int64(int32(actuals[i].val.Int()))
			continue
		}
		err := ip.syms.Store(symtab.Lvalue{Kind: symtab.LvScalar, Var: formal}, actuals[i].val, ip.ws)
		if err != nil {
			return err
		}
	}
	for _, a := range actuals {
		if a.owned {
			ip.release(a.val)
		}
	}
	ip.cur = ip.unitIndex(def.Unit)
	ip.pc = def.Entry
	ip.callDepth++
	tracer().P("call", name).Debugf("entered, depth %d", ip.callDepth)
	if isFn {
		return ip.runFn()
	}
	return nil
}

// evalActuals parses and evaluates a call's argument list. By-reference
// formals take an lvalue argument whose location is remembered for the
// writeback at return.
func (ip *Interp) evalActuals(def *symtab.ProcDef) ([]actualArg, error) {
	if ip.tok().Code != prog.TLParen {
		return nil, nil
	}
	ip.pc++
	if ip.tok().Code == prog.TRParen {
		ip.pc++
		return nil, nil
	}
	var actuals []actualArg
	for {
		byRef := len(actuals) < len(def.Params) && def.Params[len(actuals)].ByRef
		if byRef {
			lv, err := ip.lvalue()
			if err != nil {
				return actuals, err
			}
			val, err := ip.syms.Load(lv, ip.ws)
			if err != nil {
				return actuals, err
			}
			wb := new(symtab.Lvalue)
			*wb = lv
			actuals = append(actuals, actualArg{val: val, wb: wb})
		} else {
			if err := ip.expression(); err != nil {
				return actuals, err
			}
			val, err := ip.stack.PopValue()
			if err != nil {
				return actuals, err
			}
			actuals = append(actuals, actualArg{val: val, owned: true})
		}
		if ip.tok().Code == prog.TComma {
			ip.pc++
			continue
		}
		break
	}
	return actuals, ip.expect(prog.TRParen)
}

// runFn executes a function body to its '=' return. The calling expression
// resumes with the result on the stack.
func (ip *Interp) runFn() error {
	for !ip.fnDone {
		if ip.halted {
			return oakleaf.Errorf(oakleaf.BadCall, "function ran past its return")
		}
		if err := ip.step(); err != nil {
			return err
		}
	}
	ip.fnDone = false
	return nil
}

// endProc returns from a PROC: restore locals, apply RETURN-parameter
// writebacks, reinstate a LOCAL DATA save, resume at the call site.
func (ip *Interp) endProc() error {
	fr, wbs, data, err := ip.stack.UnwindReturn(false)
	if err != nil {
		return err
	}
	if err := ip.applyWritebacks(wbs); err != nil {
		return err
	}
	if data != nil {
		ip.datapos, ip.inData = data.Ptr, data.InList
	}
	ip.cur = fr.RetUnit
	ip.pc = fr.Ret
	ip.callDepth--
	return nil
}

// fnReturn handles a statement-initial '=': evaluate the result, unwind the
// FN activation, leave the result on the stack for the calling expression.
func (ip *Interp) fnReturn() error {
	ip.pc++
	if err := ip.expression(); err != nil {
		return err
	}
	val, err := ip.stack.PopValue()
	if err != nil {
		return err
	}
	fr, wbs, data, err := ip.stack.UnwindReturn(true)
	if err != nil {
		ip.release(val)
		return err
	}
	if err := ip.applyWritebacks(wbs); err != nil {
		ip.release(val)
		return err
	}
	if data != nil {
		ip.datapos, ip.inData = data.Ptr, data.InList
	}
	if err := ip.stack.PushValue(val); err != nil {
		return err
	}
	ip.cur = fr.RetUnit
	ip.pc = fr.Ret
	ip.callDepth--
	ip.fnDone = true
	return nil
}

func (ip *Interp) applyWritebacks(wbs []evalstack.Writeback) error {
	for _, wb := range wbs {
		err := ip.syms.Store(wb.Target, wb.Val, ip.ws)
		ip.release(wb.Val)
		if err != nil {
			return err
		}
	}
	return nil
}
