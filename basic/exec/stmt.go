package exec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/evalstack"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/strheap"
	"github.com/oakleafbasic/oakleaf/symtab"
)

// expect consumes one token of the given code or raises a syntax error.
func (ip *Interp) expect(code oakleaf.TokType) error {
	if tok := ip.tok(); tok.Code != code {
		return oakleaf.Errorf(oakleaf.Syntax, "unexpected %v", tok)
	}
	ip.pc++
	return nil
}

// atStatementEnd reports whether pc sits on a statement terminator.
func (ip *Interp) atStatementEnd() bool {
	switch ip.tok().Code {
	case prog.TEOL, prog.TEOP, prog.TColon, prog.TElse:
		return true
	}
	return false
}

// --- Lvalue parsing ---------------------------------------------------------

// lvalue parses a reference at pc into a located lvalue: a scalar, an array
// element, or an indirection target. Scalars may carry an indirection
// suffix ('a?4', 'p%!8'); a bare indirection operator addresses workspace
// memory from offset zero.
func (ip *Interp) lvalue() (symtab.Lvalue, error) {
	tok := ip.tok()
	switch tok.Code {
	case prog.TIdent:
		lv, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), false)
		if err != nil {
			return symtab.Lvalue{}, err
		}
		ip.pc++
		if k, ok := indKind(ip.tok().Code); ok {
			ip.pc++
			base, err := ip.syms.Load(lv, ip.ws)
			if err != nil {
				return symtab.Lvalue{}, err
			}
			off, err := ip.evalOperand()
			if err != nil {
				return symtab.Lvalue{}, err
			}
			return symtab.Indirect(k, base, off)
		}
		return lv, nil
	case prog.TArrayIdent:
		whole, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), false)
		if err != nil {
			return symtab.Lvalue{}, err
		}
		ip.pc++
		indices, err := ip.indexList()
		if err != nil {
			return symtab.Lvalue{}, err
		}
		return symtab.Element(whole, indices)
	case prog.TQuery, prog.TPling, prog.TBar:
		k, _ := indKind(tok.Code)
		ip.pc++
		off, err := ip.evalOperand()
		if err != nil {
			return symtab.Lvalue{}, err
		}
		return symtab.Indirect(k, symtab.IntValue(0), off)
	}
	return symtab.Lvalue{}, oakleaf.Errorf(oakleaf.Syntax, "cannot assign to %v", tok)
}

func indKind(code oakleaf.TokType) (symtab.LvKind, bool) {
	switch code {
	case prog.TQuery:
		return symtab.LvByteInd, true
	case prog.TPling:
		return symtab.LvWordInd, true
	case prog.TBar:
		return symtab.LvFloatInd, true
	}
	return 0, false
}

// indexList parses '(' expr {',' expr} ')' into integer indices.
func (ip *Interp) indexList() ([]int, error) {
	if err := ip.expect(prog.TLParen); err != nil {
		return nil, err
	}
	var indices []int
	for {
		if err := ip.expression(); err != nil {
			return nil, err
		}
		v, err := ip.stack.PopNumeric()
		if err != nil {
			return nil, err
		}
		indices = append(indices, int(v.Int()))
		if ip.tok().Code == prog.TComma {
			ip.pc++
			continue
		}
		break
	}
	if err := ip.expect(prog.TRParen); err != nil {
		return nil, err
	}
	return indices, nil
}

// --- Assignment -------------------------------------------------------------

func (ip *Interp) assign() error {
	lv, err := ip.lvalue()
	if err != nil {
		return err
	}
	if err := ip.expect(prog.TEq); err != nil {
		return err
	}
	if err := ip.expression(); err != nil {
		return err
	}
	val, err := ip.stack.PopValue()
	if err != nil {
		return err
	}
	err = ip.syms.Store(lv, val, ip.ws)
	ip.release(val)
	return err
}

// release frees a string value's storage once the interpreter is done with
// it. Numeric values are untouched.
func (ip *Interp) release(v symtab.Value) {
	if v.Kind == symtab.StringKind {
		ip.heap.Free(v.S)
	}
}

// --- PRINT ------------------------------------------------------------------

const printZone = 10 // column width of the ',' separator

func (ip *Interp) printStmt() error {
	ip.pc++
	pending := false // a trailing separator suppresses the newline
	for !ip.atStatementEnd() {
		switch ip.tok().Code {
		case prog.TSemicolon:
			ip.pc++
			pending = true
			continue
		case prog.TComma:
			ip.pc++
			pad := printZone - ip.col%printZone
			ip.emit(strings.Repeat(" ", pad))
			pending = true
			continue
		}
		if err := ip.expression(); err != nil {
			return err
		}
		val, err := ip.stack.PopValue()
		if err != nil {
			return err
		}
		ip.emit(ip.format(val))
		ip.release(val)
		pending = false
	}
	if !pending {
		ip.emit("\n")
	}
	return nil
}

// emit writes to the output sink, tracking the column for zone alignment.
func (ip *Interp) emit(s string) {
	if ip.out == nil {
		return
	}
	fmt.Fprint(ip.out, s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		ip.col = len(s) - i - 1
	} else {
		ip.col += len(s)
	}
}

// format renders a value the way the console prints it.
func (ip *Interp) format(v symtab.Value) string {
	switch v.Kind {
	case symtab.StringKind:
		return ip.heap.String(v.S)
	case symtab.FloatKind:
		return strconv.FormatFloat(v.F, 'G', 10, 64)
	}
	return strconv.FormatInt(v.I, 10)
}

// --- DIM --------------------------------------------------------------------

func (ip *Interp) dimStmt() error {
	ip.pc++
	for {
		tok := ip.tok()
		if tok.Code != prog.TArrayIdent {
			return oakleaf.Errorf(oakleaf.Syntax, "cannot dimension %v", tok)
		}
		whole, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), true)
		if err != nil {
			return err
		}
		ip.pc++
		extents, err := ip.indexList()
		if err != nil {
			return err
		}
		if _, err := ip.syms.Dimension(whole.Var, extents, ip.callDepth > 0); err != nil {
			return err
		}
		if ip.tok().Code != prog.TComma {
			return nil
		}
		ip.pc++
	}
}

// --- LOCAL ------------------------------------------------------------------

// localStmt shadows variables for the rest of the running procedure: the
// current value is parked on the stack and the cell reset to its zero
// value. 'LOCAL a()' shadows a whole array; 'LOCAL DATA' parks the READ
// state for reinstatement at return.
func (ip *Interp) localStmt() error {
	ip.pc++
	for {
		tok := ip.tok()
		switch tok.Code {
		case prog.TData:
			ip.pc++
			if err := ip.stack.PushData(ip.datapos, ip.inData); err != nil {
				return err
			}
		case prog.TIdent:
			lv, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), false)
			if err != nil {
				return err
			}
			ip.pc++
			if err := ip.stack.PushLocal(lv.Var, nil); err != nil {
				return err
			}
			zeroScalar(lv.Var)
		case prog.TArrayIdent:
			lv, err := ip.binder.Resolve(ip.units[ip.cur].prog, ip.pc, ip.scope(), true)
			if err != nil {
				return err
			}
			ip.pc++
			if err := ip.expect(prog.TLParen); err != nil {
				return err
			}
			if err := ip.expect(prog.TRParen); err != nil {
				return err
			}
			if err := ip.stack.PushLocal(lv.Var, nil); err != nil {
				return err
			}
			lv.Var.Arr = nil
		default:
			return oakleaf.Errorf(oakleaf.Syntax, "cannot make %v local", tok)
		}
		if ip.tok().Code != prog.TComma {
			return nil
		}
		ip.pc++
	}
}

// zeroScalar resets a cell to its type's zero without touching the heap:
// the previous descriptor was saved by the local frame and must survive.
func zeroScalar(v *symtab.Variable) {
	v.Ival = 0
	v.Fval = 0
	v.Sval = strheap.Empty
}

// --- GOSUB / RETURN / GOTO --------------------------------------------------

// lineTarget parses a literal line number and resolves it to an address in
// the executing unit.
func (ip *Interp) lineTarget() (oakleaf.Addr, error) {
	tok := ip.tok()
	if tok.Code != prog.TInteger {
		return oakleaf.NoAddr, oakleaf.Errorf(oakleaf.Syntax, "line number expected, got %v", tok)
	}
	ip.pc++
	addr, ok := ip.units[ip.cur].prog.LineStart(int(tok.Ival))
	if !ok {
		return oakleaf.NoAddr, oakleaf.Errorf(oakleaf.NoSuchLine, "%d", tok.Ival)
	}
	return addr, nil
}

func (ip *Interp) gosubStmt() error {
	ip.pc++
	target, err := ip.lineTarget()
	if err != nil {
		return err
	}
	if err := ip.stack.PushGosub(ip.pc); err != nil {
		return err
	}
	ip.pc = target
	return nil
}

func (ip *Interp) gosubReturn() error {
	fr, err := ip.stack.PopGosub()
	if err != nil {
		return err
	}
	ip.pc = fr.Ret
	return nil
}

func (ip *Interp) gotoStmt() error {
	ip.pc++
	target, err := ip.lineTarget()
	if err != nil {
		return err
	}
	ip.pc = target
	return nil
}

// --- IF / THEN / ELSE -------------------------------------------------------

// ifStmt evaluates the condition and either falls into the THEN branch or
// skips to the ELSE branch (or end of line). Branches live on the IF's own
// line.
func (ip *Interp) ifStmt() error {
	ip.pc++
	if err := ip.expression(); err != nil {
		return err
	}
	cond, err := ip.stack.PopNumeric()
	if err != nil {
		return err
	}
	if ip.tok().Code == prog.TThen {
		ip.pc++
	}
	if cond.Int() != 0 {
		return nil
	}
	for {
		switch ip.tok().Code {
		case prog.TEOL, prog.TEOP:
			return nil
		case prog.TElse:
			ip.pc++
			return nil
		}
		ip.pc++
	}
}

// --- FOR / NEXT -------------------------------------------------------------

func (ip *Interp) forStmt() error {
	ip.pc++
	lv, err := ip.lvalue()
	if err != nil {
		return err
	}
	if lv.Kind != symtab.LvScalar || lv.Var.Kind == symtab.StringKind {
		return oakleaf.Errorf(oakleaf.TypeMismatch, "loop variable must be a numeric scalar")
	}
	if err := ip.expect(prog.TEq); err != nil {
		return err
	}
	if err := ip.expression(); err != nil {
		return err
	}
	start, err := ip.stack.PopNumeric()
	if err != nil {
		return err
	}
	if err := ip.syms.Store(lv, start, ip.ws); err != nil {
		return err
	}
	if err := ip.expect(prog.TTo); err != nil {
		return err
	}
	if err := ip.expression(); err != nil {
		return err
	}
	limit, err := ip.stack.PopNumeric()
	if err != nil {
		return err
	}
	step := symtab.IntValue(1)
	if ip.tok().Code == prog.TStep {
		ip.pc++
		if err := ip.expression(); err != nil {
			return err
		}
		if step, err = ip.stack.PopNumeric(); err != nil {
			return err
		}
	}
	fr := &evalstack.ForFrame{
		Control: lv,
		IsFloat: lv.Var.Kind == symtab.FloatKind,
		LimitI:  limit.Int(),
		StepI:   step.Int(),
		LimitF:  limit.Numeric(),
		StepF:   step.Numeric(),
		Body:    ip.pc,
	}
	return ip.stack.PushFor(fr)
}

// nextStmt advances the innermost FOR loop, or the named one: 'NEXT j'
// discards loops nested inside j's.
func (ip *Interp) nextStmt() error {
	ip.pc++
	name := ""
	if ip.tok().Code == prog.TIdent {
		name = ip.tok().Text
		ip.pc++
	}
	fr := ip.stack.TopFor()
	for fr != nil && name != "" && fr.Control.Var.Name != name {
		if err := ip.stack.PopFor(); err != nil {
			return err
		}
		fr = ip.stack.TopFor()
	}
	if fr == nil {
		return oakleaf.Errorf(oakleaf.BadCall, "NEXT without FOR")
	}
	cur, err := ip.syms.Load(fr.Control, ip.ws)
	if err != nil {
		return err
	}
	var stepped symtab.Value
	if fr.IsFloat {
		stepped = symtab.FloatValue(cur.Numeric() + fr.StepF)
	} else {
		stepped = symtab.IntValue(cur.Int() + fr.StepI)
	}
	if err := ip.syms.Store(fr.Control, stepped, ip.ws); err != nil {
		return err
	}
	if fr.Done(stepped.Int(), stepped.Numeric()) {
		return ip.stack.PopFor()
	}
	ip.pc = fr.Body
	return nil
}

// --- WHILE / ENDWHILE -------------------------------------------------------

// whileStmt evaluates the condition; a false condition skips past the
// matching ENDWHILE. ENDWHILE pops the frame and jumps back to the WHILE
// token, so each iteration re-evaluates through here.
func (ip *Interp) whileStmt() error {
	cond := ip.pc
	ip.pc++
	if err := ip.expression(); err != nil {
		return err
	}
	v, err := ip.stack.PopNumeric()
	if err != nil {
		return err
	}
	if v.Int() != 0 {
		return ip.stack.PushWhile(cond)
	}
	depth := 0
	for {
		switch ip.tok().Code {
		case prog.TEOP:
			return oakleaf.Errorf(oakleaf.Syntax, "WHILE without ENDWHILE")
		case prog.TWhile:
			depth++
		case prog.TEndWhile:
			if depth == 0 {
				ip.pc++
				return nil
			}
			depth--
		}
		ip.pc++
	}
}

func (ip *Interp) endWhileStmt() error {
	fr := ip.stack.TopWhile()
	if fr == nil {
		return oakleaf.Errorf(oakleaf.BadCall, "ENDWHILE without WHILE")
	}
	if err := ip.stack.PopWhile(); err != nil {
		return err
	}
	ip.pc = fr.Cond
	return nil
}

// --- REPEAT / UNTIL ---------------------------------------------------------

func (ip *Interp) untilStmt() error {
	ip.pc++
	if err := ip.expression(); err != nil {
		return err
	}
	v, err := ip.stack.PopNumeric()
	if err != nil {
		return err
	}
	fr := ip.stack.TopRepeat()
	if fr == nil {
		return oakleaf.Errorf(oakleaf.BadCall, "UNTIL without REPEAT")
	}
	if v.Int() != 0 {
		return ip.stack.PopRepeat()
	}
	ip.pc = fr.Body
	return nil
}

// --- DATA / READ / RESTORE --------------------------------------------------

func (ip *Interp) readStmt() error {
	ip.pc++
	for {
		lv, err := ip.lvalue()
		if err != nil {
			return err
		}
		val, err := ip.nextData()
		if err != nil {
			return err
		}
		err = ip.syms.Store(lv, val, ip.ws)
		ip.release(val)
		if err != nil {
			return err
		}
		if ip.tok().Code != prog.TComma {
			return nil
		}
		ip.pc++
	}
}

// nextData scans forward from the DATA pointer to the next datum. DATA
// lives in the main unit only. String data ownership passes to the caller.
func (ip *Interp) nextData() (symtab.Value, error) {
	p := ip.units[0].prog
	neg := false
	for int(ip.datapos) < p.Len() {
		tok := p.At(ip.datapos)
		ip.datapos++
		switch tok.Code {
		case prog.TData:
			ip.inData = true
			continue
		case prog.TEOL:
			ip.inData = false
			neg = false
			continue
		}
		if !ip.inData {
			continue
		}
		switch tok.Code {
		case prog.TComma:
			neg = false
		case prog.TMinus:
			neg = true
		case prog.TInteger:
			if neg {
				return symtab.IntValue(-tok.Ival), nil
			}
			return symtab.IntValue(tok.Ival), nil
		case prog.TNumber:
			if neg {
				return symtab.FloatValue(-tok.Fval), nil
			}
			return symtab.FloatValue(tok.Fval), nil
		case prog.TString:
			d, err := ip.heap.AllocString(tok.Text)
			if err != nil {
				return symtab.Value{}, err
			}
			return symtab.StringValue(d), nil
		default:
			return symtab.Value{}, oakleaf.Errorf(oakleaf.Syntax, "bad DATA item %v", tok)
		}
	}
	return symtab.Value{}, oakleaf.Errorf(oakleaf.OutOfData, "")
}

func (ip *Interp) restoreStmt() error {
	ip.pc++
	ip.inData = false
	if ip.tok().Code != prog.TInteger {
		ip.datapos = 0
		return nil
	}
	target, err := ip.lineTarget()
	if err != nil {
		return err
	}
	ip.datapos = target
	return nil
}

// --- ON ERROR ---------------------------------------------------------------

// onErrorStmt arms the rest of the line as the error handler. The handler
// body is not executed now; an error unwinds to it later.
func (ip *Interp) onErrorStmt() error {
	ip.pc++
	if err := ip.stack.PushError(ip.pc, ip.cur, ip.callDepth); err != nil {
		return err
	}
	ip.skipLine()
	return nil
}
