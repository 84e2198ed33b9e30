package symtab

import (
	"fmt"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/prog"
)

// Procedures and functions are found lazily: a forward scan over the
// tokenized program records every definition it passes as a lightweight
// marker entry (just the definition site), resuming from the last scan
// position and never rescanning a span twice. Libraries are scanned the
// same way, in load order, only after the main program came up empty.
// A marker's parameter list is parsed once, on the first actual call.

// Param is one formal parameter of a procedure or function.
type Param struct {
	Name  string
	Kind  VarKind
	ByRef bool // RETURN parameter: value copied back on return
}

// ProcDef is the parsed form of a procedure or function definition.
type ProcDef struct {
	Name    string
	IsFn    bool
	Entry   oakleaf.Addr // first token after the parameter list
	Params  []Param
	FastInt bool // exactly one plain 32-bit integer value parameter
	Unit    *prog.Program
	Scope   *Scope // scope the body's references resolve in
}

func (d *ProcDef) String() string {
	word := "PROC"
	if d.IsFn {
		word = "FN"
	}
	return fmt.Sprintf("<%s %s/%d>", word, d.Name, len(d.Params))
}

// procScan is the resumable scan state for one program unit.
type procScan struct {
	unit  *prog.Program
	scope *Scope
	pos   oakleaf.Addr
}

// registerUnits sets up scan state for the main program and its libraries.
func (st *SymTable) registerUnits(main *prog.Program) {
	st.scans = []*procScan{{unit: main, scope: st.Globals}}
	for i, lib := range main.Libs {
		st.scans = append(st.scans, &procScan{
			unit:  lib,
			scope: st.LibScope(i, lib.Name),
		})
	}
}

func procKey(name string, isFn bool) string {
	if isFn {
		return "FN " + name
	}
	return "PROC " + name
}

// ResolveProc finds the marker (or already-parsed) entry for a procedure or
// function, advancing the lazy scan as far as necessary.
func (st *SymTable) ResolveProc(name string, isFn bool) (*Variable, error) {
	if st.scans == nil {
		oakleaf.Bug("symtab", "procedure resolution without registered program units")
	}
	k := procKey(name, isFn)
	for _, scan := range st.scans {
		if v, ok := scan.scope.vars[k]; ok {
			return v, nil
		}
		if v := st.advanceScan(scan, k); v != nil {
			return v, nil
		}
	}
	return nil, oakleaf.Errorf(oakleaf.MissingProc, "%s", k)
}

// advanceScan records markers for every definition between the scan's resume
// position and either the wanted definition or the end of the unit.
func (st *SymTable) advanceScan(scan *procScan, wanted string) *Variable {
	for int(scan.pos) < scan.unit.Len() {
		addr := scan.pos
		scan.pos++
		tok := scan.unit.At(addr)
		if tok.Code != prog.TDefProc && tok.Code != prog.TDefFn {
			continue
		}
		k := procKey(tok.Text, tok.Code == prog.TDefFn)
		if _, dup := scan.scope.vars[k]; dup {
			continue
		}
		v := &Variable{
			Name:   k,
			Kind:   MarkerKind,
			Marker: addr,
			Unit:   scan.unit,
		}
		scan.scope.insert(k, v)
		tracer().P("scope", scan.scope.Name).Debugf("marker for %s at %d", k, addr)
		if k == wanted {
			return v
		}
	}
	return nil
}

// Definition parses a marker entry's formal parameter list and body entry
// point, caching the result in the entry. Subsequent calls return the cache.
func (st *SymTable) Definition(v *Variable) (*ProcDef, error) {
	if v.Def != nil {
		return v.Def, nil
	}
	if v.Kind != MarkerKind {
		oakleaf.Bug("symtab", "definition request for %v", v)
	}
	unit := v.Unit
	tok := unit.At(v.Marker)
	isFn := tok.Code == prog.TDefFn
	def := &ProcDef{
		Name:  tok.Text,
		IsFn:  isFn,
		Unit:  unit,
		Scope: v.Owner,
	}
	pos := v.Marker + 1
	if int(pos) < unit.Len() && unit.At(pos).Code == prog.TLParen {
		pos++
		for {
			ptok := unit.At(pos)
			byRef := false
			if ptok.Code == prog.TReturn {
				byRef = true
				pos++
				ptok = unit.At(pos)
			}
			if ptok.Code != prog.TIdent {
				oakleaf.Bug("symtab", "malformed parameter list of %s at %d", def.Name, pos)
			}
			def.Params = append(def.Params, Param{
				Name:  ptok.Text,
				Kind:  Classify(ptok.Text, false),
				ByRef: byRef,
			})
			pos++
			switch unit.At(pos).Code {
			case prog.TComma:
				pos++
				continue
			case prog.TRParen:
			default:
				oakleaf.Bug("symtab", "malformed parameter list of %s at %d", def.Name, pos)
			}
			pos++ // past ')'
			break
		}
	}
	def.Entry = pos
	def.FastInt = len(def.Params) == 1 &&
		def.Params[0].Kind == IntKind && !def.Params[0].ByRef
	v.Kind = ProcKind
	if isFn {
		v.Kind = FnKind
	}
	v.Def = def
	tracer().Debugf("parsed definition %v, entry at %d", def, def.Entry)
	return def, nil
}
