/*
Package exec walks a tokenized program and executes it.

The interpreter holds the complete runtime state of one workspace: the
string heap, the symbol table with its binding cache, the evaluation
stack, and a block of raw workspace memory for the indirection
operators. Statements dispatch on their leading token; expressions are
evaluated by precedence climbing, with all intermediate values living
on the evaluation stack.

Errors raised during execution unwind the evaluation stack to the
innermost armed ON ERROR handler. Without one, the run stops and the
error surfaces to the caller.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors
*/
package exec

import (
	"encoding/binary"
	"io"
	"math"
	"sync/atomic"

	"github.com/npillmayer/schuko/tracing"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/evalstack"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/strheap"
	"github.com/oakleafbasic/oakleaf/symtab"
)

// tracer traces with key 'oakleaf.exec'.
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.exec")
}

// --- Workspace memory -------------------------------------------------------

// Workspace is a flat block of byte-addressable memory, the target of the
// indirection operators '?', '!' and '|'. Words and floats are stored
// little-endian at arbitrary byte offsets.
type Workspace struct {
	mem []byte
}

// NewWorkspace allocates a workspace of the given size in bytes.
func NewWorkspace(size int) *Workspace {
	return &Workspace{mem: make([]byte, size)}
}

// Size returns the workspace size in bytes.
func (ws *Workspace) Size() int { return len(ws.mem) }

func (ws *Workspace) inRange(off, n int64) error {
	// Subtract instead of adding so a huge offset cannot wrap around.
	if off < 0 || off > int64(len(ws.mem))-n {
		return oakleaf.Errorf(oakleaf.BadIndex, "address &%X outside workspace", off)
	}
	return nil
}

// PeekByte reads the byte at off.
func (ws *Workspace) PeekByte(off int64) (byte, error) {
	if err := ws.inRange(off, 1); err != nil {
		return 0, err
	}
	return ws.mem[off], nil
}

// PokeByte writes the byte at off.
func (ws *Workspace) PokeByte(off int64, b byte) error {
	if err := ws.inRange(off, 1); err != nil {
		return err
	}
	ws.mem[off] = b
	return nil
}

// PeekWord reads the 32-bit word at off.
func (ws *Workspace) PeekWord(off int64) (int32, error) {
	if err := ws.inRange(off, 4); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(ws.mem[off:])), nil
}

// PokeWord writes the 32-bit word at off.
func (ws *Workspace) PokeWord(off int64, w int32) error {
	if err := ws.inRange(off, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(ws.mem[off:], uint32(w))
	return nil
}

// PeekFloat reads the float at off.
func (ws *Workspace) PeekFloat(off int64) (float64, error) {
	if err := ws.inRange(off, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(ws.mem[off:])), nil
}

// PokeFloat writes the float at off.
func (ws *Workspace) PokeFloat(off int64, f float64) error {
	if err := ws.inRange(off, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(ws.mem[off:], math.Float64bits(f))
	return nil
}

var _ oakleaf.Storage = &Workspace{}

// --- Interpreter ------------------------------------------------------------

// Default sizes, overridable through Options.
const (
	DefaultHeapSize      = 256 * 1024
	DefaultWorkspaceSize = 64 * 1024
)

// Options configures an interpreter instance. The zero value selects the
// defaults.
type Options struct {
	HeapSize      int // string heap arena, bytes
	WorkspaceSize int // raw workspace memory, bytes
	StackDepth    int // evaluation stack limit, cells
}

// Interp executes one tokenized program, with its attached libraries, over
// a private runtime state.
type Interp struct {
	units  []*unitState // 0 is the main program
	heap   *strheap.Heap
	syms   *symtab.SymTable
	binder *symtab.Binder
	stack  *evalstack.Stack
	ws     *Workspace
	out    io.Writer

	cur       int          // index of the executing unit
	pc        oakleaf.Addr // next token to execute
	datapos   oakleaf.Addr // READ position, main unit
	inData    bool         // datapos sits inside a DATA item list
	col       int          // output column, for PRINT zone alignment
	callDepth int          // nesting depth of PROC/FN calls
	fnDone    bool         // the running FN body hit its '=' return
	halted    bool
	escape    int32 // set asynchronously by Escape
}

// unitState pairs a program unit with the scope its code resolves in.
type unitState struct {
	prog  *prog.Program
	scope *symtab.Scope
}

// New creates an interpreter for a program. Output of PRINT statements goes
// to out.
func New(p *prog.Program, out io.Writer, opts Options) *Interp {
	if opts.HeapSize <= 0 {
		opts.HeapSize = DefaultHeapSize
	}
	if opts.WorkspaceSize <= 0 {
		opts.WorkspaceSize = DefaultWorkspaceSize
	}
	if opts.StackDepth <= 0 {
		opts.StackDepth = evalstack.DefaultDepth
	}
	heap := strheap.New(opts.HeapSize)
	syms := symtab.New(heap)
	ip := &Interp{
		heap:   heap,
		syms:   syms,
		binder: symtab.NewBinder(syms, p),
		stack:  evalstack.New(heap, opts.StackDepth),
		ws:     NewWorkspace(opts.WorkspaceSize),
		out:    out,
	}
	ip.units = []*unitState{{prog: p, scope: syms.Globals}}
	for i, lib := range p.Libs {
		ip.units = append(ip.units, &unitState{
			prog:  lib,
			scope: syms.LibScope(i, lib.Name),
		})
	}
	return ip
}

// Stack exposes the evaluation stack, for diagnostics.
func (ip *Interp) Stack() *evalstack.Stack { return ip.stack }

// Heap exposes the string heap, for diagnostics.
func (ip *Interp) Heap() *strheap.Heap { return ip.heap }

// Symbols exposes the symbol table, for diagnostics and the REPL.
func (ip *Interp) Symbols() *symtab.SymTable { return ip.syms }

// Workspace exposes the raw workspace memory.
func (ip *Interp) Workspace() *Workspace { return ip.ws }

// Escape requests an interrupt. Safe to call from another goroutine; the
// run loop observes it at the next statement boundary.
func (ip *Interp) Escape() {
	atomic.StoreInt32(&ip.escape, 1)
}

// Run executes the program from its first token until END, STOP, running
// off the end, or an unhandled error. A second Run re-executes from the
// start, keeping variables but re-checking the program fingerprint.
func (ip *Interp) Run() error {
	ip.binder.Refresh()
	ip.stack.Clear()
	ip.cur, ip.pc = 0, 0
	ip.datapos, ip.inData = 0, false
	ip.col = 0
	ip.callDepth = 0
	ip.fnDone = false
	ip.halted = false
	tracer().P("prog", ip.units[0].prog.Name).Infof("run")
	return ip.loop()
}

// RunDirect executes a transient program (an immediate-mode line) against
// the current workspace state: variables, procedures and the heap of the
// loaded program stay live. The transient unit is detached afterwards.
func (ip *Interp) RunDirect(p *prog.Program) error {
	idx := len(ip.units)
	ip.units = append(ip.units, &unitState{prog: p, scope: ip.syms.Globals})
	defer func() { ip.units = ip.units[:idx] }()
	ip.cur, ip.pc = idx, 0
	ip.callDepth = 0
	ip.fnDone = false
	ip.halted = false
	return ip.loop()
}

func (ip *Interp) loop() error {
	for !ip.halted {
		if atomic.CompareAndSwapInt32(&ip.escape, 1, 0) {
			if err := ip.raise(oakleaf.Errorf(oakleaf.Escape, "")); err != nil {
				return err
			}
			continue
		}
		if err := ip.step(); err != nil {
			if err = ip.raise(err); err != nil {
				return err
			}
		}
	}
	return nil
}

// raise routes a runtime error to the innermost armed handler. Unhandled,
// it stops the run and clears the evaluation stack.
func (ip *Interp) raise(err error) error {
	e, ok := err.(*oakleaf.Error)
	if !ok {
		ip.halted = true
		ip.stack.Clear()
		return err
	}
	fr, handled := ip.stack.UnwindToHandler()
	if !handled {
		ip.halted = true
		ip.stack.Clear()
		return e
	}
	tracer().P("cond", e.Cond).Debugf("error handled, resuming at %d", fr.Resume)
	ip.cur = fr.Unit
	ip.pc = fr.Resume
	ip.callDepth = fr.Depth
	ip.fnDone = false
	return nil
}

// tok returns the token under the program counter.
func (ip *Interp) tok() oakleaf.Token {
	return ip.units[ip.cur].prog.At(ip.pc)
}

// scope returns the scope of the executing unit.
func (ip *Interp) scope() *symtab.Scope {
	return ip.units[ip.cur].scope
}

// unitIndex maps a program unit back to its index.
func (ip *Interp) unitIndex(p *prog.Program) int {
	for i, u := range ip.units {
		if u.prog == p {
			return i
		}
	}
	oakleaf.Bug("exec", "program unit %q is not attached", p.Name)
	return 0
}

// step executes one statement (or one structural token).
func (ip *Interp) step() error {
	tok := ip.tok()
	switch tok.Code {
	case prog.TEOL, prog.TColon:
		ip.pc++
	case prog.TEOP, prog.TEnd, prog.TStop:
		ip.halted = true
	case prog.TData, prog.TLibrary:
		ip.skipLine()
	case prog.TElse:
		// reached after executing a THEN branch
		ip.skipLine()
	case prog.TLet:
		ip.pc++
		return ip.assign()
	case prog.TIdent, prog.TArrayIdent, prog.TQuery, prog.TPling, prog.TBar:
		return ip.assign()
	case prog.TPrint:
		return ip.printStmt()
	case prog.TDim:
		return ip.dimStmt()
	case prog.TDefProc, prog.TDefFn:
		ip.skipDefinition(tok.Code == prog.TDefFn)
	case prog.TProcRef:
		return ip.callRoutine(tok.Text, false)
	case prog.TEndProc:
		return ip.endProc()
	case prog.TEq:
		return ip.fnReturn()
	case prog.TLocal:
		return ip.localStmt()
	case prog.TGosub:
		return ip.gosubStmt()
	case prog.TReturn:
		return ip.gosubReturn()
	case prog.TGoto:
		return ip.gotoStmt()
	case prog.TIf:
		return ip.ifStmt()
	case prog.TFor:
		return ip.forStmt()
	case prog.TNext:
		return ip.nextStmt()
	case prog.TWhile:
		return ip.whileStmt()
	case prog.TEndWhile:
		return ip.endWhileStmt()
	case prog.TRepeat:
		ip.pc++
		return ip.stack.PushRepeat(ip.pc)
	case prog.TUntil:
		return ip.untilStmt()
	case prog.TRead:
		return ip.readStmt()
	case prog.TRestore:
		return ip.restoreStmt()
	case prog.TOnError:
		return ip.onErrorStmt()
	default:
		return oakleaf.Errorf(oakleaf.Syntax, "unexpected %v", tok)
	}
	return nil
}

// skipLine advances to the end-of-line token, leaving pc on it.
func (ip *Interp) skipLine() {
	for {
		c := ip.tok().Code
		if c == prog.TEOL || c == prog.TEOP {
			return
		}
		ip.pc++
	}
}

// skipDefinition jumps over a procedure or function body encountered in the
// normal flow of execution. A PROC body ends at ENDPROC, an FN body at a
// statement-initial '='.
func (ip *Interp) skipDefinition(isFn bool) {
	ip.pc++
	atStart := false // '=' counts only in statement position
	for {
		tok := ip.tok()
		switch tok.Code {
		case prog.TEOP:
			return
		case prog.TEndProc:
			if !isFn {
				ip.pc++
				return
			}
		case prog.TEq:
			if isFn && atStart {
				ip.pc++
				ip.skipLine()
				return
			}
		}
		atStart = tok.Code == prog.TEOL || tok.Code == prog.TColon
		ip.pc++
	}
}
