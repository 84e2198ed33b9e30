package exec

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/basic/scan"
	"github.com/oakleafbasic/oakleaf/prog"
)

func compile(t *testing.T, name, src string) *prog.Program {
	t.Helper()
	sc, err := scan.New()
	if err != nil {
		t.Fatal(err)
	}
	p, err := sc.Tokenize(name, src)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// run executes a source text and returns its output.
func run(t *testing.T, src string) (string, *Interp, error) {
	t.Helper()
	p := compile(t, "test", src)
	var out bytes.Buffer
	ip := New(p, &out, Options{HeapSize: 16 * 1024, WorkspaceSize: 4096})
	err := ip.Run()
	return out.String(), ip, err
}

// mustRun executes a source text, failing the test on any runtime error.
func mustRun(t *testing.T, src string) string {
	t.Helper()
	out, ip, err := run(t, src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if d := ip.Stack().Depth(); d != 0 {
		t.Fatalf("stack depth %d after run, want 0", d)
	}
	return out
}

func TestAssignmentAndPrint(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.exec")
	defer teardown()
	//
	out := mustRun(t, "x = 2+3*4\nPRINT x")
	if out != "14\n" {
		t.Errorf("output %q, want 14", out)
	}
}

func TestIntegerCoercion(t *testing.T) {
	// '/' divides in floating point; storing into n% rounds.
	out := mustRun(t, "n% = 7/2\nPRINT n%")
	if out != "4\n" {
		t.Errorf("output %q, want 4", out)
	}
}

func TestStringConcatAndCompare(t *testing.T) {
	out := mustRun(t, `a$ = "foo"+"bar"
IF a$ = "foobar" THEN PRINT a$; "!"`)
	if out != "foobar!\n" {
		t.Errorf("output %q, want foobar!", out)
	}
}

func TestPrintZones(t *testing.T) {
	out := mustRun(t, "PRINT 1, 2")
	if out != "1         2\n" {
		t.Errorf("output %q, want zone-aligned columns", out)
	}
}

func TestIfElse(t *testing.T) {
	out := mustRun(t, `x = 5
IF x > 3 THEN PRINT "big" ELSE PRINT "small"
IF x > 9 THEN PRINT "big" ELSE PRINT "small"`)
	if out != "big\nsmall\n" {
		t.Errorf("output %q, want big/small", out)
	}
}

func TestForLoop(t *testing.T) {
	out := mustRun(t, `s% = 0
FOR i% = 1 TO 10
s% = s% + i%
NEXT
PRINT s%`)
	if out != "55\n" {
		t.Errorf("output %q, want 55", out)
	}
}

func TestForStepDown(t *testing.T) {
	out := mustRun(t, `FOR i% = 3 TO 1 STEP -1
PRINT i%;
NEXT
PRINT ""`)
	if out != "321\n" {
		t.Errorf("output %q, want 321", out)
	}
}

func TestWhileLoop(t *testing.T) {
	out := mustRun(t, `n% = 0
WHILE n% < 3
n% = n% + 1
ENDWHILE
PRINT n%
WHILE 0
PRINT "never"
ENDWHILE`)
	if out != "3\n" {
		t.Errorf("output %q, want 3", out)
	}
}

func TestRepeatUntil(t *testing.T) {
	out := mustRun(t, `n% = 0
REPEAT
n% = n% + 1
UNTIL n% >= 3
PRINT n%`)
	if out != "3\n" {
		t.Errorf("output %q, want 3", out)
	}
}

func TestGosubReturn(t *testing.T) {
	out := mustRun(t, `GOSUB 100
PRINT "back"
END
100 PRINT "sub"
RETURN`)
	if out != "sub\nback\n" {
		t.Errorf("output %q, want sub/back", out)
	}
}

func TestProcCallWithLocals(t *testing.T) {
	out := mustRun(t, `t = 99
PROCshadow
PRINT t
END
DEF PROCshadow
LOCAL t
t = 1
ENDPROC`)
	if out != "99\n" {
		t.Errorf("output %q, shadowed global not restored", out)
	}
}

func TestDeepRecursion(t *testing.T) {
	// One hundred nested activations, each shadowing a local scratch
	// variable; everything must restore on the way out.
	out := mustRun(t, `count% = 0
scratch = 7
PROCdown(100)
PRINT count%; " "; scratch
END
DEF PROCdown(n%)
LOCAL scratch
scratch = n%
count% = count% + 1
IF n% > 1 THEN PROCdown(n% - 1)
ENDPROC`)
	if out != "100 7\n" {
		t.Errorf("output %q, want 100 7", out)
	}
}

func TestByRefParameter(t *testing.T) {
	out := mustRun(t, `x% = 1
PROCbump(x%)
PRINT x%
END
DEF PROCbump(RETURN v%)
v% = v% + 41
ENDPROC`)
	if out != "42\n" {
		t.Errorf("output %q, RETURN parameter not written back", out)
	}
}

func TestFnCall(t *testing.T) {
	out := mustRun(t, `PRINT FNsquare(6)
END
DEF FNsquare(x)
= x * x`)
	if out != "36\n" {
		t.Errorf("output %q, want 36", out)
	}
}

func TestFnInExpression(t *testing.T) {
	out := mustRun(t, `PRINT FNinc(1) + FNinc(2)
END
DEF FNinc(n%)
= n% + 1`)
	if out != "5\n" {
		t.Errorf("output %q, want 5", out)
	}
}

func TestEndprocInsideFunction(t *testing.T) {
	// The stray ENDPROC must not unwind the enclosing PROC; no statement
	// after the call site may run.
	out, _, err := run(t, `PROCouter
PRINT "after"
END
DEF PROCouter
x = FNbad
ENDPROC
DEF FNbad
ENDPROC`)
	if oakleaf.CondOf(err) != oakleaf.BadCall {
		t.Errorf("got %v, want BadCall", err)
	}
	if strings.Contains(out, "after") {
		t.Errorf("caller resumed past the bad return: %q", out)
	}
}

func TestParamCountMismatch(t *testing.T) {
	_, _, err := run(t, `PROCtwo(1)
END
DEF PROCtwo(a%, b%)
ENDPROC`)
	if oakleaf.CondOf(err) != oakleaf.ParamCount {
		t.Errorf("got %v, want ParamCount", err)
	}
}

func TestDimAndElementAccess(t *testing.T) {
	out := mustRun(t, `DIM a(3,2)
a(3,2) = 7
PRINT a(3,2); " "; a(0,0)`)
	if out != "7 0\n" {
		t.Errorf("output %q, want 7 0", out)
	}
}

func TestDimIndexOutOfRange(t *testing.T) {
	_, _, err := run(t, "DIM a(3,2)\na(4,0) = 1")
	if oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("got %v, want BadIndex", err)
	}
}

func TestDimTooLarge(t *testing.T) {
	_, _, err := run(t, "DIM a(4000000000,4000000000)")
	if oakleaf.CondOf(err) != oakleaf.NoRoom {
		t.Errorf("got %v, want NoRoom", err)
	}
}

func TestUndimensionedArray(t *testing.T) {
	_, _, err := run(t, "x = a(1)")
	if oakleaf.CondOf(err) != oakleaf.MissingArray {
		t.Errorf("got %v, want MissingArray", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	_, ip, err := run(t, "x = 1/0")
	if oakleaf.CondOf(err) != oakleaf.DivZero {
		t.Errorf("got %v, want DivZero", err)
	}
	if d := ip.Stack().Depth(); d != 0 {
		t.Errorf("stack depth %d after unhandled error, want 0", d)
	}
}

func TestErrorHandlerResume(t *testing.T) {
	out, _, err := run(t, `ON ERROR GOTO 100
x = 1/0
PRINT "unreached"
100 PRINT "handled"`)
	if err != nil {
		t.Fatalf("handled error surfaced: %v", err)
	}
	if strings.Contains(out, "unreached") {
		t.Errorf("execution continued past the error: %q", out)
	}
	if !strings.Contains(out, "handled") {
		t.Errorf("handler did not run: %q", out)
	}
}

func TestHandlerRestoresLocals(t *testing.T) {
	// The error fires inside a PROC with a shadowed global; unwinding to
	// the handler must restore it.
	out := mustRun(t, `g = 5
ON ERROR GOTO 100
PROCboom
100 PRINT g
END
DEF PROCboom
LOCAL g
g = 1
x = 1/0
ENDPROC`)
	if out != "5\n" {
		t.Errorf("output %q, want restored global 5", out)
	}
}

func TestDataReadRestore(t *testing.T) {
	out := mustRun(t, `DATA 1, 2.5, "three"
READ a%, b, c$
PRINT a%; " "; b; " "; c$
RESTORE
READ d%
PRINT d%`)
	if out != "1 2.5 three\n1\n" {
		t.Errorf("output %q", out)
	}
}

func TestLocalDataRestored(t *testing.T) {
	// PROCpeek moves the READ pointer; LOCAL DATA puts it back at return,
	// so the second top-level READ continues where the first left off.
	out := mustRun(t, `RESTORE 510
READ a%
PROCpeek
READ b%
PRINT a%; " "; b%
END
DEF PROCpeek
LOCAL DATA
RESTORE 500
READ t%
ENDPROC
500 DATA 7
510 DATA 1, 2`)
	if out != "1 2\n" {
		t.Errorf("output %q, want 1 2", out)
	}
}

func TestOutOfData(t *testing.T) {
	_, _, err := run(t, "DATA 1\nREAD a%, b%")
	if oakleaf.CondOf(err) != oakleaf.OutOfData {
		t.Errorf("got %v, want OutOfData", err)
	}
}

func TestIndirectionOperators(t *testing.T) {
	out := mustRun(t, `!0 = 123456
?8 = 200
PRINT !0; " "; ?8`)
	if out != "123456 200\n" {
		t.Errorf("output %q", out)
	}
}

func TestIndirectionOutsideWorkspace(t *testing.T) {
	_, _, err := run(t, "?99999 = 1")
	if oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("got %v, want BadIndex", err)
	}
}

func TestIndirectionOffsetOverflow(t *testing.T) {
	_, _, err := run(t, "?9223372036854775807 = 1")
	if oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("got %v, want BadIndex", err)
	}
}

func TestWorkspaceOffsetOverflow(t *testing.T) {
	ws := NewWorkspace(64)
	if err := ws.PokeByte(math.MaxInt64, 1); oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("byte poke at MaxInt64: got %v, want BadIndex", err)
	}
	if _, err := ws.PeekWord(math.MaxInt64 - 2); oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("word peek near MaxInt64: got %v, want BadIndex", err)
	}
	if err := ws.PokeFloat(61, 1.0); oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("float poke past the end: got %v, want BadIndex", err)
	}
}

func TestEscapeInterrupt(t *testing.T) {
	p := compile(t, "test", "PRINT 1")
	ip := New(p, nil, Options{})
	ip.Escape()
	if err := ip.Run(); oakleaf.CondOf(err) != oakleaf.Escape {
		t.Errorf("got %v, want Escape", err)
	}
}

func TestLibraryProcedure(t *testing.T) {
	main := compile(t, "main", "PROChello\nEND")
	lib := compile(t, "lib", `DEF PROChello
PRINT "lib"
ENDPROC`)
	main.Attach(lib)
	var out bytes.Buffer
	ip := New(main, &out, Options{})
	if err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "lib\n" {
		t.Errorf("output %q, want lib", out.String())
	}
}

func TestLibraryScopeIsPrivate(t *testing.T) {
	// The library's own variable lives in its private scope; the global of
	// the same name is untouched. Globals remain reachable from the library.
	main := compile(t, "main", `secret = 1
shared = 0
PROCset
PRINT secret; " "; shared
END`)
	lib := compile(t, "lib", `DEF PROCset
LOCAL secret
secret = 99
shared = 42
ENDPROC`)
	main.Attach(lib)
	var out bytes.Buffer
	ip := New(main, &out, Options{})
	if err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1 42\n" {
		t.Errorf("output %q, want '1 42'", out.String())
	}
}

func TestRunTwiceKeepsVariables(t *testing.T) {
	p := compile(t, "test", "n% = n% + 1\nPRINT n%")
	var out bytes.Buffer
	ip := New(p, &out, Options{})
	if err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	if err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	if out.String() != "1\n2\n" {
		t.Errorf("output %q, variables should survive between runs", out.String())
	}
}

func TestRunDirect(t *testing.T) {
	// Immediate-mode lines see the workspace of the last run, including
	// defined procedures.
	p := compile(t, "test", `x% = 20
END
DEF FNdouble(n%)
= n% * 2`)
	var out bytes.Buffer
	ip := New(p, &out, Options{})
	if err := ip.Run(); err != nil {
		t.Fatal(err)
	}
	direct := compile(t, "direct", "PRINT FNdouble(x%) + 2")
	if err := ip.RunDirect(direct); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" {
		t.Errorf("output %q, want 42", out.String())
	}
}

func TestStringHeapBalance(t *testing.T) {
	_, ip, err := run(t, `a$ = "hello"
b$ = a$ + " world"
a$ = b$
PRINT b$`)
	if err != nil {
		t.Fatal(err)
	}
	stats := ip.Heap().Stats()
	if stats.Allocations == 0 {
		t.Fatal("expected heap traffic")
	}
	// Cells still hold a$ and b$; every temporary must have been freed.
	if got := stats.Allocations - stats.Frees; got != 2 {
		t.Errorf("live blocks = %d, want the 2 variables", got)
	}
}
