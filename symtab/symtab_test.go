package symtab

import (
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/strheap"
)

func newTable() *SymTable {
	return New(strheap.New(8192))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		isArray bool
		kind    VarKind
	}{
		{"count%", false, IntKind},
		{"big%%", false, Int64Kind},
		{"name$", false, StringKind},
		{"flag&", false, ByteKind},
		{"x", false, FloatKind},
		{"a%", true, IntArray},
		{"a$", true, StrArray},
		{"a", true, FloatArray},
	}
	for _, c := range cases {
		if k := Classify(c.name, c.isArray); k != c.kind {
			t.Errorf("Classify(%q, %v) = %s, want %s", c.name, c.isArray, k, c.kind)
		}
	}
}

func TestCreateThenFind(t *testing.T) {
	st := newTable()
	v := st.Globals.Create("count%", false)
	if got := st.Globals.Find("count%", false); got != v {
		t.Errorf("Find after Create returned %v, want %v", got, v)
	}
	if st.Globals.Find("other%", false) != nil {
		t.Errorf("Find on unregistered name should return nil")
	}
	if st.Globals.Find("count%", true) != nil {
		t.Errorf("scalar and array of the same name must be distinct entries")
	}
}

func TestZeroInitialization(t *testing.T) {
	st := newTable()
	s := st.Globals.Create("s$", false)
	if !s.Sval.IsEmpty() {
		t.Errorf("new string variable should hold the shared empty string")
	}
	a := st.Globals.Create("a%", true)
	if a.Arr != nil {
		t.Errorf("array descriptor must stay absent until dimensioned")
	}
}

func TestDimensionErrors(t *testing.T) {
	st := newTable()
	v := st.Globals.Create("a%", true)
	if _, err := st.Dimension(v, []int{3, -1}, false); oakleaf.CondOf(err) != oakleaf.NegDim {
		t.Errorf("negative extent: got %v, want NegDim", err)
	}
	if _, err := st.Dimension(v, make([]int, MaxDims+1), false); oakleaf.CondOf(err) != oakleaf.TooManyDims {
		t.Errorf("dimension count: got %v, want TooManyDims", err)
	}
	// The element-count product must be rejected before allocation, even
	// where it would overflow.
	if _, err := st.Dimension(v, []int{4000000000, 4000000000}, false); oakleaf.CondOf(err) != oakleaf.NoRoom {
		t.Errorf("oversized extents: got %v, want NoRoom", err)
	}
	if _, err := st.Dimension(v, []int{MaxElements, 2}, false); oakleaf.CondOf(err) != oakleaf.NoRoom {
		t.Errorf("element count past the cap: got %v, want NoRoom", err)
	}
	if _, err := st.Dimension(v, []int{3, 2}, false); err != nil {
		t.Fatalf("valid DIM failed: %v", err)
	}
	if _, err := st.Dimension(v, []int{4}, false); oakleaf.CondOf(err) != oakleaf.DupDim {
		t.Errorf("re-DIM: got %v, want DupDim", err)
	}
}

func TestArrayIndexing(t *testing.T) {
	st := newTable()
	v := st.Globals.Create("a", true)
	arr, err := st.Dimension(v, []int{3, 2}, false)
	if err != nil {
		t.Fatal(err)
	}
	if arr.Count != 12 {
		t.Errorf("DIM a(3,2) should hold 12 elements, got %d", arr.Count)
	}
	if _, err := arr.FlatIndex([]int{4, 0}); oakleaf.CondOf(err) != oakleaf.BadIndex {
		t.Errorf("a(4,0): got %v, want BadIndex", err)
	}
	flat, err := arr.FlatIndex([]int{3, 2})
	if err != nil {
		t.Fatalf("a(3,2) should be in range: %v", err)
	}
	lv := Lvalue{Kind: LvElement, Arr: arr, Index: flat}
	val, err := st.Load(lv, nil)
	if err != nil {
		t.Fatal(err)
	}
	if val.Numeric() != 0 {
		t.Errorf("fresh element should read as zero, got %v", val)
	}
}

func TestStringArrayRelease(t *testing.T) {
	st := newTable()
	v := st.Globals.Create("a$", true)
	arr, _ := st.Dimension(v, []int{4}, false)
	d, _ := st.Heap().AllocString("hello")
	lv := Lvalue{Kind: LvElement, Arr: arr, Index: 2}
	if err := st.Store(lv, StringValue(d), nil); err != nil {
		t.Fatal(err)
	}
	st.Heap().Free(d)
	frees := st.Heap().Stats().Frees
	st.ReleaseArray(arr)
	if st.Heap().Stats().Frees != frees+1 {
		t.Errorf("releasing the array should free its one owned string")
	}
}

func TestStoreCoercion(t *testing.T) {
	st := newTable()
	i := st.Globals.Create("i%", false)
	f := st.Globals.Create("f", false)
	b := st.Globals.Create("b&", false)
	if err := st.Store(Lvalue{Kind: LvScalar, Var: i}, FloatValue(2.6), nil); err != nil {
		t.Fatal(err)
	}
	if i.Ival != 3 {
		t.Errorf("float into int32 should round, got %d", i.Ival)
	}
	if err := st.Store(Lvalue{Kind: LvScalar, Var: f}, IntValue(7), nil); err != nil {
		t.Fatal(err)
	}
	if f.Fval != 7.0 {
		t.Errorf("int into float, got %v", f.Fval)
	}
	if err := st.Store(Lvalue{Kind: LvScalar, Var: b}, IntValue(260), nil); err != nil {
		t.Fatal(err)
	}
	if b.Ival != 4 {
		t.Errorf("byte store should truncate to 8 bits, got %d", b.Ival)
	}
	d, _ := st.Heap().AllocString("x")
	if err := st.Store(Lvalue{Kind: LvScalar, Var: i}, StringValue(d), nil); oakleaf.CondOf(err) != oakleaf.TypeMismatch {
		t.Errorf("string into int: got %v, want TypeMismatch", err)
	}
}

func TestStringStoreCopies(t *testing.T) {
	st := newTable()
	v := st.Globals.Create("s$", false)
	src, _ := st.Heap().AllocString("copy me")
	if err := st.Store(Lvalue{Kind: LvScalar, Var: v}, StringValue(src), nil); err != nil {
		t.Fatal(err)
	}
	st.Heap().Free(src) // caller keeps ownership of the source
	if got := st.Heap().String(v.Sval); got != "copy me" {
		t.Errorf("stored string reads back %q", got)
	}
}

func TestIndirectionTypeCheck(t *testing.T) {
	if _, err := Indirect(LvByteInd, Value{Kind: StringKind}, 4); oakleaf.CondOf(err) != oakleaf.TypeMismatch {
		t.Errorf("string base before '?': got %v, want TypeMismatch", err)
	}
	lv, err := Indirect(LvWordInd, IntValue(100), 8)
	if err != nil {
		t.Fatal(err)
	}
	if lv.Off != 108 {
		t.Errorf("indirection offset = %d, want 108", lv.Off)
	}
}

func TestListPrefix(t *testing.T) {
	st := newTable()
	st.Globals.Create("apple", false)
	st.Globals.Create("apricot%", false)
	st.Globals.Create("banana$", false)
	got := st.Globals.List("ap")
	if len(got) != 2 || got[0] != "apple" || got[1] != "apricot%" {
		t.Errorf("List(\"ap\") = %v", got)
	}
}

// --- Binder ----------------------------------------------------------------

func refProgram() *prog.Program {
	p := prog.New("test")
	p.Tokens = []oakleaf.Token{
		{Code: prog.TIdent, Text: "x%"},      // 0
		{Code: prog.TArrayIdent, Text: "a"},  // 1
		{Code: prog.TEOP},                    // 2
	}
	return p
}

func TestBinderMemoizes(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.symtab")
	defer teardown()
	//
	st := newTable()
	p := refProgram()
	b := NewBinder(st, p)
	lv1, err := b.Resolve(p, 0, st.Globals, false)
	if err != nil {
		t.Fatal(err)
	}
	lv2, err := b.Resolve(p, 0, st.Globals, false)
	if err != nil {
		t.Fatal(err)
	}
	if lv1.Var != lv2.Var {
		t.Errorf("repeat resolution bound a different variable")
	}
	if b.Hits != 1 || b.Misses != 1 {
		t.Errorf("memo stats = %d hits / %d misses, want 1/1", b.Hits, b.Misses)
	}
}

func TestBinderMissingArray(t *testing.T) {
	st := newTable()
	p := refProgram()
	b := NewBinder(st, p)
	if _, err := b.Resolve(p, 1, st.Globals, false); oakleaf.CondOf(err) != oakleaf.MissingArray {
		t.Errorf("element reference to unknown array: got %v, want MissingArray", err)
	}
	// In a LOCAL/parameter context the whole-array reference may create.
	lv, err := b.Resolve(p, 1, st.Globals, true)
	if err != nil {
		t.Fatal(err)
	}
	if lv.Kind != LvWholeArray || lv.Var.Arr != nil {
		t.Errorf("whole-array creation should leave the descriptor absent: %v", lv)
	}
}

func TestBinderInvalidatesOnEdit(t *testing.T) {
	st := newTable()
	p := refProgram()
	b := NewBinder(st, p)
	if _, err := b.Resolve(p, 0, st.Globals, false); err != nil {
		t.Fatal(err)
	}
	b.Refresh() // no edit: cache survives
	if len(b.memo) != 1 {
		t.Errorf("refresh without edit dropped the cache")
	}
	p.Tokens[0].Text = "y%" // edit the program
	b.Refresh()
	if len(b.memo) != 0 {
		t.Errorf("refresh after edit kept stale bindings")
	}
}

// --- Lazy procedure scan ---------------------------------------------------

func procProgram() *prog.Program {
	p := prog.New("main")
	p.Tokens = []oakleaf.Token{
		{Code: prog.TEnd},                        // 0
		{Code: prog.TDefProc, Text: "first"},     // 1
		{Code: prog.TEOL},                        // 2
		{Code: prog.TDefProc, Text: "second"},    // 3
		{Code: prog.TLParen},                     // 4
		{Code: prog.TIdent, Text: "n%"},          // 5
		{Code: prog.TRParen},                     // 6
		{Code: prog.TEOL},                        // 7
		{Code: prog.TDefFn, Text: "third"},       // 8
		{Code: prog.TLParen},                     // 9
		{Code: prog.TReturn},                     // 10
		{Code: prog.TIdent, Text: "out$"},        // 11
		{Code: prog.TComma},                      // 12
		{Code: prog.TIdent, Text: "x"},           // 13
		{Code: prog.TRParen},                     // 14
		{Code: prog.TEOP},                        // 15
	}
	return p
}

func TestLazyProcScan(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.symtab")
	defer teardown()
	//
	st := newTable()
	NewBinder(st, procProgram())
	v, err := st.ResolveProc("second", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Kind != MarkerKind || v.Marker != 3 {
		t.Errorf("marker for PROCsecond = %v at %d", v.Kind, v.Marker)
	}
	// Scanning up to PROCsecond must have recorded PROCfirst on the way.
	if st.Globals.Find("PROC first", false) == nil {
		t.Errorf("scan did not record the passed definition of PROCfirst")
	}
	// FNthird lies beyond the resume position and is found by continuing.
	if _, err := st.ResolveProc("third", true); err != nil {
		t.Fatal(err)
	}
	if _, err := st.ResolveProc("nowhere", false); oakleaf.CondOf(err) != oakleaf.MissingProc {
		t.Errorf("unknown procedure: got %v, want MissingProc", err)
	}
}

func TestDefinitionParsing(t *testing.T) {
	st := newTable()
	NewBinder(st, procProgram())
	v, _ := st.ResolveProc("second", false)
	def, err := st.Definition(v)
	if err != nil {
		t.Fatal(err)
	}
	if len(def.Params) != 1 || def.Params[0].Name != "n%" || def.Params[0].ByRef {
		t.Errorf("PROCsecond params = %+v", def.Params)
	}
	if !def.FastInt {
		t.Errorf("single plain integer parameter should set the fast path flag")
	}
	if def.Entry != 7 {
		t.Errorf("body entry = %d, want 7", def.Entry)
	}
	if def2, _ := st.Definition(v); def2 != def {
		t.Errorf("second Definition call should return the cache")
	}
	//
	fn, _ := st.ResolveProc("third", true)
	fdef, err := st.Definition(fn)
	if err != nil {
		t.Fatal(err)
	}
	if len(fdef.Params) != 2 || !fdef.Params[0].ByRef || fdef.Params[0].Name != "out$" {
		t.Errorf("FNthird params = %+v", fdef.Params)
	}
	if fdef.FastInt {
		t.Errorf("FNthird must not take the fast path")
	}
}

func TestLibraryScanOrder(t *testing.T) {
	st := newTable()
	main := prog.New("main")
	main.Tokens = []oakleaf.Token{{Code: prog.TEOP}}
	lib := prog.New("lib1")
	lib.Tokens = []oakleaf.Token{
		{Code: prog.TDefProc, Text: "helper"},
		{Code: prog.TEOP},
	}
	main.Attach(lib)
	NewBinder(st, main)
	v, err := st.ResolveProc("helper", false)
	if err != nil {
		t.Fatal(err)
	}
	if v.Unit != lib {
		t.Errorf("PROChelper should resolve into the library unit")
	}
	if v.Owner == st.Globals {
		t.Errorf("library procedures belong to the library's private scope")
	}
}
