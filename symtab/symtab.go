/*
Package symtab implements symbol tables, scopes and the binding cache of
the Oakleaf runtime.

Variables live in the program's global scope or in a library's private
scope. They are created on first reference (where the reference form
permits creation) and classified by a trailing sigil convention. The
binding cache memoizes resolved references per program position, so
repeated execution of the same reference site skips the name lookup
entirely.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package symtab

import (
	"fmt"
	"strings"

	"github.com/emirpasic/gods/lists/arraylist"
	"github.com/emirpasic/gods/utils"
	"github.com/npillmayer/schuko/tracing"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/strheap"
)

// tracer traces with key 'oakleaf.symtab'.
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.symtab")
}

// --- Variable kinds --------------------------------------------------------

// VarKind classifies a variable's storage.
type VarKind int8

// Variable kinds. Scalar kinds are determined by the trailing sigil of a
// name: '&' is an unsigned byte, '%' a 32-bit integer, '%%' a 64-bit
// integer, '$' a string, no sigil a float. Arrays carry an extra flag in
// their reference form (the trailing bracket).
const (
	Unresolved VarKind = iota
	ByteKind
	IntKind
	Int64Kind
	FloatKind
	StringKind
	IntArray
	FloatArray
	StrArray
	ProcKind
	FnKind
	MarkerKind // procedure definition located, parameters not yet parsed
)

var kindNames = map[VarKind]string{
	Unresolved: "unresolved", ByteKind: "byte", IntKind: "int32",
	Int64Kind: "int64", FloatKind: "float", StringKind: "string",
	IntArray: "int32()", FloatArray: "float()", StrArray: "string()",
	ProcKind: "PROC", FnKind: "FN", MarkerKind: "marker",
}

func (k VarKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsArray is a predicate: does this kind denote an array?
func (k VarKind) IsArray() bool {
	return k == IntArray || k == FloatArray || k == StrArray
}

// Classify determines a variable kind from its (sigiled) name.
func Classify(name string, isArray bool) VarKind {
	switch {
	case strings.HasSuffix(name, "%%"):
		return Int64Kind // no 64-bit arrays
	case strings.HasSuffix(name, "%"):
		if isArray {
			return IntArray
		}
		return IntKind
	case strings.HasSuffix(name, "$"):
		if isArray {
			return StrArray
		}
		return StringKind
	case strings.HasSuffix(name, "&"):
		return ByteKind
	default:
		if isArray {
			return FloatArray
		}
		return FloatKind
	}
}

// --- Variables -------------------------------------------------------------

// Variable is one symbol table entry: a named, typed storage cell. The value
// fields act as a union, discriminated by Kind. Owner identifies the scope
// the variable lives in; it is a plain back-reference and never keeps the
// scope alive on its own.
type Variable struct {
	Name  string
	Kind  VarKind
	Owner *Scope

	Ival   int64 // byte, int32 and int64 scalars
	Fval   float64
	Sval   strheap.Descriptor
	Arr    *ArrayDesc    // nil until dimensioned
	Def    *ProcDef      // parsed procedure info, nil for marker entries
	Marker oakleaf.Addr  // definition site of a marker entry
	Unit   *prog.Program // program unit a marker's definition lives in
}

func (v *Variable) String() string {
	return fmt.Sprintf("<var '%s':%s>", v.Name, v.Kind)
}

// --- Scopes ----------------------------------------------------------------

// Scope is a variable namespace: the program's global scope or one library's
// private scope. Within one scope no two entries share a key.
type Scope struct {
	Name string
	vars map[string]*Variable
}

// NewScope creates an empty scope.
func NewScope(nm string) *Scope {
	return &Scope{
		Name: nm,
		vars: make(map[string]*Variable),
	}
}

func (s *Scope) String() string {
	return fmt.Sprintf("<scope %s>", s.Name)
}

// Arrays and scalars of the same name are distinct variables; the key of an
// array entry carries the trailing bracket of its reference form.
func key(name string, isArray bool) string {
	if isArray {
		return name + "("
	}
	return name
}

// Find looks a variable up in this scope only. Returns nil if absent.
func (s *Scope) Find(name string, isArray bool) *Variable {
	return s.vars[key(name, isArray)]
}

// Create allocates a new entry in this scope, classified by sigil and
// initialized to its type's zero value. Strings default to the shared empty
// string; array descriptors stay absent until explicitly dimensioned.
func (s *Scope) Create(name string, isArray bool) *Variable {
	v := &Variable{
		Name:  name,
		Kind:  Classify(name, isArray),
		Owner: s,
		Sval:  strheap.Empty,
	}
	s.vars[key(name, isArray)] = v
	tracer().P("scope", s.Name).Debugf("created %v", v)
	return v
}

// insert files a pre-built entry (markers, parsed procedures).
func (s *Scope) insert(k string, v *Variable) {
	v.Owner = s
	s.vars[k] = v
}

// Size counts the entries of a scope.
func (s *Scope) Size() int {
	return len(s.vars)
}

// List enumerates the names of all variables starting with prefix, sorted,
// grouped by first character. Diagnostic tooling only.
func (s *Scope) List(prefix string) []string {
	names := arraylist.New()
	for k := range s.vars {
		if strings.HasPrefix(k, prefix) {
			names.Add(k)
		}
	}
	names.Sort(utils.StringComparator)
	grouped := make([]string, 0, names.Size())
	names.Each(func(_ int, v interface{}) {
		grouped = append(grouped, v.(string))
	})
	return grouped
}

// --- Symbol table ----------------------------------------------------------

// SymTable is the complete symbol area of one workspace: the global scope
// plus one private scope per attached library, and the lazy procedure scan
// state. String-valued cells draw their storage from the given heap.
type SymTable struct {
	Globals *Scope
	libs    []*Scope
	heap    *strheap.Heap
	scans   []*procScan
}

// New creates a symbol table backed by a string heap.
func New(heap *strheap.Heap) *SymTable {
	return &SymTable{
		Globals: NewScope("globals"),
		heap:    heap,
	}
}

// Heap returns the string heap backing this table's string cells.
func (st *SymTable) Heap() *strheap.Heap {
	return st.heap
}

// LibScope returns (creating on demand) the private scope of library i.
func (st *SymTable) LibScope(i int, name string) *Scope {
	for len(st.libs) <= i {
		st.libs = append(st.libs, nil)
	}
	if st.libs[i] == nil {
		st.libs[i] = NewScope(name)
	}
	return st.libs[i]
}

// Clear drops every variable and all cached procedure information. Used on
// program load, NEW and CLEAR; there is no per-variable destruction during
// normal execution.
func (st *SymTable) Clear() {
	st.Globals = NewScope("globals")
	st.libs = nil
	st.scans = nil
	tracer().Debugf("symbol table cleared")
}
