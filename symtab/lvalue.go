package symtab

import (
	"crypto/md5"
	"fmt"
	"math"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/oakleafbasic/oakleaf/strheap"
)

// --- Lvalues ---------------------------------------------------------------

// LvKind discriminates the forms of a resolved reference.
type LvKind int8

// Lvalue kinds. Indirection lvalues carry a raw base offset instead of a
// typed storage cell; the raw access itself is delegated to the Storage
// collaborator.
const (
	LvScalar LvKind = iota
	LvWholeArray
	LvElement
	LvByteInd  // '?'  byte at offset
	LvWordInd  // '!'  32-bit word at offset
	LvFloatInd // '|'  float at offset
)

// Lvalue is a located, typed reference to a storage location, suitable for
// both read and write.
type Lvalue struct {
	Kind  LvKind
	Var   *Variable  // LvScalar and LvWholeArray
	Arr   *ArrayDesc // LvElement
	Index int        // flat element index
	Off   int64      // indirection base offset
}

func (lv Lvalue) String() string {
	switch lv.Kind {
	case LvScalar:
		return fmt.Sprintf("<lv %s>", lv.Var.Name)
	case LvWholeArray:
		return fmt.Sprintf("<lv %s()>", lv.Var.Name)
	case LvElement:
		return fmt.Sprintf("<lv elem[%d] of %v>", lv.Index, lv.Arr)
	default:
		return fmt.Sprintf("<lv ind@%d>", lv.Off)
	}
}

// --- Values at the symtab boundary -----------------------------------------

// Value is a scalar crossing the symbol table boundary: loads produce one,
// stores consume one. String values reference heap storage owned by the
// caller; Store copies content, it never takes ownership.
type Value struct {
	Kind VarKind
	I    int64
	F    float64
	S    strheap.Descriptor
}

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{Kind: IntKind, I: i} }

// FloatValue wraps a float.
func FloatValue(f float64) Value { return Value{Kind: FloatKind, F: f} }

// StringValue wraps a string descriptor.
func StringValue(d strheap.Descriptor) Value { return Value{Kind: StringKind, S: d} }

// Numeric returns the value as a float, coercing integers.
func (v Value) Numeric() float64 {
	if v.Kind == FloatKind {
		return v.F
	}
	return float64(v.I)
}

// Int returns the value as an integer, rounding floats.
func (v Value) Int() int64 {
	if v.Kind == FloatKind {
		return int64(math.Round(v.F))
	}
	return v.I
}

// --- Binding cache ---------------------------------------------------------

// Binder resolves tokenized reference sites to lvalues and memoizes the
// result per program position. The memo replaces the classic trick of
// patching tokens in place: the program stays immutable, the cache lives in
// a side table keyed by address, and repeat visits cost one map hit.
//
// A Binder serves one main program and its attached libraries. When the
// main program's fingerprint changes (the program was edited), the whole
// cache and the lazy procedure scan state are invalidated. The fingerprint
// covers attached libraries too.
type Binder struct {
	st   *SymTable
	main *prog.Program
	fp   [md5.Size]byte
	memo map[site]Lvalue

	Hits, Misses int // cache statistics, for tests and diagnostics
}

// site identifies one reference token across all units of a program.
type site struct {
	unit *prog.Program
	addr oakleaf.Addr
}

// NewBinder creates a binding cache for a program and its libraries.
func NewBinder(st *SymTable, main *prog.Program) *Binder {
	b := &Binder{
		st:   st,
		main: main,
		fp:   main.Fingerprint(),
		memo: make(map[site]Lvalue),
	}
	st.registerUnits(main)
	return b
}

// Refresh re-checks the program fingerprint and drops all cached bindings
// and procedure markers if the program was edited since the last check.
func (b *Binder) Refresh() {
	fp := b.main.Fingerprint()
	if fp == b.fp {
		return
	}
	tracer().Infof("program %q edited, invalidating binding cache", b.main.Name)
	b.fp = fp
	b.memo = make(map[site]Lvalue)
	b.st.Clear()
	b.st.registerUnits(b.main)
}

// Resolve turns the reference site at addr into an lvalue, creating the
// variable on demand where the reference form permits: always for plain
// scalars, for whole-array references only when wholeOK is set (parameter
// and LOCAL contexts). An element reference to an undimensioned array
// raises MissingArray.
//
// sc is the scope of the executing code (globals, or a library's private
// scope, which falls back to globals on lookup).
func (b *Binder) Resolve(unit *prog.Program, addr oakleaf.Addr, sc *Scope, wholeOK bool) (Lvalue, error) {
	if lv, ok := b.memo[site{unit, addr}]; ok {
		b.Hits++
		return lv, nil
	}
	tok := unit.At(addr)
	var lv Lvalue
	switch tok.Code {
	case prog.TIdent:
		v := b.lookup(sc, tok.Text, false)
		if v == nil {
			v = sc.Create(tok.Text, false)
		}
		lv = Lvalue{Kind: LvScalar, Var: v}
	case prog.TArrayIdent:
		v := b.lookup(sc, tok.Text, true)
		if v == nil {
			if !wholeOK {
				return Lvalue{}, oakleaf.Errorf(oakleaf.MissingArray, "%s(", tok.Text)
			}
			v = sc.Create(tok.Text, true)
		}
		lv = Lvalue{Kind: LvWholeArray, Var: v}
	default:
		oakleaf.Bug("symtab", "token %v at %d is not a reference site", tok, addr)
	}
	b.memo[site{unit, addr}] = lv
	b.Misses++
	return lv, nil
}

// lookup searches a scope, falling back to globals for library scopes.
func (b *Binder) lookup(sc *Scope, name string, isArray bool) *Variable {
	if v := sc.Find(name, isArray); v != nil {
		return v
	}
	if sc != b.st.Globals {
		return b.st.Globals.Find(name, isArray)
	}
	return nil
}

// Element derives an element lvalue from a whole-array one. The array must
// be dimensioned; indices are validated against its extents.
func Element(whole Lvalue, indices []int) (Lvalue, error) {
	if whole.Kind != LvWholeArray {
		oakleaf.Bug("symtab", "element reference through %v", whole)
	}
	arr := whole.Var.Arr
	if arr == nil {
		return Lvalue{}, oakleaf.Errorf(oakleaf.MissingArray, "%s(", whole.Var.Name)
	}
	flat, err := arr.FlatIndex(indices)
	if err != nil {
		return Lvalue{}, err
	}
	return Lvalue{Kind: LvElement, Arr: arr, Index: flat}, nil
}

// Indirect builds a raw-offset lvalue from a base value and an offset. Only
// numeric scalars may stand in front of an indirection operator.
func Indirect(kind LvKind, base Value, off int64) (Lvalue, error) {
	if kind != LvByteInd && kind != LvWordInd && kind != LvFloatInd {
		oakleaf.Bug("symtab", "bad indirection kind %d", kind)
	}
	if base.Kind == StringKind {
		return Lvalue{}, oakleaf.Errorf(oakleaf.TypeMismatch, "string before indirection operator")
	}
	return Lvalue{Kind: kind, Off: base.Int() + off}, nil
}

// --- Load and store --------------------------------------------------------

// Load reads the scalar behind an lvalue. Raw-offset loads go through the
// Storage collaborator; whole-array lvalues have no scalar reading.
func (st *SymTable) Load(lv Lvalue, stg oakleaf.Storage) (Value, error) {
	switch lv.Kind {
	case LvScalar:
		v := lv.Var
		switch v.Kind {
		case ByteKind, IntKind, Int64Kind:
			return Value{Kind: v.Kind, I: v.Ival}, nil
		case FloatKind:
			return Value{Kind: FloatKind, F: v.Fval}, nil
		case StringKind:
			return Value{Kind: StringKind, S: v.Sval}, nil
		}
		oakleaf.Bug("symtab", "load from %v", v)
	case LvElement:
		switch lv.Arr.Kind {
		case IntArray:
			return Value{Kind: IntKind, I: int64(lv.Arr.Ints[lv.Index])}, nil
		case FloatArray:
			return Value{Kind: FloatKind, F: lv.Arr.Floats[lv.Index]}, nil
		case StrArray:
			return Value{Kind: StringKind, S: lv.Arr.Strs[lv.Index]}, nil
		}
	case LvByteInd:
		b, err := stg.PeekByte(lv.Off)
		return Value{Kind: ByteKind, I: int64(b)}, err
	case LvWordInd:
		w, err := stg.PeekWord(lv.Off)
		return Value{Kind: IntKind, I: int64(w)}, err
	case LvFloatInd:
		f, err := stg.PeekFloat(lv.Off)
		return Value{Kind: FloatKind, F: f}, err
	}
	oakleaf.Bug("symtab", "load through %v", lv)
	return Value{}, nil
}

// Store writes a scalar through an lvalue, coercing between numeric kinds.
// String stores copy the source content into the target cell's own block
// (resizing it as needed); ownership of the source stays with the caller.
func (st *SymTable) Store(lv Lvalue, val Value, stg oakleaf.Storage) error {
	switch lv.Kind {
	case LvScalar:
		return st.storeScalar(lv.Var, val)
	case LvElement:
		switch lv.Arr.Kind {
		case IntArray:
			if val.Kind == StringKind {
				return oakleaf.Errorf(oakleaf.TypeMismatch, "string into numeric array")
			}
			lv.Arr.Ints[lv.Index] = int32(val.Int())
			return nil
		case FloatArray:
			if val.Kind == StringKind {
				return oakleaf.Errorf(oakleaf.TypeMismatch, "string into numeric array")
			}
			lv.Arr.Floats[lv.Index] = val.Numeric()
			return nil
		case StrArray:
			if val.Kind != StringKind {
				return oakleaf.Errorf(oakleaf.TypeMismatch, "numeric into string array")
			}
			d, err := st.copyString(lv.Arr.Strs[lv.Index], val.S)
			if err != nil {
				return err
			}
			lv.Arr.Strs[lv.Index] = d
			return nil
		}
	case LvByteInd:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string through indirection")
		}
		return stg.PokeByte(lv.Off, byte(val.Int()))
	case LvWordInd:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string through indirection")
		}
		return stg.PokeWord(lv.Off, int32(val.Int()))
	case LvFloatInd:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string through indirection")
		}
		return stg.PokeFloat(lv.Off, val.Numeric())
	}
	oakleaf.Bug("symtab", "store through %v", lv)
	return nil
}

func (st *SymTable) storeScalar(v *Variable, val Value) error {
	switch v.Kind {
	case ByteKind:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string into %s", v.Name)
		}
		v.Ival = val.Int() & 0xff
	case IntKind:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string into %s", v.Name)
		}
		v.Ival = int64(int32(val.Int()))
	case Int64Kind:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string into %s", v.Name)
		}
		v.Ival = val.Int()
	case FloatKind:
		if val.Kind == StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "string into %s", v.Name)
		}
		v.Fval = val.Numeric()
	case StringKind:
		if val.Kind != StringKind {
			return oakleaf.Errorf(oakleaf.TypeMismatch, "numeric into %s", v.Name)
		}
		d, err := st.copyString(v.Sval, val.S)
		if err != nil {
			return err
		}
		v.Sval = d
	default:
		oakleaf.Bug("symtab", "store into %v", v)
	}
	return nil
}

// copyString makes a target cell hold a copy of src's content, reusing the
// target's block when the bin layout permits.
func (st *SymTable) copyString(target, src strheap.Descriptor) (strheap.Descriptor, error) {
	d, err := st.heap.Resize(target, src.Len)
	if err != nil {
		return target, err
	}
	st.heap.Set(d, st.heap.Bytes(src))
	return d, nil
}
