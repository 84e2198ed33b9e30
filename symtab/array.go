package symtab

import (
	"fmt"

	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/strheap"
)

// MaxDims is the fixed upper bound on array dimensions.
const MaxDims = 10

// MaxElements caps the element count of a single array.
const MaxElements = 1 << 24

// ArrayDesc describes a dimensioned array: extents, element count and the
// element buffer. Buffers are never resized in place; re-dimensioning
// replaces the whole descriptor (and is an error, see Dimension). Strings in
// a string array are independently owned heap blocks.
type ArrayDesc struct {
	Kind  VarKind // IntArray, FloatArray or StrArray
	Dims  []int   // per-dimension extents (maximum index)
	Count int     // product of (extent+1) over all dimensions
	Local bool    // allocated by a LOCAL DIM, torn down on return

	Ints   []int32
	Floats []float64
	Strs   []strheap.Descriptor
}

func (a *ArrayDesc) String() string {
	return fmt.Sprintf("<array %s dims=%v count=%d>", a.Kind, a.Dims, a.Count)
}

// FlatIndex converts per-dimension indices into the row-major element index.
// Each index must lie within 0..extent.
func (a *ArrayDesc) FlatIndex(indices []int) (int, error) {
	if len(indices) != len(a.Dims) {
		return 0, oakleaf.Errorf(oakleaf.BadIndex, "%d indices for %d dimensions",
			len(indices), len(a.Dims))
	}
	flat := 0
	for d, ix := range indices {
		if ix < 0 || ix > a.Dims[d] {
			return 0, oakleaf.Errorf(oakleaf.BadIndex, "index %d outside 0..%d", ix, a.Dims[d])
		}
		flat = flat*(a.Dims[d]+1) + ix
	}
	return flat, nil
}

// Dimension gives an array variable its descriptor and element buffer.
// Extents are validated (each >= 0, at most MaxDims dimensions); the element
// count is the product of (extent+1) and may not exceed MaxElements. Every element is zero-initialized,
// strings to the shared empty string. Dimensioning an already-dimensioned
// array raises DupDim.
func (st *SymTable) Dimension(v *Variable, extents []int, local bool) (*ArrayDesc, error) {
	if !v.Kind.IsArray() {
		oakleaf.Bug("symtab", "DIM on non-array variable %v", v)
	}
	if v.Arr != nil {
		return nil, oakleaf.Errorf(oakleaf.DupDim, "array %s(", v.Name)
	}
	if len(extents) == 0 || len(extents) > MaxDims {
		return nil, oakleaf.Errorf(oakleaf.TooManyDims, "%d dimensions for %s(", len(extents), v.Name)
	}
	count := 1
	for _, e := range extents {
		if e < 0 {
			return nil, oakleaf.Errorf(oakleaf.NegDim, "extent %d for %s(", e, v.Name)
		}
		if e >= MaxElements || count > MaxElements/(e+1) {
			return nil, oakleaf.Errorf(oakleaf.NoRoom, "array %s( larger than %d elements",
				v.Name, MaxElements)
		}
		count *= e + 1
	}
	arr := &ArrayDesc{
		Kind:  v.Kind,
		Dims:  append([]int(nil), extents...),
		Count: count,
		Local: local,
	}
	switch v.Kind {
	case IntArray:
		arr.Ints = make([]int32, count)
	case FloatArray:
		arr.Floats = make([]float64, count)
	case StrArray:
		arr.Strs = make([]strheap.Descriptor, count)
		for i := range arr.Strs {
			arr.Strs[i] = strheap.Empty
		}
	}
	v.Arr = arr
	tracer().P("scope", v.Owner.Name).Debugf("dimensioned %v as %v", v, arr)
	return arr, nil
}

// ReleaseArray frees every string element of an array descriptor back to the
// heap. Must run before a descriptor is dropped or replaced; numeric buffers
// need no teardown.
func (st *SymTable) ReleaseArray(arr *ArrayDesc) {
	if arr == nil || arr.Kind != StrArray {
		return
	}
	for i, d := range arr.Strs {
		st.heap.Free(d)
		arr.Strs[i] = strheap.Empty
	}
}
