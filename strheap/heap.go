/*
Package strheap implements the string heap of the Oakleaf runtime: an
arena-backed size-class allocator for the byte buffers behind string
values. There is no tracing collector; blocks are freed explicitly and
an on-demand collection pass merges address-adjacent free blocks when
an allocation would otherwise fail.

Buffers are grouped into fixed size classes ("bins"): word steps up to
128 bytes, 128-byte steps up to 1 KiB, then powers of two up to the
maximum string length. Per-bin free lists are kept in ascending address
order so the collection pass can detect adjacency with one linear scan.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package strheap

import (
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	"github.com/npillmayer/schuko/tracing"
	"github.com/oakleafbasic/oakleaf"
)

// tracer traces with key 'oakleaf.strheap'.
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.strheap")
}

// MaxString is the largest allocatable string length.
const MaxString = 65536

// Offset addresses a block within the heap arena.
type Offset int32

// nullBlock is the shared marker for the empty string; it owns no storage.
const nullBlock Offset = -1

// Descriptor describes one string value: its length and its backing block.
// Cap is the usable size of the block, always a bin class size for non-empty
// strings. The zero Descriptor is the empty string.
type Descriptor struct {
	Len   int
	Cap   int
	Block Offset
}

// Empty is the shared empty-string descriptor. Allocating or freeing a
// zero-length string never touches the heap.
var Empty = Descriptor{Len: 0, Cap: 0, Block: nullBlock}

// IsEmpty is a predicate: Is this the (storage-less) empty string?
func (d Descriptor) IsEmpty() bool {
	return d.Len == 0
}

// --- Size classes ----------------------------------------------------------

// Bin class sizes, ascending: 4,8,…,128, then 256,384,…,1024, then powers of
// two up to MaxString.
var binSizes []int

// binIndex maps class size → bin number, for exact-size checks.
var binIndex map[int]int

func init() {
	for sz := 4; sz <= 128; sz += 4 {
		binSizes = append(binSizes, sz)
	}
	for sz := 256; sz <= 1024; sz += 128 {
		binSizes = append(binSizes, sz)
	}
	for sz := 2048; sz <= MaxString; sz *= 2 {
		binSizes = append(binSizes, sz)
	}
	binIndex = make(map[int]int, len(binSizes))
	for i, sz := range binSizes {
		binIndex[sz] = i
	}
}

// binFor maps a requested length to the smallest class that holds it.
func binFor(n int) int {
	switch {
	case n <= 128:
		return (n + 3) / 4
	case n <= 1024:
		return 32 + (n-128+127)/128
	default:
		b := 40 // first power-of-two class, 2048 bytes
		for sz := 2048; sz < n; sz *= 2 {
			b++
		}
		return b
	}
}

// --- Heap ------------------------------------------------------------------

// Stats carries allocator counters, mainly for tests and diagnostics.
type Stats struct {
	Allocations int // successful non-empty allocations
	Frees       int // non-empty frees
	Collections int // collection passes run
	Handbacks   int // trailing merged blocks returned to the arena
	HighWater   int // maximum arena bytes ever handed out
}

// overflowBlock is a free block that fits no bin exactly. Overflow blocks
// carry their size explicitly and live on an address-sorted set.
type overflowBlock struct {
	addr Offset
	size int
}

func overflowComparator(a, b interface{}) int {
	return utils.IntComparator(int(a.(*overflowBlock).addr), int(b.(*overflowBlock).addr))
}

// Heap is the string heap: one arena, segregated free lists per bin, and an
// overflow list for odd-sized blocks produced by splitting and merging.
type Heap struct {
	arena    []byte
	brk      int         // arena[0:brk] has been handed out
	bins     [][]Offset  // per-bin free lists, ascending address order
	overflow *treeset.Set
	free     int // number of free blocks across bins and overflow
	stats    Stats
}

// New creates a string heap with the given arena size.
func New(arenaSize int) *Heap {
	h := &Heap{
		arena:    make([]byte, arenaSize),
		bins:     make([][]Offset, len(binSizes)+1), // bins[0] unused (length 0)
		overflow: treeset.NewWith(overflowComparator),
	}
	return h
}

// Stats returns a copy of the allocator counters.
func (h *Heap) Stats() Stats {
	return h.stats
}

// FreeBlocks returns the current number of free blocks.
func (h *Heap) FreeBlocks() int {
	return h.free
}

// Bytes returns the live content of a string.
func (h *Heap) Bytes(d Descriptor) []byte {
	if d.IsEmpty() {
		return nil
	}
	h.check(d)
	return h.arena[int(d.Block) : int(d.Block)+d.Len]
}

// String returns the content of a string descriptor as a Go string.
func (h *Heap) String(d Descriptor) string {
	return string(h.Bytes(d))
}

// check validates a non-empty descriptor against the arena bounds. Handing
// the heap a corrupt descriptor is an interpreter bug.
func (h *Heap) check(d Descriptor) {
	if d.Block < 0 || int(d.Block)+d.Cap > h.brk || d.Len > d.Cap {
		oakleaf.Bug("strheap", "corrupt descriptor {len=%d cap=%d block=%d} (brk=%d)",
			d.Len, d.Cap, d.Block, h.brk)
	}
}

// Alloc allocates backing storage for a string of length n.
//
// The fast paths are O(1): the empty string shares a marker block, and a
// non-empty request is served from the head of its bin's free list or by
// bumping the arena pointer. Under pressure the overflow list is searched
// and, as a last resort, a collection pass merges adjacent free blocks and
// the allocation is retried once.
func (h *Heap) Alloc(n int) (Descriptor, error) {
	if n == 0 {
		return Empty, nil
	}
	if n < 0 || n > MaxString {
		return Empty, oakleaf.Errorf(oakleaf.NoRoom, "string length %d out of range", n)
	}
	if d, ok := h.tryAlloc(n); ok {
		return d, nil
	}
	if h.collect() {
		if d, ok := h.tryAlloc(n); ok {
			return d, nil
		}
	}
	return Empty, oakleaf.Errorf(oakleaf.NoRoom, "string heap exhausted for %d bytes", n)
}

func (h *Heap) tryAlloc(n int) (Descriptor, bool) {
	b := binFor(n)
	size := binSizes[b-1]
	// 1. Reuse the first free block of the bin.
	if list := h.bins[b]; len(list) > 0 {
		addr := list[0]
		h.bins[b] = list[1:]
		h.free--
		h.stats.Allocations++
		return Descriptor{Len: n, Cap: size, Block: addr}, true
	}
	// 2. Carve a fresh block off the arena.
	if h.brk+size <= len(h.arena) {
		addr := Offset(h.brk)
		h.brk += size
		if h.brk > h.stats.HighWater {
			h.stats.HighWater = h.brk
		}
		h.stats.Allocations++
		return Descriptor{Len: n, Cap: size, Block: addr}, true
	}
	// 3. Search the overflow list for the first block large enough.
	it := h.overflow.Iterator()
	for it.Next() {
		blk := it.Value().(*overflowBlock)
		if blk.size < size {
			continue
		}
		h.overflow.Remove(blk)
		h.free--
		remainder := blk.size - size
		if remainder <= binSizes[0] {
			// Donate the whole block rather than leave an unusable sliver.
			h.stats.Allocations++
			return Descriptor{Len: n, Cap: blk.size, Block: blk.addr}, true
		}
		h.insertFree(blk.addr+Offset(size), remainder)
		h.stats.Allocations++
		return Descriptor{Len: n, Cap: size, Block: blk.addr}, true
	}
	return Empty, false
}

// Free releases the backing storage of a string. Freeing the empty string is
// a no-op. The block is spliced into its bin's free list in address order,
// keeping the collection pass a single linear scan.
func (h *Heap) Free(d Descriptor) {
	if d.IsEmpty() {
		return
	}
	h.check(d)
	h.insertFree(d.Block, d.Cap)
	h.stats.Frees++
}

// insertFree files a free block of a known size: into its bin when the size
// is an exact class size, onto the overflow list otherwise.
func (h *Heap) insertFree(addr Offset, size int) {
	if b, exact := binIndex[size]; exact {
		list := h.bins[b+1]
		i := 0
		for i < len(list) && list[i] < addr {
			i++
		}
		list = append(list, 0)
		copy(list[i+1:], list[i:])
		list[i] = addr
		h.bins[b+1] = list
	} else {
		h.overflow.Add(&overflowBlock{addr: addr, size: size})
	}
	h.free++
}

// Resize changes the length of an allocated string, avoiding copies where
// the bin layout permits.
func (h *Heap) Resize(d Descriptor, newLen int) (Descriptor, error) {
	if newLen == d.Len {
		return d, nil
	}
	if newLen == 0 {
		h.Free(d)
		return Empty, nil
	}
	if newLen < 0 || newLen > MaxString {
		return d, oakleaf.Errorf(oakleaf.NoRoom, "string length %d out of range", newLen)
	}
	if d.IsEmpty() {
		return h.Alloc(newLen)
	}
	h.check(d)
	newCap := binSizes[binFor(newLen)-1]
	if newCap == d.Cap {
		// Same bin: keep the block, only the length changes.
		d.Len = newLen
		return d, nil
	}
	if newCap < d.Cap {
		if tail := d.Cap - newCap; binExact(tail) {
			// Split in place: keep the front, free the dropped tail.
			h.insertFree(d.Block+Offset(newCap), tail)
			return Descriptor{Len: newLen, Cap: newCap, Block: d.Block}, nil
		}
	}
	fresh, err := h.Alloc(newLen)
	if err != nil {
		return d, err
	}
	ncopy := d.Len
	if ncopy > newLen {
		ncopy = newLen
	}
	copy(h.arena[int(fresh.Block):], h.arena[int(d.Block):int(d.Block)+ncopy])
	h.Free(d)
	return fresh, nil
}

func binExact(size int) bool {
	_, ok := binIndex[size]
	return ok
}

// --- Collection ------------------------------------------------------------

// collect gathers every free block, merges address-adjacent ones, hands a
// trailing merged block back to the arena when possible, and redistributes
// the survivors. Returns true if at least one merge or handback happened,
// in which case the caller may retry a failed allocation once.
func (h *Heap) collect() bool {
	h.stats.Collections++
	gathered := make([]overflowBlock, 0, h.free)
	for b := 1; b < len(h.bins); b++ {
		for _, addr := range h.bins[b] {
			gathered = append(gathered, overflowBlock{addr: addr, size: binSizes[b-1]})
		}
		h.bins[b] = nil
	}
	it := h.overflow.Iterator()
	for it.Next() {
		blk := it.Value().(*overflowBlock)
		gathered = append(gathered, *blk)
	}
	h.overflow.Clear()
	h.free = 0
	if len(gathered) == 0 {
		return false
	}
	// Bins are address-ordered and the overflow set iterates in address
	// order, but the concatenation is not; sort once.
	sortBlocks(gathered)
	merged := gathered[:1]
	merges := 0
	for _, blk := range gathered[1:] {
		last := &merged[len(merged)-1]
		if last.addr+Offset(last.size) == blk.addr {
			last.size += blk.size
			merges++
		} else {
			merged = append(merged, blk)
		}
	}
	progress := merges > 0
	last := merged[len(merged)-1]
	if int(last.addr)+last.size == h.brk {
		// The trailing block touches the arena frontier: hand it back.
		h.brk = int(last.addr)
		merged = merged[:len(merged)-1]
		h.stats.Handbacks++
		progress = true
	}
	for _, blk := range merged {
		h.insertFree(blk.addr, blk.size)
	}
	tracer().P("heap", "strings").Debugf("collection: %d blocks -> %d, %d merges",
		len(gathered), len(merged), merges)
	return progress
}

// sortBlocks sorts free blocks by address. Insertion sort: collection runs
// rarely and the input is a concatenation of already-sorted runs.
func sortBlocks(blocks []overflowBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].addr < blocks[j-1].addr; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

// --- Convenience -----------------------------------------------------------

// AllocString allocates a string and copies its content into the arena.
func (h *Heap) AllocString(s string) (Descriptor, error) {
	d, err := h.Alloc(len(s))
	if err != nil {
		return d, err
	}
	if d.Len > 0 {
		copy(h.arena[int(d.Block):], s)
	}
	return d, nil
}

// Set overwrites the content of an allocated string. The descriptor's length
// must match; use Resize first when it does not.
func (h *Heap) Set(d Descriptor, content []byte) {
	if d.Len != len(content) {
		oakleaf.Bug("strheap", "Set length %d into descriptor of length %d", len(content), d.Len)
	}
	if d.Len > 0 {
		copy(h.arena[int(d.Block):], content)
	}
}
