package strheap

import (
	"bytes"
	"testing"

	"github.com/npillmayer/schuko/tracing/gotestingadapter"
	"github.com/oakleafbasic/oakleaf"
)

func TestBinMapping(t *testing.T) {
	cases := []struct {
		n, class int
	}{
		{1, 4}, {4, 4}, {5, 8}, {100, 100}, {128, 128},
		{129, 256}, {256, 256}, {257, 384}, {1024, 1024},
		{1025, 2048}, {2048, 2048}, {2049, 4096}, {65536, 65536},
	}
	for _, c := range cases {
		b := binFor(c.n)
		if binSizes[b-1] != c.class {
			t.Errorf("binFor(%d): got class %d, want %d", c.n, binSizes[b-1], c.class)
		}
	}
}

func TestEmptyStringNoHeapTraffic(t *testing.T) {
	h := New(1024)
	d, err := h.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsEmpty() {
		t.Errorf("zero-length allocation should be the empty descriptor")
	}
	h.Free(d)
	if s := h.Stats(); s.Allocations != 0 || s.Frees != 0 {
		t.Errorf("empty string caused heap traffic: %+v", s)
	}
}

func TestFreeThenReallocReuses(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.strheap")
	defer teardown()
	//
	h := New(4096)
	for n := 1; n <= 200; n += 13 {
		d, err := h.Alloc(n)
		if err != nil {
			t.Fatal(err)
		}
		hw := h.Stats().HighWater
		h.Free(d)
		d2, err := h.Alloc(n)
		if err != nil {
			t.Fatal(err)
		}
		if d2.Block != d.Block {
			t.Errorf("Alloc(%d) after Free did not reuse block %d, got %d", n, d.Block, d2.Block)
		}
		if h.Stats().HighWater != hw {
			t.Errorf("Alloc(%d) after Free grew the arena", n)
		}
		h.Free(d2)
	}
}

func TestResizeSameBinKeepsBlock(t *testing.T) {
	h := New(1024)
	d, _ := h.AllocString("abcdefgh") // 8 bytes, class 8
	d2, err := h.Resize(d, 5)
	if err != nil {
		t.Fatal(err)
	}
	if d2.Block != d.Block || d2.Cap != d.Cap {
		t.Errorf("same-bin shrink moved the block: %+v -> %+v", d, d2)
	}
	if got := h.String(d2); got != "abcde" {
		t.Errorf("shrink content = %q", got)
	}
}

func TestResizeDoesNotCorruptNeighbours(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.strheap")
	defer teardown()
	//
	h := New(4096)
	left, _ := h.AllocString("LLLLLLLLLL")
	mid, _ := h.Alloc(10)
	h.Set(mid, []byte("mmmmmmmmmm"))
	right, _ := h.AllocString("RRRRRRRRRR")
	//
	mid, err := h.Resize(mid, 5)
	if err != nil {
		t.Fatal(err)
	}
	mid, err = h.Resize(mid, 10)
	if err != nil {
		t.Fatal(err)
	}
	h.Set(mid, []byte("MMMMMMMMMM"))
	if h.String(left) != "LLLLLLLLLL" {
		t.Errorf("left neighbour corrupted: %q", h.String(left))
	}
	if h.String(right) != "RRRRRRRRRR" {
		t.Errorf("right neighbour corrupted: %q", h.String(right))
	}
	if h.String(mid) != "MMMMMMMMMM" {
		t.Errorf("resized string corrupted: %q", h.String(mid))
	}
}

func TestShrinkSplitsInPlace(t *testing.T) {
	h := New(4096)
	d, _ := h.Alloc(128) // class 128
	d2, err := h.Resize(d, 64)
	if err != nil {
		t.Fatal(err)
	}
	// 128 -> 64 drops a 64-byte tail, itself an exact class size.
	if d2.Block != d.Block {
		t.Errorf("shrink with exact-class tail should keep the block")
	}
	if h.FreeBlocks() != 1 {
		t.Errorf("dropped tail not filed as a free block")
	}
}

func TestExhaustionMergesOnlyAfterCollection(t *testing.T) {
	teardown := gotestingadapter.QuickConfig(t, "oakleaf.strheap")
	defer teardown()
	//
	h := New(256) // deliberately tiny
	var held []Descriptor
	for {
		d, err := h.Alloc(32)
		if err != nil {
			break
		}
		held = append(held, d)
	}
	if len(held) != 8 {
		t.Fatalf("expected 8 blocks of class 32 in a 256-byte arena, got %d", len(held))
	}
	// Free two adjacent blocks in the middle; a 64-byte request must merge
	// them, which only collection does.
	h.Free(held[2])
	h.Free(held[3])
	before := h.Stats().Collections
	d, err := h.Alloc(64)
	if err != nil {
		t.Fatalf("allocation after freeing adjacent blocks failed: %v", err)
	}
	if h.Stats().Collections != before+1 {
		t.Errorf("expected exactly one collection pass, got %d", h.Stats().Collections-before)
	}
	if d.Block != held[2].Block {
		t.Errorf("merged block should start at the first freed block")
	}
}

func TestCollectionHandsBackTrailingBlock(t *testing.T) {
	h := New(256)
	a, _ := h.Alloc(32)
	b, _ := h.Alloc(32)
	h.Free(b) // trailing block, adjacent to the arena frontier
	h.Free(a)
	if !h.collect() {
		t.Fatalf("collection made no progress")
	}
	if h.Stats().Handbacks != 1 {
		t.Errorf("trailing merged block not handed back: %+v", h.Stats())
	}
	if h.FreeBlocks() != 0 {
		t.Errorf("expected all free blocks absorbed, %d left", h.FreeBlocks())
	}
}

func TestOversizeRequestFails(t *testing.T) {
	h := New(1024)
	_, err := h.Alloc(MaxString + 1)
	if oakleaf.CondOf(err) != oakleaf.NoRoom {
		t.Errorf("expected NoRoom for oversize request, got %v", err)
	}
}

func TestContentRoundTrip(t *testing.T) {
	h := New(4096)
	d, err := h.AllocString("hello, world")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(h.Bytes(d), []byte("hello, world")) {
		t.Errorf("content round trip failed: %q", h.Bytes(d))
	}
}
