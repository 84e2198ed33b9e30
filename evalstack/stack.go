/*
Package evalstack implements the unified runtime stack of the Oakleaf
engine. One stack holds both transient expression values and the nested
control state of PROC, FN, GOSUB, FOR, WHILE, REPEAT, LOCAL and error
handler scopes, so one bound and one set of push/pop operations cover
everything.

Cells are tagged variants held in a growable vector; overflow is checked
against a fixed depth limit rather than an address watermark. String
cells own their heap storage while resident: popping or discarding a
string cell is what releases the backing block.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package evalstack

import (
	"fmt"

	"github.com/npillmayer/schuko/tracing"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/strheap"
	"github.com/oakleafbasic/oakleaf/symtab"
)

// tracer traces with key 'oakleaf.evalstack'.
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.evalstack")
}

// Tag identifies what a stack cell holds.
type Tag int8

// Cell tags: expression values first, control-flow frames after.
const (
	NoItem Tag = iota
	ItByte
	ItInt
	ItInt64
	ItFloat
	ItString
	ItArray

	ItProcFrame
	ItFnFrame
	ItGosubFrame
	ItForFrame
	ItWhileFrame
	ItRepeatFrame
	ItLocalFrame
	ItErrorFrame
	ItDataFrame
	ItOpFrame
)

var tagNames = map[Tag]string{
	NoItem: "empty", ItByte: "byte", ItInt: "int32", ItInt64: "int64",
	ItFloat: "float", ItString: "string", ItArray: "array",
	ItProcFrame: "PROC", ItFnFrame: "FN", ItGosubFrame: "GOSUB",
	ItForFrame: "FOR", ItWhileFrame: "WHILE", ItRepeatFrame: "REPEAT",
	ItLocalFrame: "LOCAL", ItErrorFrame: "handler", ItDataFrame: "DATA",
	ItOpFrame: "operators",
}

func (tg Tag) String() string {
	if s, ok := tagNames[tg]; ok {
		return s
	}
	return fmt.Sprintf("tag(%d)", int(tg))
}

// IsValue is a predicate: does this tag denote an expression value?
func (tg Tag) IsValue() bool {
	return tg >= ItByte && tg <= ItArray
}

// Item is one stack cell: a tag, inline scalar payloads, and a frame payload
// for control-flow cells. The frame payload relies on a type switch at the
// consumer.
type Item struct {
	Tag Tag
	I   int64
	F   float64
	S   strheap.Descriptor
	Arr *symtab.ArrayDesc
	Fr  interface{}
}

// Stack is the evaluation stack. It needs the string heap to release the
// storage of discarded string cells during unwinds.
type Stack struct {
	items []Item
	limit int
	heap  *strheap.Heap
}

// DefaultDepth bounds the stack when no explicit limit is given.
const DefaultDepth = 4096

// New creates a stack with the given depth limit (0 means DefaultDepth).
func New(heap *strheap.Heap, limit int) *Stack {
	if limit <= 0 {
		limit = DefaultDepth
	}
	return &Stack{
		items: make([]Item, 0, 64),
		limit: limit,
		heap:  heap,
	}
}

// Depth returns the number of cells on the stack.
func (st *Stack) Depth() int {
	return len(st.items)
}

// TopTag returns the tag of the topmost cell without popping, NoItem when
// the stack is empty. The executor uses this pervasively to decide how to
// consume an expression result.
func (st *Stack) TopTag() Tag {
	if len(st.items) == 0 {
		return NoItem
	}
	return st.items[len(st.items)-1].Tag
}

func (st *Stack) push(it Item) error {
	if len(st.items) >= st.limit {
		return oakleaf.Errorf(oakleaf.StackOverflow, "depth %d", st.limit)
	}
	st.items = append(st.items, it)
	return nil
}

func (st *Stack) pop(want Tag) (Item, error) {
	if len(st.items) == 0 {
		return Item{}, oakleaf.Errorf(oakleaf.WrongStackItem, "pop %s from empty stack", want)
	}
	top := st.items[len(st.items)-1]
	if top.Tag != want {
		return Item{}, oakleaf.Errorf(oakleaf.WrongStackItem, "top is %s, want %s", top.Tag, want)
	}
	st.items = st.items[:len(st.items)-1]
	return top, nil
}

// --- Value cells -----------------------------------------------------------

// PushByte pushes an unsigned byte value.
func (st *Stack) PushByte(b byte) error {
	return st.push(Item{Tag: ItByte, I: int64(b)})
}

// PushInt pushes a 32-bit integer value.
func (st *Stack) PushInt(i int32) error {
	return st.push(Item{Tag: ItInt, I: int64(i)})
}

// PushInt64 pushes a 64-bit integer value.
func (st *Stack) PushInt64(i int64) error {
	return st.push(Item{Tag: ItInt64, I: i})
}

// PushFloat pushes a float value.
func (st *Stack) PushFloat(f float64) error {
	return st.push(Item{Tag: ItFloat, F: f})
}

// PushString pushes a string cell. The stack owns the descriptor's storage
// until the cell is popped or discarded.
func (st *Stack) PushString(d strheap.Descriptor) error {
	return st.push(Item{Tag: ItString, S: d})
}

// PushArray pushes an array temporary.
func (st *Stack) PushArray(arr *symtab.ArrayDesc) error {
	return st.push(Item{Tag: ItArray, Arr: arr})
}

// PopInt pops a 32-bit integer.
func (st *Stack) PopInt() (int32, error) {
	it, err := st.pop(ItInt)
	return int32(it.I), err
}

// PopInt64 pops a 64-bit integer.
func (st *Stack) PopInt64() (int64, error) {
	it, err := st.pop(ItInt64)
	return it.I, err
}

// PopFloat pops a float.
func (st *Stack) PopFloat() (float64, error) {
	it, err := st.pop(ItFloat)
	return it.F, err
}

// PopString pops a string cell. Ownership of the descriptor's storage
// transfers to the caller, who must free it (or hand it on).
func (st *Stack) PopString() (strheap.Descriptor, error) {
	it, err := st.pop(ItString)
	return it.S, err
}

// PopArray pops an array temporary.
func (st *Stack) PopArray() (*symtab.ArrayDesc, error) {
	it, err := st.pop(ItArray)
	return it.Arr, err
}

// PopNumeric pops any numeric cell, coerced to a symtab value. Byte and
// integer cells keep their integer form; a string on top is a user error.
func (st *Stack) PopNumeric() (symtab.Value, error) {
	switch st.TopTag() {
	case ItByte:
		it, _ := st.pop(ItByte)
		return symtab.Value{Kind: symtab.ByteKind, I: it.I}, nil
	case ItInt:
		it, _ := st.pop(ItInt)
		return symtab.Value{Kind: symtab.IntKind, I: it.I}, nil
	case ItInt64:
		it, _ := st.pop(ItInt64)
		return symtab.Value{Kind: symtab.Int64Kind, I: it.I}, nil
	case ItFloat:
		it, _ := st.pop(ItFloat)
		return symtab.FloatValue(it.F), nil
	}
	return symtab.Value{}, oakleaf.Errorf(oakleaf.WrongStackItem,
		"top is %s, want a number", st.TopTag())
}

// PopValue pops any value cell as a symtab value. String storage ownership
// transfers to the caller.
func (st *Stack) PopValue() (symtab.Value, error) {
	if st.TopTag() == ItString {
		d, _ := st.PopString()
		return symtab.StringValue(d), nil
	}
	return st.PopNumeric()
}

// PushValue pushes a symtab value with the matching tag.
func (st *Stack) PushValue(v symtab.Value) error {
	switch v.Kind {
	case symtab.ByteKind:
		return st.push(Item{Tag: ItByte, I: v.I})
	case symtab.IntKind:
		return st.push(Item{Tag: ItInt, I: v.I})
	case symtab.Int64Kind:
		return st.push(Item{Tag: ItInt64, I: v.I})
	case symtab.FloatKind:
		return st.push(Item{Tag: ItFloat, F: v.F})
	case symtab.StringKind:
		return st.push(Item{Tag: ItString, S: v.S})
	}
	oakleaf.Bug("evalstack", "push of %v", v)
	return nil
}

// discard drops the topmost cell, releasing owned string storage.
func (st *Stack) discard() {
	top := st.items[len(st.items)-1]
	if top.Tag == ItString {
		st.heap.Free(top.S)
	}
	st.items = st.items[:len(st.items)-1]
}

// Clear empties the stack, releasing all owned string storage. Used on
// program load and after a top-level (unhandled) error.
func (st *Stack) Clear() {
	for len(st.items) > 0 {
		if st.items[len(st.items)-1].Tag == ItLocalFrame {
			st.restoreLocal()
			continue
		}
		st.discard()
	}
}
