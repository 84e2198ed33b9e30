package oakleaf

import "fmt"

// --- Tokens and program addressing -----------------------------------------

// TokType is a category type for a Token. We do not define any constants here, as
// it is up to the program model (package prog) to define them.
type TokType int

// Token is one cell of a tokenized program. Tokens are fixed-width records:
// a category code plus inline operands. A variable reference site is a single
// token carrying the textual name; literals carry their converted value.
//
// An example would be a token for a floating point number:
//
//    Code  = prog.TNumber   // category of this token
//    Text  = "3.1416"      // lexeme as it appeared in the input stream
//    Fval  = 3.1416        // converted value
//
// The engine never mutates tokens: resolved references are memoized in a
// side table keyed by address (see symtab.Binder), so program text and
// binding cache stay separate.
type Token struct {
	Code TokType
	Text string  // lexeme, if the category carries one (names, strings)
	Ival int64   // integer operand (literals, line numbers)
	Fval float64 // float operand
	Line int     // source line, for diagnostics
}

func (t Token) String() string {
	if t.Text != "" {
		return fmt.Sprintf("⟨%d %q⟩", t.Code, t.Text)
	}
	return fmt.Sprintf("⟨%d⟩", t.Code)
}

// Addr is a position within a tokenized program: an index into the program's
// token sequence. It doubles as the key of the binding cache and as the
// return-address payload of control-flow frames.
type Addr int

// NoAddr is the null program address.
const NoAddr Addr = -1

// --- Raw storage access ----------------------------------------------------

// Storage is the collaborator interface for the indirection operators ('?',
// '!' and '|'). The symbol table computes offsets; reading and
// writing the bytes behind them is delegated to implementations of this
// interface (typically the executor's workspace buffer).
type Storage interface {
	PeekByte(off int64) (byte, error)
	PokeByte(off int64, b byte) error
	PeekWord(off int64) (int32, error)
	PokeWord(off int64, w int32) error
	PeekFloat(off int64) (float64, error)
	PokeFloat(off int64, f float64) error
}
