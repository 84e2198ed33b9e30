/*
Package prog models tokenized BASIC programs.

A program is a flat sequence of fixed-width tokens, addressed by index
(oakleaf.Addr). The token sequence is immutable during execution: the
engine memoizes resolved references in side tables rather than patching
tokens in place, so a program can be listed or saved at any time and
round-trips bit-exactly.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package prog

import (
	"crypto/md5"

	"github.com/cnf/structhash"
	"github.com/oakleafbasic/oakleaf"
)

// Token categories. Identifiers carry their sigiled name in Text; literals
// carry their converted value.
const (
	TEOL oakleaf.TokType = iota // end of line
	TEOP                        // end of program
	TNumber                     // float literal, value in Fval
	TInteger                    // integer literal, value in Ival
	TString                     // string literal, text in Text
	TIdent                      // scalar variable reference site
	TArrayIdent                 // array reference site: name immediately followed by '('
	TProcRef                    // PROC<name> call site
	TFnRef                      // FN<name> call site

	TLet
	TPrint
	TDim
	TDefProc // DEF PROC<name>, name in Text
	TDefFn   // DEF FN<name>, name in Text
	TEndProc
	TLocal
	TGosub
	TReturn
	TGoto
	TIf
	TThen
	TElse
	TFor
	TTo
	TStep
	TNext
	TWhile
	TEndWhile
	TRepeat
	TUntil
	TData
	TRead
	TRestore
	TOnError
	TEnd
	TStop
	TLibrary

	TEq
	TNe
	TLt
	TGt
	TLe
	TGe
	TPlus
	TMinus
	TStar
	TSlash
	TCaret
	TMod
	TDiv
	TAnd
	TOr
	TEor
	TNot

	TLParen
	TRParen
	TComma
	TSemicolon
	TColon // statement separator
	TQuery // '?'  byte indirection
	TPling // '!'  word indirection
	TBar   // '|'  float indirection
)

// Program is a tokenized program: the main token sequence plus attached
// libraries in load order. Libraries are programs themselves, with private
// variable scopes (see package symtab).
type Program struct {
	Name   string
	Tokens []oakleaf.Token
	Libs   []*Program

	lineIndex map[int]oakleaf.Addr
}

// New creates an empty program.
func New(name string) *Program {
	return &Program{Name: name}
}

// Len returns the number of tokens.
func (p *Program) Len() int {
	return len(p.Tokens)
}

// At returns the token at addr. An address outside the program is an
// interpreter bug, not a user error.
func (p *Program) At(addr oakleaf.Addr) oakleaf.Token {
	if addr < 0 || int(addr) >= len(p.Tokens) {
		oakleaf.Bug("prog", "token address %d outside program %q (len %d)",
			addr, p.Name, len(p.Tokens))
	}
	return p.Tokens[int(addr)]
}

// Attach appends a library. Libraries are searched for procedures in load
// order, after the main program.
func (p *Program) Attach(lib *Program) {
	p.Libs = append(p.Libs, lib)
	p.lineIndex = nil
}

// LineStart finds the address of the first token of a numbered line.
func (p *Program) LineStart(line int) (oakleaf.Addr, bool) {
	if p.lineIndex == nil {
		p.lineIndex = make(map[int]oakleaf.Addr)
		for i, tok := range p.Tokens {
			if _, seen := p.lineIndex[tok.Line]; !seen {
				p.lineIndex[tok.Line] = oakleaf.Addr(i)
			}
		}
	}
	a, ok := p.lineIndex[line]
	return a, ok
}

// Fingerprint hashes the token content of the program and its libraries.
// The binding cache compares fingerprints to decide whether memoized
// reference resolutions are still valid after an edit.
func (p *Program) Fingerprint() [md5.Size]byte {
	return md5.Sum(structhash.Dump(p, 1))
}
