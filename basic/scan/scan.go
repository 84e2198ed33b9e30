/*
Package scan tokenizes BASIC source into the program model of package
prog. It is the engine's tokenizer collaborator: one compiled lexmachine
DFA, shared by all scans, turns source lines into fixed-width token
records.

License

Governed by a 3-Clause BSD license. License file may be found in the root
folder of this module.

Copyright © 2023–2026 The Oakleaf Authors

*/
package scan

import (
	"fmt"
	"strconv"

	"github.com/npillmayer/schuko/tracing"
	"github.com/oakleafbasic/oakleaf"
	"github.com/oakleafbasic/oakleaf/prog"
	"github.com/timtadh/lexmachine"
	"github.com/timtadh/lexmachine/machines"
)

// tracer traces with key 'oakleaf.scan'.
func tracer() tracing.Trace {
	return tracing.Select("oakleaf.scan")
}

// Scanner wraps a compiled lexmachine DFA for BASIC source.
type Scanner struct {
	lexer *lexmachine.Lexer
}

// Keywords, in the order they take precedence over identifiers.
var keywords = map[string]oakleaf.TokType{
	"LET": prog.TLet, "PRINT": prog.TPrint, "DIM": prog.TDim,
	"ENDPROC": prog.TEndProc, "LOCAL": prog.TLocal,
	"GOSUB": prog.TGosub, "RETURN": prog.TReturn, "GOTO": prog.TGoto,
	"IF": prog.TIf, "THEN": prog.TThen, "ELSE": prog.TElse,
	"FOR": prog.TFor, "TO": prog.TTo, "STEP": prog.TStep, "NEXT": prog.TNext,
	"WHILE": prog.TWhile, "ENDWHILE": prog.TEndWhile,
	"REPEAT": prog.TRepeat, "UNTIL": prog.TUntil,
	"DATA": prog.TData, "READ": prog.TRead, "RESTORE": prog.TRestore,
	"END": prog.TEnd, "STOP": prog.TStop, "LIBRARY": prog.TLibrary,
	"MOD": prog.TMod, "DIV": prog.TDiv,
	"AND": prog.TAnd, "OR": prog.TOr, "EOR": prog.TEor, "NOT": prog.TNot,
}

// Literal tokens (operators and punctuation).
var literals = map[string]oakleaf.TokType{
	"=": prog.TEq, "<>": prog.TNe, "<": prog.TLt, ">": prog.TGt,
	"<=": prog.TLe, ">=": prog.TGe,
	"+": prog.TPlus, "-": prog.TMinus, "*": prog.TStar, "/": prog.TSlash,
	"^": prog.TCaret,
	"(": prog.TLParen, ")": prog.TRParen, ",": prog.TComma,
	";": prog.TSemicolon, ":": prog.TColon,
	"?": prog.TQuery, "!": prog.TPling, "|": prog.TBar,
}

func makeToken(code oakleaf.TokType) lexmachine.Action {
	return func(s *lexmachine.Scanner, m *machines.Match) (interface{}, error) {
		return s.Token(int(code), string(m.Bytes), m), nil
	}
}

func skip(*lexmachine.Scanner, *machines.Match) (interface{}, error) {
	return nil, nil
}

// New compiles the BASIC DFA. Returns an error if compilation fails.
func New() (*Scanner, error) {
	lexer := lexmachine.NewLexer()
	// Composite forms first: definitions, call sites, error handler arming.
	lexer.Add([]byte(`DEF +PROC[a-zA-Z_][a-zA-Z0-9_]*`), makeToken(prog.TDefProc))
	lexer.Add([]byte(`DEF +FN[a-zA-Z_][a-zA-Z0-9_]*`), makeToken(prog.TDefFn))
	lexer.Add([]byte(`PROC[a-zA-Z_][a-zA-Z0-9_]*`), makeToken(prog.TProcRef))
	lexer.Add([]byte(`FN[a-zA-Z_][a-zA-Z0-9_]*`), makeToken(prog.TFnRef))
	lexer.Add([]byte(`ON +ERROR`), makeToken(prog.TOnError))
	lexer.Add([]byte(`REM[^\n]*`), skip)
	for kw, code := range keywords {
		lexer.Add([]byte(kw), makeToken(code))
	}
	lexer.Add([]byte(`[a-zA-Z_][a-zA-Z0-9_]*(%%|%|\$|&)?`), makeToken(prog.TIdent))
	lexer.Add([]byte(`[0-9]+\.[0-9]+`), makeToken(prog.TNumber))
	lexer.Add([]byte(`[0-9]+`), makeToken(prog.TInteger))
	lexer.Add([]byte(`"[^"]*"`), makeToken(prog.TString))
	for lit, code := range literals {
		r := ""
		for _, ch := range lit {
			r += `\` + string(ch)
		}
		lexer.Add([]byte(r), makeToken(code))
	}
	lexer.Add([]byte(`\n`), makeToken(prog.TEOL))
	lexer.Add([]byte(`[ \t\r]+`), skip)
	if err := lexer.Compile(); err != nil {
		tracer().Errorf("error compiling DFA: %v", err)
		return nil, err
	}
	return &Scanner{lexer: lexer}, nil
}

// Tokenize scans a complete source text into a program.
func (sc *Scanner) Tokenize(name, source string) (*prog.Program, error) {
	s, err := sc.lexer.Scanner([]byte(source + "\n"))
	if err != nil {
		return nil, err
	}
	var raw []*lexmachine.Token
	for tok, err, eof := s.Next(); !eof; tok, err, eof = s.Next() {
		if err != nil {
			if ui, is := err.(*machines.UnconsumedInput); is {
				return nil, fmt.Errorf("%s: bad token at line %d", name, ui.StartLine)
			}
			return nil, err
		}
		if tok == nil {
			continue
		}
		raw = append(raw, tok.(*lexmachine.Token))
	}
	return sc.assemble(name, raw)
}

// assemble converts lexmachine tokens into program tokens: it attaches line
// numbers, strips string quotes, folds PROC/FN/DEF lexemes down to bare
// names, and flags array reference sites (an identifier with an immediately
// adjacent opening bracket).
func (sc *Scanner) assemble(name string, raw []*lexmachine.Token) (*prog.Program, error) {
	p := prog.New(name)
	auto := 0 // line numbering continues from the last explicit number
	line := 0
	atLineStart := true
	for i, tok := range raw {
		code := oakleaf.TokType(tok.Type)
		if atLineStart {
			auto++
			line = auto
			atLineStart = false
			if code == prog.TInteger {
				// A leading integer is the line's number, not a value.
				n, err := strconv.Atoi(string(tok.Lexeme))
				if err != nil {
					return nil, err
				}
				line = n
				auto = n
				continue
			}
		}
		out := oakleaf.Token{Code: code, Line: line}
		switch code {
		case prog.TEOL:
			atLineStart = true
		case prog.TInteger:
			n, err := strconv.ParseInt(string(tok.Lexeme), 10, 64)
			if err != nil {
				return nil, err
			}
			out.Ival = n
		case prog.TNumber:
			f, err := strconv.ParseFloat(string(tok.Lexeme), 64)
			if err != nil {
				return nil, err
			}
			out.Fval = f
		case prog.TString:
			out.Text = string(tok.Lexeme[1 : len(tok.Lexeme)-1])
		case prog.TIdent:
			out.Text = string(tok.Lexeme)
			if adjacentLParen(raw, i) {
				out.Code = prog.TArrayIdent
			}
		case prog.TProcRef, prog.TFnRef:
			out.Text = callName(string(tok.Lexeme))
		case prog.TDefProc, prog.TDefFn:
			out.Text = callName(defName(string(tok.Lexeme)))
		}
		p.Tokens = append(p.Tokens, out)
	}
	p.Tokens = append(p.Tokens, oakleaf.Token{Code: prog.TEOP, Line: line + 1})
	tracer().P("prog", name).Debugf("tokenized %d tokens", p.Len())
	return p, nil
}

// adjacentLParen reports whether the next token is a '(' glued to this one.
func adjacentLParen(raw []*lexmachine.Token, i int) bool {
	if i+1 >= len(raw) {
		return false
	}
	next := raw[i+1]
	return oakleaf.TokType(next.Type) == prog.TLParen &&
		next.TC == raw[i].TC+len(raw[i].Lexeme)
}

// callName strips the PROC/FN prefix of a call-site lexeme.
func callName(lexeme string) string {
	if len(lexeme) >= 4 && lexeme[:4] == "PROC" {
		return lexeme[4:]
	}
	if len(lexeme) >= 2 && lexeme[:2] == "FN" {
		return lexeme[2:]
	}
	return lexeme
}

// defName strips the DEF prefix (and the blanks after it).
func defName(lexeme string) string {
	s := lexeme[3:]
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}
