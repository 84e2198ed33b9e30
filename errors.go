package oakleaf

import "fmt"

// Condition identifies a user-visible runtime error. Conditions are stable
// symbolic codes: clients match on the condition, the message only adds
// context (variable name, offending index, and so on).
type Condition int

const (
	NoError Condition = iota
	NoRoom            // string heap exhausted, even after collection
	StackOverflow
	WrongStackItem // top of evaluation stack disagrees with the consumer
	NoSuchVariable // reference to an unknown variable where creation is not permitted
	MissingArray   // element reference to an undimensioned array
	DupDim         // array dimensioned twice
	TooManyDims
	NegDim
	BadIndex
	TypeMismatch // e.g. a string scalar in front of an indirection operator
	MissingProc
	ParamCount
	BadCall // ENDPROC/=-return/NEXT/UNTIL without a matching frame
	NoSuchLine
	OutOfData
	DivZero
	Syntax // statement shape the executor cannot make sense of
	Escape // external interrupt observed at a statement boundary
)

var condNames = map[Condition]string{
	NoError:        "no error",
	NoRoom:         "no room",
	StackOverflow:  "stack overflow",
	WrongStackItem: "wrong kind of stack item",
	NoSuchVariable: "no such variable",
	MissingArray:   "missing array",
	DupDim:         "array already dimensioned",
	TooManyDims:    "too many dimensions",
	NegDim:         "negative dimension",
	BadIndex:       "subscript out of range",
	TypeMismatch:   "type mismatch",
	MissingProc:    "no such procedure or function",
	ParamCount:     "wrong number of parameters",
	BadCall:        "not in a procedure or function",
	NoSuchLine:     "no such line",
	OutOfData:      "out of data",
	DivZero:        "division by zero",
	Syntax:         "syntax error",
	Escape:         "escape",
}

func (c Condition) String() string {
	if s, ok := condNames[c]; ok {
		return s
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// Error is a user-visible runtime error: a condition plus context. Errors of
// this type unwind to the nearest error-handler frame on the evaluation
// stack; they never terminate the interpreter by themselves.
type Error struct {
	Cond    Condition
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Cond.String()
	}
	return fmt.Sprintf("%s: %s", e.Cond, e.Context)
}

// Errorf creates a runtime error for a condition, with printf-style context.
func Errorf(c Condition, format string, args ...interface{}) *Error {
	return &Error{Cond: c, Context: fmt.Sprintf(format, args...)}
}

// CondOf extracts the condition of a runtime error, or NoError for nil and
// foreign error values.
func CondOf(err error) Condition {
	if rerr, ok := err.(*Error); ok {
		return rerr.Cond
	}
	return NoError
}

// InternalError signals an interpreter bug: a malformed token reaching the
// lvalue resolver, a stack-pointer mismatch at PROC return, corrupted
// allocator bookkeeping. These are raised as panics and are never recovered
// inside the engine, since masking them risks silent corruption of the
// workspace.
type InternalError struct {
	Where string
	Msg   string
}

func (e InternalError) Error() string {
	return fmt.Sprintf("internal error [%s]: %s", e.Where, e.Msg)
}

// Bug panics with an InternalError.
func Bug(where string, format string, args ...interface{}) {
	panic(InternalError{Where: where, Msg: fmt.Sprintf(format, args...)})
}
