// Package tdql implements components C6-C9: the TDQL tokenizer,
// infix-to-RPN expression compiler, RPN evaluator, and the per-clause
// statement parser that assembles a compiled Query.
//
// Grounded on skvoz/aggregation/tdql/{tokenizer,rpn,functions,parser}.py.
package tdql

import "fmt"

// Kind classifies a Token the way tokenizer.py's TOKEN_* constants do.
type Kind int

const (
	KString Kind = iota
	KNumber
	KBoolean
	KKeyword
	KOperator
	KFunction
	KParenOpen
	KParenClose
	KComma
)

func (k Kind) String() string {
	switch k {
	case KString:
		return "string"
	case KNumber:
		return "number"
	case KBoolean:
		return "boolean"
	case KKeyword:
		return "keyword"
	case KOperator:
		return "operator"
	case KFunction:
		return "function"
	case KParenOpen:
		return "("
	case KParenClose:
		return ")"
	case KComma:
		return ","
	default:
		return "?"
	}
}

// Token is both a lexeme and, once evaluated, a value: the same shape
// tokenizer.py and rpn.py share by representing everything as
// (token_type, value) pairs.
type Token struct {
	Kind Kind
	Str  string // String/Keyword/Operator/Function payload
	Num  float64
	Bool bool

	// Args holds, for a KFunction token only, the compiled RPN program
	// of each call argument -- the merged equivalent of the Python
	// compiler's separate FUNCTION_ARGS/FUNCTION token pair.
	Args [][]Token
}

func numberToken(n float64) Token  { return Token{Kind: KNumber, Num: n} }
func stringToken(s string) Token   { return Token{Kind: KString, Str: s} }
func booleanToken(b bool) Token    { return Token{Kind: KBoolean, Bool: b} }
func keywordToken(s string) Token  { return Token{Kind: KKeyword, Str: s} }
func operatorToken(s string) Token { return Token{Kind: KOperator, Str: s} }

// NewNumber and NewString expose the number/string Token constructors
// to callers outside the package, e.g. the aggregator engine's row
// materializer building synthetic __ts__/__key__ fields.
func NewNumber(n float64) Token { return numberToken(n) }
func NewString(s string) Token  { return stringToken(s) }

// Truthy mirrors Python's bool() coercion used throughout rpn.py.
func (t Token) Truthy() bool {
	switch t.Kind {
	case KBoolean:
		return t.Bool
	case KNumber:
		return t.Num != 0
	case KString:
		return t.Str != ""
	default:
		return false
	}
}

// Scalar unboxes a Token into a plain Go value for consumption outside
// the RPN machinery (row fields, function results).
func (t Token) Scalar() interface{} {
	switch t.Kind {
	case KNumber:
		return t.Num
	case KBoolean:
		return t.Bool
	default:
		return t.Str
	}
}

func (t Token) String() string {
	switch t.Kind {
	case KNumber:
		return fmt.Sprintf("%v", t.Num)
	case KBoolean:
		return fmt.Sprintf("%v", t.Bool)
	default:
		return t.Str
	}
}
