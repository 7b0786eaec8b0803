package tdql

import "strings"

// precedenceTable lists operator groups from highest to lowest binding
// power, per spec.md §4.7. Unknown operators sort below all of these.
var precedenceTable = [][]string{
	{"NOT"},
	{"*", "/", "%"},
	{"+", "-"},
	{"<<", ">>"},
	{"<", ">", "<=", ">="},
	{"!=", "=="},
	{"&"},
	{"^"},
	{"|"},
	{"AND"},
	{"OR"},
}

func precedence(op string) int {
	for i, group := range precedenceTable {
		for _, o := range group {
			if o == op {
				return len(precedenceTable) - i
			}
		}
	}
	return 0
}

// stackItem is either a pending operator/paren-marker token or a
// completed function-argument program, mirroring the mixed stack
// InfixToRpn.add builds in the original compiler.
type stackItem struct {
	token  Token
	prog   []Token
	isProg bool
}

// Compiler is InfixToRpn: a one-pass shunting-yard compiler from a
// flat token stream into an RPN program, with nested function-call
// argument contexts.
type Compiler struct {
	functions  map[string]bool
	output     []Token
	stack      []stackItem
	funcCtx    []*Compiler
	parenDepth int
}

// NewCompiler builds a compiler recognizing the given (lower-case)
// function names as call targets rather than plain identifiers.
func NewCompiler(functions map[string]bool) *Compiler {
	return &Compiler{functions: functions}
}

// IsEmpty reports whether nothing has been compiled yet.
func (c *Compiler) IsEmpty() bool {
	return len(c.output) == 0 && len(c.stack) == 0
}

// Add feeds one token into the compiler.
func (c *Compiler) Add(tok Token) {
	if len(c.funcCtx) > 0 {
		top := c.funcCtx[len(c.funcCtx)-1]
		if !(tok.Kind == KParenClose && top.parenDepth == 0) {
			if tok.Kind == KComma {
				c.stack = append(c.stack, stackItem{prog: top.Finish(), isProg: true})
				c.funcCtx[len(c.funcCtx)-1] = NewCompiler(c.functions)
			} else {
				top.Add(tok)
			}
			return
		}
	}

	switch tok.Kind {
	case KOperator:
		// NOT is a prefix operator with no left operand, so it pops
		// nothing (right-associative).
		for tok.Str != "NOT" && len(c.stack) > 0 {
			t := c.stack[len(c.stack)-1]
			if t.isProg || t.token.Kind != KOperator {
				break
			}
			if precedence(tok.Str) > precedence(t.token.Str) {
				break
			}
			c.output = append(c.output, t.token)
			c.stack = c.stack[:len(c.stack)-1]
		}
		c.stack = append(c.stack, stackItem{token: tok})

	case KParenOpen:
		if len(c.output) > 0 {
			last := c.output[len(c.output)-1]
			if last.Kind == KKeyword && c.functions[strings.ToLower(last.Str)] {
				c.funcCtx = append(c.funcCtx, NewCompiler(c.functions))
			}
		}
		c.parenDepth++
		c.stack = append(c.stack, stackItem{token: tok})

	case KParenClose:
		c.parenDepth--
		if len(c.funcCtx) > 0 {
			fctx := c.funcCtx[len(c.funcCtx)-1]
			c.funcCtx = c.funcCtx[:len(c.funcCtx)-1]

			args := [][]Token{fctx.Finish()}
			for len(c.stack) > 0 && c.stack[len(c.stack)-1].token.Kind != KParenOpen {
				item := c.stack[len(c.stack)-1]
				c.stack = c.stack[:len(c.stack)-1]
				if item.isProg {
					args = append([][]Token{item.prog}, args...)
				}
			}
			name := ""
			if len(c.output) > 0 {
				name = c.output[len(c.output)-1].Str
				c.output = c.output[:len(c.output)-1]
			}
			c.output = append(c.output, Token{Kind: KFunction, Str: name, Args: args})
		} else {
			for len(c.stack) > 0 && c.stack[len(c.stack)-1].token.Kind != KParenOpen {
				c.output = append(c.output, c.stack[len(c.stack)-1].token)
				c.stack = c.stack[:len(c.stack)-1]
			}
		}
		if len(c.stack) > 0 {
			c.stack = c.stack[:len(c.stack)-1]
		}

	default:
		c.output = append(c.output, tok)
	}
}

// Finish drains the remaining operator stack onto the output and
// returns the compiled RPN program.
func (c *Compiler) Finish() []Token {
	for len(c.stack) > 0 {
		item := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if !item.isProg {
			c.output = append(c.output, item.token)
		}
	}
	return c.output
}

// Compile tokenizes and compiles expr into an RPN program in one call,
// recognizing names as function calls.
func Compile(expr string, functions map[string]bool) ([]Token, error) {
	toks, err := Tokenize(expr)
	if err != nil {
		return nil, err
	}
	c := NewCompiler(functions)
	for _, t := range toks {
		c.Add(t)
	}
	return c.Finish(), nil
}
