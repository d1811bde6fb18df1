// Package formula implements the laboratory formula language: a tokenizer,
// a recursive descent parser, a tree-walking evaluator, and two standalone
// passes over the token stream (variable detection and conversion to a host
// expression syntax).
package formula

import (
	"fmt"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Literals
	TokenReal   TokenType = iota // numeric literal
	TokenString                  // "text"
	TokenArray                   // "a;b;c" with optional trailing +
	TokenDate                    // date literal
	TokenTime                    // time literal

	// Names
	TokenIdent // variable name, possibly multi-word
	TokenFunc  // name immediately followed by (

	// Arithmetic
	TokenAssign // =
	TokenPlus   // +
	TokenMinus  // -
	TokenMul    // *
	TokenDiv    // /
	TokenCaret  // ^

	// Punctuation
	TokenLParen // (
	TokenRParen // )
	TokenSemi   // ;
	TokenPipe   // |

	// Comparison
	TokenEqual       // ==
	TokenNotEqual    // <>
	TokenLess        // <
	TokenMore        // >
	TokenLessOrEqual // <=
	TokenMoreOrEqual // >=

	// Logical
	TokenAnd // И
	TokenOr  // ИЛИ

	// Special
	TokenEnter // end of statement (newline)
	TokenEOF   // end of input
)

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenReal:
		return "REAL_CONST"
	case TokenString:
		return "STRING_CONST"
	case TokenArray:
		return "ARRAY_CONST"
	case TokenDate:
		return "DATE_CONST"
	case TokenTime:
		return "TIME_CONST"
	case TokenIdent:
		return "ID"
	case TokenFunc:
		return "FUNC"
	case TokenAssign:
		return "ASSIGN"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	case TokenMul:
		return "MUL"
	case TokenDiv:
		return "DIV"
	case TokenCaret:
		return "CARET"
	case TokenLParen:
		return "LPAREN"
	case TokenRParen:
		return "RPAREN"
	case TokenSemi:
		return "SEMI"
	case TokenPipe:
		return "PIPE"
	case TokenEqual:
		return "EQUAL"
	case TokenNotEqual:
		return "NOT_EQUAL"
	case TokenLess:
		return "LESS"
	case TokenMore:
		return "MORE"
	case TokenLessOrEqual:
		return "LESS_OR_EQUAL"
	case TokenMoreOrEqual:
		return "MORE_OR_EQUAL"
	case TokenAnd:
		return "AND"
	case TokenOr:
		return "OR"
	case TokenEnter:
		return "ENTER"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// IsName reports whether the token names a variable or a function.
func (t TokenType) IsName() bool {
	return t == TokenIdent || t == TokenFunc
}

// Token represents a single lexical token. Tokens are immutable values.
type Token struct {
	Type  TokenType
	Value string  // literal text: name, string content, normalized number
	Num   float64 // parsed number (for TokenReal)

	// Array literals only.
	Values   []string
	Editable bool

	Pos types.Position // where the token starts in the source
}

// String returns a debug-friendly representation of the token.
func (t Token) String() string {
	if t.Type == TokenEOF {
		return "Token(EOF)"
	}
	return fmt.Sprintf("Token(%s, %q)", t.Type, t.Value)
}
