package formula

import (
	"regexp"
	"strconv"
	"strings"
)

var nameSeparators = regexp.MustCompile(`\s+|,|\.`)

// HostName converts a formula identifier into one the host expression engine
// accepts: words and punctuation-separated parts are joined with '_'.
func HostName(name string) string {
	return strings.Join(nameSeparators.Split(name, -1), "_")
}

// Converter rewrites a program into host expression syntax: '&&' and '||'
// for the logical keywords, ',' between call arguments, '!=' for '<>' and
// quoted strings. Array literals become empty strings.
type Converter struct {
	lexer *Lexer
}

// NewConverter creates a converter over l.
func NewConverter(l *Lexer) *Converter {
	return &Converter{lexer: l}
}

// ConvertExpression is a shorthand for NewConverter(NewLexer(source)).Convert().
func ConvertExpression(source string) (string, error) {
	return NewConverter(NewLexer(source)).Convert()
}

// Convert converts the tokens from the lexer's current position to the end
// of input. The lexer position is restored afterwards.
//
// И and ИЛИ share one precedence level and group left to right, while the
// host binds '&&' tighter than '||'. When a chain switches operator, the
// operand built so far is wrapped in parentheses.
func (c *Converter) Convert() (string, error) {
	mark := c.lexer.Mark()
	defer c.lexer.Reset(mark)

	var out strings.Builder
	chains := []logicalChain{{}}
	for {
		tok, err := c.lexer.Next()
		if err != nil {
			return "", err
		}
		if tok.Type == TokenEOF {
			return out.String(), nil
		}

		top := &chains[len(chains)-1]
		switch tok.Type {
		case TokenAnd, TokenOr:
			if top.chained && top.op != tok.Type {
				s := out.String()
				out.Reset()
				out.WriteString(s[:top.start])
				out.WriteString("(")
				out.WriteString(s[top.start:])
				out.WriteString(")")
			}
			top.op = tok.Type
			top.chained = true
		case TokenRParen:
			if len(chains) > 1 {
				chains = chains[:len(chains)-1]
			}
		}

		out.WriteString(convertToken(tok))

		switch tok.Type {
		case TokenLParen:
			chains = append(chains, logicalChain{start: out.Len()})
		case TokenAssign, TokenSemi, TokenPipe:
			chains[len(chains)-1] = logicalChain{start: out.Len()}
		case TokenEnter:
			chains = []logicalChain{{start: out.Len()}}
		}
	}
}

// logicalChain tracks an И/ИЛИ chain within one statement and bracket depth.
type logicalChain struct {
	start   int // output offset where the chain's first operand begins
	op      TokenType
	chained bool
}

func convertToken(tok Token) string {
	switch tok.Type {
	case TokenArray:
		return "''"
	case TokenIdent:
		return HostName(tok.Value)
	case TokenFunc:
		return strings.ToUpper(HostName(tok.Value))
	case TokenAnd:
		return " && "
	case TokenOr:
		return " || "
	case TokenPipe, TokenSemi:
		return ", "
	case TokenNotEqual:
		return " != "
	case TokenString, TokenDate, TokenTime:
		return strconv.Quote(tok.Value)
	case TokenEnter:
		return "\n"
	default:
		return tok.Value
	}
}
