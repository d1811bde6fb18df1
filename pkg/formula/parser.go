package formula

import (
	"fmt"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Parser is a recursive descent parser for formula programs. It pulls tokens
// from the lexer one at a time and looks ahead by a single token.
type Parser struct {
	lexer   *Lexer
	current Token
	primed  bool
	tree    Node
	err     error
}

// NewParser creates a parser reading from l.
func NewParser(l *Lexer) *Parser {
	return &Parser{lexer: l}
}

// ParseProgram parses a complete program.
func ParseProgram(input string) (Node, error) {
	return NewParser(NewLexer(input)).Parse()
}

// ParseExpression parses a single expression that must span the whole input.
func ParseExpression(input string) (Node, error) {
	p := NewParser(NewLexer(input))
	if err := p.prime(); err != nil {
		return nil, err
	}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.eat(TokenEOF); err != nil {
		return nil, err
	}
	return node, nil
}

// Parse parses the program and returns its statement list. The outcome is
// settled by the first call; later calls return the same tree or the same
// error.
func (p *Parser) Parse() (Node, error) {
	if p.tree != nil || p.err != nil {
		return p.tree, p.err
	}
	if err := p.prime(); err != nil {
		p.err = err
		return nil, err
	}
	tree, err := p.parseProgram()
	if err != nil {
		p.err = err
		return nil, err
	}
	p.tree = tree
	return tree, nil
}

func (p *Parser) prime() error {
	if p.primed {
		return nil
	}
	p.primed = true
	return p.advance()
}

// advance reads the next token into current.
func (p *Parser) advance() error {
	tok, err := p.lexer.Next()
	if err != nil {
		return err
	}
	p.current = tok
	return nil
}

// eat consumes a token of the expected type or returns a syntax error.
func (p *Parser) eat(tt TokenType) error {
	if p.current.Type != tt {
		return p.errorf("expected %s, got %s", tt, describe(p.current))
	}
	return p.advance()
}

func (p *Parser) errorf(format string, args ...any) error {
	return types.NewSyntaxError(fmt.Sprintf(format, args...), p.current.Pos)
}

func describe(tok Token) string {
	if tok.Type == TokenEOF || tok.Type == TokenEnter {
		return tok.Type.String()
	}
	return fmt.Sprintf("%s (%q)", tok.Type, tok.Value)
}

// parseProgram parses statements until EOF.
func (p *Parser) parseProgram() (Node, error) {
	list, err := p.parseStatementList()
	if err != nil {
		return nil, err
	}
	if err := p.eat(TokenEOF); err != nil {
		return nil, err
	}
	return list, nil
}

// parseStatementList parses newline-separated statements. An identifier left
// over at a statement boundary means two statements share a line.
func (p *Parser) parseStatementList() (*StatementList, error) {
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	list := &StatementList{Statements: []Node{stmt}}

	for p.current.Type == TokenEnter {
		if err := p.advance(); err != nil {
			return nil, err
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		list.Statements = append(list.Statements, stmt)
	}

	if p.current.Type.IsName() {
		return nil, p.errorf("unexpected %s, expected end of statement", describe(p.current))
	}
	return list, nil
}

// parseStatement parses an assignment, a bare function call or nothing.
func (p *Parser) parseStatement() (Node, error) {
	switch p.current.Type {
	case TokenFunc:
		return p.parseCall()
	case TokenIdent:
		return p.parseAssignment()
	default:
		return &NoOpNode{}, nil
	}
}

func (p *Parser) parseAssignment() (Node, error) {
	target := p.current
	if err := p.eat(TokenIdent); err != nil {
		return nil, err
	}
	if err := p.eat(TokenAssign); err != nil {
		return nil, err
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &AssignNode{Target: target, Name: target.Value, Value: value}, nil
}

// parseExpression is the entry point for expressions.
// Precedence (low to high):
//
//	AND, OR                      (left-associative, same level)
//	>, <, >=, <=, ==, <>         (non-chaining)
//	+, -
//	*, /
//	unary +, unary -
//	^                            (right-associative)
//	literal, (expr), call, variable
func (p *Parser) parseExpression() (Node, error) {
	return p.parseLogical()
}

func (p *Parser) parseLogical() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenAnd || p.current.Type == TokenOr {
		op := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BooleanNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Node, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	switch p.current.Type {
	case TokenEqual, TokenNotEqual, TokenLess, TokenMore, TokenLessOrEqual, TokenMoreOrEqual:
		op := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		return &BooleanNode{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *Parser) parseAddition() (Node, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseMultiplication() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenMul || p.current.Type == TokenDiv {
		op := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseUnary() (Node, error) {
	if p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryNode{Op: op, Operand: operand}, nil
	}
	return p.parsePower()
}

func (p *Parser) parsePower() (Node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenCaret {
		return base, nil
	}
	op := p.current
	if err := p.advance(); err != nil {
		return nil, err
	}
	exponent, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &BinaryNode{Op: op, Left: base, Right: exponent}, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.current

	switch tok.Type {
	case TokenReal:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &NumberNode{Token: tok, Value: tok.Num}, nil
	case TokenString, TokenDate, TokenTime:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &StringNode{Token: tok, Value: tok.Value}, nil
	case TokenArray:
		if err := p.advance(); err != nil {
			return nil, err
		}
		values := make([]string, len(tok.Values))
		copy(values, tok.Values)
		return &ArrayNode{Token: tok, Values: values, Editable: tok.Editable}, nil
	case TokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		node, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if err := p.eat(TokenRParen); err != nil {
			return nil, err
		}
		return node, nil
	case TokenFunc:
		return p.parseCall()
	case TokenIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &VariableNode{Token: tok, Name: tok.Value}, nil
	default:
		return nil, p.errorf("unexpected token %s", describe(tok))
	}
}

// parseCall parses name(arg | arg ; arg ...). The first argument is
// optional; '|' and ';' are interchangeable separators.
func (p *Parser) parseCall() (Node, error) {
	tok := p.current
	if err := p.eat(TokenFunc); err != nil {
		return nil, err
	}
	if err := p.eat(TokenLParen); err != nil {
		return nil, err
	}

	var args []Node
	if p.current.Type != TokenRParen && p.current.Type != TokenPipe && p.current.Type != TokenSemi {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	for p.current.Type == TokenPipe || p.current.Type == TokenSemi {
		if err := p.advance(); err != nil {
			return nil, err
		}
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	if err := p.eat(TokenRParen); err != nil {
		return nil, err
	}
	return &CallNode{Token: tok, Name: tok.Value, Args: args}, nil
}
