package formula

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// keywords maps reserved words to their token types. A keyword ends the
// identifier in front of it and is never merged into one.
var keywords = map[string]TokenType{
	"И":   TokenAnd,
	"ИЛИ": TokenOr,
}

// placeholders are bare words that stand for a value the user enters later.
var placeholders = map[string]TokenType{
	"Дата":  TokenDate,
	"Время": TokenTime,
}

var (
	datePattern = regexp.MustCompile(`^(\d{2}\.\d{2}\.\d{4}|\d{4}-\d{2}-\d{2})$`)
	timePattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)
)

// Mark is a saved lexer position. It is only meaningful for the lexer that
// produced it.
type Mark struct {
	pos       int
	line      int
	lineStart int
}

// Lexer tokenizes formula source text on demand.
type Lexer struct {
	input     []rune
	pos       int
	line      int
	lineStart int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: []rune(input), line: 1}
}

// Mark saves the current position.
func (l *Lexer) Mark() Mark {
	return Mark{pos: l.pos, line: l.line, lineStart: l.lineStart}
}

// Reset rewinds (or fast-forwards) the lexer to a saved position.
func (l *Lexer) Reset(m Mark) {
	l.pos, l.line, l.lineStart = m.pos, m.line, m.lineStart
}

// Tokenize scans the rest of the input and returns all tokens, ending with
// TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// Next returns the next token from the input. Past the end of input it keeps
// returning TokenEOF.
func (l *Lexer) Next() (Token, error) {
	for l.pos < len(l.input) {
		ch := l.current()

		if ch == ' ' || ch == '\t' {
			l.skipWhitespace()
			continue
		}

		if ch == '{' {
			l.skipComment()
			continue
		}

		start := l.Mark()

		// Two-character operators
		switch string([]rune{ch, l.peek()}) {
		case "==":
			l.advanceN(2)
			return l.token(TokenEqual, "==", start), nil
		case "<>":
			l.advanceN(2)
			return l.token(TokenNotEqual, "<>", start), nil
		case ">=":
			l.advanceN(2)
			return l.token(TokenMoreOrEqual, ">=", start), nil
		case "<=":
			l.advanceN(2)
			return l.token(TokenLessOrEqual, "<=", start), nil
		}

		if ch == '"' {
			return l.readString()
		}

		if isDigit(ch) {
			return l.readNumber()
		}

		// Single-character tokens
		if tt, ok := singleChar[ch]; ok {
			l.advance()
			return l.token(tt, string(ch), start), nil
		}

		if isLetter(ch) {
			return l.readIdentifier()
		}

		if ch == '\r' || ch == '\n' {
			l.advance()
			if ch == '\r' && l.current() == '\n' {
				l.advance()
			}
			return l.token(TokenEnter, "\n", start), nil
		}

		return Token{}, types.NewLexicalError(
			fmt.Sprintf("invalid character %q", string(ch)),
			l.span(start))
	}

	return Token{Type: TokenEOF, Pos: l.span(l.Mark())}, nil
}

var singleChar = map[rune]TokenType{
	'>': TokenMore,
	'<': TokenLess,
	';': TokenSemi,
	'|': TokenPipe,
	'*': TokenMul,
	'/': TokenDiv,
	'-': TokenMinus,
	'+': TokenPlus,
	'^': TokenCaret,
	'(': TokenLParen,
	')': TokenRParen,
	'=': TokenAssign,
}

// readString reads a double-quoted literal. Content with a ';' is an array
// literal; content shaped like a date or a time becomes a date/time literal.
func (l *Lexer) readString() (Token, error) {
	start := l.Mark()
	l.advance() // skip opening quote

	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return Token{}, types.NewLexicalError("unterminated string literal", l.span(start))
		}
		ch := l.current()
		l.advance()
		if ch == '"' {
			break
		}
		sb.WriteRune(ch)
	}

	editable := false
	if l.current() == '+' {
		editable = true
		l.advance()
	}

	text := sb.String()
	switch {
	case strings.Contains(text, ";"):
		tok := l.token(TokenArray, text, start)
		tok.Values = strings.Split(text, ";")
		tok.Editable = editable
		return tok, nil
	case isDate(text):
		return l.token(TokenDate, text, start), nil
	case isTime(text):
		return l.token(TokenTime, text, start), nil
	default:
		return l.token(TokenString, text, start), nil
	}
}

// readNumber reads a real literal. Both ',' and '.' are accepted as the
// decimal separator; the token value always uses '.'.
func (l *Lexer) readNumber() (Token, error) {
	start := l.Mark()

	var sb strings.Builder
	l.readDigits(&sb)

	if ch := l.current(); ch == ',' || ch == '.' {
		sb.WriteByte('.')
		l.advance()
		l.readDigits(&sb)
	}

	if ch := l.current(); ch == 'e' || ch == 'E' {
		sb.WriteByte('e')
		l.advance()
		if ch := l.current(); ch == '+' || ch == '-' {
			sb.WriteRune(ch)
			l.advance()
		}
		l.readDigits(&sb)
	}

	raw := sb.String()
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Token{}, types.NewLexicalError(fmt.Sprintf("invalid number %q", raw), l.span(start))
	}
	tok := l.token(TokenReal, raw, start)
	tok.Num = f
	return tok, nil
}

func (l *Lexer) readDigits(sb *strings.Builder) {
	for isDigit(l.current()) {
		sb.WriteRune(l.current())
		l.advance()
	}
}

// identState is the state of the identifier scanner.
type identState int

const (
	identScanning identState = iota // expecting the next word
	identBoundary                   // a word was consumed; a single space may follow
	identDone
)

// readIdentifier reads a possibly multi-word identifier. Words are joined by
// single spaces; a reserved keyword either is the token (when nothing was
// read yet) or terminates the identifier in front of it.
func (l *Lexer) readIdentifier() (Token, error) {
	start := l.Mark()

	var sb strings.Builder
	state := identScanning
	for state != identDone {
		switch state {
		case identScanning:
			if !isWordOrSpace(l.current()) {
				state = identDone
				continue
			}
			word := l.peekWord()
			if kw, ok := keywords[word]; ok {
				if sb.Len() == 0 {
					l.advanceN(len([]rune(word)))
					return l.token(kw, word, start), nil
				}
				state = identDone
				continue
			}
			if word == "" {
				state = identDone
				continue
			}
			l.advanceN(len([]rune(word)))
			sb.WriteString(word)
			state = identBoundary

		case identBoundary:
			if l.current() == ' ' {
				sb.WriteByte(' ')
				l.advance()
			}
			state = identScanning
		}
	}

	name := strings.TrimRightFunc(sb.String(), unicode.IsSpace)
	if l.current() == '(' {
		return l.token(TokenFunc, name, start), nil
	}
	if kw, ok := keywords[name]; ok {
		return l.token(kw, name, start), nil
	}
	if tt, ok := placeholders[name]; ok {
		tok := l.token(tt, "", start)
		return tok, nil
	}
	return l.token(TokenIdent, name, start), nil
}

// peekWord returns the run of identifier characters at the current position
// without consuming it.
func (l *Lexer) peekWord() string {
	end := l.pos
	for end < len(l.input) && isWordChar(l.input[end]) {
		end++
	}
	return string(l.input[l.pos:end])
}

// skipComment skips a {...} comment. Comments do not nest; an unterminated
// comment runs to the end of the input.
func (l *Lexer) skipComment() {
	for l.pos < len(l.input) && l.current() != '}' {
		l.advance()
	}
	l.advance()
}

func (l *Lexer) skipWhitespace() {
	for ch := l.current(); ch == ' ' || ch == '\t'; ch = l.current() {
		l.advance()
	}
}

// current returns the rune under the cursor, or 0 at the end of input.
func (l *Lexer) current() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peek() rune {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *Lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	ch := l.input[l.pos]
	l.pos++
	if ch == '\n' || (ch == '\r' && l.current() != '\n') {
		l.line++
		l.lineStart = l.pos
	}
}

func (l *Lexer) advanceN(n int) {
	for range n {
		l.advance()
	}
}

// span returns the position of the text between start and the cursor.
func (l *Lexer) span(start Mark) types.Position {
	length := l.pos - start.pos
	if length == 0 && start.pos < len(l.input) {
		length = 1
	}
	return types.Position{
		Offset: start.pos,
		Line:   start.line,
		Column: start.pos - start.lineStart + 1,
		Length: length,
	}
}

func (l *Lexer) token(tt TokenType, value string, start Mark) Token {
	return Token{Type: tt, Value: value, Pos: l.span(start)}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

// isLetter accepts Latin and Cyrillic letters.
func isLetter(ch rune) bool {
	return unicode.IsLetter(ch) && (unicode.In(ch, unicode.Latin, unicode.Cyrillic))
}

// isWordChar reports whether ch may appear inside an identifier word.
func isWordChar(ch rune) bool {
	return isLetter(ch) || isDigit(ch) || ch == ',' || ch == '_' || ch == '.'
}

func isWordOrSpace(ch rune) bool {
	return isWordChar(ch) || (ch != 0 && unicode.IsSpace(ch))
}

func isDate(s string) bool {
	if !datePattern.MatchString(s) {
		return false
	}
	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

func isTime(s string) bool {
	if !timePattern.MatchString(s) {
		return false
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
