package formula

import (
	"fmt"
	"iter"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// VariableKind classifies a detected variable by the literal assigned to it.
type VariableKind int

const (
	KindPlain VariableKind = iota
	KindArray
	KindDate
	KindTime
)

// String returns the kind name.
func (k VariableKind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindArray:
		return "array"
	case KindDate:
		return "date"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k VariableKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *VariableKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "plain":
		*k = KindPlain
	case "array":
		*k = KindArray
	case "date":
		*k = KindDate
	case "time":
		*k = KindTime
	default:
		return fmt.Errorf("unknown variable kind %q", text)
	}
	return nil
}

// Special reports whether the kind is one the user picks or enters rather
// than computes.
func (k VariableKind) Special() bool {
	return k != KindPlain
}

// Variable records how an identifier is used by a program.
type Variable struct {
	Name string       `json:"name" yaml:"name"`
	Kind VariableKind `json:"kind" yaml:"kind"`

	// Assignable is set when the first sighting is the left-hand side of an
	// assignment.
	Assignable bool `json:"assignable" yaml:"assignable"`

	// Array variables only.
	PossibleValues []string `json:"possibleValues,omitempty" yaml:"possibleValues,omitempty"`
	Editable       bool     `json:"editable,omitempty" yaml:"editable,omitempty"`

	Pos types.Position `json:"position" yaml:"position"`
}

// Detector finds the variables a program uses without executing it.
type Detector struct {
	lexer *Lexer
}

// NewDetector creates a detector over l. Each scan starts at the lexer's
// current position and leaves it where it was.
func NewDetector(l *Lexer) *Detector {
	return &Detector{lexer: l}
}

// DetectVariables is a shorthand for NewDetector(NewLexer(source)).Variables().
func DetectVariables(source string) ([]Variable, error) {
	return NewDetector(NewLexer(source)).Variables()
}

// Variables returns every distinct identifier in order of first appearance.
// Only the first sighting of a name classifies it; call targets are never
// reported.
func (d *Detector) Variables() ([]Variable, error) {
	mark := d.lexer.Mark()
	defer d.lexer.Reset(mark)

	var window [3]Token
	for i := range window {
		tok, err := d.lexer.Next()
		if err != nil {
			return nil, err
		}
		window[i] = tok
	}

	seen := make(map[string]bool)
	var vars []Variable
	for window[0].Type != TokenEOF {
		cur := window[0]
		if cur.Type == TokenIdent && !seen[cur.Value] {
			seen[cur.Value] = true
			vars = append(vars, classify(cur, window[1], window[2]))
		}

		next, err := d.lexer.Next()
		if err != nil {
			return nil, err
		}
		window[0], window[1], window[2] = window[1], window[2], next
	}
	return vars, nil
}

// classify decides the kind of an identifier from the two tokens after it.
func classify(id, next, value Token) Variable {
	v := Variable{Name: id.Value, Kind: KindPlain, Pos: id.Pos}
	if next.Type != TokenAssign {
		return v
	}

	switch value.Type {
	case TokenArray:
		v.Kind = KindArray
		v.PossibleValues = append([]string(nil), value.Values...)
		v.Editable = value.Editable
	case TokenDate:
		v.Kind = KindDate
	case TokenTime:
		v.Kind = KindTime
	default:
		v.Assignable = true
	}
	return v
}

// Special returns only the array, date and time variables.
func (d *Detector) Special() ([]Variable, error) {
	vars, err := d.Variables()
	if err != nil {
		return nil, err
	}
	special := vars[:0]
	for _, v := range vars {
		if v.Kind.Special() {
			special = append(special, v)
		}
	}
	return special, nil
}

// Tokens iterates over the remaining tokens up to and including EOF. A
// lexical error is yielded once and ends the sequence. The lexer position is
// restored when iteration stops.
func (d *Detector) Tokens() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		mark := d.lexer.Mark()
		defer d.lexer.Reset(mark)

		for {
			tok, err := d.lexer.Next()
			if err != nil {
				yield(Token{}, err)
				return
			}
			if !yield(tok, nil) || tok.Type == TokenEOF {
				return
			}
		}
	}
}
