package types

import (
	"errors"
	"fmt"
)

// Error tag constants, one per failure class of the pipeline.
const (
	TagLexicalError         = "LexicalError"
	TagSyntaxError          = "SyntaxError"
	TagNameError            = "NameError"
	TagZeroDivisionError    = "ZeroDivisionError"
	TagUnknownFunctionError = "UnknownFunctionError"
	TagUserRaisedError      = "UserRaisedError"
	TagTypeError            = "TypeError"
	TagValueError           = "ValueError"
)

// Position locates a token in the source text. Offset counts runes from the
// start of the input; Line and Column are 1-based. A zero Line means the
// error has no known position.
type Position struct {
	Offset int `json:"offset"`
	Line   int `json:"line"`
	Column int `json:"column"`
	Length int `json:"length"`
}

// IsValid reports whether the position points into the source.
func (p Position) IsValid() bool {
	return p.Line > 0
}

// String renders the position as "line L, column C".
func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// FormulaError is a tagged, fatal interpretation error.
type FormulaError struct {
	Tag     string
	Message string
	Name    string   // offending variable or function name, if known
	Pos     Position // location of the offending token, if known
}

// Error implements the error interface.
func (e *FormulaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s at %s: %s", e.Tag, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

// HasTag returns true if the error carries the specified tag.
func (e *FormulaError) HasTag(tag string) bool {
	return e.Tag == tag
}

// At returns a copy of the error located at pos, keeping an existing
// position if one is already set.
func (e *FormulaError) At(pos Position) *FormulaError {
	if e.Pos.IsValid() {
		return e
	}
	c := *e
	c.Pos = pos
	return &c
}

// AsFormulaError unwraps err to a *FormulaError.
func AsFormulaError(err error) (*FormulaError, bool) {
	var fe *FormulaError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// HasTag reports whether err is a FormulaError with the given tag.
func HasTag(err error, tag string) bool {
	fe, ok := AsFormulaError(err)
	return ok && fe.HasTag(tag)
}

// Common error constructors.

// NewLexicalError creates a LexicalError for an unrecognized character.
func NewLexicalError(msg string, pos Position) *FormulaError {
	return &FormulaError{Tag: TagLexicalError, Message: msg, Pos: pos}
}

// NewSyntaxError creates a SyntaxError for an unexpected token.
func NewSyntaxError(msg string, pos Position) *FormulaError {
	return &FormulaError{Tag: TagSyntaxError, Message: msg, Pos: pos}
}

// NewNameError creates a NameError for an unresolved variable.
func NewNameError(name string) *FormulaError {
	return &FormulaError{
		Tag:     TagNameError,
		Message: fmt.Sprintf("name '%s' not found", name),
		Name:    name,
	}
}

// NewZeroDivisionError creates a ZeroDivisionError. name is the divisor
// variable when the divisor is a bare variable reference, otherwise empty.
func NewZeroDivisionError(name string) *FormulaError {
	msg := "division by zero"
	if name != "" {
		msg = fmt.Sprintf("division by zero: variable '%s' is 0", name)
	}
	return &FormulaError{Tag: TagZeroDivisionError, Message: msg, Name: name}
}

// NewUnknownFunctionError creates an UnknownFunctionError.
func NewUnknownFunctionError(name string) *FormulaError {
	return &FormulaError{
		Tag:     TagUnknownFunctionError,
		Message: fmt.Sprintf("unknown function '%s'", name),
		Name:    name,
	}
}

// NewUserRaisedError creates the error raised by the formula error function.
func NewUserRaisedError(msg string) *FormulaError {
	return &FormulaError{Tag: TagUserRaisedError, Message: msg}
}

// NewTypeError creates a TypeError.
func NewTypeError(msg string) *FormulaError {
	return &FormulaError{Tag: TagTypeError, Message: msg}
}

// NewValueError creates a ValueError.
func NewValueError(msg string) *FormulaError {
	return &FormulaError{Tag: TagValueError, Message: msg}
}
