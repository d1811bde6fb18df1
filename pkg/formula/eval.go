package formula

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Variables is the mutable environment an evaluation reads and writes.
type Variables interface {
	// Get returns the value bound to name.
	Get(name string) (types.Value, bool)

	// Set binds name to v, overwriting any previous value.
	Set(name string, v types.Value)
}

// Functions resolves function calls. Names arrive uppercased.
type Functions interface {
	CallFunction(name string, args []types.Value) (types.Value, error)
}

// EvalOption configures an Evaluator.
type EvalOption func(*Evaluator)

// WithEvalLogger sets the logger that traces assignments and calls at debug
// level.
func WithEvalLogger(logger *slog.Logger) EvalOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Evaluator walks a syntax tree and executes it against a set of variables.
// It holds no per-run state and may be reused.
type Evaluator struct {
	funcs  Functions
	logger *slog.Logger
}

// NewEvaluator creates an evaluator that resolves calls against funcs.
func NewEvaluator(funcs Functions, opts ...EvalOption) *Evaluator {
	e := &Evaluator{funcs: funcs, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates a node. Statements return types.Null; expressions return
// their value, where a comparison yields a boolean.
func (e *Evaluator) Evaluate(node Node, vars Variables) (types.Value, error) {
	switch n := node.(type) {
	case *StatementList:
		for _, stmt := range n.Statements {
			if _, err := e.Evaluate(stmt, vars); err != nil {
				return types.Null, err
			}
		}
		return types.Null, nil
	case *NoOpNode:
		return types.Null, nil
	case *AssignNode:
		return e.evalAssign(n, vars)
	case *NumberNode:
		return types.NewNumber(n.Value), nil
	case *StringNode:
		return types.NewString(n.Value), nil
	case *ArrayNode:
		return types.NewArray(n.Values), nil
	case *VariableNode:
		v, ok := vars.Get(n.Name)
		if !ok {
			return types.Null, types.NewNameError(n.Name).At(n.Token.Pos)
		}
		return v, nil
	case *BinaryNode:
		return e.evalBinary(n, vars)
	case *UnaryNode:
		return e.evalUnary(n, vars)
	case *BooleanNode:
		return e.evalBoolean(n, vars)
	case *CallNode:
		return e.evalCall(n, vars)
	default:
		return types.Null, fmt.Errorf("unsupported node type: %T", node)
	}
}

// evalAssign binds the value of the right-hand side. An array literal on the
// right-hand side describes the choices offered to the user, not a value, so
// it leaves the variables untouched.
func (e *Evaluator) evalAssign(n *AssignNode, vars Variables) (types.Value, error) {
	if _, ok := n.Value.(*ArrayNode); ok {
		e.logger.Debug("skipping array literal assignment", "name", n.Name)
		return types.Null, nil
	}

	v, err := e.Evaluate(n.Value, vars)
	if err != nil {
		return types.Null, err
	}
	v = v.Coerce()
	vars.Set(n.Name, v)
	e.logger.Debug("assign", "name", n.Name, "value", v.String())
	return types.Null, nil
}

func (e *Evaluator) evalBinary(n *BinaryNode, vars Variables) (types.Value, error) {
	left, err := e.Evaluate(n.Left, vars)
	if err != nil {
		return types.Null, err
	}
	right, err := e.Evaluate(n.Right, vars)
	if err != nil {
		return types.Null, err
	}
	left, right = left.Coerce(), right.Coerce()

	if n.Op.Type == TokenPlus && (left.Type() == types.TypeString || right.Type() == types.TypeString) {
		if left.Type() == types.TypeArray || right.Type() == types.TypeArray {
			return types.Null, operandError(n.Op, left, right)
		}
		return types.NewString(left.String() + right.String()), nil
	}

	a, aOk := left.AsNumber()
	b, bOk := right.AsNumber()
	if !aOk || !bOk {
		return types.Null, operandError(n.Op, left, right)
	}

	switch n.Op.Type {
	case TokenPlus:
		return types.NewNumber(a + b), nil
	case TokenMinus:
		return types.NewNumber(a - b), nil
	case TokenMul:
		return types.NewNumber(a * b), nil
	case TokenDiv:
		if b == 0 {
			var name string
			if ref, ok := n.Right.(*VariableNode); ok {
				name = ref.Name
			}
			return types.Null, types.NewZeroDivisionError(name).At(n.Op.Pos)
		}
		return types.NewNumber(a / b), nil
	case TokenCaret:
		return types.NewNumber(math.Pow(a, b)), nil
	default:
		return types.Null, fmt.Errorf("unsupported binary operator: %s", n.Op.Type)
	}
}

func operandError(op Token, left, right types.Value) error {
	return types.NewTypeError(
		fmt.Sprintf("unsupported operand types for %s: %s and %s", op.Value, left.Type(), right.Type())).At(op.Pos)
}

func (e *Evaluator) evalUnary(n *UnaryNode, vars Variables) (types.Value, error) {
	operand, err := e.Evaluate(n.Operand, vars)
	if err != nil {
		return types.Null, err
	}
	x, ok := operand.AsNumber()
	if !ok {
		return types.Null, types.NewTypeError(
			fmt.Sprintf("unary %s not supported for %s", n.Op.Value, operand.Type())).At(n.Op.Pos)
	}

	switch n.Op.Type {
	case TokenPlus:
		return types.NewNumber(x), nil
	case TokenMinus:
		return types.NewNumber(-x), nil
	default:
		return types.Null, fmt.Errorf("unsupported unary operator: %s", n.Op.Type)
	}
}

// evalBoolean evaluates comparisons and AND/OR. Both operands are always
// evaluated.
func (e *Evaluator) evalBoolean(n *BooleanNode, vars Variables) (types.Value, error) {
	left, err := e.Evaluate(n.Left, vars)
	if err != nil {
		return types.Null, err
	}
	right, err := e.Evaluate(n.Right, vars)
	if err != nil {
		return types.Null, err
	}

	switch n.Op.Type {
	case TokenAnd:
		return types.NewBool(left.Truthy() && right.Truthy()), nil
	case TokenOr:
		return types.NewBool(left.Truthy() || right.Truthy()), nil
	case TokenEqual:
		return types.NewBool(left.Equal(right)), nil
	case TokenNotEqual:
		return types.NewBool(!left.Equal(right)), nil
	}

	cmp, err := compare(left.Coerce(), right.Coerce())
	if err != nil {
		return types.Null, types.NewTypeError(err.Error()).At(n.Op.Pos)
	}

	switch n.Op.Type {
	case TokenLess:
		return types.NewBool(cmp < 0), nil
	case TokenMore:
		return types.NewBool(cmp > 0), nil
	case TokenLessOrEqual:
		return types.NewBool(cmp <= 0), nil
	case TokenMoreOrEqual:
		return types.NewBool(cmp >= 0), nil
	default:
		return types.Null, fmt.Errorf("unsupported boolean operator: %s", n.Op.Type)
	}
}

// compare returns negative, zero, or positive for ordering.
func compare(a, b types.Value) (int, error) {
	if a.Type() == types.TypeNumber && b.Type() == types.TypeNumber {
		an, _ := a.AsNumber()
		bn, _ := b.AsNumber()
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		}
		return 0, nil
	}

	if a.Type() == types.TypeString && b.Type() == types.TypeString {
		return strings.Compare(a.AsString(), b.AsString()), nil
	}

	return 0, fmt.Errorf("cannot compare %s and %s", a.Type(), b.Type())
}

func (e *Evaluator) evalCall(n *CallNode, vars Variables) (types.Value, error) {
	name := strings.ToUpper(n.Name)

	args := make([]types.Value, len(n.Args))
	for i, arg := range n.Args {
		val, err := e.Evaluate(arg, vars)
		if err != nil {
			return types.Null, err
		}
		args[i] = val
	}

	if e.funcs == nil {
		return types.Null, types.NewUnknownFunctionError(name).At(n.Token.Pos)
	}

	e.logger.Debug("call", "function", name, "args", len(args))
	result, err := e.funcs.CallFunction(name, args)
	if err != nil {
		if fe, ok := types.AsFormulaError(err); ok {
			return types.Null, fe.At(n.Token.Pos)
		}
		return types.Null, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}
