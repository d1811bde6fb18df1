package runtime

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Resolution decides which table a function call consults first when a
// caller-supplied function has the same name as a built-in.
type Resolution int

const (
	// ResolveBuiltins lets built-ins win. Caller functions only fill names
	// the built-in table lacks.
	ResolveBuiltins Resolution = iota
	// ResolveCallerFirst lets caller functions shadow built-ins.
	ResolveCallerFirst
)

// String returns the configuration name of the policy.
func (r Resolution) String() string {
	switch r {
	case ResolveBuiltins:
		return "builtins"
	case ResolveCallerFirst:
		return "caller-first"
	default:
		return "unknown"
	}
}

// ParseResolution parses a policy name as accepted in configuration.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "builtins":
		return ResolveBuiltins, nil
	case "caller-first", "caller":
		return ResolveCallerFirst, nil
	default:
		return ResolveBuiltins, fmt.Errorf("unknown function resolution %q (want builtins or caller-first)", s)
	}
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithVariables sets the initial bindings from decoded JSON/YAML values.
func WithVariables(vars map[string]any) Option {
	return func(in *Interpreter) {
		in.vars = vars
	}
}

// WithScope sets the initial bindings. The scope is copied for every run.
func WithScope(scope *Scope) Option {
	return func(in *Interpreter) {
		in.initial = scope
	}
}

// WithRegistry sets the built-in function table.
func WithRegistry(r *stdlib.Registry) Option {
	return func(in *Interpreter) {
		if r != nil {
			in.registry = r
		}
	}
}

// WithFunctions adds caller-supplied functions.
func WithFunctions(funcs map[string]stdlib.Func) Option {
	return func(in *Interpreter) {
		for name, fn := range funcs {
			in.funcs[strings.ToUpper(name)] = fn
		}
	}
}

// WithResolution sets the function resolution policy.
func WithResolution(r Resolution) Option {
	return func(in *Interpreter) {
		in.resolution = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Interpreter) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// Interpreter parses a program once and runs it against a fresh scope on
// every call to Interpret.
type Interpreter struct {
	source string
	parser *formula.Parser

	vars       map[string]any
	initial    *Scope
	registry   *stdlib.Registry
	funcs      map[string]stdlib.Func
	resolution Resolution
	logger     *slog.Logger
}

// New creates an interpreter for source with its own lexer and parser.
func New(source string, opts ...Option) *Interpreter {
	in := &Interpreter{
		source: source,
		parser: formula.NewParser(formula.NewLexer(source)),
		funcs:  make(map[string]stdlib.Func),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.registry == nil {
		in.registry = stdlib.NewRegistry(stdlib.WithLogger(in.logger))
	}
	return in
}

// Source returns the program text.
func (in *Interpreter) Source() string {
	return in.source
}

// Parse parses the program. The tree is built on the first call only.
func (in *Interpreter) Parse() (formula.Node, error) {
	return in.parser.Parse()
}

// Interpret parses the program if needed and runs it. The returned scope
// holds the initial bindings plus every assignment made. When a statement
// fails, the scope still reflects the statements before it and is returned
// together with the error.
func (in *Interpreter) Interpret() (*Scope, error) {
	tree, err := in.Parse()
	if err != nil {
		return nil, err
	}

	scope, err := in.initialScope()
	if err != nil {
		return nil, err
	}

	eval := formula.NewEvaluator(in.resolver(), formula.WithEvalLogger(in.logger))
	if _, err := eval.Evaluate(tree, scope); err != nil {
		in.logger.Debug("interpretation failed", "error", err)
		return scope, err
	}
	in.logger.Debug("interpretation complete", "variables", scope.Len())
	return scope, nil
}

// Variables reports the variables the program uses without running it.
func (in *Interpreter) Variables() ([]formula.Variable, error) {
	return formula.DetectVariables(in.source)
}

func (in *Interpreter) initialScope() (*Scope, error) {
	var scope *Scope
	if in.initial != nil {
		scope = in.initial.Clone()
	} else {
		scope = NewScope()
	}
	if len(in.vars) > 0 {
		extra, err := ScopeFromMap(in.vars)
		if err != nil {
			return nil, err
		}
		for _, name := range extra.Names() {
			v, _ := extra.Get(name)
			scope.Set(name, v)
		}
	}
	return scope, nil
}

func (in *Interpreter) resolver() *resolver {
	return &resolver{builtins: in.registry, caller: in.funcs, policy: in.resolution}
}

// resolver implements formula.Functions over the built-in table and the
// caller-supplied functions.
type resolver struct {
	builtins *stdlib.Registry
	caller   map[string]stdlib.Func
	policy   Resolution
}

func (r *resolver) CallFunction(name string, args []types.Value) (types.Value, error) {
	if r.policy == ResolveCallerFirst {
		if fn, ok := r.caller[name]; ok {
			return fn(args)
		}
	}
	if r.builtins.Has(name) {
		return r.builtins.CallFunction(name, args)
	}
	if fn, ok := r.caller[name]; ok {
		return fn(args)
	}
	return types.Null, types.NewUnknownFunctionError(name)
}
