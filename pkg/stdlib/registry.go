// Package stdlib implements the built-in functions of the formula language.
package stdlib

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// Func is a built-in function signature.
type Func func(args []types.Value) (types.Value, error)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used by the placeholder functions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry holds the built-in functions keyed by uppercase name. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	funcs  map[string]Func
	logger *slog.Logger
}

// NewRegistry creates a registry with every built-in function registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		funcs:  make(map[string]Func),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registerMath()
	r.registerConditional()
	r.registerDigits()
	r.registerDomain()
	return r
}

// CallFunction calls the function registered under name.
func (r *Registry) CallFunction(name string, args []types.Value) (types.Value, error) {
	r.mu.RLock()
	fn, ok := r.funcs[strings.ToUpper(name)]
	r.mu.RUnlock()
	if !ok {
		return types.Null, types.NewUnknownFunctionError(name)
	}
	return fn(args)
}

// Register adds a function to the registry, replacing any function of the
// same name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[strings.ToUpper(name)] = fn
}

// Has reports whether a function is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[strings.ToUpper(name)]
	return ok
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// requireArgs checks that the number of args is in range.
func requireArgs(name string, args []types.Value, min, max int) error {
	if len(args) < min || len(args) > max {
		if min == max {
			return types.NewTypeError(fmt.Sprintf("%s expects %d argument(s), got %d", name, min, len(args)))
		}
		return types.NewTypeError(fmt.Sprintf("%s expects %d-%d arguments, got %d", name, min, max, len(args)))
	}
	return nil
}

// numberArg returns args[i] as a number. Comparison results count as 1 and 0.
func numberArg(name string, args []types.Value, i int) (float64, error) {
	n, ok := args[i].AsNumber()
	if !ok {
		return 0, types.NewTypeError(
			fmt.Sprintf("%s: argument %d must be a number, got %s", name, i+1, args[i].Type()))
	}
	return n, nil
}

// intArg returns args[i] as an integer. Fractions are rejected.
func intArg(name string, args []types.Value, i int) (int, error) {
	n, err := numberArg(name, args, i)
	if err != nil {
		return 0, err
	}
	if n != float64(int(n)) {
		return 0, types.NewValueError(
			fmt.Sprintf("%s: argument %d must be an integer, got %s", name, i+1, types.FormatNumber(n)))
	}
	return int(n), nil
}

// unary wraps a one-argument numeric function.
func unary(name string, fn func(float64) float64) Func {
	return func(args []types.Value) (types.Value, error) {
		if err := requireArgs(name, args, 1, 1); err != nil {
			return types.Null, err
		}
		x, err := numberArg(name, args, 0)
		if err != nil {
			return types.Null, err
		}
		return types.NewNumber(fn(x)), nil
	}
}
