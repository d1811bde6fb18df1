// Package hostexpr evaluates converted formula text with the expr-lang
// expression engine.
package hostexpr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/lemonberrylabs/chemcalc/pkg/formula"
	"github.com/lemonberrylabs/chemcalc/pkg/runtime"
	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// assignment matches `name = expression` but not `name == expression`.
var assignment = regexp.MustCompile(`^\s*([\p{L}\p{N}_]+)\s*=([^=].*)$`)

// Evaluate runs expression, the output of formula.Converter, line by line.
// A line of the form `name = expression` binds name for the lines after it.
// Variables of vars are visible under their converted names and every
// function of registry can be called by its upper-case name. The value of
// the last line is returned, with comparison results as 1 or 0.
func Evaluate(expression string, vars *runtime.Scope, registry *stdlib.Registry) (types.Value, error) {
	if registry == nil {
		registry = stdlib.NewRegistry()
	}

	env := make(map[string]any)
	if vars != nil {
		for name, v := range vars.ToMap() {
			env[formula.HostName(name)] = v
		}
	}

	opts := functions(registry)
	result := types.Null
	for i, line := range strings.Split(expression, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		target, source := "", line
		if m := assignment.FindStringSubmatch(line); m != nil {
			target, source = m[1], m[2]
		}

		out, err := run(source, env, opts)
		if err != nil {
			return types.Null, fmt.Errorf("line %d: %w", i+1, err)
		}
		v, err := types.ValueFromGo(out)
		if err != nil {
			return types.Null, fmt.Errorf("line %d: %w", i+1, err)
		}
		result = v.Coerce()
		if target != "" {
			env[target] = result.ToGoValue()
		}
	}
	return result, nil
}

func run(source string, env map[string]any, opts []expr.Option) (any, error) {
	program, err := expr.Compile(source, append([]expr.Option{expr.Env(env)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// functions exposes the registry to the engine.
func functions(registry *stdlib.Registry) []expr.Option {
	names := registry.Names()
	opts := make([]expr.Option, 0, len(names))
	for _, name := range names {
		opts = append(opts, expr.Function(name, func(params ...any) (any, error) {
			args := make([]types.Value, len(params))
			for i, p := range params {
				v, err := types.ValueFromGo(p)
				if err != nil {
					return nil, err
				}
				args[i] = v
			}
			v, err := registry.CallFunction(name, args)
			if err != nil {
				return nil, err
			}
			return v.ToGoValue(), nil
		}))
	}
	return opts
}
