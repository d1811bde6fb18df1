package stdlib

import (
	"fmt"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// registerConditional registers IF and its Russian alias.
func (r *Registry) registerConditional() {
	r.Register("IF", conditional("IF"))
	r.Register("ЕСЛИ", conditional("ЕСЛИ"))
}

// conditional selects the second argument when the condition holds and the
// third otherwise. A comparison result holds when true; a number holds only
// when it is exactly 1.
func conditional(name string) Func {
	return func(args []types.Value) (types.Value, error) {
		if err := requireArgs(name, args, 3, 3); err != nil {
			return types.Null, err
		}

		var holds bool
		switch cond := args[0]; cond.Type() {
		case types.TypeBool:
			holds = cond.AsBool()
		case types.TypeNumber:
			n, _ := cond.AsNumber()
			holds = n == 1
		default:
			return types.Null, types.NewTypeError(
				fmt.Sprintf("%s: condition must be a comparison or a number, got %s", name, cond.Type()))
		}

		if holds {
			return args[1], nil
		}
		return args[2], nil
	}
}
