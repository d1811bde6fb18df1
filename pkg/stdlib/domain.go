package stdlib

import (
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// registerDomain registers the laboratory helpers. МТАБЛИЦА, ПОМЕТОДИКЕ and
// ЧЗП have no agreed semantics yet: they log their arguments and return a
// placeholder.
func (r *Registry) registerDomain() {
	r.Register("МТАБЛИЦА", r.tableLookup)
	r.Register("ПОМЕТОДИКЕ", r.byMethod)
	r.Register("ЧЗП", r.significantZeros)
	r.Register("ОШИБКА", raiseError)
}

// tableLookup implements МТАБЛИЦА(table; row; column). Always 0.
func (r *Registry) tableLookup(args []types.Value) (types.Value, error) {
	if err := requireArgs("МТАБЛИЦА", args, 3, 3); err != nil {
		return types.Null, err
	}
	r.logger.Warn("placeholder function called", "function", "МТАБЛИЦА",
		"table", args[0].String(), "row", args[1].String(), "column", args[2].String())
	return types.NewNumber(0), nil
}

// byMethod implements ПОМЕТОДИКЕ(value). Returns value unchanged.
func (r *Registry) byMethod(args []types.Value) (types.Value, error) {
	if err := requireArgs("ПОМЕТОДИКЕ", args, 1, 1); err != nil {
		return types.Null, err
	}
	if _, err := numberArg("ПОМЕТОДИКЕ", args, 0); err != nil {
		return types.Null, err
	}
	r.logger.Warn("placeholder function called", "function", "ПОМЕТОДИКЕ", "value", args[0].String())
	return args[0].Coerce(), nil
}

// significantZeros implements ЧЗП(value). Always 0.
func (r *Registry) significantZeros(args []types.Value) (types.Value, error) {
	if err := requireArgs("ЧЗП", args, 1, 1); err != nil {
		return types.Null, err
	}
	r.logger.Warn("placeholder function called", "function", "ЧЗП", "value", args[0].String())
	return types.NewNumber(0), nil
}

// raiseError implements ОШИБКА(text): it aborts evaluation with text.
func raiseError(args []types.Value) (types.Value, error) {
	if err := requireArgs("ОШИБКА", args, 1, 1); err != nil {
		return types.Null, err
	}
	return types.Null, types.NewUserRaisedError(args[0].Coerce().String())
}
