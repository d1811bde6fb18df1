package formula

import (
	"math"
	"strings"
	"testing"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

// testVars implements Variables for testing.
type testVars map[string]types.Value

func (v testVars) Get(name string) (types.Value, bool) {
	val, ok := v[name]
	return val, ok
}

func (v testVars) Set(name string, val types.Value) {
	v[name] = val
}

// testFuncs implements Functions for testing.
type testFuncs map[string]func([]types.Value) (types.Value, error)

func (f testFuncs) CallFunction(name string, args []types.Value) (types.Value, error) {
	fn, ok := f[name]
	if !ok {
		return types.Null, types.NewUnknownFunctionError(name)
	}
	return fn(args)
}

func newTestFuncs() testFuncs {
	return testFuncs{
		"DOUBLE": func(args []types.Value) (types.Value, error) {
			n, _ := args[0].AsNumber()
			return types.NewNumber(n * 2), nil
		},
		"COUNT": func(args []types.Value) (types.Value, error) {
			return types.NewNumber(float64(len(args))), nil
		},
		"FAIL": func(args []types.Value) (types.Value, error) {
			return types.Null, types.NewUserRaisedError(args[0].String())
		},
	}
}

func evalExpr(t *testing.T, input string, vars testVars) types.Value {
	t.Helper()
	node, err := ParseExpression(input)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	got, err := NewEvaluator(newTestFuncs()).Evaluate(node, vars)
	if err != nil {
		t.Fatalf("eval error: %v", err)
	}
	return got
}

func runProgram(t *testing.T, input string, vars testVars) error {
	t.Helper()
	node, err := ParseProgram(input)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	_, err = NewEvaluator(newTestFuncs()).Evaluate(node, vars)
	return err
}

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"1+2", 3},
		{"10-3", 7},
		{"4*5", 20},
		{"10/4", 2.5},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"-5", -5},
		{"+5", 5},
		{"- -5", 5},
		{"2^10", 1024},
		{"-2^2", -4},
		{"2^3^2", 512},
		{"4^0,5", 2},
		{"1,5+1.5", 3},
		{"1e2/4", 25},
		{"(1<2)+1", 2},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, testVars{})
			n, ok := got.AsNumber()
			if !ok || got.Type() != types.TypeNumber {
				t.Fatalf("got %v (%s), want number", got, got.Type())
			}
			if math.Abs(n-tt.want) > 1e-12 {
				t.Errorf("got %v, want %v", n, tt.want)
			}
		})
	}
}

func TestEvalBoolean(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"1<2", true},
		{"2<1", false},
		{"2>1", true},
		{"1<=1", true},
		{"1>=2", false},
		{"3==3", true},
		{"3<>2", true},
		{"3<>3", false},
		{`"a"<"b"`, true},
		{`"abc"=="abc"`, true},
		{`"1"==1`, false},
		{"1<2 И 2<3", true},
		{"1<2 И 3<2", false},
		{"1>2 ИЛИ 2<3", true},
		{"0 ИЛИ 0", false},
		{"5 И 1", true},
		{"(1<2)==1", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, testVars{})
			if got.Type() != types.TypeBool {
				t.Fatalf("got %v (%s), want bool", got, got.Type())
			}
			if got.AsBool() != tt.want {
				t.Errorf("got %v, want %v", got.AsBool(), tt.want)
			}
		})
	}
}

func TestEvalLogicalOperatorsEvaluateBothSides(t *testing.T) {
	node, err := ParseExpression("0 И FAIL(\"right side ran\")")
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewEvaluator(newTestFuncs()).Evaluate(node, testVars{})
	if !types.HasTag(err, types.TagUserRaisedError) {
		t.Fatalf("got %v, want the right operand to be evaluated", err)
	}
}

func TestEvalStringConcatenation(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a" + "b"`, "ab"},
		{`"n=" + 5`, "n=5"},
		{`1,5 + "x"`, "1.5x"},
		{`"r" + (1<2)`, "r1"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := evalExpr(t, tt.input, testVars{})
			if got.Type() != types.TypeString || got.AsString() != tt.want {
				t.Errorf("got %v, want %q", got, tt.want)
			}
		})
	}
}

func TestEvalTypeErrors(t *testing.T) {
	for _, input := range []string{`"a" - 1`, `-"a"`, `"a" < 1`, `"a" * "b"`} {
		t.Run(input, func(t *testing.T) {
			node, err := ParseExpression(input)
			if err != nil {
				t.Fatal(err)
			}
			_, err = NewEvaluator(nil).Evaluate(node, testVars{})
			if !types.HasTag(err, types.TagTypeError) {
				t.Errorf("got %v, want TypeError", err)
			}
		})
	}
}

func TestEvalAssignment(t *testing.T) {
	vars := testVars{"A": types.NewNumber(5), "B1": types.NewNumber(1), "D": types.NewNumber(1), "Tx": types.NewNumber(1)}
	src := "C=(D-A)/B1\nX=(10*C*(1+0.0012*(Tx-15)))\nF=3<>2\nG=3<>3\nS=\"text\"\nH=Дата"
	if err := runProgram(t, src, vars); err != nil {
		t.Fatal(err)
	}

	checks := map[string]types.Value{
		"C": types.NewNumber(-4),
		"F": types.NewNumber(1),
		"G": types.NewNumber(0),
		"S": types.NewString("text"),
		"H": types.NewString(""),
	}
	for name, want := range checks {
		got, ok := vars[name]
		if !ok {
			t.Errorf("%s not assigned", name)
			continue
		}
		if !got.Equal(want) || got.Type() != want.Type() {
			t.Errorf("%s = %v (%s), want %v (%s)", name, got, got.Type(), want, want.Type())
		}
	}

	x, _ := vars["X"].AsNumber()
	if want := -40 * (1 + 0.0012*-14); math.Abs(x-want) > 1e-9 {
		t.Errorf("X = %v, want %v", x, want)
	}
}

func TestEvalAssignmentOverwrites(t *testing.T) {
	vars := testVars{"A": types.NewNumber(1)}
	if err := runProgram(t, "A=A+1\nA=A*10", vars); err != nil {
		t.Fatal(err)
	}
	if got, _ := vars["A"].AsNumber(); got != 20 {
		t.Errorf("A = %v, want 20", got)
	}
}

func TestEvalArrayAssignmentIsInert(t *testing.T) {
	vars := testVars{}
	if err := runProgram(t, `Метод="A;B;C"+`+"\nX=1", vars); err != nil {
		t.Fatal(err)
	}
	if _, ok := vars["Метод"]; ok {
		t.Error("array literal assignment bound a value")
	}
	if _, ok := vars["X"]; !ok {
		t.Error("statement after array assignment did not run")
	}
}

func TestEvalArrayFromScopeIsAssigned(t *testing.T) {
	vars := testVars{"A": types.NewArray([]string{"x", "y"})}
	if err := runProgram(t, "B=A", vars); err != nil {
		t.Fatal(err)
	}
	if got := vars["B"]; got.Type() != types.TypeArray || got.String() != "x;y" {
		t.Errorf("B = %v, want x;y", got)
	}
}

func TestEvalNameError(t *testing.T) {
	vars := testVars{}
	err := runProgram(t, "A=1\nB=A+Нет такой", vars)
	fe, ok := types.AsFormulaError(err)
	if !ok || fe.Tag != types.TagNameError {
		t.Fatalf("got %v, want NameError", err)
	}
	if fe.Name != "Нет такой" {
		t.Errorf("name = %q", fe.Name)
	}
	if fe.Pos.Line != 2 || fe.Pos.Column != 5 {
		t.Errorf("error at %s, want line 2, column 5", fe.Pos)
	}
	if _, ok := vars["A"]; !ok {
		t.Error("assignment before the failing statement was rolled back")
	}
}

func TestEvalDivisionByZero(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		vars     testVars
		wantName string
	}{
		{"literal divisor", "X=5/0", testVars{}, ""},
		{"variable divisor", "Y=5/Z", testVars{"Z": types.NewNumber(0)}, "Z"},
		{"expression divisor", "Y=5/(Z-Z)", testVars{"Z": types.NewNumber(3)}, ""},
		{"multi-word variable", "Y=1/Масса навески", testVars{"Масса навески": types.NewNumber(0)}, "Масса навески"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runProgram(t, tt.input, tt.vars)
			fe, ok := types.AsFormulaError(err)
			if !ok || fe.Tag != types.TagZeroDivisionError {
				t.Fatalf("got %v, want ZeroDivisionError", err)
			}
			if fe.Name != tt.wantName {
				t.Errorf("name = %q, want %q", fe.Name, tt.wantName)
			}
			if tt.wantName != "" && !strings.Contains(fe.Message, tt.wantName) {
				t.Errorf("message %q does not mention %q", fe.Message, tt.wantName)
			}
			if tt.wantName == "" && strings.Contains(fe.Message, "variable") {
				t.Errorf("message %q names a variable", fe.Message)
			}
		})
	}
}

func TestEvalFunctionCalls(t *testing.T) {
	vars := testVars{"A": types.NewNumber(4)}
	if err := runProgram(t, "B=double(A)\nC=Count(1; 2 | 3)\nD=COUNT()", vars); err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]float64{"B": 8, "C": 3, "D": 0} {
		if got, _ := vars[name].AsNumber(); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestEvalUnknownFunction(t *testing.T) {
	err := runProgram(t, "A=1\nB=nope(1)", testVars{})
	fe, ok := types.AsFormulaError(err)
	if !ok || fe.Tag != types.TagUnknownFunctionError {
		t.Fatalf("got %v, want UnknownFunctionError", err)
	}
	if fe.Name != "NOPE" {
		t.Errorf("name = %q, want NOPE", fe.Name)
	}
	if fe.Pos.Line != 2 || fe.Pos.Column != 3 {
		t.Errorf("error at %s, want line 2, column 3", fe.Pos)
	}
}

func TestEvalArgumentsEvaluatedLeftToRight(t *testing.T) {
	err := runProgram(t, `A=COUNT(FAIL("first"); FAIL("second"))`, testVars{})
	fe, ok := types.AsFormulaError(err)
	if !ok || fe.Message != "first" {
		t.Fatalf("got %v, want the first argument's error", err)
	}
}

func TestEvalComparisonResultIsStoredAsNumber(t *testing.T) {
	vars := testVars{}
	if err := runProgram(t, "A=1<2\nB=A+1", vars); err != nil {
		t.Fatal(err)
	}
	if vars["A"].Type() != types.TypeNumber {
		t.Errorf("A stored as %s, want number", vars["A"].Type())
	}
	if got, _ := vars["B"].AsNumber(); got != 2 {
		t.Errorf("B = %v, want 2", got)
	}
}
