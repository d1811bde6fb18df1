package runtime

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/lemonberrylabs/chemcalc/pkg/stdlib"
	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

func interpret(t *testing.T, source string, opts ...Option) *Scope {
	t.Helper()
	scope, err := New(source, opts...).Interpret()
	if err != nil {
		t.Fatalf("interpret error: %v", err)
	}
	return scope
}

func interpretExpectError(t *testing.T, source string, opts ...Option) (*Scope, error) {
	t.Helper()
	scope, err := New(source, opts...).Interpret()
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	return scope, err
}

func numberOf(t *testing.T, scope *Scope, name string) float64 {
	t.Helper()
	v, ok := scope.Get(name)
	if !ok {
		t.Fatalf("%s not bound", name)
	}
	n, ok := v.AsNumber()
	if !ok {
		t.Fatalf("%s = %v (%s), want a number", name, v, v.Type())
	}
	return n
}

func TestInterpretConditional(t *testing.T) {
	tests := []struct {
		source string
		want   float64
	}{
		{"C=if(0; 1; 3)", 3},
		{"C=if(1; 1; 3)", 1},
		{"C=if(2; 1; 3)", 3},
		{"C=IF(2>1 | 10 | 20)", 10},
		{"C=ЕСЛИ(1>2; 10; 20)", 20},
		{"C=если(1<2 И 2<3; 10; 20)", 10},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			scope := interpret(t, tt.source)
			if got := numberOf(t, scope, "C"); got != tt.want {
				t.Errorf("C = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInterpretNotEqual(t *testing.T) {
	scope := interpret(t, "F=3<>2\nG=3<>3")
	if got := numberOf(t, scope, "F"); got != 1 {
		t.Errorf("F = %v, want 1", got)
	}
	if got := numberOf(t, scope, "G"); got != 0 {
		t.Errorf("G = %v, want 0", got)
	}
}

func TestInterpretLaboratoryProgram(t *testing.T) {
	source := `
C=(D-A)/B1


X=(10*C*(1+0.0012*(Tx-15)))
F=Дата
G=Время
Результат=ЦИФРЫ(X; 2; 1)
`
	scope := interpret(t, source, WithVariables(map[string]any{
		"B1": 1,
		"Tx": 1,
		"D":  1,
		"A":  5,
	}))

	if got := numberOf(t, scope, "C"); got != -4 {
		t.Errorf("C = %v, want -4", got)
	}
	x := numberOf(t, scope, "X")
	if want := -40 * (1 + 0.0012*(1-15)); math.Abs(x-want) > 1e-9 {
		t.Errorf("X = %v, want %v", x, want)
	}
	if got := numberOf(t, scope, "Результат"); got != -39.33 {
		t.Errorf("Результат = %v, want -39.33", got)
	}
	for _, name := range []string{"F", "G"} {
		v, ok := scope.Get(name)
		if !ok || v.Type() != types.TypeString || v.AsString() != "" {
			t.Errorf("%s = %v, want empty string", name, v)
		}
	}

	want := []string{"A", "B1", "D", "Tx", "C", "X", "F", "G", "Результат"}
	got := scope.Names()
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names = %v, want %v", got, want)
			break
		}
	}
}

func TestInterpretDivisionByZero(t *testing.T) {
	_, err := interpretExpectError(t, "X=5/0")
	fe, ok := types.AsFormulaError(err)
	if !ok || fe.Tag != types.TagZeroDivisionError || fe.Name != "" {
		t.Errorf("literal divisor: got %v", err)
	}

	_, err = interpretExpectError(t, "Y=5/Z", WithVariables(map[string]any{"Z": 0}))
	fe, ok = types.AsFormulaError(err)
	if !ok || fe.Tag != types.TagZeroDivisionError || fe.Name != "Z" {
		t.Errorf("variable divisor: got %v", err)
	}
}

func TestInterpretKeepsEarlierAssignmentsOnFailure(t *testing.T) {
	scope, err := interpretExpectError(t, "A=1\nB=A+1\nC=Нет\nD=4")
	if !types.HasTag(err, types.TagNameError) {
		t.Fatalf("got %v, want NameError", err)
	}
	if scope == nil {
		t.Fatal("scope not returned with the error")
	}
	if got := numberOf(t, scope, "B"); got != 2 {
		t.Errorf("B = %v, want 2", got)
	}
	if scope.Exists("D") {
		t.Error("statement after the failure ran")
	}
}

func TestInterpretParseErrorReturnsNoScope(t *testing.T) {
	for _, source := range []string{"A=(1", "A=1 # 2"} {
		scope, err := interpretExpectError(t, source)
		if scope != nil {
			t.Errorf("%q: got scope %v with error %v", source, scope.Names(), err)
		}
	}
}

func TestInterpretRepeatsParseError(t *testing.T) {
	tests := []struct {
		source string
		tag    string
	}{
		{"A=(1", types.TagSyntaxError},
		{"A=1$", types.TagLexicalError},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			in := New(tt.source)
			if in.Source() != tt.source {
				t.Fatalf("Source() = %q", in.Source())
			}
			_, first := in.Interpret()
			scope, second := in.Interpret()
			if !types.HasTag(first, tt.tag) {
				t.Fatalf("first run: got %v, want %s", first, tt.tag)
			}
			if second == nil || second.Error() != first.Error() {
				t.Errorf("second run: got %v, want %v", second, first)
			}
			if scope != nil {
				t.Errorf("second run returned scope %v", scope.Names())
			}
		})
	}
}

func TestInterpretUserRaisedError(t *testing.T) {
	_, err := interpretExpectError(t, `A=1`+"\n"+`ОШИБКА("Нет навески")`)
	fe, ok := types.AsFormulaError(err)
	if !ok || fe.Tag != types.TagUserRaisedError || fe.Message != "Нет навески" {
		t.Fatalf("got %v", err)
	}
	if fe.Pos.Line != 2 {
		t.Errorf("error at %s, want line 2", fe.Pos)
	}
}

func TestInterpretUnknownFunction(t *testing.T) {
	_, err := interpretExpectError(t, "A=nope(1)")
	if !types.HasTag(err, types.TagUnknownFunctionError) {
		t.Errorf("got %v, want UnknownFunctionError", err)
	}
}

func TestInterpretFreshScopePerRun(t *testing.T) {
	in := New("A=A+1", WithVariables(map[string]any{"A": 1}))
	for i := 0; i < 2; i++ {
		scope, err := in.Interpret()
		if err != nil {
			t.Fatal(err)
		}
		if got := numberOf(t, scope, "A"); got != 2 {
			t.Errorf("run %d: A = %v, want 2", i, got)
		}
	}
}

func TestInterpretNoStateLeaksBetweenInterpreters(t *testing.T) {
	if _, err := New("A=1\nB=(").Interpret(); err == nil {
		t.Fatal("expected syntax error")
	}
	if _, err := New("A=1\nB=Z").Interpret(); err == nil {
		t.Fatal("expected name error")
	}
	scope := interpret(t, "A=2\nB=A*3")
	if got := numberOf(t, scope, "B"); got != 6 {
		t.Errorf("B = %v, want 6", got)
	}
	if scope.Exists("Z") {
		t.Error("binding leaked from an earlier run")
	}
}

func TestInterpretWithScope(t *testing.T) {
	initial := NewScope()
	initial.Set("A", types.NewNumber(2))

	scope := interpret(t, "A=A*10", WithScope(initial))
	if got := numberOf(t, scope, "A"); got != 20 {
		t.Errorf("A = %v, want 20", got)
	}
	if got, _ := initial.Get("A"); !got.Equal(types.NewNumber(2)) {
		t.Errorf("initial scope was mutated: A = %v", got)
	}
}

func TestInterpretInvalidVariables(t *testing.T) {
	_, err := New("A=1", WithVariables(map[string]any{"B": nil})).Interpret()
	if !types.HasTag(err, types.TagTypeError) {
		t.Errorf("got %v, want TypeError", err)
	}
}

func TestFunctionResolution(t *testing.T) {
	funcs := map[string]stdlib.Func{
		"abs": func(args []types.Value) (types.Value, error) {
			return types.NewNumber(42), nil
		},
		"Удвоить": func(args []types.Value) (types.Value, error) {
			n, _ := args[0].AsNumber()
			return types.NewNumber(2 * n), nil
		},
	}

	tests := []struct {
		name       string
		resolution Resolution
		wantAbs    float64
	}{
		{"builtins win", ResolveBuiltins, 1},
		{"caller first", ResolveCallerFirst, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := interpret(t, "A=ABS(-1)\nB=удвоить(4)",
				WithFunctions(funcs), WithResolution(tt.resolution))
			if got := numberOf(t, scope, "A"); got != tt.wantAbs {
				t.Errorf("A = %v, want %v", got, tt.wantAbs)
			}
			if got := numberOf(t, scope, "B"); got != 8 {
				t.Errorf("B = %v, want 8", got)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		want    Resolution
		wantErr bool
	}{
		{"", ResolveBuiltins, false},
		{"builtins", ResolveBuiltins, false},
		{"Caller-First", ResolveCallerFirst, false},
		{"caller", ResolveCallerFirst, false},
		{"scope", ResolveBuiltins, true},
	}
	for _, tt := range tests {
		got, err := ParseResolution(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseResolution(%q) = %v, %v", tt.in, got, err)
		}
	}
	if ResolveCallerFirst.String() != "caller-first" {
		t.Errorf("String() = %q", ResolveCallerFirst.String())
	}
}

func TestInterpretPlaceholderLogsThroughLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	scope := interpret(t, `A=МТАБЛИЦА("Плотность"; 1; 2)`, WithLogger(logger))
	if got := numberOf(t, scope, "A"); got != 0 {
		t.Errorf("A = %v, want 0", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("МТАБЛИЦА")) {
		t.Errorf("placeholder call not logged: %s", buf.String())
	}
}

func TestInterpreterVariables(t *testing.T) {
	vars, err := New(`M="a;b"` + "\nX=M+Y").Variables()
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 3 || vars[0].Name != "M" || vars[2].Name != "Y" {
		t.Errorf("got %+v", vars)
	}
}
