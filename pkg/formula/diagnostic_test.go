package formula

import (
	"errors"
	"strings"
	"testing"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

func TestDiagnoseSyntaxError(t *testing.T) {
	src := "A=1\nB=)\nC=2"
	_, err := ParseProgram(src)
	if err == nil {
		t.Fatal("expected error")
	}

	got := Diagnose(src, err)
	want := `SyntaxError at line 2, column 3: unexpected token RPAREN (")")

   1 | A=1
   2 | B=)
     |   ^
   3 | C=2
`
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestDiagnoseUnderlinesWholeToken(t *testing.T) {
	src := "X=Масса навески/1"
	err := types.NewNameError("Масса навески").At(types.Position{Line: 1, Column: 3, Length: 13})
	got := Diagnose(src, err)
	if !strings.Contains(got, "     |   ^~~~~~~~~~~~~\n") {
		t.Errorf("underline missing:\n%s", got)
	}
	if strings.Contains(got, "   0 |") || strings.Contains(got, "   2 |") {
		t.Errorf("unexpected context lines:\n%s", got)
	}
}

func TestDiagnoseKeepsTabs(t *testing.T) {
	src := "\tA=#"
	_, err := NewLexer(src).Tokenize()
	got := Diagnose(src, err)
	if !strings.Contains(got, "     | \t  ^\n") {
		t.Errorf("got:\n%q", got)
	}
}

func TestDiagnoseWithoutPosition(t *testing.T) {
	if got := Diagnose("A=1", errors.New("boom")); got != "boom" {
		t.Errorf("got %q", got)
	}
	if got := Diagnose("A=1", types.NewUserRaisedError("stop")); got != "UserRaisedError: stop" {
		t.Errorf("got %q", got)
	}
	if got := Diagnose("A=1", nil); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestDiagnoseRuntimeError(t *testing.T) {
	src := "Z=0\nY=5/Z"
	node, err := ParseProgram(src)
	if err != nil {
		t.Fatal(err)
	}
	_, err = NewEvaluator(nil).Evaluate(node, testVars{})
	got := Diagnose(src, err)
	if !strings.HasPrefix(got, "ZeroDivisionError at line 2, column 4: division by zero: variable 'Z' is 0") {
		t.Errorf("got:\n%s", got)
	}
}
