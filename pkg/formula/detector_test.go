package formula

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lemonberrylabs/chemcalc/pkg/types"
)

const detectorProgram = `A=B+1
B=5
X="a;b;c"+
D="01.02.2024"
T="12:30"
F=Дата
Y=if(A; 1; 2)
A=3
Z=ln(Q) {Q is only read}`

func TestDetectorVariables(t *testing.T) {
	vars, err := DetectVariables(detectorProgram)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		name       string
		kind       VariableKind
		assignable bool
	}{
		{"A", KindPlain, true},
		{"B", KindPlain, false},
		{"X", KindArray, false},
		{"D", KindDate, false},
		{"T", KindTime, false},
		{"F", KindDate, false},
		{"Y", KindPlain, true},
		{"Z", KindPlain, true},
		{"Q", KindPlain, false},
	}
	if len(vars) != len(want) {
		t.Fatalf("got %d variables, want %d: %+v", len(vars), len(want), vars)
	}
	for i, w := range want {
		v := vars[i]
		if v.Name != w.name || v.Kind != w.kind || v.Assignable != w.assignable {
			t.Errorf("variable %d = {%s %s assignable=%v}, want {%s %s assignable=%v}",
				i, v.Name, v.Kind, v.Assignable, w.name, w.kind, w.assignable)
		}
	}

	x := vars[2]
	if strings.Join(x.PossibleValues, "|") != "a|b|c" || !x.Editable {
		t.Errorf("array metadata = %v editable=%v", x.PossibleValues, x.Editable)
	}
}

func TestDetectorNeverReportsCallTargetsOrDuplicates(t *testing.T) {
	inputs := []string{
		detectorProgram,
		"ln=ln(ln)",
		"A=if(A>1; A; 0)\nA=ЕСЛИ(B; A; B)",
		"Масса=ЦИФРЫ(Масса*2; 2; 1)\nЦИФРЫ=1",
	}
	for _, input := range inputs {
		vars, err := DetectVariables(input)
		if err != nil {
			t.Fatalf("%q: %v", input, err)
		}
		seen := make(map[string]bool)
		for _, v := range vars {
			if seen[v.Name] {
				t.Errorf("%q: %s reported twice", input, v.Name)
			}
			seen[v.Name] = true
		}
		// A name used only as a call target must not appear.
		if strings.Contains(input, "if(") && seen["if"] {
			t.Errorf("%q: call target reported as a variable", input)
		}
		if strings.Contains(input, "ЕСЛИ(") && seen["ЕСЛИ"] {
			t.Errorf("%q: call target reported as a variable", input)
		}
	}
}

func TestDetectorSameNameAsVariableAndFunction(t *testing.T) {
	vars, err := DetectVariables("ln=ln(ln)")
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars[0].Name != "ln" || !vars[0].Assignable {
		t.Errorf("got %+v, want one assignable ln", vars)
	}
}

func TestDetectorFirstOccurrenceWins(t *testing.T) {
	vars, err := DetectVariables("B=A\nA=\"x;y\"")
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %+v", vars)
	}
	if vars[1].Name != "A" || vars[1].Kind != KindPlain || vars[1].Assignable {
		t.Errorf("A = %+v, want the read-only first sighting", vars[1])
	}
}

func TestDetectorStringLiteralIsPlainAssignable(t *testing.T) {
	vars, err := DetectVariables(`S="text"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars[0].Kind != KindPlain || !vars[0].Assignable {
		t.Errorf("got %+v", vars)
	}
}

func TestDetectorSpecial(t *testing.T) {
	vars, err := NewDetector(NewLexer(detectorProgram)).Special()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, v := range vars {
		names = append(names, v.Name)
	}
	if got := strings.Join(names, ","); got != "X,D,T,F" {
		t.Errorf("got %s, want X,D,T,F", got)
	}
}

func TestDetectorRestoresLexer(t *testing.T) {
	l := NewLexer("A=1\nB=2")
	d := NewDetector(l)
	if _, err := d.Variables(); err != nil {
		t.Fatal(err)
	}
	tok, err := l.Next()
	if err != nil {
		t.Fatal(err)
	}
	if tok.Type != TokenIdent || tok.Value != "A" {
		t.Errorf("after Variables got %v, want A", tok)
	}

	// Detection starts where the lexer is and leaves it there.
	vars, err := d.Variables()
	if err != nil {
		t.Fatal(err)
	}
	if len(vars) != 1 || vars[0].Name != "B" {
		t.Errorf("got %+v, want only B", vars)
	}
	tok, _ = l.Next()
	if tok.Type != TokenAssign {
		t.Errorf("after second Variables got %v, want ASSIGN", tok)
	}
}

func TestDetectorRestoresLexerOnError(t *testing.T) {
	l := NewLexer("A=1\nB=#")
	_, err := NewDetector(l).Variables()
	if !types.HasTag(err, types.TagLexicalError) {
		t.Fatalf("got %v, want LexicalError", err)
	}
	tok, err := l.Next()
	if err != nil || tok.Value != "A" {
		t.Errorf("after failed scan got %v, %v", tok, err)
	}
}

func TestDetectorTokens(t *testing.T) {
	l := NewLexer("A=1+2")
	d := NewDetector(l)

	var kinds []TokenType
	for tok, err := range d.Tokens() {
		if err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, tok.Type)
	}
	want := []TokenType{TokenIdent, TokenAssign, TokenReal, TokenPlus, TokenReal, TokenEOF}
	if !sameTypes(kinds, want) {
		t.Errorf("got %v, want %v", kinds, want)
	}

	for tok := range d.Tokens() {
		if tok.Type == TokenAssign {
			break
		}
	}
	tok, _ := l.Next()
	if tok.Value != "A" {
		t.Errorf("early break did not restore lexer, got %v", tok)
	}
}

func TestDetectorTokensYieldsError(t *testing.T) {
	var gotErr error
	count := 0
	for _, err := range NewDetector(NewLexer("A=@")).Tokens() {
		count++
		if err != nil {
			gotErr = err
		}
	}
	if !types.HasTag(gotErr, types.TagLexicalError) {
		t.Errorf("got %v, want LexicalError", gotErr)
	}
	if count != 3 {
		t.Errorf("got %d items, want 3", count)
	}
}

func TestVariableJSON(t *testing.T) {
	data, err := json.Marshal(Variable{Name: "X", Kind: KindArray, PossibleValues: []string{"a"}, Editable: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"kind":"array"`) {
		t.Errorf("got %s", data)
	}

	var v Variable
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatal(err)
	}
	if v.Kind != KindArray || !v.Editable {
		t.Errorf("decoded %+v", v)
	}
}
