package types

import (
	"encoding/json"
	"math"
	"testing"
)

func TestCoerce(t *testing.T) {
	if got := NewBool(true).Coerce(); got.Type() != TypeNumber || got.numberVal != 1 {
		t.Errorf("true coerced to %v", got)
	}
	if got := NewBool(false).Coerce(); got.Type() != TypeNumber || got.numberVal != 0 {
		t.Errorf("false coerced to %v", got)
	}
	if got := NewString("x").Coerce(); got.Type() != TypeString {
		t.Errorf("string coerced to %v", got)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{NewBool(true), true},
		{NewBool(false), false},
		{NewNumber(2), true},
		{NewNumber(0), false},
		{NewNumber(math.NaN()), false},
		{NewString(""), false},
		{NewString("a"), true},
		{NewArray(nil), false},
		{NewArray([]string{"a"}), true},
		{Null, false},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("Truthy(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{NewBool(true), NewNumber(1), true},
		{NewNumber(3), NewNumber(3), true},
		{NewNumber(3), NewString("3"), false},
		{NewString("a"), NewString("a"), true},
		{NewArray([]string{"a", "b"}), NewArray([]string{"a", "b"}), true},
		{NewArray([]string{"a"}), NewArray([]string{"a", "b"}), false},
		{Null, Null, true},
	}
	for _, tt := range tests {
		if got := tt.a.Equal(tt.b); got != tt.want {
			t.Errorf("%v == %v: got %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		f    float64
		want string
	}{
		{3, "3"},
		{-4, "-4"},
		{0.1, "0.1"},
		{1.25, "1.25"},
		{1e21, "1e+21"},
		{1e-7, "1e-07"},
		{math.Inf(1), "Infinity"},
		{math.NaN(), "NaN"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.f); got != tt.want {
			t.Errorf("FormatNumber(%v) = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestValueFromGo(t *testing.T) {
	tests := []struct {
		in   any
		want Value
	}{
		{5, NewNumber(5)},
		{int64(-2), NewNumber(-2)},
		{2.5, NewNumber(2.5)},
		{json.Number("1.5"), NewNumber(1.5)},
		{"text", NewString("text")},
		{true, NewBool(true)},
		{[]any{"a", 1}, NewArray([]string{"a", "1"})},
	}
	for _, tt := range tests {
		got, err := ValueFromGo(tt.in)
		if err != nil {
			t.Errorf("ValueFromGo(%v): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ValueFromGo(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, in := range []any{map[string]any{}, []any{[]any{"a"}}, struct{}{}} {
		if _, err := ValueFromGo(in); !HasTag(err, TagTypeError) {
			t.Errorf("ValueFromGo(%v): got %v, want TypeError", in, err)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{NewNumber(-39.33), `-39.33`},
		{NewString("проба"), `"проба"`},
		{NewArray([]string{"a", "b"}), `["a","b"]`},
		{NewNumber(math.Inf(-1)), `"-Infinity"`},
		{Null, `null`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.v)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("got %s, want %s", data, tt.want)
		}
	}
}
