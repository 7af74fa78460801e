package calc

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name string
		expr string
		want float64
	}{
		{"addition", "2 + 3", 5},
		{"subtraction", "10 - 4", 6},
		{"multiplication", "6 * 7", 42},
		{"division", "15 / 4", 3.75},
		{"precedence", "2 + 3 * 4", 14},
		{"parentheses", "(2 + 3) * 4", 20},
		{"nested parens", "((1 + 2) * (3 + 4))", 21},
		{"unary minus", "-5 + 8", 3},
		{"double unary", "--5", 5},
		{"decimals", "0.1 + 0.2", 0.3},
		{"no spaces", "12*12", 144},
		{"chained", "100 - 20 - 30", 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.expr)
			if err != nil {
				t.Fatalf("Evaluate(%q) returned error: %v", tc.expr, err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	cases := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"spaces only", "   "},
		{"division by zero", "5 / 0"},
		{"division by zero nested", "1 / (2 - 2)"},
		{"trailing operator", "3 +"},
		{"missing close paren", "(1 + 2"},
		{"letters", "two plus two"},
		{"stray close paren", "1 + 2)"},
		{"double dot", "1.2.3 + 1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Evaluate(tc.expr); err == nil {
				t.Fatalf("Evaluate(%q) expected error, got nil", tc.expr)
			}
		})
	}
}

func TestExtract(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		want  string
		found bool
	}{
		{"plain question", "what is 12 * 12?", "12 * 12", true},
		{"embedded", "compute 3+4 for me", "3 + 4", true},
		{"x as times", "how much is 5 x 6", "5 * 6", true},
		{"decimal operands", "add 1.5 + 2.25", "1.5 + 2.25", true},
		{"no expression", "what is the capital of France", "", false},
		{"lone number", "the year 1999", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := Extract(tc.text)
			if found != tc.found {
				t.Fatalf("Extract(%q) found=%t, want %t", tc.text, found, tc.found)
			}
			if got != tc.want {
				t.Fatalf("Extract(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestFormatResult(t *testing.T) {
	if got := FormatResult(144); got != "144" {
		t.Fatalf("FormatResult(144) = %q", got)
	}
	if got := FormatResult(3.75); got != "3.75" {
		t.Fatalf("FormatResult(3.75) = %q", got)
	}
}
