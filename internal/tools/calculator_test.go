package tools

import (
	"context"
	"testing"
)

func TestCalculator(t *testing.T) {
	calc := Calculator()

	cases := []struct {
		expr string
		want string
	}{
		{"2+2", "4"},
		{"10 - 3 * 2", "4"},
		{"(3.5*2)^2", "49"},
		{"-4 + 2", "-2"},
		{"2^3^2", "512"},
		{"1/4", "0.25"},
		{"  7 * (2 + 1) ", "21"},
	}
	for _, tc := range cases {
		got, err := calc.Fn(context.Background(), map[string]any{"expr": tc.expr})
		if err != nil {
			t.Errorf("%q: %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q = %s, want %s", tc.expr, got, tc.want)
		}
	}
}

func TestCalculatorErrors(t *testing.T) {
	calc := Calculator()
	for _, expr := range []string{"", "1/0", "2+", "(1+2", "abc", "1 + $"} {
		if _, err := calc.Fn(context.Background(), map[string]any{"expr": expr}); err == nil {
			t.Errorf("%q: expected error", expr)
		}
	}
}
