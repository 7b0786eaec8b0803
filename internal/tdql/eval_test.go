package tdql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func evalExpr(t *testing.T, expr string, vars map[string]Token) Token {
	t.Helper()
	rpn, err := Compile(expr, nil)
	require.NoError(t, err)
	result := Evaluate(rpn, vars, nil)
	require.Len(t, result, 1)
	return result[0]
}

func TestEvaluateArithmeticPrecedence(t *testing.T) {
	got := evalExpr(t, "2 + 3 * 4", nil)
	require.Equal(t, 14.0, got.Scalar())
}

func TestEvaluateParenthesesOverridePrecedence(t *testing.T) {
	got := evalExpr(t, "(2 + 3) * 4", nil)
	require.Equal(t, 20.0, got.Scalar())
}

func TestEvaluateComparisonAndLogicalOperators(t *testing.T) {
	got := evalExpr(t, "5 > 3 AND 1 == 1", nil)
	require.Equal(t, true, got.Truthy())
}

func TestEvaluateUnaryNotIsHighestPrecedence(t *testing.T) {
	got := evalExpr(t, "NOT 1 == 1", nil)
	// NOT binds to "1" first: (NOT 1) == 1 -> false == 1 -> false.
	require.False(t, got.Truthy())
}

func TestEvaluateResolvesVariables(t *testing.T) {
	got := evalExpr(t, "x + 1", map[string]Token{"x": NewNumber(41)})
	require.Equal(t, 42.0, got.Scalar())
}

func TestEvaluateStringEquality(t *testing.T) {
	got := evalExpr(t, `x == "web1"`, map[string]Token{"x": NewString("web1")})
	require.True(t, got.Truthy())
}
