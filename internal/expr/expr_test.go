package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowLookup(row map[string]any) Lookup {
	return func(name string) (any, bool) {
		v, ok := row[name]
		return v, ok
	}
}

func TestEval(t *testing.T) {
	row := map[string]any{
		"gender":  "M",
		"age":     int64(42),
		"value":   2.5,
		"count":   "7",
		"flag":    true,
		"missing": nil,
	}

	cases := []struct {
		name string
		expr string
		want any
	}{
		{"string equality", "gender == 'M'", true},
		{"string inequality", "gender != 'F'", true},
		{"double-quoted literal", `gender == "M"`, true},
		{"numeric comparison", "age >= 40", true},
		{"numeric string coercion", "count < 10", true},
		{"and", "gender == 'M' and age > 50", false},
		{"or", "gender == 'F' or age > 40", true},
		{"symbolic and", "flag && age == 42", true},
		{"not", "not flag", false},
		{"bang", "!(age < 10)", true},
		{"arithmetic int", "age + 1", int64(43)},
		{"arithmetic precedence", "age + 2 * 3", int64(48)},
		{"parens", "(age + 2) * 3", int64(132)},
		{"float math", "value * 2", 5.0},
		{"division is float", "age / 4", 10.5},
		{"unary minus", "-age", int64(-42)},
		{"string concat", "gender + '-suffix'", "M-suffix"},
		{"null comparison is false", "missing > 0", false},
		{"null inequality is true", "missing != 1", true},
		{"null arithmetic propagates", "missing + 1", nil},
		{"boolean equality", "flag == true", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, err := Parse(c.expr)
			require.NoError(t, err)
			got, err := e.Eval(rowLookup(row))
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"age >",
		"(age + 1",
		"age ~ 3",
		"'unterminated",
		"age == 1 extra",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var ee *Error
			assert.ErrorAs(t, err, &ee)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	row := map[string]any{"age": int64(5), "name": "x"}

	cases := []struct {
		name string
		expr string
	}{
		{"unknown identifier", "nope == 1"},
		{"non-boolean and operand", "age and true"},
		{"non-numeric arithmetic", "name * 2"},
		{"division by zero", "age / 0"},
		{"negate string", "-name"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, err := Parse(c.expr)
			require.NoError(t, err)
			_, err = e.Eval(rowLookup(row))
			var ee *Error
			require.ErrorAs(t, err, &ee)
		})
	}
}

func TestEvalBool(t *testing.T) {
	e, err := Parse("n > 2")
	require.NoError(t, err)

	ok, err := e.EvalBool(rowLookup(map[string]any{"n": 3}))
	require.NoError(t, err)
	assert.True(t, ok)

	// Null-tainted predicate counts as false, not an error.
	ok, err = e.EvalBool(rowLookup(map[string]any{"n": nil}))
	require.NoError(t, err)
	assert.False(t, ok)

	// A non-predicate expression is an error when used as one.
	e, err = Parse("n + 1")
	require.NoError(t, err)
	_, err = e.EvalBool(rowLookup(map[string]any{"n": 1}))
	require.Error(t, err)
}
