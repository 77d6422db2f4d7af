package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateBool_Comparisons(t *testing.T) {
	e := NewEvaluator()

	data := map[string]any{
		"stage_id": "won",
		"payload": map[string]any{
			"attempts": float64(3),
		},
	}

	matched, err := e.EvaluateBool(`stage_id == 'won'`, data)
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, err = e.EvaluateBool(`stage_id == 'lost'`, data)
	assert.NoError(t, err)
	assert.False(t, matched)

	matched, err = e.EvaluateBool(`stage_id == 'won' || stage_id == 'Closed Won'`, data)
	assert.NoError(t, err)
	assert.True(t, matched)

	matched, err = e.EvaluateBool("payload.attempts >= `3`", data)
	assert.NoError(t, err)
	assert.True(t, matched)
}

func TestEvaluateBool_Truthiness(t *testing.T) {
	e := NewEvaluator()

	cases := []struct {
		expression string
		data       map[string]any
		want       bool
	}{
		{"missing_field", map[string]any{}, false},
		{"name", map[string]any{"name": ""}, false},
		{"name", map[string]any{"name": "x"}, true},
		{"count", map[string]any{"count": float64(0)}, false},
		{"count", map[string]any{"count": float64(2)}, true},
		{"tags", map[string]any{"tags": []any{}}, false},
		{"tags", map[string]any{"tags": []any{"hot"}}, true},
	}

	for _, tc := range cases {
		got, err := e.EvaluateBool(tc.expression, tc.data)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got, "expression %q on %v", tc.expression, tc.data)
	}
}

func TestValidate(t *testing.T) {
	e := NewEvaluator()

	assert.NoError(t, e.Validate(`stage_id == 'won'`))
	assert.Error(t, e.Validate(`stage_id ==`))
}

func TestEvaluate_CachesCompiledExpressions(t *testing.T) {
	e := NewEvaluator()

	_, err := e.Evaluate("kind", map[string]any{"kind": "resync"})
	assert.NoError(t, err)
	_, err = e.Evaluate("kind", map[string]any{"kind": "anomaly"})
	assert.NoError(t, err)

	assert.Len(t, e.cache, 1)
}
