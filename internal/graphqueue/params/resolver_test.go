package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphqueue/internal/workflows"
)

func floatPtr(f float64) *float64 { return &f }

func testDefinition() *workflows.Definition {
	return &workflows.Definition{
		Name: "test-workflow",
		Parameters: map[string]workflows.ParameterDef{
			"steps":    {Type: workflows.ParamInt, Default: float64(20), Min: floatPtr(1), Max: floatPtr(150)},
			"cfg":      {Type: workflows.ParamFloat, Default: 7.5, Min: floatPtr(0), Max: floatPtr(30)},
			"denoise":  {Type: workflows.ParamFloat, Default: 1.0},
			"prompt":   {Type: workflows.ParamText, Default: ""},
			"tile":     {Type: workflows.ParamBool, Default: false},
		},
	}
}

func TestResolve_AppliesDefaultsForMissing(t *testing.T) {
	def := testDefinition()
	resolved, err := Resolve(def, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, int64(20), resolved["steps"])
	assert.Equal(t, 7.5, resolved["cfg"])
	assert.Equal(t, "", resolved["prompt"])
	assert.Equal(t, false, resolved["tile"])
}

func TestResolve_CoercesStringNumbers(t *testing.T) {
	def := testDefinition()
	resolved, err := Resolve(def, map[string]interface{}{
		"steps": "35",
		"cfg":   "8.25",
		"tile":  "true",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(35), resolved["steps"])
	assert.Equal(t, 8.25, resolved["cfg"])
	assert.Equal(t, true, resolved["tile"])
}

func TestResolve_UnknownParameterIsValidationError(t *testing.T) {
	def := testDefinition()
	_, err := Resolve(def, map[string]interface{}{"not_a_param": 1})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "not_a_param", verr.Param)
}

func TestResolve_OutOfRangeIsValidationError(t *testing.T) {
	def := testDefinition()
	_, err := Resolve(def, map[string]interface{}{"steps": 500})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "steps", verr.Param)
}

func TestResolve_BoolRejectsNonsenseString(t *testing.T) {
	def := testDefinition()
	_, err := Resolve(def, map[string]interface{}{"tile": "maybe"})
	require.Error(t, err)
}

func TestResolve_IntRejectsBool(t *testing.T) {
	def := testDefinition()
	_, err := Resolve(def, map[string]interface{}{"steps": true})
	require.Error(t, err)
}
