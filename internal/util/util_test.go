package util

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_BareObject(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, ExtractJSON(`{"a": 1}`))
}

func TestExtractJSON_FencedWithLanguage(t *testing.T) {
	text := "Here is the result:\n```json\n{\"query_type\": \"billing\"}\n```\nLet me know."
	assert.Equal(t, `{"query_type": "billing"}`, ExtractJSON(text))
}

func TestExtractJSON_FencedWithoutLanguage(t *testing.T) {
	text := "```\n[{\"role\": \"analyst\"}]\n```"
	assert.Equal(t, `[{"role": "analyst"}]`, ExtractJSON(text))
}

func TestExtractJSON_ObjectInProse(t *testing.T) {
	text := `Sure! The classification is {"category": "technical", "confidence": 90} as requested.`
	assert.Equal(t, `{"category": "technical", "confidence": 90}`, ExtractJSON(text))
}

func TestExtractJSON_ArrayInProse(t *testing.T) {
	text := `The plan: [{"role": "a", "task": "t"}] covers everything.`
	assert.Equal(t, `[{"role": "a", "task": "t"}]`, ExtractJSON(text))
}

func TestExtractJSON_NoJSONReturnsTrimmedInput(t *testing.T) {
	assert.Equal(t, "no structured data here", ExtractJSON("  no structured data here  "))
}

func TestStringAndFloatFields(t *testing.T) {
	doc := `{"category": "billing", "confidence": 85.5}`

	assert.Equal(t, "billing", StringField(doc, "category"))
	assert.InDelta(t, 85.5, FloatField(doc, "confidence"), 0.001)
	assert.Equal(t, "", StringField(doc, "missing"))
	assert.Zero(t, FloatField(doc, "missing"))
}

type planSpec struct {
	Role      string   `json:"role" description:"Worker role"`
	Task      string   `json:"task"`
	DependsOn []string `json:"depends_on,omitempty"`
	Weight    *float64 `json:"weight"`
	Skipped   string   `json:"-"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(planSpec{})

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, props, 4)

	role, ok := props["role"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", role["type"])
	assert.Equal(t, "Worker role", role["description"])

	deps, ok := props["depends_on"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "array", deps["type"])

	// Omitempty and pointer fields are optional.
	assert.ElementsMatch(t, []string{"role", "task"}, schema["required"])
}

func TestValidateJSON_ObjectSchema(t *testing.T) {
	schema := CreateSchema(planSpec{})

	err := ValidateJSON([]byte(`{"role": "analyst", "task": "analyze"}`), schema)
	assert.NoError(t, err)

	err = ValidateJSON([]byte(`{"role": "analyst"}`), schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "task", verr.Field)
}

func TestValidateJSON_TypeMismatch(t *testing.T) {
	schema := CreateSchema(planSpec{})

	err := ValidateJSON([]byte(`{"role": 42, "task": "analyze"}`), schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "role", verr.Field)
}

func TestValidateJSON_ExtraFieldsAllowed(t *testing.T) {
	schema := CreateSchema(planSpec{})

	err := ValidateJSON([]byte(`{"role": "a", "task": "t", "extra": true}`), schema)
	assert.NoError(t, err)
}

func TestValidateJSON_ArraySchema(t *testing.T) {
	schema := ArraySchema(CreateSchema(planSpec{}))

	err := ValidateJSON([]byte(`[{"role": "a", "task": "t"}, {"role": "b", "task": "u"}]`), schema)
	assert.NoError(t, err)

	err = ValidateJSON([]byte(`[{"role": "a", "task": "t"}, {"role": "b"}]`), schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "[1]", verr.Field)
}

func TestValidateJSON_NotAnObject(t *testing.T) {
	schema := CreateSchema(planSpec{})

	err := ValidateJSON([]byte(`"just a string"`), schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateJSON_NilSchemaAcceptsAnything(t *testing.T) {
	assert.NoError(t, ValidateJSON([]byte(`"anything"`), nil))
}

func TestValidateJSON_IntegerRejectsFraction(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer"},
		},
		"required": []string{"count"},
	}

	assert.NoError(t, ValidateJSON([]byte(`{"count": 3}`), schema))

	err := ValidateJSON([]byte(`{"count": 3.5}`), schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "count", verr.Field)
}

func TestCreateSchema_RoundTripsThroughJSON(t *testing.T) {
	// Schemas embedded in prompts must serialize cleanly.
	schema := CreateSchema(planSpec{})
	raw, err := json.Marshal(schema)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"required"`)
}
