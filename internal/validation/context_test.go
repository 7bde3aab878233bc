package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "required": ["course_id"],
  "properties": {
    "course_id": { "type": "integer", "minimum": 1 },
    "student_ids": {
      "type": "array",
      "items": { "type": "integer" },
      "minItems": 1
    }
  },
  "additionalProperties": false
}`

func TestValidate_ValidInput(t *testing.T) {
	v := MustContextValidator("test", testSchema)

	fields := v.Validate(map[string]any{"course_id": 7})
	assert.Empty(t, fields)

	fields = v.Validate(map[string]any{
		"course_id":   float64(7),
		"student_ids": []any{float64(1), float64(2)},
	})
	assert.Empty(t, fields)
}

func TestValidate_KeysViolationsByField(t *testing.T) {
	v := MustContextValidator("test", testSchema)

	fields := v.Validate(map[string]any{
		"course_id":   "seven",
		"student_ids": []any{},
	})
	assert.Contains(t, fields, "course_id")
	assert.Contains(t, fields, "student_ids")
}

func TestValidate_MissingRequiredKeyedAsContext(t *testing.T) {
	v := MustContextValidator("test", testSchema)

	fields := v.Validate(map[string]any{})
	require.Contains(t, fields, "context")
	assert.NotEmpty(t, fields["context"])
}

func TestValidate_RejectsUnknownProperties(t *testing.T) {
	v := MustContextValidator("test", testSchema)

	fields := v.Validate(map[string]any{"course_id": 7, "bogus": true})
	assert.NotEmpty(t, fields)
}

func TestNewContextValidator_BadSchema(t *testing.T) {
	_, err := NewContextValidator("bad", `{"type": 42}`)
	require.Error(t, err)

	assert.Panics(t, func() {
		MustContextValidator("bad", `not json`)
	})
}
