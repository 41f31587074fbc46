package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
  "type": "object",
  "properties": {
    "poll_interval": {"type": "string"},
    "capture_lines": {"type": "integer", "minimum": 1}
  },
  "additionalProperties": false
}`

func TestValidator(t *testing.T) {
	v, err := NewValidator("test.json", []byte(testSchema))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(map[string]interface{}{"poll_interval": "5s", "capture_lines": 200}))

	err = v.Validate(map[string]interface{}{"capture_lines": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/capture_lines")

	err = v.Validate(map[string]interface{}{"unknown": true})
	require.Error(t, err)
}

func TestNewValidatorRejectsBadSchema(t *testing.T) {
	_, err := NewValidator("bad.json", []byte(`{"type": 12}`))
	assert.Error(t, err)
}
