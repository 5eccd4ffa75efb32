package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecifications_DecodePrimitives(t *testing.T) {
	var specs Specifications
	err := json.Unmarshal([]byte(`{"grade":"A","weight_kg":12.5,"fragile":true}`), &specs)
	require.NoError(t, err)

	assert.Equal(t, StringSpec("A"), specs["grade"])
	assert.Equal(t, NumberSpec(12.5), specs["weight_kg"])
	assert.Equal(t, BoolSpec(true), specs["fragile"])

	out, err := json.Marshal(specs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"grade":"A","weight_kg":12.5,"fragile":true}`, string(out))
}

func TestSpecifications_RejectNested(t *testing.T) {
	for _, body := range []string{`{"dims":{"w":1}}`, `{"tags":["a"]}`, `{"x":null}`} {
		var specs Specifications
		err := json.Unmarshal([]byte(body), &specs)
		assert.ErrorIs(t, err, ErrInvalidInput, body)
	}
}

func TestSpecSchema_Validate(t *testing.T) {
	schema := SpecSchema{
		"grade":     {Kind: SpecString, Required: true},
		"weight_kg": {Kind: SpecNumber},
	}

	assert.NoError(t, schema.Validate(Specifications{"grade": StringSpec("B")}))

	err := schema.Validate(Specifications{"weight_kg": StringSpec("heavy"), "color": StringSpec("red")})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "color: not allowed")
	assert.Contains(t, err.Error(), "grade: required")
	assert.Contains(t, err.Error(), "weight_kg: expected number")
}

func TestSpecSchema_EmptyAcceptsNothing(t *testing.T) {
	var schema SpecSchema
	assert.NoError(t, schema.Validate(nil))
	assert.ErrorIs(t, schema.Validate(Specifications{"a": BoolSpec(true)}), ErrInvalidInput)
}
