package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "privata/pkg/domain-errors"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register("patient", patientSchema()))

		assert.True(t, reg.Has("patient"))
		got, err := reg.Get("patient")
		require.NoError(t, err)
		assert.Equal(t, "patient", got.Name)
		assert.Equal(t, []string{"patient"}, reg.Names())
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register("patient", patientSchema()))
		err := reg.Register("patient", patientSchema())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("unknown name is not found", func(t *testing.T) {
		_, err := NewRegistry().Get("ghost")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		assert.False(t, NewRegistry().Has("ghost"))
	})

	t.Run("metadata only schema is refused", func(t *testing.T) {
		err := NewRegistry().Register("log", &Schema{
			Metadata: map[string]FieldSpec{"source": {Type: KindString}},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("field in two sections is refused", func(t *testing.T) {
		err := NewRegistry().Register("dup", &Schema{
			Identity:  map[string]FieldSpec{"email": {Type: KindString}},
			Sensitive: map[string]FieldSpec{"email": {Type: KindString}},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("default must match type", func(t *testing.T) {
		err := NewRegistry().Register("bad", &Schema{
			Identity: map[string]FieldSpec{"age": {Type: KindNumber, Default: "old"}},
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("type names are normalised", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register("n", &Schema{
			Identity: map[string]FieldSpec{"email": {Type: "String"}},
		}))
		s, err := reg.Get("n")
		require.NoError(t, err)
		assert.Equal(t, KindString, s.Identity["email"].Type)
	})
}
