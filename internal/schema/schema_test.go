package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privata/internal/classify"
	dErrors "privata/pkg/domain-errors"
)

func patientSchema() *Schema {
	return &Schema{
		Identity: map[string]FieldSpec{
			"firstName": {Type: KindString, Required: true},
			"email":     {Type: KindString},
		},
		Sensitive: map[string]FieldSpec{
			"diagnosis": {Type: KindString, Required: true},
			"allergies": {Type: KindStringArray},
			"weightKg":  {Type: KindNumber},
		},
		Metadata: map[string]FieldSpec{
			"source":    {Type: KindString, Default: "api"},
			"admitted":  {Type: KindDate},
			"confirmed": {Type: KindBoolean},
		},
	}
}

func TestValidate(t *testing.T) {
	s := patientSchema()

	t.Run("valid record", func(t *testing.T) {
		res := s.Validate(map[string]any{
			"firstName": "John",
			"diagnosis": "Hypertension",
			"allergies": []any{"penicillin"},
			"weightKg":  float64(81.5),
			"admitted":  "2024-03-01T10:00:00Z",
			"confirmed": true,
			"unknown":   map[string]any{"free": "form"},
		})
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
		assert.NoError(t, res.Err())
	})

	t.Run("collects every violation", func(t *testing.T) {
		res := s.Validate(map[string]any{
			"firstName": nil,
			"email":     42,
			"allergies": []any{"ok", 3},
			"admitted":  "yesterday",
		})
		require.False(t, res.Valid)
		assert.Equal(t, []dErrors.Violation{
			{Field: "admitted", Rule: "type", Message: "must be date"},
			{Field: "allergies", Rule: "type", Message: "must be string[]"},
			{Field: "diagnosis", Rule: "required", Message: "is required"},
			{Field: "email", Rule: "type", Message: "must be string"},
			{Field: "firstName", Rule: "required", Message: "is required"},
		}, res.Errors)

		err := res.Err()
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.Len(t, dErrors.ViolationsOf(err), 5)
	})

	t.Run("optional null is accepted", func(t *testing.T) {
		res := s.Validate(map[string]any{"firstName": "A", "diagnosis": "B", "email": nil})
		assert.True(t, res.Valid)
	})
}

func TestValidatePartial(t *testing.T) {
	s := patientSchema()

	t.Run("absent required fields are fine", func(t *testing.T) {
		assert.True(t, s.ValidatePartial(map[string]any{"email": "a@b.c"}).Valid)
	})

	t.Run("clearing a required field is refused", func(t *testing.T) {
		res := s.ValidatePartial(map[string]any{"diagnosis": nil, "weightKg": "heavy"})
		require.False(t, res.Valid)
		assert.Equal(t, []dErrors.Violation{
			{Field: "diagnosis", Rule: "required", Message: "is required"},
			{Field: "weightKg", Rule: "type", Message: "must be number"},
		}, res.Errors)
	})
}

func TestKindAccepts(t *testing.T) {
	assert.True(t, KindDate.Accepts(time.Now()))
	assert.True(t, KindDate.Accepts("2024-03-01"))
	assert.False(t, KindDate.Accepts(20240301))
	assert.True(t, KindNumber.Accepts(3))
	assert.False(t, KindNumber.Accepts("3"))
	assert.True(t, KindStringArray.Accepts([]string{"a"}))
	assert.False(t, KindStringArray.Accepts("a"))
	assert.True(t, KindAny.Accepts([]any{1, "x"}))
}

func TestApplyDefaults(t *testing.T) {
	s := patientSchema()
	in := map[string]any{"firstName": "A"}

	out := s.ApplyDefaults(in)
	assert.Equal(t, "api", out["source"])
	assert.NotContains(t, in, "source", "input must not be mutated")

	out = s.ApplyDefaults(map[string]any{"source": "import"})
	assert.Equal(t, "import", out["source"])
}

func TestFieldSets(t *testing.T) {
	sets := patientSchema().FieldSets()
	assert.Equal(t, classify.GroupIdentity, sets.GroupOf("email"))
	assert.Equal(t, classify.GroupSensitive, sets.GroupOf("weightKg"))
	assert.Equal(t, classify.GroupMetadata, sets.GroupOf("source"))
	assert.Equal(t, classify.GroupMetadata, sets.GroupOf("lastName"))
}
