package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientYAML = `
name: patient
identity:
  firstName: {type: string, required: true}
  email: {type: string}
sensitive:
  diagnosis: {type: string}
  allergies: {type: "string[]"}
metadata:
  source: {type: string, default: api}
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(patientYAML))
	require.NoError(t, err)

	assert.Equal(t, "patient", s.Name)
	assert.Equal(t, FieldSpec{Type: KindString, Required: true}, s.Identity["firstName"])
	assert.Equal(t, KindStringArray, s.Sensitive["allergies"].Type)
	assert.Equal(t, "api", s.Metadata["source"].Default)

	_, err = Parse([]byte("identity:\n  x: {type: uuid}\n"))
	assert.ErrorContains(t, err, "unknown field type")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patient.yaml"), []byte(patientYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visit.yml"), []byte("sensitive:\n  notes: {type: string}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	reg := NewRegistry()
	loaded, err := LoadDir(dir, reg)
	require.NoError(t, err)
	assert.Equal(t, []string{"patient", "visit"}, loaded)
	assert.True(t, reg.Has("visit"))

	_, err = LoadDir(dir, reg)
	assert.Error(t, err, "reloading into the same registry conflicts")
}
