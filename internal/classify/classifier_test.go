package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type sequenceGenerator struct {
	next  int
	err   error
	calls int
}

func (g *sequenceGenerator) Generate() (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	g.next++
	return "psn_" + string(rune('a'+g.next-1)), nil
}

type ClassifierSuite struct {
	suite.Suite
	gen        *sequenceGenerator
	classifier *Classifier
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierSuite))
}

func (s *ClassifierSuite) SetupTest() {
	s.gen = &sequenceGenerator{}
	var err error
	s.classifier, err = New(s.gen)
	s.Require().NoError(err)
}

func (s *ClassifierSuite) TestPatternRules() {
	cases := map[string]Group{
		"firstName":           GroupIdentity,
		"emailAddress":        GroupIdentity,
		"patientName":         GroupIdentity,
		"zipCode":             GroupIdentity,
		"dateOfBirth":         GroupIdentity,
		"diagnosis":           GroupSensitive,
		"allergies":           GroupSensitive,
		"medicalRecordNumber": GroupSensitive,
		"insuranceProvider":   GroupSensitive,
		"source":              GroupMetadata,
		"notes":               GroupMetadata,
	}
	for field, want := range cases {
		s.Equal(want, s.classifier.GroupOf(field, nil), field)
	}
}

func (s *ClassifierSuite) TestIdentityBeatsSensitive() {
	// "patientEmail" matches both families; identity rules are evaluated first.
	s.Equal(GroupIdentity, s.classifier.GroupOf("patientEmail", nil))
	s.Equal(GroupIdentity, s.classifier.GroupOf("healthRecordName", nil))
}

func (s *ClassifierSuite) TestScenarioWithoutSchema() {
	sep, err := s.classifier.Separate(map[string]any{
		"firstName": "John",
		"lastName":  "Doe",
		"email":     "john@x.com",
		"diagnosis": "Hypertension",
	}, nil)
	s.Require().NoError(err)

	s.Equal(map[string]any{"firstName": "John", "lastName": "Doe", "email": "john@x.com"}, sep.Identity)
	s.Equal(map[string]any{"diagnosis": "Hypertension"}, sep.Sensitive)
	s.Empty(sep.Metadata)
	s.Equal("psn_a", sep.Pseudonym)
}

func (s *ClassifierSuite) TestExplicitSchemaDecides() {
	sets := NewFieldSets([]string{"code"}, []string{"notes"}, []string{"source"})
	sep, err := s.classifier.Separate(map[string]any{
		"code":      "X1",
		"notes":     "private",
		"source":    "import",
		"email":     "ignored-pattern@x.com",
		"diagnosis": "falls through",
	}, sets)
	s.Require().NoError(err)

	s.Equal(map[string]any{"code": "X1"}, sep.Identity)
	s.Equal(map[string]any{"notes": "private"}, sep.Sensitive)
	s.Equal(map[string]any{
		"source":    "import",
		"email":     "ignored-pattern@x.com",
		"diagnosis": "falls through",
	}, sep.Metadata)
}

func (s *ClassifierSuite) TestNestedValuesMoveAsUnits() {
	nested := map[string]any{"line1": "1 Main St", "diagnosis": "not inspected"}
	sep, err := s.classifier.Separate(map[string]any{
		"address": nested,
		"labs":    []any{"a1c", "lipid"},
	}, nil)
	s.Require().NoError(err)

	s.Equal(nested, sep.Identity["address"])
	s.Equal([]any{"a1c", "lipid"}, sep.Sensitive["labs"])
}

func (s *ClassifierSuite) TestNilRecord() {
	sep, err := s.classifier.Separate(nil, nil)
	s.Require().NoError(err)
	s.Empty(sep.Identity)
	s.Empty(sep.Sensitive)
	s.Empty(sep.Metadata)
	s.NotEmpty(sep.Pseudonym)
}

func (s *ClassifierSuite) TestSeparateExistingNeverMints() {
	sep, err := s.classifier.SeparateExisting(map[string]any{"diagnosis": "Asthma"}, nil, "psn_existing")
	s.Require().NoError(err)
	s.Equal("psn_existing", sep.Pseudonym)
	s.Equal(0, s.gen.calls)

	_, err = s.classifier.SeparateExisting(map[string]any{"diagnosis": "Asthma"}, nil, "")
	s.Error(err)
	s.Equal(0, s.gen.calls)
}

func (s *ClassifierSuite) TestGeneratorErrorPropagates() {
	boom := errors.New("entropy exhausted")
	s.gen.err = boom
	_, err := s.classifier.Separate(map[string]any{"firstName": "A"}, nil)
	s.ErrorIs(err, boom)
}

func TestNew(t *testing.T) {
	t.Run("nil generator is refused", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
	})

	t.Run("custom rules replace defaults in order", func(t *testing.T) {
		c, err := New(&sequenceGenerator{}, WithRules([]Rule{
			{Group: GroupSensitive, Fragment: "score"},
			{Group: GroupIdentity, Fragment: "handle"},
		}))
		require.NoError(t, err)
		assert.Equal(t, GroupSensitive, c.GroupOf("riskScore", nil))
		assert.Equal(t, GroupSensitive, c.GroupOf("scoreHandle", nil))
		assert.Equal(t, GroupIdentity, c.GroupOf("userHandle", nil))
		assert.Equal(t, GroupMetadata, c.GroupOf("email", nil))
	})

	t.Run("invalid rules are refused", func(t *testing.T) {
		_, err := New(&sequenceGenerator{}, WithRules([]Rule{{Group: GroupIdentity, Fragment: " "}}))
		assert.Error(t, err)
		_, err = New(&sequenceGenerator{}, WithRules([]Rule{{Group: "other", Fragment: "x"}}))
		assert.Error(t, err)
	})
}
