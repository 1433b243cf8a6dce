package classify

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Group is the store a field is routed to.
type Group string

const (
	GroupIdentity  Group = "identity"
	GroupSensitive Group = "sensitive"
	GroupMetadata  Group = "metadata"
)

// Rule routes any field whose lower-cased name contains Fragment to Group.
type Rule struct {
	Group    Group
	Fragment string
}

var identityFragments = []string{
	"name", "email", "phone", "mobile", "fax", "address", "street",
	"ssn", "passport", "license", "birth", "gender", "nationality",
	"zip", "postal",
}

var sensitiveFragments = []string{
	"diagnosis", "treatment", "medication", "allerg", "medical", "health",
	"patient", "symptom", "vital", "lab", "imaging", "prescription",
	"record", "insurance", "device", "condition", "procedure",
}

// DefaultRules returns the built-in rule list. Every identity rule precedes
// every sensitive rule, so a field matching both families is identity.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(identityFragments)+len(sensitiveFragments))
	for _, f := range identityFragments {
		rules = append(rules, Rule{Group: GroupIdentity, Fragment: f})
	}
	for _, f := range sensitiveFragments {
		rules = append(rules, Rule{Group: GroupSensitive, Fragment: f})
	}
	return rules
}

type matcher struct {
	group Group
	glob  glob.Glob
}

func compileRules(rules []Rule) ([]matcher, error) {
	out := make([]matcher, 0, len(rules))
	for _, r := range rules {
		fragment := strings.ToLower(strings.TrimSpace(r.Fragment))
		if fragment == "" {
			return nil, fmt.Errorf("rule for group %q has an empty fragment", r.Group)
		}
		switch r.Group {
		case GroupIdentity, GroupSensitive, GroupMetadata:
		default:
			return nil, fmt.Errorf("rule %q has unknown group %q", r.Fragment, r.Group)
		}
		g, err := glob.Compile("*" + glob.QuoteMeta(fragment) + "*")
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Fragment, err)
		}
		out = append(out, matcher{group: r.Group, glob: g})
	}
	return out, nil
}

// FieldSets is an explicit classification: membership decides the group and
// pattern rules are not consulted.
type FieldSets struct {
	Identity  map[string]struct{}
	Sensitive map[string]struct{}
	Metadata  map[string]struct{}
}

// NewFieldSets builds FieldSets from name lists.
func NewFieldSets(identity, sensitive, metadata []string) *FieldSets {
	return &FieldSets{
		Identity:  toSet(identity),
		Sensitive: toSet(sensitive),
		Metadata:  toSet(metadata),
	}
}

// GroupOf returns the explicit group for field. Unlisted fields are metadata.
func (f *FieldSets) GroupOf(field string) Group {
	if _, ok := f.Identity[field]; ok {
		return GroupIdentity
	}
	if _, ok := f.Sensitive[field]; ok {
		return GroupSensitive
	}
	return GroupMetadata
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
